package po

import (
	"testing"

	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

func columnFor(vals ...uint64) wire.POARU {
	vec := make([]wire.PoSeqPair, len(vals))
	for i, v := range vals {
		vec[i] = wire.PoSeqPair{SeqNum: v}
	}
	return wire.POARU{AckForServer: vec}
}

func TestEligibleTakesFPlusKPlus1thHighest(t *testing.T) {
	quorum := membership.Table{N: 7, F: 1, K: 1, Self: 1} // FPlusKPlusOne = 3
	// Originator id 1 -> index 0. Columns report 5,4,3,2,1 for that index.
	matrix := wire.ProofMatrix{Columns: []wire.POARU{
		columnFor(5), columnFor(4), columnFor(3), columnFor(2), columnFor(1),
	}}
	got := Eligible(matrix, []membership.ReplicaID{1}, quorum)
	// 3rd highest of {5,4,3,2,1} is 3.
	if got[1] != 3 {
		t.Fatalf("Eligible[1] = %d, want 3", got[1])
	}
}

func TestEligibleHandlesMissingColumn(t *testing.T) {
	quorum := membership.Table{N: 7, F: 1, K: 1, Self: 1}
	matrix := wire.ProofMatrix{Columns: []wire.POARU{{AckForServer: nil}}}
	got := Eligible(matrix, []membership.ReplicaID{1}, quorum)
	if got[1] != 0 {
		t.Fatalf("Eligible[1] = %d, want 0", got[1])
	}
}

func TestExecutionOrderByOriginatorThenSeq(t *testing.T) {
	keys := []Key{
		{Originator: 2, Seq: wire.PoSeqPair{SeqNum: 1}},
		{Originator: 1, Seq: wire.PoSeqPair{SeqNum: 2}},
		{Originator: 1, Seq: wire.PoSeqPair{SeqNum: 1}},
	}
	got := ExecutionOrder(keys)
	want := []Key{
		{Originator: 1, Seq: wire.PoSeqPair{SeqNum: 1}},
		{Originator: 1, Seq: wire.PoSeqPair{SeqNum: 2}},
		{Originator: 2, Seq: wire.PoSeqPair{SeqNum: 1}},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

package rb

import (
	"testing"

	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

func testQuorum() membership.Table {
	return membership.Table{N: 7, F: 1, K: 1, Self: 1} // LargeQuorum=4, FPlusKPlusOne=3
}

func TestFullBrachaRoundDelivers(t *testing.T) {
	tag := wire.RBTag{Sender: 1, View: 1, Seq: 1}
	payload := []byte("report-payload")

	origin := NewTable(1, testQuorum())
	init := origin.Start(tag, payload)

	// Every replica 1..7 receives the Init and echoes.
	replicas := make(map[membership.ReplicaID]*Table, 7)
	for r := membership.ReplicaID(1); r <= 7; r++ {
		replicas[r] = NewTable(r, testQuorum())
		if _, _, err := replicas[r].OnInit(init); err != nil {
			t.Fatalf("replica %d OnInit: %v", r, err)
		}
	}

	// Cross-deliver echoes from replicas 1..4 to everyone; each should
	// reach Ready once 2f+k+1=4 matching echoes are seen.
	echoes := make([]wire.RBEcho, 0, 4)
	for r := membership.ReplicaID(1); r <= 4; r++ {
		echoes = append(echoes, wire.RBEcho{Tag: tag, Sender: r, Digest: replicas[r].slots[tag].Digest})
	}
	var readyFromReplica5 *wire.RBReady
	for _, e := range echoes {
		_, ready, err := replicas[5].OnEcho(e)
		if err != nil {
			t.Fatalf("OnEcho: %v", err)
		}
		if ready != nil {
			readyFromReplica5 = ready
		}
	}
	if readyFromReplica5 == nil {
		t.Fatal("expected replica 5 to send Ready after 2f+k+1 matching echoes")
	}

	// Now deliver 2f+k+1=4 matching Readys to replica 6; it must deliver
	// the payload.
	var delivered []byte
	for r := membership.ReplicaID(1); r <= 4; r++ {
		ready := wire.RBReady{Tag: tag, Sender: r, Digest: readyFromReplica5.Digest}
		_, _, payload, err := replicas[6].OnReady(ready)
		if err != nil {
			t.Fatalf("OnReady: %v", err)
		}
		if payload != nil {
			delivered = payload
		}
	}
	if string(delivered) != "report-payload" {
		t.Fatalf("delivered = %q, want %q", delivered, "report-payload")
	}
}

func TestOnInitRejectsConflictingPayload(t *testing.T) {
	tag := wire.RBTag{Sender: 1, View: 1, Seq: 1}
	tbl := NewTable(2, testQuorum())
	if _, _, err := tbl.OnInit(wire.RBInit{Tag: tag, Payload: []byte("a")}); err != nil {
		t.Fatalf("OnInit: %v", err)
	}
	if _, _, err := tbl.OnInit(wire.RBInit{Tag: tag, Payload: []byte("b")}); err == nil {
		t.Fatal("expected equivocation error for conflicting RB_Init")
	}
}

func TestReadyAmplifiesAtFPlusKPlus1(t *testing.T) {
	tag := wire.RBTag{Sender: 1, View: 1, Seq: 1}
	tbl := NewTable(5, testQuorum())
	digest := [32]byte{1, 2, 3}

	for _, sender := range []membership.ReplicaID{1, 2} {
		if _, ready, _, err := tbl.OnReady(wire.RBReady{Tag: tag, Sender: sender, Digest: digest}); err != nil || ready != nil {
			t.Fatalf("expected no amplification after ready from %d, got ready=%v err=%v", sender, ready, err)
		}
	}
	_, ready, _, err := tbl.OnReady(wire.RBReady{Tag: tag, Sender: 3, Digest: digest})
	if err != nil {
		t.Fatalf("OnReady: %v", err)
	}
	if ready == nil {
		t.Fatal("expected amplification Ready once f+k+1=3 matching readys seen")
	}
}

func TestOnReadyStallsWithoutLocalPayload(t *testing.T) {
	tag := wire.RBTag{Sender: 1, View: 1, Seq: 1}
	tbl := NewTable(6, testQuorum())
	digest := [32]byte{9, 9, 9}
	for r := membership.ReplicaID(1); r <= 4; r++ {
		_, _, payload, err := tbl.OnReady(wire.RBReady{Tag: tag, Sender: r, Digest: digest})
		if r < 4 {
			if err != nil {
				t.Fatalf("OnReady(%d): %v", r, err)
			}
			continue
		}
		if err == nil {
			t.Fatal("expected missing-state error once quorum reached without a local Init")
		}
		if payload != nil {
			t.Fatal("expected no payload to be delivered")
		}
	}
}

package viewchange

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/spire-resilient-systems/spire-sub003/internal/crypto"
	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

func testQuorum() membership.Table {
	return membership.Table{N: 7, F: 1, K: 1, Self: 1} // SmallQuorum=3, LargeQuorum=4, FPlusKPlusOne=3
}

func newTestSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	s, err := crypto.NewSigner(key)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func TestBuildVCListRequiresLargeQuorum(t *testing.T) {
	tbl := NewTable(1, testQuorum(), 2)
	for _, r := range []membership.ReplicaID{1, 2, 3} {
		tbl.RecordReport(wire.Report{Sender: r, ExecARU: 5, PCSetSize: 0})
	}
	if _, ok := tbl.BuildVCList(); ok {
		t.Fatal("expected no VC_List with only 3 complete sources (need LargeQuorum=4)")
	}
	tbl.RecordReport(wire.Report{Sender: 4, ExecARU: 3, PCSetSize: 0})
	list, ok := tbl.BuildVCList()
	if !ok {
		t.Fatal("expected VC_List once 4 complete sources present")
	}
	if list.StartSeq != 4 {
		t.Fatalf("StartSeq = %d, want 4 (min ExecARU=3 + 1)", list.StartSeq)
	}
}

func TestBuildVCListRequiresCompletePCSets(t *testing.T) {
	tbl := NewTable(1, testQuorum(), 2)
	for _, r := range []membership.ReplicaID{1, 2, 3, 4} {
		tbl.RecordReport(wire.Report{Sender: r, ExecARU: 5, PCSetSize: 1})
	}
	// No PC_Sets delivered yet: none of the sources are complete.
	if _, ok := tbl.BuildVCList(); ok {
		t.Fatal("expected no VC_List while PC_Set runs are incomplete")
	}
	for _, r := range []membership.ReplicaID{1, 2, 3, 4} {
		tbl.RecordPCSet(wire.PCSet{Sender: r, Seq: 6})
	}
	if _, ok := tbl.BuildVCList(); !ok {
		t.Fatal("expected VC_List once PC_Set runs complete")
	}
}

func TestPartialSigCombinesAtFPlusKPlus1(t *testing.T) {
	tbl := NewTable(1, testQuorum(), 2)
	list := wire.VCList{Sender: 1, Bitmask: []bool{true, true, true, true, false, false, false}, StartSeq: 1}

	signer1 := crypto.NewThresholdSigner(1, newTestSigner(t))
	sig1, err := tbl.PartialSign(list, signer1)
	if err != nil {
		t.Fatalf("PartialSign: %v", err)
	}
	if _, ok, err := tbl.RecordVCPartialSig(sig1); err != nil || ok {
		t.Fatalf("expected no proof yet, got ok=%v err=%v", ok, err)
	}

	signer2 := crypto.NewThresholdSigner(2, newTestSigner(t))
	sig2, err := tbl.PartialSign(list, signer2)
	if err != nil {
		t.Fatalf("PartialSign: %v", err)
	}
	sig2.Sender = 2 // PartialSign stamps tbl's own id; this share stands in for replica 2's
	if _, ok, err := tbl.RecordVCPartialSig(sig2); err != nil || ok {
		t.Fatalf("expected no proof with 2 shares, got ok=%v err=%v", ok, err)
	}

	signer3 := crypto.NewThresholdSigner(3, newTestSigner(t))
	sig3, err := tbl.PartialSign(list, signer3)
	if err != nil {
		t.Fatalf("PartialSign: %v", err)
	}
	sig3.Sender = 3
	proof, ok, err := tbl.RecordVCPartialSig(sig3)
	if err != nil {
		t.Fatalf("RecordVCPartialSig: %v", err)
	}
	if !ok {
		t.Fatal("expected VC_Proof once f+k+1=3 shares collected")
	}
	if proof.List.StartSeq != 1 {
		t.Fatalf("proof.List.StartSeq = %d, want 1", proof.List.StartSeq)
	}
}

func TestBuildReplayFillsGapsWithNoOp(t *testing.T) {
	tbl := NewTable(1, testQuorum(), 2)
	list := wire.VCList{Bitmask: []bool{true, true, true, true, false, false, false}, StartSeq: 1}
	tbl.RecordPCSet(wire.PCSet{Sender: 1, Seq: 1, PrePrepare: wire.PrePrepare{Seq: 1}})

	replay := tbl.BuildReplay(wire.VCProof{List: list}, 3)
	if len(replay.Slots) != 3 {
		t.Fatalf("len(Slots) = %d, want 3", len(replay.Slots))
	}
	if replay.Slots[0].Kind != wire.ReplayPCSet || replay.Slots[0].Cert == nil {
		t.Fatal("expected seq 1 to carry the known PC_Set")
	}
	if replay.Slots[1].Kind != wire.ReplayNoOp || replay.Slots[2].Kind != wire.ReplayNoOp {
		t.Fatal("expected seq 2 and 3 to be filled with NO_OP")
	}
}

func TestReplayPrepareCommitInstallsView(t *testing.T) {
	tbl := NewTable(1, testQuorum(), 2)
	replay := wire.Replay{Slots: []wire.ReplaySlot{{Seq: 1, Kind: wire.ReplayNoOp}}}
	prepares, err := tbl.OnReplay(replay)
	if err != nil {
		t.Fatalf("OnReplay: %v", err)
	}
	if len(prepares) != 1 {
		t.Fatalf("len(prepares) = %d, want 1", len(prepares))
	}
	digest := prepares[0].Digest

	for _, sender := range []membership.ReplicaID{1, 2, 3} {
		if _, err := tbl.RecordReplayPrepare(wire.ReplayPrepare{Seq: 1, Digest: digest, Sender: sender}); err != nil {
			t.Fatalf("RecordReplayPrepare(%d): %v", sender, err)
		}
	}
	if tbl.Installed() {
		t.Fatal("expected not installed before commits collected")
	}
	for _, sender := range []membership.ReplicaID{1, 2, 3, 4} {
		if err := tbl.RecordReplayCommit(wire.ReplayCommit{Seq: 1, Digest: digest, Sender: sender}); err != nil {
			t.Fatalf("RecordReplayCommit(%d): %v", sender, err)
		}
	}
	if !tbl.Installed() {
		t.Fatal("expected view installed once LargeQuorum commits collected")
	}
}

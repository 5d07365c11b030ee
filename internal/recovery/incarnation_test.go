package recovery

import (
	"testing"
	"time"

	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

func testQuorum() membership.Table {
	return membership.Table{N: 7, F: 1, K: 1, Self: 1} // LargeQuorum = 4
}

func TestStartIncarnationThenAckQuorumFormsCert(t *testing.T) {
	it := NewIncarnationTable(1, testQuorum(), nil)
	ni, err := it.StartIncarnation(time.Unix(1000, 0), []byte("share"))
	if err != nil {
		t.Fatalf("StartIncarnation: %v", err)
	}

	ack, err := it.AckOther(ni)
	if err != nil {
		t.Fatalf("AckOther: %v", err)
	}
	if ack.NewIncDigest != it.ownDigest {
		t.Fatal("self-ack digest should match own tracked digest")
	}

	var cert wire.IncarnationCert
	var ok bool
	for _, sender := range []membership.ReplicaID{2, 3, 4, 5} {
		cert, ok, err = it.RecordAck(wire.IncarnationAck{Sender: sender, NewIncDigest: it.ownDigest})
		if err != nil {
			t.Fatalf("RecordAck(%d): %v", sender, err)
		}
	}
	if !ok {
		t.Fatal("expected Incarnation_Cert to form at LargeQuorum acks")
	}
	if len(cert.Acks) != 4 {
		t.Fatalf("Incarnation_Cert has %d acks, want 4", len(cert.Acks))
	}
	if got, ok := it.Cert(); !ok || len(got.Acks) != 4 {
		t.Fatal("Cert() should expose the assembled certificate")
	}
}

func TestRecordAckRejectsMismatchedDigest(t *testing.T) {
	it := NewIncarnationTable(1, testQuorum(), nil)
	if _, err := it.StartIncarnation(time.Unix(1000, 0), nil); err != nil {
		t.Fatalf("StartIncarnation: %v", err)
	}
	_, _, err := it.RecordAck(wire.IncarnationAck{Sender: 2, NewIncDigest: [32]byte{9, 9, 9}})
	if err == nil {
		t.Fatal("expected an error for an ack referencing the wrong digest")
	}
}

func TestBumpInstalledClearsCert(t *testing.T) {
	it := NewIncarnationTable(1, testQuorum(), nil)
	ni, _ := it.StartIncarnation(time.Unix(1000, 0), nil)
	for _, sender := range []membership.ReplicaID{2, 3, 4, 5} {
		it.RecordAck(wire.IncarnationAck{Sender: sender, NewIncDigest: mustDigest(t, ni)})
	}
	if _, ok := it.Cert(); !ok {
		t.Fatal("expected certificate to be formed before bump")
	}
	it.BumpInstalled(5)
	if _, ok := it.Cert(); ok {
		t.Fatal("expected Cert() to clear once installed_incarnations bumps")
	}
	if got := it.InstalledIncarnation(1); got != 5 {
		t.Fatalf("InstalledIncarnation(self) = %d, want 5", got)
	}
}

func TestInstalledIncarnationOutOfRangeReturnsZero(t *testing.T) {
	it := NewIncarnationTable(1, testQuorum(), nil)
	if got := it.InstalledIncarnation(99); got != 0 {
		t.Fatalf("InstalledIncarnation(out of range) = %d, want 0", got)
	}
}

func mustDigest(t *testing.T, ni wire.NewIncarnation) [32]byte {
	t.Helper()
	d, err := wire.Sha256Of(ni)
	if err != nil {
		t.Fatalf("Sha256Of: %v", err)
	}
	return d
}

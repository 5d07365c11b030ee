package validate

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	appcrypto "github.com/spire-resilient-systems/spire-sub003/internal/crypto"
	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/recovery"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

type fakeKeyStore struct {
	replicaSigners map[membership.ReplicaID]*appcrypto.Signer
	clientSigners  map[membership.ClientID]*appcrypto.Signer
	thresholdSigs  map[int]*appcrypto.Signer
}

func (f *fakeKeyStore) ReplicaSigner(id membership.ReplicaID) (*appcrypto.Signer, bool) {
	s, ok := f.replicaSigners[id]
	return s, ok
}

func (f *fakeKeyStore) ClientSigner(id membership.ClientID) (*appcrypto.Signer, bool) {
	s, ok := f.clientSigners[id]
	return s, ok
}

func (f *fakeKeyStore) ThresholdSigners() map[int]*appcrypto.Signer {
	return f.thresholdSigs
}

func (f *fakeKeyStore) BatchRootSigner(originator membership.ReplicaID) (*appcrypto.Signer, bool) {
	s, ok := f.replicaSigners[originator]
	return s, ok
}

type fakeIncarnations struct {
	installed map[membership.ReplicaID]uint64
}

func (f *fakeIncarnations) InstalledIncarnation(r membership.ReplicaID) uint64 {
	return f.installed[r]
}

func newSigner(t *testing.T) *appcrypto.Signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	s, err := appcrypto.NewSigner(key)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func TestValidateMerkleBatchedRoundTrip(t *testing.T) {
	signer := newSigner(t)
	keys := &fakeKeyStore{replicaSigners: map[membership.ReplicaID]*appcrypto.Signer{1: signer}}
	incs := &fakeIncarnations{installed: map[membership.ReplicaID]uint64{1: 7}}
	deps := Deps{
		MaxPacketSize: wire.MaxPacketSize,
		Keys:          keys,
		Incarnations:  incs,
		Quorum:        membership.Table{N: 7, F: 1, K: 1, Self: 1},
	}

	msg := wire.Message{
		Header: wire.Header{Type: wire.KindPOAck, SiteID: 1, Incarnation: 7},
		Payload: wire.POAck{Sender: 1},
	}
	digest, err := wire.Sha256Of(msg.Payload)
	if err != nil {
		t.Fatalf("Sha256Of: %v", err)
	}
	tree, err := appcrypto.BuildMerkleTree([][32]byte{digest})
	if err != nil {
		t.Fatalf("BuildMerkleTree: %v", err)
	}
	root := tree.Root()
	rootSig, err := signer.Sign(root)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	path, err := tree.Path(0)
	if err != nil {
		t.Fatalf("Path: %v", err)
	}

	sig := wire.SignatureBlock{Kind: wire.SigMerkleBatched, Root: root, RootSignature: rootSig, Path: path}
	buf, err := wire.EncodeSigned(msg, sig, deps.MaxPacketSize)
	if err != nil {
		t.Fatalf("EncodeSigned: %v", err)
	}

	got, err := Validate(buf, TopLevel, deps)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.Header.Type != wire.KindPOAck {
		t.Fatalf("Type = %v, want KindPOAck", got.Header.Type)
	}
}

func TestValidateRejectsWrongIncarnation(t *testing.T) {
	signer := newSigner(t)
	keys := &fakeKeyStore{replicaSigners: map[membership.ReplicaID]*appcrypto.Signer{1: signer}}
	incs := &fakeIncarnations{installed: map[membership.ReplicaID]uint64{1: 99}}
	deps := Deps{MaxPacketSize: wire.MaxPacketSize, Keys: keys, Incarnations: incs, Quorum: membership.Table{N: 7, F: 1, K: 1, Self: 1}}

	msg := wire.Message{Header: wire.Header{Type: wire.KindPOAck, SiteID: 1, Incarnation: 7}, Payload: wire.POAck{Sender: 1}}
	digest, _ := wire.Sha256Of(msg.Payload)
	tree, _ := appcrypto.BuildMerkleTree([][32]byte{digest})
	root := tree.Root()
	rootSig, _ := signer.Sign(root)
	path, _ := tree.Path(0)
	sig := wire.SignatureBlock{Kind: wire.SigMerkleBatched, Root: root, RootSignature: rootSig, Path: path}
	buf, err := wire.EncodeSigned(msg, sig, deps.MaxPacketSize)
	if err != nil {
		t.Fatalf("EncodeSigned: %v", err)
	}

	if _, err := Validate(buf, TopLevel, deps); err == nil {
		t.Fatal("expected wrong-incarnation error")
	}
}

func TestValidateRejectsBadInclusionPath(t *testing.T) {
	signer := newSigner(t)
	keys := &fakeKeyStore{replicaSigners: map[membership.ReplicaID]*appcrypto.Signer{1: signer}}
	incs := &fakeIncarnations{installed: map[membership.ReplicaID]uint64{1: 7}}
	deps := Deps{MaxPacketSize: wire.MaxPacketSize, Keys: keys, Incarnations: incs, Quorum: membership.Table{N: 7, F: 1, K: 1, Self: 1}}

	msg := wire.Message{Header: wire.Header{Type: wire.KindPOAck, SiteID: 1, Incarnation: 7}, Payload: wire.POAck{Sender: 1}}
	other, _ := wire.Sha256Of(wire.POAck{Sender: 99})
	tree, _ := appcrypto.BuildMerkleTree([][32]byte{other})
	root := tree.Root()
	rootSig, _ := signer.Sign(root)
	path, _ := tree.Path(0)
	sig := wire.SignatureBlock{Kind: wire.SigMerkleBatched, Root: root, RootSignature: rootSig, Path: path}
	buf, err := wire.EncodeSigned(msg, sig, deps.MaxPacketSize)
	if err != nil {
		t.Fatalf("EncodeSigned: %v", err)
	}

	if _, err := Validate(buf, TopLevel, deps); err == nil {
		t.Fatal("expected inclusion-check failure")
	}
}

func TestValidateRejectsZeroEventPORequest(t *testing.T) {
	signer := newSigner(t)
	keys := &fakeKeyStore{replicaSigners: map[membership.ReplicaID]*appcrypto.Signer{1: signer}}
	incs := &fakeIncarnations{installed: map[membership.ReplicaID]uint64{1: 7}}
	deps := Deps{MaxPacketSize: wire.MaxPacketSize, Keys: keys, Incarnations: incs, Quorum: membership.Table{N: 7, F: 1, K: 1, Self: 1}}

	msg := wire.Message{
		Header:  wire.Header{Type: wire.KindPORequest, SiteID: 1, Incarnation: 7},
		Payload: wire.PORequest{Originator: 1},
	}
	digest, _ := wire.Sha256Of(msg.Payload)
	tree, _ := appcrypto.BuildMerkleTree([][32]byte{digest})
	root := tree.Root()
	rootSig, _ := signer.Sign(root)
	path, _ := tree.Path(0)
	sig := wire.SignatureBlock{Kind: wire.SigMerkleBatched, Root: root, RootSignature: rootSig, Path: path}
	buf, err := wire.EncodeSigned(msg, sig, deps.MaxPacketSize)
	if err != nil {
		t.Fatalf("EncodeSigned: %v", err)
	}

	if _, err := Validate(buf, TopLevel, deps); err == nil {
		t.Fatal("expected empty-events rejection")
	}
}

func TestStatePermitsResetAlwaysAllowed(t *testing.T) {
	msg := wire.Message{Header: wire.Header{Type: wire.KindResetVote}}
	if !StatePermits(msg, recovery.StatusStartup) {
		t.Fatal("expected Reset_Vote permitted at STARTUP")
	}
}

func TestStatePermitsOrdinaryRequiresNormal(t *testing.T) {
	msg := wire.Message{Header: wire.Header{Type: wire.KindPrePrepare}}
	if StatePermits(msg, recovery.StatusStartup) {
		t.Fatal("expected Pre_Prepare forbidden at STARTUP")
	}
	if !StatePermits(msg, recovery.StatusNormal) {
		t.Fatal("expected Pre_Prepare permitted at NORMAL")
	}
}

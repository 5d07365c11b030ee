package wire

import (
	"testing"

	"github.com/spire-resilient-systems/spire-sub003/internal/crypto"
)

func TestEncodeDecodeSignedMerkleBatched(t *testing.T) {
	msg := Message{
		Header:  Header{Type: KindPOAck},
		Payload: POAck{Sender: 2},
	}
	path := crypto.InclusionPath{Index: 0, Siblings: []crypto.PathStep{{Digest: [32]byte{1}, IsRight: true}}}
	sig := SignatureBlock{
		Kind:          SigMerkleBatched,
		Root:          [32]byte{9, 9},
		RootSignature: []byte{1, 2, 3},
		Path:          path,
	}

	buf, err := EncodeSigned(msg, sig, MaxPacketSize)
	if err != nil {
		t.Fatalf("EncodeSigned: %v", err)
	}

	h, payload, gotSig, err := DecodeSigned(buf, MaxPacketSize)
	if err != nil {
		t.Fatalf("DecodeSigned: %v", err)
	}
	if h.Type != KindPOAck {
		t.Fatalf("Type = %v, want KindPOAck", h.Type)
	}
	var ack POAck
	if err := DecodePayload(payload, &ack); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if ack.Sender != 2 {
		t.Fatalf("Sender = %d, want 2", ack.Sender)
	}
	if gotSig.Kind != SigMerkleBatched || gotSig.Root != sig.Root || len(gotSig.Path.Siblings) != 1 {
		t.Fatalf("unexpected signature block: %+v", gotSig)
	}
}

func TestDecodeSignedRejectsShortBuffer(t *testing.T) {
	if _, _, _, err := DecodeSigned([]byte{1, 2, 3}, MaxPacketSize); err == nil {
		t.Fatal("expected short-buffer error")
	}
}

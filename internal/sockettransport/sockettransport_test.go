package sockettransport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/spire-resilient-systems/spire-sub003/internal/crypto"
	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/transport"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOverlaySendToDeliversAcrossTwoReplicas(t *testing.T) {
	quorum := membership.Table{N: 2, F: 0, K: 0}
	peers := []string{"127.0.0.1:27100", "127.0.0.1:27103"}

	a, err := NewOverlay(1, quorum, "127.0.0.1", 27100, peers, testLogger())
	if err != nil {
		t.Fatalf("NewOverlay replica 1: %v", err)
	}
	defer a.Close()
	b, err := NewOverlay(2, quorum, "127.0.0.1", 27103, peers, testLogger())
	if err != nil {
		t.Fatalf("NewOverlay replica 2: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	payload := []byte("pre-prepare-bytes")
	if err := a.SendTo(ctx, 2, transport.Bounded, payload); err != nil {
		t.Fatalf("SendTo: %v", err)
	}

	select {
	case in := <-b.Recv():
		if in.From != 1 {
			t.Fatalf("From = %d, want 1", in.From)
		}
		if in.Class != transport.Bounded {
			t.Fatalf("Class = %v, want Bounded", in.Class)
		}
		if string(in.Payload) != string(payload) {
			t.Fatalf("Payload = %q, want %q", in.Payload, payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}
}

func TestOverlayBroadcastReachesEveryOtherReplica(t *testing.T) {
	quorum := membership.Table{N: 3, F: 0, K: 0}
	peers := []string{"127.0.0.1:27200", "127.0.0.1:27203", "127.0.0.1:27206"}

	overlays := make([]*Overlay, 3)
	for i := 0; i < 3; i++ {
		o, err := NewOverlay(membership.ReplicaID(i+1), quorum, "127.0.0.1", 27200+i*3, peers, testLogger())
		if err != nil {
			t.Fatalf("NewOverlay replica %d: %v", i+1, err)
		}
		defer o.Close()
		overlays[i] = o
	}

	if err := overlays[0].Broadcast(context.Background(), transport.Timely, []byte("po-request")); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	for _, idx := range []int{1, 2} {
		select {
		case in := <-overlays[idx].Recv():
			if in.From != 1 {
				t.Fatalf("replica %d received From = %d, want 1", idx+1, in.From)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("replica %d timed out waiting for broadcast", idx+1)
		}
	}
}

func TestClientIPCRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "client.sock")

	ipc, err := NewClientIPC(sockPath, testLogger())
	if err != nil {
		t.Fatalf("NewClientIPC: %v", err)
	}
	defer ipc.Close()

	client := dialClient(t, sockPath)
	defer client.Close()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	signer, err := crypto.NewSigner(key)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	buf := encodeSignedUpdate(t, signer, "client-1", 1)

	if _, err := client.Write(buf); err != nil {
		t.Fatalf("client write: %v", err)
	}

	select {
	case in := <-ipc.Recv():
		if in.Client != "client-1" {
			t.Fatalf("Client = %q, want client-1", in.Client)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client datagram")
	}

	if err := ipc.Respond(context.Background(), "client-1", []byte("response-bytes")); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	respBuf := make([]byte, 4096)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(respBuf)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(respBuf[:n]) != "response-bytes" {
		t.Fatalf("response = %q, want %q", respBuf[:n], "response-bytes")
	}
}

func encodeSignedUpdate(t *testing.T, signer *crypto.Signer, client membership.ClientID, seq uint64) []byte {
	t.Helper()
	upd := wire.Update{Client: client, SeqNum: seq, Kind: wire.ClientPayloadData, Data: []byte("op")}
	msg := wire.Message{Header: wire.Header{Type: wire.KindUpdate, SiteID: 0}, Payload: upd}
	digest, err := wire.Sha256Of(upd)
	if err != nil {
		t.Fatalf("Sha256Of: %v", err)
	}
	sig, err := signer.Sign(digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	buf, err := wire.EncodeSigned(msg, wire.SignatureBlock{Kind: wire.SigClient, Signature: sig}, sniffMaxPacketSize)
	if err != nil {
		t.Fatalf("EncodeSigned: %v", err)
	}
	return buf
}

func dialClient(t *testing.T, sockPath string) *net.UnixConn {
	t.Helper()
	localPath := filepath.Join(t.TempDir(), "client.sock")
	conn, err := net.DialUnix("unixgram",
		&net.UnixAddr{Name: localPath, Net: "unixgram"},
		&net.UnixAddr{Name: sockPath, Net: "unixgram"},
	)
	if err != nil {
		t.Fatalf("DialUnix: %v", err)
	}
	return conn
}

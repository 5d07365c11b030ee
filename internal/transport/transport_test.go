package transport

import (
	"context"
	"testing"

	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
)

// mockOverlay is an in-memory Overlay used to confirm a Handler-side
// consumer can drive the interface end to end without a real network.
type mockOverlay struct {
	self  membership.ReplicaID
	peers []membership.ReplicaID
	sent  []RawInbound
	recv  chan RawInbound
}

func newMockOverlay(self membership.ReplicaID, peers []membership.ReplicaID) *mockOverlay {
	return &mockOverlay{self: self, peers: peers, recv: make(chan RawInbound, 16)}
}

func (m *mockOverlay) SendTo(_ context.Context, to membership.ReplicaID, class PriorityClass, payload []byte) error {
	m.sent = append(m.sent, RawInbound{From: m.self, Class: class, Payload: payload})
	return nil
}

func (m *mockOverlay) Broadcast(ctx context.Context, class PriorityClass, payload []byte) error {
	for _, p := range m.peers {
		if err := m.SendTo(ctx, p, class, payload); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockOverlay) Recv() <-chan RawInbound { return m.recv }

func (m *mockOverlay) deliver(in RawInbound) { m.recv <- in }

var _ Overlay = (*mockOverlay)(nil)

func TestMockOverlayBroadcastFansOutToEveryPeer(t *testing.T) {
	ov := newMockOverlay(1, []membership.ReplicaID{2, 3, 4})
	if err := ov.Broadcast(context.Background(), Bounded, []byte("pre-prepare")); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if len(ov.sent) != 3 {
		t.Fatalf("sent %d messages, want 3", len(ov.sent))
	}
	for _, s := range ov.sent {
		if s.Class != Bounded {
			t.Fatalf("class = %v, want Bounded", s.Class)
		}
	}
}

func TestMockOverlayRecvDeliversInOrder(t *testing.T) {
	ov := newMockOverlay(1, nil)
	ov.deliver(RawInbound{From: 2, Class: Timely, Payload: []byte("a")})
	ov.deliver(RawInbound{From: 2, Class: Timely, Payload: []byte("b")})

	first := <-ov.Recv()
	second := <-ov.Recv()
	if string(first.Payload) != "a" || string(second.Payload) != "b" {
		t.Fatalf("got %q then %q, want a then b", first.Payload, second.Payload)
	}
}

// mockClientIPC is an in-memory ClientIPC fake.
type mockClientIPC struct {
	responses map[membership.ClientID][][]byte
	recv      chan RawClientInbound
}

func newMockClientIPC() *mockClientIPC {
	return &mockClientIPC{responses: make(map[membership.ClientID][][]byte), recv: make(chan RawClientInbound, 16)}
}

func (m *mockClientIPC) Respond(_ context.Context, to membership.ClientID, payload []byte) error {
	m.responses[to] = append(m.responses[to], payload)
	return nil
}

func (m *mockClientIPC) Recv() <-chan RawClientInbound { return m.recv }

var _ ClientIPC = (*mockClientIPC)(nil)

func TestMockClientIPCRespondRecordsPerClient(t *testing.T) {
	ipc := newMockClientIPC()
	if err := ipc.Respond(context.Background(), "client-1", []byte("ok")); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if len(ipc.responses["client-1"]) != 1 {
		t.Fatalf("responses[client-1] = %v, want one entry", ipc.responses["client-1"])
	}
}

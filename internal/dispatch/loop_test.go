package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

type recordingHandler struct {
	mu       sync.Mutex
	messages []Inbound
	timers   []string
	done     chan struct{}
	want     int
}

func (h *recordingHandler) HandleMessage(ctx context.Context, in Inbound) {
	h.mu.Lock()
	h.messages = append(h.messages, in)
	h.checkDoneLocked()
	h.mu.Unlock()
}

func (h *recordingHandler) HandleTimer(ctx context.Context, id TimerID, tag string) {
	h.mu.Lock()
	h.timers = append(h.timers, tag)
	h.checkDoneLocked()
	h.mu.Unlock()
}

// checkDoneLocked must be called with h.mu held.
func (h *recordingHandler) checkDoneLocked() {
	if len(h.messages)+len(h.timers) >= h.want {
		select {
		case <-h.done:
		default:
			close(h.done)
		}
	}
}

func TestLoopDispatchesInboundMessages(t *testing.T) {
	inbound := make(chan Inbound, 1)
	h := &recordingHandler{done: make(chan struct{}), want: 1}
	loop := NewLoop(h, inbound)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	inbound <- Inbound{From: 2, Message: wire.Message{Header: wire.Header{Type: wire.KindPrePrepare}}}

	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for HandleMessage")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(h.messages))
	}
	if h.messages[0].From != 2 {
		t.Fatalf("From = %d, want 2", h.messages[0].From)
	}
}

func TestLoopFiresTimersInOrder(t *testing.T) {
	inbound := make(chan Inbound)
	h := &recordingHandler{done: make(chan struct{}), want: 2}
	loop := NewLoop(h, inbound)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	now := time.Now()
	loop.Schedule(now.Add(20*time.Millisecond), "first")
	loop.Schedule(now.Add(40*time.Millisecond), "second")

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for timers to fire")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.timers) != 2 || h.timers[0] != "first" || h.timers[1] != "second" {
		t.Fatalf("timers fired = %v, want [first second]", h.timers)
	}
}

func TestLoopCancelPreventsFiring(t *testing.T) {
	inbound := make(chan Inbound)
	h := &recordingHandler{done: make(chan struct{}), want: 1}
	loop := NewLoop(h, inbound)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	now := time.Now()
	id := loop.Schedule(now.Add(20*time.Millisecond), "canceled")
	loop.Cancel(id)
	loop.Schedule(now.Add(40*time.Millisecond), "kept")

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the surviving timer to fire")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.timers) != 1 || h.timers[0] != "kept" {
		t.Fatalf("timers fired = %v, want [kept]", h.timers)
	}
}

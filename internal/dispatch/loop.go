package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/spire-resilient-systems/spire-sub003/internal/membership"
	"github.com/spire-resilient-systems/spire-sub003/internal/wire"
)

// Inbound is one decoded message arriving from a peer, paired with the
// sender the transport layer authenticated it against.
type Inbound struct {
	From    membership.ReplicaID
	Message wire.Message
}

// Handler is implemented by the replica's aggregate state (internal/replica);
// Loop calls exactly one of these methods per iteration, always from the
// same goroutine, so a Handler implementation needs no locking of its own
// state.
type Handler interface {
	// HandleMessage processes one decoded inbound message.
	HandleMessage(ctx context.Context, in Inbound)
	// HandleTimer processes one fired timer, identified by the TimerID
	// Loop.Schedule returned when it was armed and the tag passed then.
	HandleTimer(ctx context.Context, id TimerID, tag string)
}

// Loop is the replica's single-threaded run loop: a for-select over an
// inbound message channel, a done/cancel channel, and a timer wheel,
// dispatching each event to Handler in arrival order. Modeled on
// jocko-broker.go's Broker.Run, generalized from one fixed request/response
// channel pair to an arbitrary, dynamically-armed set of protocol timers.
//
// Schedule and Cancel may be called from any goroutine — both the setup
// code arming a replica's first periodic timers before Run starts, and a
// Handler callback arming a follow-up timer from inside Run itself — so
// the wheel is mutex-protected and a change wakes Run's select via wake.
type Loop struct {
	handler Handler
	inbound <-chan Inbound

	mu    sync.Mutex
	wheel *Wheel
	tags  map[TimerID]string
	wake  chan struct{}
}

// NewLoop constructs a Loop that reads inbound messages from inbound and
// dispatches to handler.
func NewLoop(handler Handler, inbound <-chan Inbound) *Loop {
	return &Loop{
		handler: handler,
		inbound: inbound,
		wheel:   NewWheel(),
		tags:    make(map[TimerID]string),
		wake:    make(chan struct{}, 1),
	}
}

// Schedule arms a timer to fire at or after fire, tagged so the Handler's
// HandleTimer call can tell which protocol obligation it is (e.g.
// "suspect-leader-window", "catchup-retry", "rtt-ping").
func (l *Loop) Schedule(fire time.Time, tag string) TimerID {
	l.mu.Lock()
	id := l.wheel.Schedule(fire)
	l.tags[id] = tag
	l.mu.Unlock()
	l.notify()
	return id
}

// Cancel removes a pending timer before it fires.
func (l *Loop) Cancel(id TimerID) {
	l.mu.Lock()
	l.wheel.Cancel(id)
	delete(l.tags, id)
	l.mu.Unlock()
	l.notify()
}

func (l *Loop) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run drives the event loop until ctx is canceled or inbound closes. It
// blocks the calling goroutine; callers run it in its own goroutine.
func (l *Loop) Run(ctx context.Context) {
	for {
		l.mu.Lock()
		fire, ok := l.wheel.NextFire()
		l.mu.Unlock()

		var timerC <-chan time.Time
		var timer *time.Timer
		if ok {
			d := time.Until(fire)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case <-l.wake:
			if timer != nil {
				timer.Stop()
			}
			continue

		case in, ok := <-l.inbound:
			if timer != nil {
				timer.Stop()
			}
			if !ok {
				return
			}
			l.handler.HandleMessage(ctx, in)

		case now := <-timerC:
			l.mu.Lock()
			due := l.wheel.Due(now)
			tags := make([]string, len(due))
			for i, id := range due {
				tags[i] = l.tags[id]
				delete(l.tags, id)
			}
			l.mu.Unlock()
			for i, id := range due {
				l.handler.HandleTimer(ctx, id, tags[i])
			}
		}
	}
}

// Package dispatch is the single-threaded event loop a replica process
// runs: one goroutine pulls decoded wire.Messages off an inbound channel,
// fires due protocol timers (leader-suspicion windows, catchup retries,
// RTT pings), and calls into a Handler — never locking shared replica
// state against concurrent access from multiple goroutines.
//
// Grounded on other_examples' holys-jocko jocko-broker.go's Broker.Run:
// a for-select over a request channel and ctx.Done(), type-switching the
// decoded request to the right handler method and writing a response back
// out. This package keeps that single-loop, type-switch-and-dispatch
// shape but adds a second event source the teacher's loop doesn't need —
// a timer wheel — since this protocol's periodic obligations (TAT_Measure
// broadcast, Suspect-Leader's sustained window, Catchup rate limiting)
// must interleave with message processing on the same goroutine rather
// than firing from independent timer goroutines that would otherwise race
// with it over replica state.
package dispatch

import (
	"container/heap"
	"time"
)

// TimerID names a scheduled timer for later cancellation.
type TimerID uint64

// timerEntry is one scheduled firing, ordered by Fire time in the heap.
type timerEntry struct {
	id    TimerID
	fire  time.Time
	index int
}

// timerHeap is a container/heap.Interface min-heap ordered by fire time.
type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].fire.Before(h[j].fire) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Wheel is a timer wheel backed by a container/heap priority queue: any
// number of timers may be scheduled, each firing once at (or after) its
// due time when Due is called. Unlike time.Timer/time.AfterFunc, a Wheel
// does not spawn goroutines — the event loop decides when to check for
// due timers, keeping all firings on the loop's own goroutine.
type Wheel struct {
	entries timerHeap
	byID    map[TimerID]*timerEntry
	nextID  TimerID
}

// NewWheel constructs an empty timer wheel.
func NewWheel() *Wheel {
	return &Wheel{byID: make(map[TimerID]*timerEntry)}
}

// Schedule arms a timer to fire at or after fire, returning an ID that
// Cancel can later use to remove it before it fires.
func (w *Wheel) Schedule(fire time.Time) TimerID {
	w.nextID++
	id := w.nextID
	e := &timerEntry{id: id, fire: fire}
	heap.Push(&w.entries, e)
	w.byID[id] = e
	return id
}

// Cancel removes a pending timer. It is a no-op if the timer already fired
// or was never scheduled.
func (w *Wheel) Cancel(id TimerID) {
	e, ok := w.byID[id]
	if !ok {
		return
	}
	heap.Remove(&w.entries, e.index)
	delete(w.byID, id)
}

// Due pops and returns every timer whose fire time is at or before now, in
// fire-time order.
func (w *Wheel) Due(now time.Time) []TimerID {
	var fired []TimerID
	for len(w.entries) > 0 && !w.entries[0].fire.After(now) {
		e := heap.Pop(&w.entries).(*timerEntry)
		delete(w.byID, e.id)
		fired = append(fired, e.id)
	}
	return fired
}

// NextFire reports the earliest pending fire time, if any pending timer
// exists. The event loop uses this to size its select's timeout.
func (w *Wheel) NextFire() (time.Time, bool) {
	if len(w.entries) == 0 {
		return time.Time{}, false
	}
	return w.entries[0].fire, true
}

// Len reports the number of pending timers.
func (w *Wheel) Len() int { return len(w.entries) }

package dispatch

import (
	"testing"
	"time"
)

func TestWheelDueFiresInOrder(t *testing.T) {
	w := NewWheel()
	base := time.Unix(1000, 0)
	idLate := w.Schedule(base.Add(3 * time.Second))
	idEarly := w.Schedule(base.Add(1 * time.Second))
	idMid := w.Schedule(base.Add(2 * time.Second))

	due := w.Due(base.Add(2 * time.Second))
	if len(due) != 2 {
		t.Fatalf("Due = %v, want 2 entries", due)
	}
	if due[0] != idEarly || due[1] != idMid {
		t.Fatalf("Due order = %v, want [%v %v]", due, idEarly, idMid)
	}
	if w.Len() != 1 {
		t.Fatalf("Len after partial Due = %d, want 1", w.Len())
	}

	due = w.Due(base.Add(10 * time.Second))
	if len(due) != 1 || due[0] != idLate {
		t.Fatalf("Due remainder = %v, want [%v]", due, idLate)
	}
}

func TestWheelCancelRemovesTimer(t *testing.T) {
	w := NewWheel()
	base := time.Unix(1000, 0)
	id := w.Schedule(base.Add(time.Second))
	w.Schedule(base.Add(2 * time.Second))

	w.Cancel(id)
	if w.Len() != 1 {
		t.Fatalf("Len after Cancel = %d, want 1", w.Len())
	}
	due := w.Due(base.Add(5 * time.Second))
	if len(due) != 1 {
		t.Fatalf("Due after Cancel = %v, want 1 entry", due)
	}
}

func TestWheelNextFireReportsEarliest(t *testing.T) {
	w := NewWheel()
	if _, ok := w.NextFire(); ok {
		t.Fatal("NextFire on empty wheel should report false")
	}
	base := time.Unix(1000, 0)
	w.Schedule(base.Add(5 * time.Second))
	w.Schedule(base.Add(1 * time.Second))
	fire, ok := w.NextFire()
	if !ok || !fire.Equal(base.Add(time.Second)) {
		t.Fatalf("NextFire = %v, %v; want %v, true", fire, ok, base.Add(time.Second))
	}
}

func TestWheelCancelUnknownIDIsNoop(t *testing.T) {
	w := NewWheel()
	w.Schedule(time.Unix(1000, 0))
	w.Cancel(TimerID(9999))
	if w.Len() != 1 {
		t.Fatalf("Len after canceling unknown ID = %d, want 1", w.Len())
	}
}

package core

import (
	"errors"
	"testing"
)

// TestObserverRegistry_DeliveryOrderAndDuplicates verifies registration order is kept
func TestObserverRegistry_DeliveryOrderAndDuplicates(t *testing.T) {
	r := NewObserverRegistry(nil, nil)
	var log eventLog
	first := log.observer(0)
	r.Add(first)
	r.Add(log.observer(1))
	r.Add(first)
	r.Add(nil)

	if err := r.NotifyCompleted(Outcome{TaskID: 7, Status: StatusCompleted, Value: 1, HasValue: true}); err != nil {
		t.Fatalf("NotifyCompleted() = %v", err)
	}

	events := log.snapshot()
	want := []int{0, 1, 0}
	if len(events) != len(want) {
		t.Fatalf("len(events) = %d, want %d", len(events), len(want))
	}
	for i, ev := range events {
		if ev.Observer != want[i] || ev.Outcome.TaskID != 7 {
			t.Errorf("events[%d] = observer %d task %d, want observer %d task 7", i, ev.Observer, ev.Outcome.TaskID, want[i])
		}
	}
}

// TestObserverRegistry_PanicIsolation verifies faults are collected and delivery continues
// Given: Three observers where the middle one panics
// When: NotifyError is called
// Then: The other two are notified and the returned error holds one ObserverFault
func TestObserverRegistry_PanicIsolation(t *testing.T) {
	var faults []*ObserverFault
	r := NewObserverRegistry(nil, func(f *ObserverFault) { faults = append(faults, f) })
	var log eventLog
	r.Add(log.observer(0))
	r.Add(&ObserverFuncs{Error: func(o Outcome) { panic("bad observer") }})
	r.Add(log.observer(2))

	err := r.NotifyError(Outcome{TaskID: 3, Status: StatusFailed})

	if len(log.snapshot()) != 2 {
		t.Errorf("notified observers = %d, want 2", len(log.snapshot()))
	}
	if !errors.Is(err, ErrObserverDeliveryFault) {
		t.Fatalf("NotifyError() = %v, want ErrObserverDeliveryFault", err)
	}
	var fault *ObserverFault
	if !errors.As(err, &fault) || fault.Index != 1 || fault.Value != "bad observer" {
		t.Errorf("fault = %+v, want index 1 with the panic value", fault)
	}
	if len(faults) != 1 {
		t.Errorf("onFault calls = %d, want 1", len(faults))
	}
}

// TestObserverRegistry_RemoveDuringDelivery verifies copy-on-write snapshots
func TestObserverRegistry_RemoveDuringDelivery(t *testing.T) {
	r := NewObserverRegistry(nil, nil)
	var log eventLog
	var self *ObserverFuncs
	self = &ObserverFuncs{Completed: func(o Outcome) { r.Remove(self) }}
	r.Add(self)
	r.Add(log.observer(1))

	_ = r.NotifyCompleted(Outcome{Status: StatusCompleted, HasValue: true})
	_ = r.NotifyCompleted(Outcome{Status: StatusCompleted, HasValue: true})

	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
	if n := len(log.snapshot()); n != 2 {
		t.Errorf("second observer notified %d times, want 2", n)
	}
}

// TestObserverRegistry_RemoveAndClear verifies Remove drops only the first match
func TestObserverRegistry_RemoveAndClear(t *testing.T) {
	r := NewObserverRegistry(nil, nil)
	o := &ObserverFuncs{}
	r.Add(o)
	r.Add(o)

	if !r.Remove(o) || r.Len() != 1 {
		t.Errorf("after Remove Len() = %d, want 1", r.Len())
	}
	if r.Remove(&ObserverFuncs{}) {
		t.Error("Remove(unknown) = true, want false")
	}
	r.Clear()
	if r.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", r.Len())
	}
}

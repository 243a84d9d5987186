package core

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/sourcegraph/conc/panics"
)

// Observer is notified of terminal outcomes of every job run by an engine.
type Observer interface {
	OnCompleted(o Outcome)
	OnError(o Outcome)
}

// ObserverFuncs adapts a pair of functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Completed func(o Outcome)
	Error     func(o Outcome)
}

func (f *ObserverFuncs) OnCompleted(o Outcome) {
	if f.Completed != nil {
		f.Completed(o)
	}
}

func (f *ObserverFuncs) OnError(o Outcome) {
	if f.Error != nil {
		f.Error(o)
	}
}

// ObserverRegistry holds an ordered list of observers. Duplicates are allowed.
//
// The list is copy-on-write: delivery iterates a snapshot outside the lock, so
// an observer may add or remove observers (itself included) while being notified;
// the change applies from the next delivery on.
type ObserverRegistry struct {
	mu        sync.Mutex
	observers []Observer

	logger  Logger
	onFault func(f *ObserverFault)
}

// NewObserverRegistry creates an empty registry. onFault may be nil.
func NewObserverRegistry(logger Logger, onFault func(f *ObserverFault)) *ObserverRegistry {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &ObserverRegistry{logger: logger, onFault: onFault}
}

// Add appends o. Nil observers are ignored.
func (r *ObserverRegistry) Add(o Observer) {
	if o == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make([]Observer, len(r.observers), len(r.observers)+1)
	copy(next, r.observers)
	r.observers = append(next, o)
}

// Remove deletes the first entry identical to o and reports whether one was found.
func (r *ObserverRegistry) Remove(o Observer) bool {
	if o == nil || !reflect.TypeOf(o).Comparable() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cur := range r.observers {
		if reflect.TypeOf(cur) != reflect.TypeOf(o) || cur != o {
			continue
		}
		next := make([]Observer, 0, len(r.observers)-1)
		next = append(next, r.observers[:i]...)
		r.observers = append(next, r.observers[i+1:]...)
		return true
	}
	return false
}

// Clear removes every observer.
func (r *ObserverRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = nil
}

// Len returns the number of registered observers.
func (r *ObserverRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observers)
}

func (r *ObserverRegistry) snapshot() []Observer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.observers
}

// NotifyCompleted calls OnCompleted on every observer in registration order.
// A panicking observer does not stop delivery; the returned error joins one
// *ObserverFault per panic. Delivery walks a snapshot taken under the registry
// lock and runs without holding it, so an observer may call Add or Remove.
func (r *ObserverRegistry) NotifyCompleted(o Outcome) error {
	return r.notify(o, Observer.OnCompleted)
}

// NotifyError calls OnError on every observer in registration order.
func (r *ObserverRegistry) NotifyError(o Outcome) error {
	return r.notify(o, Observer.OnError)
}

func (r *ObserverRegistry) notify(o Outcome, deliver func(Observer, Outcome)) error {
	var faults []error
	for i, obs := range r.snapshot() {
		var pc panics.Catcher
		pc.Try(func() { deliver(obs, o) })
		if rec := pc.Recovered(); rec != nil {
			f := &ObserverFault{
				TaskID:   o.TaskID,
				Index:    i,
				Observer: fmt.Sprintf("%T", obs),
				Value:    rec.Value,
				Stack:    rec.Stack,
			}
			faults = append(faults, f)
			r.fault(f)
		}
	}
	return errors.Join(faults...)
}

func (r *ObserverRegistry) fault(f *ObserverFault) {
	r.logger.Error("observer delivery fault",
		F("task_id", f.TaskID), F("observer", f.Observer), F("index", f.Index), F("panic", f.Value))
	if r.onFault != nil {
		r.onFault(f)
	}
}

// invokeCallback runs cb with the same isolation as observer delivery.
func (r *ObserverRegistry) invokeCallback(id TaskID, cb func()) error {
	var pc panics.Catcher
	pc.Try(cb)
	rec := pc.Recovered()
	if rec == nil {
		return nil
	}
	f := &ObserverFault{TaskID: id, Index: -1, Observer: "callback", Value: rec.Value, Stack: rec.Stack}
	r.fault(f)
	return f
}

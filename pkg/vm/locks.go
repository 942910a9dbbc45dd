package vm

import "time"

// ----------------------------------------------------------------------------
// Thread locks

// This section defines the suspension points of the scheduler.
//
// A ThreadLock hangs off a thread and keeps it from dispatching
// instructions while Locked reports true. The scheduler clears locks that
// have come unlocked and resumes the thread on the following tick, so
// installing any lock always costs at least one full tick.

type ThreadLock interface {
	Locked() bool
}

// Lock until a wall-clock deadline has passed.
type DurationLock struct {
	Deadline time.Time
	now      func() time.Time
}

func (l *DurationLock) Locked() bool {
	return l.now().Before(l.Deadline)
}

// Lock until the machine leaves the frame that was current at install time.
type FrameEndLock struct {
	vm    *VirtualMachine
	Frame uint64
}

func (l *FrameEndLock) Locked() bool {
	return l.vm.Frame() == l.Frame
}

// Lock until a named event fires on an object. The lock doubles as the
// listener registered on the object: delivery binds the payload to the
// captured parameter names in the waiting thread's top function context and
// unlocks it.
type EventLock struct {
	thread   *ThreadContext
	object   *Object
	event    string
	captures []string
	released bool
}

func (l *EventLock) Locked() bool {
	return !l.released
}

func (l *EventLock) EventName() string {
	return l.event
}

func (l *EventLock) Deliver(payload []Variant) {
	l.released = true
	fc, err := l.thread.FunctionContext()
	if err != nil {
		return
	}
	for i, name := range l.captures {
		var v Variant = Undefined{}
		if i < len(payload) {
			v = payload[i]
		}
		*fc.variableCell(name) = v
	}
}

// A cancellation watch, not a lock: when the event fires on the object the
// owning thread is marked for deletion and reaped at the tick boundary.
type EndonWatch struct {
	thread *ThreadContext
	object *Object
	event  string
}

func (w *EndonWatch) EventName() string {
	return w.event
}

func (w *EndonWatch) Deliver([]Variant) {
	w.thread.marked = true
}

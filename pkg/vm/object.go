package vm

// ----------------------------------------------------------------------------
// Objects

// This section defines the script object: a named bag of case-insensitive
// fields plus the per-object event listener registry.
//
// Objects live as long as anything references them, Go's garbage collector
// stands in for the shared ownership of the source model. The listener list
// is stored on the object itself so an object always outlives the listeners
// attached to it.

// A listener is anything parked on an object waiting for a named event.
// Deliver is called with the notification payload and the listener is
// detached afterwards.
type listener interface {
	EventName() string
	Deliver(payload []Variant)
}

type Object struct {
	Name      string
	fields    map[string]*Variant
	listeners []listener
}

func NewObject(name string) *Object {
	return &Object{Name: name, fields: map[string]*Variant{}}
}

// Returns the value of the named field, Undefined when the field was never
// written. The lookup folds case and does not materialize a cell.
func (o *Object) GetField(name string) Variant {
	if cell, ok := o.fields[FoldName(name)]; ok {
		return *cell
	}
	return Undefined{}
}

// Returns the storage cell of the named field, materializing an Undefined
// cell on first access so references into the field stay stable.
func (o *Object) FieldCell(name string) *Variant {
	key := FoldName(name)
	if cell, ok := o.fields[key]; ok {
		return cell
	}
	var v Variant = Undefined{}
	o.fields[key] = &v
	return &v
}

func (o *Object) SetField(name string, value Variant) {
	*o.FieldCell(name) = value
}

// Number of fields ever written, the value of the read-only 'size' field.
func (o *Object) FieldCount() int {
	return len(o.fields)
}

// ----------------------------------------------------------------------------
// Notifications

func (o *Object) AddListener(l listener) {
	o.listeners = append(o.listeners, l)
}

func (o *Object) RemoveListener(target listener) {
	for i, l := range o.listeners {
		if l == target {
			o.listeners = append(o.listeners[:i], o.listeners[i+1:]...)
			return
		}
	}
}

// Notify wakes every listener parked on this object for the given event and
// detaches it. Listeners attached while the payload is being delivered (for
// example by a thread the delivery wakes later) are not visited: the
// snapshot below is the delivery set. Events with no listener are dropped.
func (o *Object) Notify(event string, payload []Variant) {
	snapshot := append([]listener(nil), o.listeners...)
	for _, l := range snapshot {
		if l.EventName() != event {
			continue
		}
		o.RemoveListener(l)
		l.Deliver(payload)
	}
}

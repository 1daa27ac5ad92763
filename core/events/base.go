package events

import "time"

// Kind is the dotted event discriminator, namespaced per the package doc
// (session.*, transcript.*, function_call.*, order.*, protocol.*).
type Kind string

// Event is anything the voice-ordering engine announces to subscribers.
type Event interface {
	Kind() Kind
	Timestamp() time.Time
}

// Base carries the fields every engine event shares. Concrete events embed
// it and stamp themselves with NewBase in their constructor.
type Base struct {
	kind      Kind
	timestamp time.Time
}

// NewBase stamps an event with its kind and creation time.
func NewBase(kind Kind) Base {
	return Base{kind: kind, timestamp: time.Now()}
}

// Kind reports the event's discriminator.
func (b Base) Kind() Kind {
	return b.kind
}

// Timestamp reports when the event was created.
func (b Base) Timestamp() time.Time {
	return b.timestamp
}

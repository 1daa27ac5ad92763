package session

import (
	"sync"
	"time"

	"github.com/jinzhu/copier"
)

const defaultHistoryCapacity = 64

// TransitionRecord is one diagnostic history entry. Records never drive
// behavior; they exist to explain what the session did after the fact.
type TransitionRecord struct {
	FromState   State
	Event       Trigger
	ToState     State
	TimestampMs int64
	// Invalid marks an event that was rejected by the transition table
	// instead of applied. Their frequency is itself a protocol-drift
	// signal.
	Invalid  bool
	Metadata map[string]string
}

// transitionHistory is a fixed-capacity ring. Oldest entries are
// overwritten on overflow.
type transitionHistory struct {
	mu       sync.Mutex
	records  []TransitionRecord
	capacity int
	next     int
	full     bool
}

func newTransitionHistory(capacity int) *transitionHistory {
	if capacity < 1 {
		capacity = defaultHistoryCapacity
	}
	return &transitionHistory{
		records:  make([]TransitionRecord, capacity),
		capacity: capacity,
	}
}

func (h *transitionHistory) append(record TransitionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records[h.next] = record
	h.next = (h.next + 1) % h.capacity
	if h.next == 0 {
		h.full = true
	}
}

// snapshot returns records oldest-first. Metadata maps are deep-copied so
// callers cannot mutate history.
func (h *transitionHistory) snapshot() []TransitionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	var ordered []TransitionRecord
	if h.full {
		ordered = append(ordered, h.records[h.next:]...)
	}
	ordered = append(ordered, h.records[:h.next]...)

	var records []TransitionRecord
	if err := copier.CopyWithOption(&records, ordered, copier.Option{DeepCopy: true}); err != nil {
		logger.Warn("failed to copy transition history", "error", err)
		return nil
	}
	return records
}

func newRecord(from State, trigger Trigger, to State, at time.Time, metadata map[string]string) TransitionRecord {
	return TransitionRecord{
		FromState:   from,
		Event:       trigger,
		ToState:     to,
		TimestampMs: at.UnixMilli(),
		Metadata:    metadata,
	}
}

// Package transcripts reconstructs per-utterance transcript text from the
// streamed deltas delivered over the control channel.
package transcripts

import "context"

// Roles attached to utterance buffers. RoleUnknown marks a buffer created
// defensively from a delta whose creation event was never observed.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleUnknown   = "unknown"
)

// Buffer holds one utterance. Once Final is set the text is frozen; late
// deltas are counted and dropped, never applied.
type Buffer struct {
	ItemID string
	Role   string
	Text   string
	Final  bool
}

// AssemblerCallbacks receive buffer lifecycle notifications.
type AssemblerCallbacks struct {
	// OnUpdated is called after a delta is applied to a non-final buffer.
	OnUpdated func(buffer Buffer)
	// OnCompleted is called exactly once per item, when the terminal
	// transcription event is observed.
	OnCompleted func(buffer Buffer)
}

// Assembler accumulates transcript deltas into per-item buffers.
//
// It is not safe for concurrent use; the session event loop is the only
// caller.
type Assembler struct {
	buffers   map[string]*Buffer
	order     []string
	callbacks AssemblerCallbacks
}

// NewAssembler creates an empty assembler.
func NewAssembler(callbacks AssemblerCallbacks) *Assembler {
	return &Assembler{
		buffers:   make(map[string]*Buffer),
		callbacks: callbacks,
	}
}

// ItemCreated registers an utterance. Idempotent: a buffer already created
// defensively by a delta keeps its text and only gains the role.
func (a *Assembler) ItemCreated(itemID, role string) {
	if buffer, ok := a.buffers[itemID]; ok {
		if buffer.Role == RoleUnknown && role != "" {
			buffer.Role = role
		}
		return
	}

	a.track(&Buffer{ItemID: itemID, Role: role})
}

// Delta appends a transcript fragment. A delta for an unseen item creates
// the buffer with RoleUnknown rather than dropping the fragment; losing the
// creation event is an observed upstream failure mode and must not lose
// text.
func (a *Assembler) Delta(itemID, text string) {
	buffer, ok := a.buffers[itemID]
	if !ok {
		buffer = &Buffer{ItemID: itemID, Role: RoleUnknown}
		a.track(buffer)
	}

	if buffer.Final {
		lateDeltasDropped.Add(context.Background(), 1)
		logger.Warn("dropping transcript delta for finalized item",
			"item_id", itemID, "delta", text)
		return
	}

	buffer.Text += text
	if a.callbacks.OnUpdated != nil {
		a.callbacks.OnUpdated(*buffer)
	}
}

// Completed finalizes an utterance. When the terminal event carries text it
// is authoritative and replaces the accumulated deltas; some upstreams send
// a corrected final transcript. Duplicate completions are ignored.
func (a *Assembler) Completed(itemID, finalText string) {
	buffer, ok := a.buffers[itemID]
	if !ok {
		buffer = &Buffer{ItemID: itemID, Role: RoleUnknown}
		a.track(buffer)
	}

	if buffer.Final {
		return
	}

	if finalText != "" {
		buffer.Text = finalText
	}
	buffer.Final = true

	if a.callbacks.OnCompleted != nil {
		a.callbacks.OnCompleted(*buffer)
	}
}

// Buffer returns a copy of the buffer for itemID, if it exists.
func (a *Assembler) Buffer(itemID string) (Buffer, bool) {
	buffer, ok := a.buffers[itemID]
	if !ok {
		return Buffer{}, false
	}
	return *buffer, true
}

// Pending returns copies of all non-final buffers in creation order. Used by
// the session to verify nothing is silently discarded across a reconnect
// splice.
func (a *Assembler) Pending() []Buffer {
	var pending []Buffer
	for _, itemID := range a.order {
		if buffer := a.buffers[itemID]; !buffer.Final {
			pending = append(pending, *buffer)
		}
	}
	return pending
}

// HasPendingFinalization reports whether any buffer is still awaiting its
// terminal event.
func (a *Assembler) HasPendingFinalization() bool {
	for _, buffer := range a.buffers {
		if !buffer.Final {
			return true
		}
	}
	return false
}

func (a *Assembler) track(buffer *Buffer) {
	a.buffers[buffer.ItemID] = buffer
	a.order = append(a.order, buffer.ItemID)
}

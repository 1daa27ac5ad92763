// Package invocations reconstructs structured function-call invocations from
// streamed argument deltas.
package invocations

import (
	"context"
	"encoding/json"
	"fmt"
)

// Status of an in-flight invocation buffer.
type Status string

const (
	StatusAccumulating Status = "accumulating"
	StatusComplete     Status = "complete"
	StatusParseError   Status = "parse_error"
)

// Invocation is one complete function call: name plus arguments parsed from
// the full accumulated string at the terminal event, never from partials.
type Invocation struct {
	CallID string
	Name   string
	Args   map[string]any
}

// ParseError reports an invocation whose accumulated arguments were not
// valid JSON when the terminal event fired. The raw accumulator is attached
// for diagnostics; it must never be silently swallowed.
type ParseError struct {
	CallID  string
	Name    string
	RawArgs string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse arguments for call %q (%s): %v", e.CallID, e.Name, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Buffer holds one invocation mid-assembly.
type Buffer struct {
	CallID  string
	Name    string
	RawArgs string
	Status  Status
}

// AssemblerCallbacks receive completed invocations and parse failures.
type AssemblerCallbacks struct {
	OnInvocation func(invocation Invocation)
	OnParseError func(parseErr *ParseError)
}

// Assembler accumulates argument deltas per call ID.
//
// Not safe for concurrent use; the session event loop is the only caller.
type Assembler struct {
	buffers   map[string]*Buffer
	callbacks AssemblerCallbacks
}

// NewAssembler creates an empty assembler.
func NewAssembler(callbacks AssemblerCallbacks) *Assembler {
	return &Assembler{
		buffers:   make(map[string]*Buffer),
		callbacks: callbacks,
	}
}

// ArgsDelta appends an argument fragment, creating the buffer on first
// sight. The name travels on delta frames and may be empty on later ones;
// the first non-empty name wins.
func (a *Assembler) ArgsDelta(callID, name, fragment string) {
	buffer, ok := a.buffers[callID]
	if !ok {
		buffer = &Buffer{CallID: callID, Status: StatusAccumulating}
		a.buffers[callID] = buffer
	}

	if buffer.Status != StatusAccumulating {
		logger.Warn("dropping argument delta for settled call",
			"call_id", callID, "status", string(buffer.Status))
		return
	}

	if buffer.Name == "" && name != "" {
		buffer.Name = name
	}
	buffer.RawArgs += fragment
}

// ArgsDone finalizes a call: the accumulator is parsed exactly once and the
// invocation (or a ParseError) is emitted. A duplicate ArgsDone for an
// already settled call is a no-op, not a re-emit.
func (a *Assembler) ArgsDone(callID string) {
	buffer, ok := a.buffers[callID]
	if !ok {
		// Terminal event without any delta still carries a call worth
		// reporting as unparseable rather than vanishing.
		buffer = &Buffer{CallID: callID, Status: StatusAccumulating}
		a.buffers[callID] = buffer
	}

	if buffer.Status != StatusAccumulating {
		return
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(buffer.RawArgs), &args); err != nil {
		buffer.Status = StatusParseError
		parseFailures.Add(context.Background(), 1)
		if a.callbacks.OnParseError != nil {
			a.callbacks.OnParseError(&ParseError{
				CallID:  callID,
				Name:    buffer.Name,
				RawArgs: buffer.RawArgs,
				Err:     err,
			})
		}
		return
	}

	buffer.Status = StatusComplete
	if a.callbacks.OnInvocation != nil {
		a.callbacks.OnInvocation(Invocation{
			CallID: callID,
			Name:   buffer.Name,
			Args:   args,
		})
	}
}

// Buffer returns a copy of the buffer for callID, if it exists.
func (a *Assembler) Buffer(callID string) (Buffer, bool) {
	buffer, ok := a.buffers[callID]
	if !ok {
		return Buffer{}, false
	}
	return *buffer, true
}

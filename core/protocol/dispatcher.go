package protocol

import "context"

// Handlers are the dispatch targets for decoded frames. Nil handlers drop
// their frames silently; that makes partial wiring in tests cheap.
type Handlers struct {
	// Lifecycle frames, routed to the session state machine.
	SessionCreated func(frame SessionCreatedFrame)
	SessionUpdated func(frame SessionUpdatedFrame)
	RemoteError    func(frame ErrorFrame)

	// Transcription frames, routed to the transcript assembler.
	ItemCreated            func(frame ItemCreatedFrame)
	TranscriptionDelta     func(frame TranscriptionDeltaFrame)
	TranscriptionCompleted func(frame TranscriptionCompletedFrame)

	// Function-call frames, routed to the invocation assembler.
	FunctionArgsDelta func(frame FunctionArgsDeltaFrame)
	FunctionArgsDone  func(frame FunctionArgsDoneFrame)

	// Unknown receives frames with unrecognized type tags, uninterpreted.
	Unknown func(frame UnknownFrame)
	// ProtocolError receives undecodable frames. One malformed frame must
	// never crash session processing, so decode failures surface here
	// instead of as returned errors.
	ProtocolError func(raw string, err error)
}

// Dispatcher decodes raw control-channel frames and routes them.
type Dispatcher struct {
	handlers Handlers
}

// NewDispatcher creates a dispatcher with the given routing targets.
func NewDispatcher(handlers Handlers) *Dispatcher {
	return &Dispatcher{handlers: handlers}
}

// HandleFrame decodes and routes one serialized frame.
func (d *Dispatcher) HandleFrame(raw string) {
	frame, err := DecodeFrame([]byte(raw))
	if err != nil {
		malformedFrames.Add(context.Background(), 1)
		logger.Warn("dropping malformed control-channel frame", "error", err)
		if d.handlers.ProtocolError != nil {
			d.handlers.ProtocolError(raw, err)
		}
		return
	}

	switch typedFrame := frame.(type) {
	case SessionCreatedFrame:
		if d.handlers.SessionCreated != nil {
			d.handlers.SessionCreated(typedFrame)
		}
	case SessionUpdatedFrame:
		if d.handlers.SessionUpdated != nil {
			d.handlers.SessionUpdated(typedFrame)
		}
	case ErrorFrame:
		if d.handlers.RemoteError != nil {
			d.handlers.RemoteError(typedFrame)
		}
	case ItemCreatedFrame:
		if d.handlers.ItemCreated != nil {
			d.handlers.ItemCreated(typedFrame)
		}
	case TranscriptionDeltaFrame:
		if d.handlers.TranscriptionDelta != nil {
			d.handlers.TranscriptionDelta(typedFrame)
		}
	case TranscriptionCompletedFrame:
		if d.handlers.TranscriptionCompleted != nil {
			d.handlers.TranscriptionCompleted(typedFrame)
		}
	case FunctionArgsDeltaFrame:
		if d.handlers.FunctionArgsDelta != nil {
			d.handlers.FunctionArgsDelta(typedFrame)
		}
	case FunctionArgsDoneFrame:
		if d.handlers.FunctionArgsDone != nil {
			d.handlers.FunctionArgsDone(typedFrame)
		}
	case UnknownFrame:
		unknownFrames.Add(context.Background(), 1)
		logger.Debug("passing through unknown frame", "type", typedFrame.Type)
		if d.handlers.Unknown != nil {
			d.handlers.Unknown(typedFrame)
		}
	}
}

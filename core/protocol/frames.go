// Package protocol decodes control-channel frames into a closed, typed
// event union and routes them to their consumers.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Frame type tags the dispatcher recognizes. Anything else decodes to
// UnknownFrame and is passed through uninterpreted.
const (
	TypeSessionCreated         = "session.created"
	TypeSessionUpdated         = "session.updated"
	TypeError                  = "error"
	TypeItemCreated            = "conversation.item.created"
	TypeTranscriptionDelta     = "conversation.item.input_audio_transcription.delta"
	TypeTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	TypeFunctionArgsDelta      = "response.function_call_arguments.delta"
	TypeFunctionArgsDone       = "response.function_call_arguments.done"

	// TypeAudioCommit is outbound only: it commits buffered input audio.
	TypeAudioCommit = "input_audio_buffer.commit"
)

// Frame is the closed union of decoded control-channel frames.
type Frame interface {
	frameType() string
}

// SessionCreatedFrame is the remote session lifecycle announcement.
type SessionCreatedFrame struct {
	Session struct {
		ID string `json:"id"`
	} `json:"session"`
}

func (SessionCreatedFrame) frameType() string { return TypeSessionCreated }

// SessionUpdatedFrame acknowledges a remote-side session change. The engine
// never sends configuration updates itself (behavior is fixed at credential
// mint time), but the remote peer may still emit these.
type SessionUpdatedFrame struct {
	Session struct {
		ID string `json:"id"`
	} `json:"session"`
}

func (SessionUpdatedFrame) frameType() string { return TypeSessionUpdated }

// ErrorFrame is an explicit protocol-level error from the remote peer.
type ErrorFrame struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (ErrorFrame) frameType() string { return TypeError }

// ItemCreatedFrame announces a new conversation item (one utterance).
type ItemCreatedFrame struct {
	Item struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	} `json:"item"`
}

func (ItemCreatedFrame) frameType() string { return TypeItemCreated }

// TranscriptionDeltaFrame carries an incremental transcript fragment.
type TranscriptionDeltaFrame struct {
	ItemID string `json:"item_id"`
	Delta  string `json:"delta"`
}

func (TranscriptionDeltaFrame) frameType() string { return TypeTranscriptionDelta }

// TranscriptionCompletedFrame terminates an utterance's transcript. When
// Transcript is non-empty it is authoritative over the accumulated deltas.
type TranscriptionCompletedFrame struct {
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

func (TranscriptionCompletedFrame) frameType() string { return TypeTranscriptionCompleted }

// FunctionArgsDeltaFrame carries an incremental argument fragment.
type FunctionArgsDeltaFrame struct {
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Delta  string `json:"delta"`
}

func (FunctionArgsDeltaFrame) frameType() string { return TypeFunctionArgsDelta }

// FunctionArgsDoneFrame terminates an invocation's argument stream. Some
// upstreams repeat the full argument string here.
type FunctionArgsDoneFrame struct {
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func (FunctionArgsDoneFrame) frameType() string { return TypeFunctionArgsDone }

// UnknownFrame preserves frames with unrecognized type tags for subscribers
// that want them; the engine itself logs and drops them.
type UnknownFrame struct {
	Type string
	Raw  json.RawMessage
}

func (f UnknownFrame) frameType() string { return f.Type }

// DecodeFrame parses one serialized control-channel frame. A missing or
// unparseable envelope is an error; an unrecognized type tag is not.
func DecodeFrame(raw []byte) (Frame, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode frame envelope: %w", err)
	}

	frameType := strings.TrimSpace(envelope.Type)
	if frameType == "" {
		return nil, fmt.Errorf("frame missing type tag")
	}

	switch frameType {
	case TypeSessionCreated:
		return decodeAs[SessionCreatedFrame](raw, frameType)
	case TypeSessionUpdated:
		return decodeAs[SessionUpdatedFrame](raw, frameType)
	case TypeError:
		return decodeAs[ErrorFrame](raw, frameType)
	case TypeItemCreated:
		return decodeAs[ItemCreatedFrame](raw, frameType)
	case TypeTranscriptionDelta:
		return decodeAs[TranscriptionDeltaFrame](raw, frameType)
	case TypeTranscriptionCompleted:
		return decodeAs[TranscriptionCompletedFrame](raw, frameType)
	case TypeFunctionArgsDelta:
		return decodeAs[FunctionArgsDeltaFrame](raw, frameType)
	case TypeFunctionArgsDone:
		return decodeAs[FunctionArgsDoneFrame](raw, frameType)
	default:
		return UnknownFrame{Type: frameType, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

func decodeAs[T Frame](raw []byte, frameType string) (Frame, error) {
	var frame T
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("failed to decode %s frame: %w", frameType, err)
	}
	return frame, nil
}

// EncodeAudioCommit serializes the outbound commit frame that flushes
// buffered input audio into an utterance.
func EncodeAudioCommit() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
	}{Type: TypeAudioCommit})
}

package events

const (
	// KindTranscriptUpdated identifies a mutable transcript snapshot.
	KindTranscriptUpdated Kind = "transcript.updated"
	// KindTranscriptFinal identifies a terminal utterance transcript.
	KindTranscriptFinal Kind = "transcript.final"
	// KindTranscriptTimedOut identifies a missed transcript window.
	KindTranscriptTimedOut Kind = "transcript.timed_out"
)

// TranscriptUpdated carries the accumulated text of an in-flight utterance.
type TranscriptUpdated struct {
	Base
	ItemID string
	Role   string
	Text   string
}

func (t TranscriptUpdated) String() string { return t.Text + "..." }

// NewTranscriptUpdated creates a transcript snapshot event.
func NewTranscriptUpdated(itemID, role, text string) TranscriptUpdated {
	return TranscriptUpdated{Base: NewBase(KindTranscriptUpdated), ItemID: itemID, Role: role, Text: text}
}

// TranscriptFinal carries the terminal text of an utterance.
type TranscriptFinal struct {
	Base
	ItemID string
	Role   string
	Text   string
}

func (t TranscriptFinal) String() string { return t.Text }

// NewTranscriptFinal creates a terminal transcript event.
func NewTranscriptFinal(itemID, role, text string) TranscriptFinal {
	return TranscriptFinal{Base: NewBase(KindTranscriptFinal), ItemID: itemID, Role: role, Text: text}
}

// TranscriptTimedOut marks a commit that produced no terminal transcript in
// time. Non-fatal; the session returns to ready.
type TranscriptTimedOut struct {
	Base
}

// NewTranscriptTimedOut creates a transcript timeout event.
func NewTranscriptTimedOut() TranscriptTimedOut {
	return TranscriptTimedOut{Base: NewBase(KindTranscriptTimedOut)}
}

package events

const (
	// KindSessionStateChanged identifies a state machine transition.
	KindSessionStateChanged Kind = "session.state_changed"
	// KindSessionReady identifies readiness of the remote session.
	KindSessionReady Kind = "session.ready"
	// KindSessionErrored identifies the terminal error state.
	KindSessionErrored Kind = "session.errored"
	// KindSessionInvalidTransition identifies a rejected state machine event.
	KindSessionInvalidTransition Kind = "session.invalid_transition"
	// KindSessionRecordingAborted identifies a recording dropped by a splice.
	KindSessionRecordingAborted Kind = "session.recording_aborted"
	// KindCredentialRefreshed identifies a completed credential refresh.
	KindCredentialRefreshed Kind = "session.credential_refreshed"
)

// ReadinessConfirmation distinguishes how session readiness was established.
type ReadinessConfirmation string

const (
	// ConfirmedViaEvent means the remote peer emitted its lifecycle event.
	ConfirmedViaEvent ReadinessConfirmation = "event"
	// ConfirmedViaTimeout means the readiness window elapsed without one.
	// A high rate of timeout confirmations is a protocol-drift signal, not
	// normal behavior.
	ConfirmedViaTimeout ReadinessConfirmation = "timeout"
)

// SessionStateChanged marks a state machine transition.
type SessionStateChanged struct {
	Base
	From    string
	To      string
	Trigger string
}

// NewSessionStateChanged creates a state change event.
func NewSessionStateChanged(from, to, trigger string) SessionStateChanged {
	return SessionStateChanged{Base: NewBase(KindSessionStateChanged), From: from, To: to, Trigger: trigger}
}

// SessionReady marks the session as usable for conversation.
type SessionReady struct {
	Base
	SessionID    string
	ConfirmedVia ReadinessConfirmation
}

// NewSessionReady creates a readiness event.
func NewSessionReady(sessionID string, via ReadinessConfirmation) SessionReady {
	return SessionReady{Base: NewBase(KindSessionReady), SessionID: sessionID, ConfirmedVia: via}
}

// SessionErrored marks entry into the terminal error state.
type SessionErrored struct {
	Base
	Reason string
	Err    error
}

// NewSessionErrored creates a terminal error event.
func NewSessionErrored(reason string, err error) SessionErrored {
	return SessionErrored{Base: NewBase(KindSessionErrored), Reason: reason, Err: err}
}

// SessionInvalidTransition marks an event rejected by the transition table.
type SessionInvalidTransition struct {
	Base
	State   string
	Trigger string
}

// NewSessionInvalidTransition creates an invalid transition event.
func NewSessionInvalidTransition(state, trigger string) SessionInvalidTransition {
	return SessionInvalidTransition{Base: NewBase(KindSessionInvalidTransition), State: state, Trigger: trigger}
}

// SessionRecordingAborted marks a recording abandoned during a splice.
type SessionRecordingAborted struct {
	Base
	ItemID string
}

// NewSessionRecordingAborted creates a recording aborted event.
func NewSessionRecordingAborted(itemID string) SessionRecordingAborted {
	return SessionRecordingAborted{Base: NewBase(KindSessionRecordingAborted), ItemID: itemID}
}

// CredentialRefreshed marks the start of a transport splice with a fresh
// credential.
type CredentialRefreshed struct {
	Base
	Fingerprint string
}

// NewCredentialRefreshed creates a credential refreshed event.
func NewCredentialRefreshed(fingerprint string) CredentialRefreshed {
	return CredentialRefreshed{Base: NewBase(KindCredentialRefreshed), Fingerprint: fingerprint}
}

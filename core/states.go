package session

// State is the session state machine's position.
type State string

const (
	StateDisconnected         State = "DISCONNECTED"
	StateConnecting           State = "CONNECTING"
	StateAwaitingSessionReady State = "AWAITING_SESSION_READY"
	StateIdleReady            State = "IDLE_READY"
	StateRecording            State = "RECORDING"
	StateAwaitingTranscript   State = "AWAITING_TRANSCRIPT"
	StateReconnecting         State = "RECONNECTING"
	StateError                State = "ERROR"
)

// Trigger names the events the state machine reacts to. Triggers are
// recorded verbatim in the transition history.
type Trigger string

const (
	TriggerConnectRequested   Trigger = "CONNECT_REQUESTED"
	TriggerChannelOpened      Trigger = "CHANNEL_OPENED"
	TriggerSessionReady       Trigger = "SESSION_READY"
	TriggerRecordingStarted   Trigger = "RECORDING_STARTED"
	TriggerRecordingStopped   Trigger = "RECORDING_STOPPED"
	TriggerTranscriptReceived Trigger = "TRANSCRIPT_RECEIVED"
	TriggerTranscriptTimeout  Trigger = "TRANSCRIPT_TIMEOUT"
	TriggerRefreshNeeded      Trigger = "REFRESH_NEEDED"
	TriggerFatalError         Trigger = "FATAL_ERROR"
	TriggerReset              Trigger = "RESET"
	TriggerTeardown           Trigger = "TEARDOWN"
)

// transitions is the validity table. TriggerTeardown is accepted from every
// state and TriggerFatalError from every non-terminal state; both are
// handled before the table is consulted.
var transitions = map[State]map[Trigger]State{
	StateDisconnected: {
		TriggerConnectRequested: StateConnecting,
	},
	StateConnecting: {
		TriggerChannelOpened: StateAwaitingSessionReady,
		TriggerRefreshNeeded: StateReconnecting,
	},
	StateAwaitingSessionReady: {
		TriggerSessionReady:  StateIdleReady,
		TriggerRefreshNeeded: StateReconnecting,
	},
	StateIdleReady: {
		TriggerRecordingStarted: StateRecording,
		TriggerRefreshNeeded:    StateReconnecting,
	},
	StateRecording: {
		TriggerRecordingStopped: StateAwaitingTranscript,
		TriggerRefreshNeeded:    StateReconnecting,
	},
	StateAwaitingTranscript: {
		TriggerTranscriptReceived: StateIdleReady,
		TriggerTranscriptTimeout:  StateIdleReady,
		TriggerRefreshNeeded:      StateReconnecting,
	},
	StateReconnecting: {
		TriggerChannelOpened: StateAwaitingSessionReady,
	},
	StateError: {
		TriggerReset: StateDisconnected,
	},
}

// nextState consults the validity table.
func nextState(from State, trigger Trigger) (State, bool) {
	if trigger == TriggerTeardown {
		return StateDisconnected, true
	}
	if trigger == TriggerFatalError && from != StateError {
		return StateError, true
	}
	to, ok := transitions[from][trigger]
	return to, ok
}

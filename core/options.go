package session

import (
	"context"
	"time"

	"github.com/tablevox/ordervoice-core/core/audio"
	"github.com/tablevox/ordervoice-core/core/clock"
	"github.com/tablevox/ordervoice-core/core/credentials"
	"github.com/tablevox/ordervoice-core/core/events"
	"github.com/tablevox/ordervoice-core/core/orders"
	"github.com/tablevox/ordervoice-core/core/transport"
)

// Option configures a Session at construction time.
type Option func(*Session)

// CredentialProvider mints and refreshes session credentials. Satisfied by
// *credentials.Provider.
type CredentialProvider interface {
	Acquire(ctx context.Context, descriptor credentials.ContextDescriptor) (*credentials.Credential, error)
	ScheduleRefresh(credential credentials.Credential, onNeedRefresh func()) clock.Timer
}

// WithCredentialProvider overrides the credential provider.
func WithCredentialProvider(provider CredentialProvider) Option {
	return func(s *Session) { s.provider = provider }
}

// Channel is one open realtime channel as the session sees it.
type Channel interface {
	SendFrame(raw []byte) error
	SendAudio(audio []byte) error
	Close() error
}

// TransportDialer opens realtime channels.
type TransportDialer interface {
	Open(ctx context.Context, credential credentials.Credential, callbacks transport.Callbacks) (Channel, error)
}

// WithTransportDialer overrides the transport dialer.
func WithTransportDialer(dialer TransportDialer) Option {
	return func(s *Session) { s.dialer = dialer }
}

// dialerAdapter narrows *transport.Dialer to the TransportDialer interface.
type dialerAdapter struct{ dialer *transport.Dialer }

func (a dialerAdapter) Open(ctx context.Context, credential credentials.Credential, callbacks transport.Callbacks) (Channel, error) {
	return a.dialer.Open(ctx, credential, callbacks)
}

// WithTransportOptions configures the default transport dialer. Ignored
// when WithTransportDialer is also given.
func WithTransportOptions(opts ...transport.DialerOption) Option {
	return func(s *Session) { s.dialer = dialerAdapter{dialer: transport.NewDialer(opts...)} }
}

// WithClock overrides the clock used for session timers.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithInstructions sets the behavioral instructions baked into the
// credential at mint time. There is deliberately no way to change them on
// a live session; the remote peer does not honor post-connect updates.
func WithInstructions(instructions string) Option {
	return func(s *Session) { s.descriptor.Instructions = instructions }
}

// WithHistoryCapacity overrides the transition history ring capacity.
func WithHistoryCapacity(capacity int) Option {
	return func(s *Session) { s.history = newTransitionHistory(capacity) }
}

// WithReadinessTimeout overrides the session readiness window.
func WithReadinessTimeout(timeout time.Duration) Option {
	return func(s *Session) { s.readinessTimeout = timeout }
}

// WithTranscriptTimeout overrides the post-commit transcript window.
func WithTranscriptTimeout(timeout time.Duration) Option {
	return func(s *Session) { s.transcriptTimeout = timeout }
}

// WithTranslatorOptions configures the order intent translator.
func WithTranslatorOptions(opts ...orders.TranslatorOption) Option {
	return func(s *Session) { s.translatorOptions = opts }
}

// AudioInput is a microphone capture client streaming raw frames.
type AudioInput interface {
	Stream(ctx context.Context, onAudio func(audio []byte)) error
	EncodingInfo() audio.EncodingInfo
	Close() error
}

// AudioInputFine is an input client with explicit capture controls, letting
// the session gate capture on the recording state.
type AudioInputFine interface {
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
}

// WithAudioInput wires a capture client whose frames are forwarded on the
// channel's media lane while the session is recording.
func WithAudioInput(client AudioInput) Option {
	return func(s *Session) { s.audioInput.Set(client) }
}

// ConnectOption configures callbacks for one Connect call.
type ConnectOption func(*ConnectOptions)

// ConnectOptions carry the per-connect callback set. All callbacks run on
// the session's event loop; they must not block.
type ConnectOptions struct {
	onStateChange          func(from, to State)
	onReady                func(sessionID string, via events.ReadinessConfirmation)
	onTranscription        func(itemID, text string)
	onInterimTranscription func(itemID, text string)
	onOrderIntent          func(intent orders.Intent)
	onSessionError         func(reason string, err error)
	onEvent                func(event events.Event)
}

// OnStateChange reports every applied state transition.
func OnStateChange(callback func(from, to State)) ConnectOption {
	return func(o *ConnectOptions) { o.onStateChange = callback }
}

// OnReady reports session readiness and which path confirmed it.
func OnReady(callback func(sessionID string, via events.ReadinessConfirmation)) ConnectOption {
	return func(o *ConnectOptions) { o.onReady = callback }
}

// OnTranscription reports finalized utterance transcripts.
func OnTranscription(callback func(itemID, text string)) ConnectOption {
	return func(o *ConnectOptions) { o.onTranscription = callback }
}

// OnInterimTranscription reports accumulating transcript snapshots.
func OnInterimTranscription(callback func(itemID, text string)) ConnectOption {
	return func(o *ConnectOptions) { o.onInterimTranscription = callback }
}

// OnOrderIntent reports order-mutation intents for the cart collaborator.
func OnOrderIntent(callback func(intent orders.Intent)) ConnectOption {
	return func(o *ConnectOptions) { o.onOrderIntent = callback }
}

// OnSessionError reports entry into the terminal error state.
func OnSessionError(callback func(reason string, err error)) ConnectOption {
	return func(o *ConnectOptions) { o.onSessionError = callback }
}

// OnEvent receives every emitted session event, including diagnostics that
// have no dedicated callback.
func OnEvent(callback func(event events.Event)) ConnectOption {
	return func(o *ConnectOptions) { o.onEvent = callback }
}

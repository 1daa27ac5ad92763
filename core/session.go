// Package session drives a realtime voice-ordering session: it mints
// credentials, opens the transport, routes control-channel frames into the
// transcript and invocation assemblers, and walks the session state machine
// from connect through recording to order intents.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tablevox/ordervoice-core/core/clock"
	"github.com/tablevox/ordervoice-core/core/credentials"
	"github.com/tablevox/ordervoice-core/core/events"
	"github.com/tablevox/ordervoice-core/core/invocations"
	"github.com/tablevox/ordervoice-core/core/orders"
	"github.com/tablevox/ordervoice-core/core/protocol"
	"github.com/tablevox/ordervoice-core/core/transcripts"
	"github.com/tablevox/ordervoice-core/core/transport"
)

const (
	defaultReadinessTimeout  = 5 * time.Second
	defaultTranscriptTimeout = 10 * time.Second
)

var (
	// ErrNotConnectable is returned by Connect when the session is not in
	// a state that accepts a connection attempt.
	ErrNotConnectable = errors.New("session is not in a connectable state")
	// ErrOpenInFlight is returned when a connection or splice attempt is
	// already in progress. Callers should await the first attempt's
	// outcome instead of retrying.
	ErrOpenInFlight = errors.New("a transport open attempt is already in flight")
	// ErrClosed is returned by operations on a torn-down session.
	ErrClosed = errors.New("session is closed")
	// ErrNotRecordable is returned by recording controls used in a state
	// that does not accept them.
	ErrNotRecordable = errors.New("session cannot change recording state now")
)

// Session is a single voice-ordering conversation. All state lives on one
// event loop goroutine; exported methods post commands onto that loop, so
// Session is safe for concurrent use.
type Session struct {
	descriptor credentials.ContextDescriptor

	provider CredentialProvider
	dialer   TransportDialer
	clock    clock.Clock

	readinessTimeout  time.Duration
	transcriptTimeout time.Duration
	translatorOptions []orders.TranslatorOption

	history    *transitionHistory
	audioInput *audioInput

	// commandMu guards the queue and the accepting flag; posting never
	// blocks while holding it, so the loop can always make progress.
	commandMu sync.Mutex
	commands  []func()
	accepting bool
	wake      chan struct{}
	loopDone  chan struct{}
	stopping  bool
	closed    atomic.Bool

	// openFlight enforces at most one in-flight transport open attempt,
	// covering both Connect and refresh splices.
	openFlight atomic.Bool
	generation atomic.Int64

	// recording gates the audio forwarding path without touching the loop.
	recording atomic.Bool

	// activeDispatcher routes frames for the newest channel generation.
	activeDispatcher atomic.Pointer[protocol.Dispatcher]

	channelMu sync.Mutex
	channel   Channel

	// Loop-owned fields below; never touched off-loop.
	state       State
	stateMirror atomic.Value
	activeGen   int64
	sessionID   string
	credential  *credentials.Credential
	emit        eventEmitter
	translator  *orders.Translator
	transcripts *transcripts.Assembler
	invocations *invocations.Assembler

	readinessTimer  clock.Timer
	transcriptTimer clock.Timer
	refreshTimer    clock.Timer
}

// New creates a disconnected session for one restaurant's menu.
func New(restaurantID string, menu []orders.MenuItem, opts ...Option) *Session {
	s := &Session{
		descriptor: credentials.ContextDescriptor{
			RestaurantID: restaurantID,
			Menu:         menu,
			Tools:        credentials.OrderingTools(),
		},
		provider:          credentials.NewProvider(),
		dialer:            dialerAdapter{dialer: transport.NewDialer()},
		clock:             clock.System(),
		readinessTimeout:  defaultReadinessTimeout,
		transcriptTimeout: defaultTranscriptTimeout,
		history:           newTransitionHistory(defaultHistoryCapacity),
		accepting:         true,
		wake:              make(chan struct{}, 1),
		loopDone:          make(chan struct{}),
		state:             StateDisconnected,
		emit:              noopEventEmitter,
	}
	s.audioInput = newAudioInput(s.forwardAudio)
	s.stateMirror.Store(StateDisconnected)

	for _, opt := range opts {
		opt(s)
	}

	s.translator = orders.NewTranslator(orders.NewVocabulary(menu), s.translatorOptions...)
	s.transcripts = transcripts.NewAssembler(transcripts.AssemblerCallbacks{
		OnUpdated:   s.transcriptUpdated,
		OnCompleted: s.transcriptCompleted,
	})
	s.invocations = invocations.NewAssembler(invocations.AssemblerCallbacks{
		OnInvocation: s.invocationCompleted,
		OnParseError: s.invocationParseFailed,
	})

	go s.run()
	return s
}

func (s *Session) run() {
	defer close(s.loopDone)
	for {
		s.commandMu.Lock()
		batch := s.commands
		s.commands = nil
		s.commandMu.Unlock()

		for _, command := range batch {
			command()
		}
		if s.stopping {
			break
		}
		if len(batch) == 0 {
			<-s.wake
		}
	}

	// Refuse further posts, then run whatever was queued behind the
	// teardown so no caller is left waiting on a stranded command. The
	// transition table rejects whatever those commands try to do.
	s.commandMu.Lock()
	s.accepting = false
	stragglers := s.commands
	s.commands = nil
	s.commandMu.Unlock()
	for _, command := range stragglers {
		command()
	}
}

// post schedules a command on the event loop. A true return guarantees the
// command runs, even when it was queued behind a teardown; false means the
// loop is gone and the caller must clean up after itself.
func (s *Session) post(command func()) bool {
	s.commandMu.Lock()
	if !s.accepting {
		s.commandMu.Unlock()
		return false
	}
	s.commands = append(s.commands, command)
	s.commandMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// CurrentState reports the session's state machine position.
func (s *Session) CurrentState() State {
	return s.stateMirror.Load().(State)
}

// History returns the transition history, oldest first.
func (s *Session) History() []TransitionRecord {
	return s.history.snapshot()
}

// HandleFrame routes one raw control-channel frame through the active
// dispatcher. The transport delivers frames here internally; it is exported
// for integrations that bring their own channel. Frames arriving before the
// first connect are dropped.
func (s *Session) HandleFrame(raw string) {
	if dispatcher := s.activeDispatcher.Load(); dispatcher != nil {
		dispatcher.HandleFrame(raw)
	}
}

// PendingTranscripts returns the non-final transcript buffers, in creation
// order. Buffers survive credential-refresh splices.
func (s *Session) PendingTranscripts() []transcripts.Buffer {
	result := make(chan []transcripts.Buffer, 1)
	if !s.post(func() { result <- s.transcripts.Pending() }) {
		return nil
	}
	return <-result
}

// apply runs one trigger through the transition table. Invalid triggers are
// recorded with a marker and reported, not silently ignored; their
// frequency is a protocol-drift signal.
func (s *Session) apply(trigger Trigger, metadata map[string]string) bool {
	to, ok := nextState(s.state, trigger)
	if !ok {
		record := newRecord(s.state, trigger, s.state, s.clock.Now(), metadata)
		record.Invalid = true
		s.history.append(record)
		invalidTransitions.Add(context.Background(), 1)
		logger.Warn("rejected session trigger",
			"state", string(s.state), "trigger", string(trigger))
		s.emit(events.NewSessionInvalidTransition(string(s.state), string(trigger)))
		return false
	}

	from := s.state
	s.state = to
	s.stateMirror.Store(to)
	s.history.append(newRecord(from, trigger, to, s.clock.Now(), metadata))
	s.emit(events.NewSessionStateChanged(string(from), string(to), string(trigger)))

	if from == StateRecording && to != StateRecording {
		s.recording.Store(false)
		s.audioInput.StopCapture()
	}
	return true
}

// applySync runs a trigger on the event loop and waits for the verdict.
func (s *Session) applySync(trigger Trigger, metadata map[string]string) (bool, error) {
	result := make(chan bool, 1)
	if !s.post(func() { result <- s.apply(trigger, metadata) }) {
		return false, ErrClosed
	}
	return <-result, nil
}

// Connect mints a credential and opens the transport. It blocks until the
// control channel is open or the attempt has failed; readiness is reported
// afterwards through OnReady. A ConnectionError is retried once with a
// fresh credential before the session goes to its error state.
func (s *Session) Connect(ctx context.Context, opts ...ConnectOption) error {
	options := ConnectOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	if s.closed.Load() {
		return ErrClosed
	}
	if !s.openFlight.CompareAndSwap(false, true) {
		return ErrOpenInFlight
	}
	defer s.openFlight.Store(false)

	ctx, span := tracer.Start(ctx, "session.connect")
	defer span.End()
	span.SetAttributes(attribute.String("restaurant.id", s.descriptor.RestaurantID))

	s.post(func() { s.emit = newCallbackEventEmitter(options) })

	applied, err := s.applySync(TriggerConnectRequested, nil)
	if err != nil {
		return err
	}
	if !applied {
		return ErrNotConnectable
	}

	credential, channel, gen, err := s.acquireAndOpen(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "connect failed")
		s.post(func() { s.fatal(classifyFailure(err), err) })
		return err
	}

	if !s.post(func() { s.installChannel(credential, channel, gen, nil) }) {
		// Teardown won the race while the transport was opening; the
		// channel was never installed, so it is ours to close.
		channel.Close()
		return ErrClosed
	}
	return nil
}

// acquireAndOpen performs the credential mint and transport open outside
// the event loop. The frame handler is bound before the open so nothing
// the remote sends in its first breath can be lost.
func (s *Session) acquireAndOpen(ctx context.Context) (*credentials.Credential, Channel, int64, error) {
	credential, err := s.provider.Acquire(ctx, s.descriptor)
	if err != nil {
		return nil, nil, 0, err
	}

	gen := s.generation.Add(1)
	channel, err := s.dialer.Open(ctx, *credential, s.transportCallbacks(gen))
	if err == nil {
		return credential, channel, gen, nil
	}

	var connErr *transport.ConnectionError
	if !errors.As(err, &connErr) {
		return nil, nil, 0, err
	}

	// One automatic retry with a fresh credential; the failed open may
	// have consumed the first one.
	logger.Warn("transport open failed, retrying once", "reason", string(connErr.Reason))
	span := trace.SpanFromContext(ctx)
	span.AddEvent("retrying transport open", trace.WithAttributes(attribute.String("open.failure_reason", string(connErr.Reason))))
	credential, err = s.provider.Acquire(ctx, s.descriptor)
	if err != nil {
		return nil, nil, 0, err
	}
	gen = s.generation.Add(1)
	channel, err = s.dialer.Open(ctx, *credential, s.transportCallbacks(gen))
	if err != nil {
		return nil, nil, 0, err
	}
	return credential, channel, gen, nil
}

func classifyFailure(err error) string {
	var fetchErr *credentials.FetchError
	if errors.As(err, &fetchErr) {
		return "credential_fetch_failed"
	}
	var connErr *transport.ConnectionError
	if errors.As(err, &connErr) {
		return string(connErr.Reason)
	}
	return "connect_failed"
}

// installChannel runs on the event loop once a transport open succeeded.
// splicedFrom is non-nil during a credential-refresh splice.
func (s *Session) installChannel(credential *credentials.Credential, channel Channel, gen int64, splicedFrom Channel) {
	if !s.apply(TriggerChannelOpened, spliceMetadata(splicedFrom != nil)) {
		channel.Close()
		return
	}

	s.activeGen = gen
	s.credential = credential
	s.sessionID = ""
	s.setChannel(channel)

	if splicedFrom != nil {
		s.emit(events.NewCredentialRefreshed(credential.ContextFingerprint))
	}

	s.readinessTimer = s.clock.AfterFunc(s.readinessTimeout, func() {
		s.post(func() { s.confirmReady(gen, events.ConfirmedViaTimeout) })
	})
	s.refreshTimer = s.provider.ScheduleRefresh(*credential, func() {
		s.post(func() { s.refreshNeeded(gen) })
	})

	s.audioInput.Start(context.Background())
}

func spliceMetadata(spliced bool) map[string]string {
	if !spliced {
		return nil
	}
	return map[string]string{"splice": "true"}
}

func (s *Session) setChannel(channel Channel) {
	s.channelMu.Lock()
	s.channel = channel
	s.channelMu.Unlock()
}

func (s *Session) currentChannel() Channel {
	s.channelMu.Lock()
	defer s.channelMu.Unlock()
	return s.channel
}

// confirmReady applies the readiness transition. Readiness has two
// confirmation paths with different guarantees, so the path taken is kept
// in the transition metadata and on the emitted event.
func (s *Session) confirmReady(gen int64, via events.ReadinessConfirmation) {
	if gen != s.activeGen || s.state != StateAwaitingSessionReady {
		return
	}

	s.stopTimer(&s.readinessTimer)
	metadata := map[string]string{"confirmedVia": string(via)}
	if !s.apply(TriggerSessionReady, metadata) {
		return
	}
	if via == events.ConfirmedViaTimeout {
		readinessByTimeout.Add(context.Background(), 1)
		logger.Warn("session readiness confirmed by timeout, not by lifecycle event",
			"sessionID", s.sessionID)
	}
	s.emit(events.NewSessionReady(s.sessionID, via))
}

// StartRecording begins streaming the caller's audio to the remote peer.
func (s *Session) StartRecording() error {
	applied, err := s.applySync(TriggerRecordingStarted, nil)
	if err != nil {
		return err
	}
	if !applied {
		return ErrNotRecordable
	}
	s.recording.Store(true)
	s.audioInput.StartCapture(context.Background())
	return nil
}

// StopRecording commits the buffered audio and waits for the transcript. A
// transcript window is armed; if it lapses the session returns to ready
// rather than erroring, so the caller may simply retry.
func (s *Session) StopRecording() error {
	result := make(chan error, 1)
	posted := s.post(func() {
		if !s.apply(TriggerRecordingStopped, nil) {
			result <- ErrNotRecordable
			return
		}
		result <- s.commitAudio()
	})
	if !posted {
		return ErrClosed
	}
	return <-result
}

func (s *Session) commitAudio() error {
	frame, err := protocol.EncodeAudioCommit()
	if err != nil {
		return err
	}
	channel := s.currentChannel()
	if channel == nil {
		return errors.New("no open channel to commit audio on")
	}
	if err := channel.SendFrame(frame); err != nil {
		return err
	}

	gen := s.activeGen
	s.transcriptTimer = s.clock.AfterFunc(s.transcriptTimeout, func() {
		s.post(func() { s.transcriptWindowLapsed(gen) })
	})
	return nil
}

func (s *Session) transcriptWindowLapsed(gen int64) {
	if gen != s.activeGen || s.state != StateAwaitingTranscript {
		return
	}
	s.transcriptTimer = nil
	logger.Warn("no terminal transcript within the window", "sessionID", s.sessionID)
	s.emit(events.NewTranscriptTimedOut())
	s.apply(TriggerTranscriptTimeout, map[string]string{"cause": "timeout"})
}

// refreshNeeded starts a credential-refresh splice: the session keeps its
// transcript buffers, aborts any in-flight recording with an explicit
// event, and swaps the transport underneath itself.
func (s *Session) refreshNeeded(gen int64) {
	if gen != s.activeGen {
		return
	}
	if !s.openFlight.CompareAndSwap(false, true) {
		return
	}

	wasRecording := s.state == StateRecording
	if !s.apply(TriggerRefreshNeeded, nil) {
		s.openFlight.Store(false)
		return
	}

	if wasRecording {
		s.emit(events.NewSessionRecordingAborted(s.lastPendingItemID()))
	}
	s.cancelTimers()

	old := s.currentChannel()
	s.setChannel(nil)

	go func() {
		defer s.openFlight.Store(false)

		ctx, span := tracer.Start(context.Background(), "session.splice")
		defer span.End()

		if old != nil {
			if err := old.Close(); err != nil {
				logger.Warn("failed to close spliced-out channel", "error", err)
			}
		}

		credential, channel, newGen, err := s.acquireAndOpen(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "splice failed")
			s.post(func() { s.fatal(classifyFailure(err), err) })
			return
		}
		if !s.post(func() { s.installChannel(credential, channel, newGen, old) }) {
			if err := channel.Close(); err != nil {
				logger.Warn("failed to close channel opened during teardown", "error", err)
			}
		}
	}()
}

func (s *Session) lastPendingItemID() string {
	pending := s.transcripts.Pending()
	if len(pending) == 0 {
		return ""
	}
	return pending[len(pending)-1].ItemID
}

// fatal moves the session to its terminal error state.
func (s *Session) fatal(reason string, err error) {
	if !s.apply(TriggerFatalError, map[string]string{"reason": reason}) {
		return
	}
	s.cancelTimers()
	s.recording.Store(false)
	if channel := s.currentChannel(); channel != nil {
		channel.Close()
		s.setChannel(nil)
	}
	logger.Error("session entered error state", "reason", reason, "error", err)
	s.emit(events.NewSessionErrored(reason, err))
}

// Reset returns an errored session to disconnected so it can connect again.
func (s *Session) Reset() error {
	applied, err := s.applySync(TriggerReset, nil)
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("reset is only valid from %s", StateError)
	}
	return nil
}

// Teardown closes the session from any state. All timers are cancelled,
// the transport is closed and the event loop exits; none of the session's
// timers can fire afterwards. Idempotent.
func (s *Session) Teardown() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.post(func() {
		s.apply(TriggerTeardown, nil)
		s.cancelTimers()
		s.recording.Store(false)
		if channel := s.currentChannel(); channel != nil {
			if err := channel.Close(); err != nil {
				logger.Warn("failed to close channel on teardown", "error", err)
			}
			s.setChannel(nil)
		}
		if err := s.audioInput.Close(); err != nil {
			logger.Warn("failed to close audio input on teardown", "error", err)
		}
		s.stopping = true
	})
	<-s.loopDone
}

func (s *Session) cancelTimers() {
	s.stopTimer(&s.readinessTimer)
	s.stopTimer(&s.transcriptTimer)
	s.stopTimer(&s.refreshTimer)
}

func (s *Session) stopTimer(timer *clock.Timer) {
	if *timer == nil {
		return
	}
	(*timer).Stop()
	*timer = nil
}

// transportCallbacks binds one channel generation's frames and link state
// into the event loop. Handlers from superseded generations drop on the
// floor instead of touching current state.
func (s *Session) transportCallbacks(gen int64) transport.Callbacks {
	dispatcher := s.newDispatcher(gen)
	s.activeDispatcher.Store(dispatcher)
	return transport.Callbacks{
		OnFrame: dispatcher.HandleFrame,
		OnStateChange: func(state transport.LinkState) {
			s.post(func() { s.linkStateChanged(gen, state) })
		},
	}
}

func (s *Session) linkStateChanged(gen int64, state transport.LinkState) {
	if gen != s.activeGen {
		return
	}
	switch state {
	case transport.LinkFailed:
		s.fatal(string(transport.ReasonTransportFailed), errors.New("underlying link failed"))
	case transport.LinkDegraded:
		logger.Warn("transport link degraded", "sessionID", s.sessionID)
	case transport.LinkClosed:
		// Expected during teardown and splices; nothing to do.
	}
}

func (s *Session) newDispatcher(gen int64) *protocol.Dispatcher {
	return protocol.NewDispatcher(protocol.Handlers{
		SessionCreated: func(frame protocol.SessionCreatedFrame) {
			s.post(func() {
				if gen != s.activeGen {
					return
				}
				s.sessionID = frame.Session.ID
				s.confirmReady(gen, events.ConfirmedViaEvent)
			})
		},
		SessionUpdated: func(frame protocol.SessionUpdatedFrame) {
			s.post(func() {
				logger.Debug("remote session updated", "sessionID", frame.Session.ID)
			})
		},
		RemoteError: func(frame protocol.ErrorFrame) {
			s.post(func() {
				if gen != s.activeGen {
					return
				}
				err := fmt.Errorf("%s (%s): %s", frame.Error.Type, frame.Error.Code, frame.Error.Message)
				s.fatal("remote_error", err)
			})
		},
		ItemCreated: func(frame protocol.ItemCreatedFrame) {
			s.post(func() { s.transcripts.ItemCreated(frame.Item.ID, frame.Item.Role) })
		},
		TranscriptionDelta: func(frame protocol.TranscriptionDeltaFrame) {
			s.post(func() { s.transcripts.Delta(frame.ItemID, frame.Delta) })
		},
		TranscriptionCompleted: func(frame protocol.TranscriptionCompletedFrame) {
			s.post(func() { s.transcripts.Completed(frame.ItemID, frame.Transcript) })
		},
		FunctionArgsDelta: func(frame protocol.FunctionArgsDeltaFrame) {
			s.post(func() { s.invocations.ArgsDelta(frame.CallID, frame.Name, frame.Delta) })
		},
		FunctionArgsDone: func(frame protocol.FunctionArgsDoneFrame) {
			s.post(func() {
				// Some upstreams skip deltas and repeat the full argument
				// string on the terminal frame.
				if buffer, ok := s.invocations.Buffer(frame.CallID); !ok || buffer.RawArgs == "" {
					if frame.Arguments != "" {
						s.invocations.ArgsDelta(frame.CallID, frame.Name, frame.Arguments)
					}
				}
				s.invocations.ArgsDone(frame.CallID)
			})
		},
		ProtocolError: func(raw string, err error) {
			s.post(func() { s.emit(events.NewProtocolErrored(raw, err)) })
		},
	})
}

// Assembler callbacks below run on the event loop, because the loop is the
// assemblers' only caller.

func (s *Session) transcriptUpdated(buffer transcripts.Buffer) {
	s.emit(events.NewTranscriptUpdated(buffer.ItemID, buffer.Role, buffer.Text))
}

func (s *Session) transcriptCompleted(buffer transcripts.Buffer) {
	s.emit(events.NewTranscriptFinal(buffer.ItemID, buffer.Role, buffer.Text))
	if s.state == StateAwaitingTranscript {
		s.stopTimer(&s.transcriptTimer)
		s.apply(TriggerTranscriptReceived, map[string]string{"itemId": buffer.ItemID})
	}
}

// invocationCompleted forwards a complete invocation to the translator. It
// is orthogonal to the recording cycle, so no state transition happens; it
// is only suppressed in terminal states.
func (s *Session) invocationCompleted(invocation invocations.Invocation) {
	s.emit(events.NewFunctionCallCompleted(invocation.CallID, invocation.Name, invocation.Args))

	if s.state == StateError || s.state == StateDisconnected {
		return
	}
	intent := s.translator.Translate(invocation)
	if intent == nil {
		logger.Debug("ignoring unsupported function call", "name", invocation.Name)
		return
	}
	s.emit(events.NewOrderIntentIssued(*intent))
}

func (s *Session) invocationParseFailed(parseErr *invocations.ParseError) {
	s.emit(events.NewFunctionCallParseFailed(parseErr.CallID, parseErr.Name, parseErr.RawArgs, parseErr.Err))
}

// forwardAudio pushes captured frames onto the channel's media lane. It
// runs on the capture goroutine and is gated on the recording state.
func (s *Session) forwardAudio(frame []byte) {
	if !s.recording.Load() {
		return
	}
	channel := s.currentChannel()
	if channel == nil {
		return
	}
	if err := channel.SendAudio(frame); err != nil {
		logger.Warn("failed to forward audio frame", "error", err)
	}
}

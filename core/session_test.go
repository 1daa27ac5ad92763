package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tablevox/ordervoice-core/core/clock"
	"github.com/tablevox/ordervoice-core/core/credentials"
	"github.com/tablevox/ordervoice-core/core/events"
	"github.com/tablevox/ordervoice-core/core/orders"
	"github.com/tablevox/ordervoice-core/core/transport"
)

const testCredentialLifetime = 60 * time.Second

type fakeCredentialSource struct {
	mu       sync.Mutex
	clock    *clock.Fake
	lead     time.Duration
	minted   int
	failures int
}

func (f *fakeCredentialSource) Acquire(_ context.Context, _ credentials.ContextDescriptor) (*credentials.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, &credentials.FetchError{StatusCode: 503, Err: errors.New("issuer unavailable")}
	}
	f.minted++
	return &credentials.Credential{
		Secret:             fmt.Sprintf("secret-%d", f.minted),
		ExpiresAt:          f.clock.Now().Add(testCredentialLifetime),
		ContextFingerprint: fmt.Sprintf("fingerprint-%d", f.minted),
	}, nil
}

func (f *fakeCredentialSource) ScheduleRefresh(credential credentials.Credential, onNeedRefresh func()) clock.Timer {
	delay := credential.ExpiresAt.Sub(f.clock.Now()) - f.lead
	if delay < 0 {
		delay = 0
	}
	return f.clock.AfterFunc(delay, onNeedRefresh)
}

func (f *fakeCredentialSource) mintCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.minted
}

type fakeChannel struct {
	mu        sync.Mutex
	secret    string
	callbacks transport.Callbacks
	frames    [][]byte
	audio     [][]byte
	closed    bool
}

func (c *fakeChannel) SendFrame(raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, raw)
	return nil
}

func (c *fakeChannel) SendAudio(audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio = append(c.audio, audio)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) deliver(raw string) {
	c.callbacks.OnFrame(raw)
}

func (c *fakeChannel) sentFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte{}, c.frames...)
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeDialer struct {
	mu       sync.Mutex
	channels []*fakeChannel
	failures int

	// opening reports each entered Open; gate holds Open until closed.
	opening chan struct{}
	gate    chan struct{}
}

func (d *fakeDialer) Open(_ context.Context, credential credentials.Credential, callbacks transport.Callbacks) (Channel, error) {
	d.mu.Lock()
	opening, gate := d.opening, d.gate
	d.mu.Unlock()
	if opening != nil {
		opening <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures > 0 {
		d.failures--
		return nil, &transport.ConnectionError{Reason: transport.ReasonDataChannelTimeout, Err: errors.New("no answer")}
	}
	channel := &fakeChannel{secret: credential.Secret, callbacks: callbacks}
	d.channels = append(d.channels, channel)
	return channel, nil
}

func (d *fakeDialer) channel(i int) *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.channels) {
		return nil
	}
	return d.channels[i]
}

func (d *fakeDialer) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.channels)
}

// eventSink records emitted events for assertions across goroutines.
type eventSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *eventSink) record(event events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *eventSink) ofKind(kind events.Kind) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []events.Event
	for _, event := range s.events {
		if event.Kind() == kind {
			matched = append(matched, event)
		}
	}
	return matched
}

func testMenu() []orders.MenuItem {
	return []orders.MenuItem{
		{ID: "greek-salad", Name: "Greek Salad", Aliases: []string{"greek salad", "the greek"}},
		{ID: "fries", Name: "French Fries", Aliases: []string{"fries", "french fries"}},
	}
}

type harness struct {
	session  *Session
	clock    *clock.Fake
	provider *fakeCredentialSource
	dialer   *fakeDialer
	sink     *eventSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fakeClock := clock.NewFake()
	provider := &fakeCredentialSource{clock: fakeClock, lead: 10 * time.Second}
	dialer := &fakeDialer{}
	h := &harness{
		clock:    fakeClock,
		provider: provider,
		dialer:   dialer,
		sink:     &eventSink{},
	}
	h.session = New("resto-1", testMenu(),
		WithClock(fakeClock),
		WithCredentialProvider(provider),
		WithTransportDialer(dialer),
	)
	t.Cleanup(h.session.Teardown)
	return h
}

func (h *harness) connect(t *testing.T, opts ...ConnectOption) {
	t.Helper()
	opts = append(opts, OnEvent(h.sink.record))
	if err := h.session.Connect(t.Context(), opts...); err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}
}

// connectReady connects and drives the session to ready via the lifecycle
// event.
func (h *harness) connectReady(t *testing.T, opts ...ConnectOption) {
	t.Helper()
	h.connect(t, opts...)
	h.dialer.channel(0).deliver(`{"type":"session.created","session":{"id":"sess-1"}}`)
	h.waitState(t, StateIdleReady)
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.session.CurrentState() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected state %s, still in %s", want, h.session.CurrentState())
}

func (h *harness) waitEvents(t *testing.T, kind events.Kind, count int) []events.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if matched := h.sink.ofKind(kind); len(matched) >= count {
			return matched
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected %d %s events, got %d", count, kind, len(h.sink.ofKind(kind)))
	return nil
}

func TestConnectReachesReadyViaLifecycleEvent(t *testing.T) {
	h := newHarness(t)

	var readyID string
	var readyVia events.ReadinessConfirmation
	var readyMu sync.Mutex
	h.connect(t, OnReady(func(sessionID string, via events.ReadinessConfirmation) {
		readyMu.Lock()
		defer readyMu.Unlock()
		readyID = sessionID
		readyVia = via
	}))

	h.waitState(t, StateAwaitingSessionReady)
	h.dialer.channel(0).deliver(`{"type":"session.created","session":{"id":"sess-1"}}`)
	h.waitState(t, StateIdleReady)

	readyMu.Lock()
	defer readyMu.Unlock()
	if readyID != "sess-1" {
		t.Fatalf("expected session id sess-1, got %q", readyID)
	}
	if readyVia != events.ConfirmedViaEvent {
		t.Fatalf("expected readiness confirmed via event, got %q", readyVia)
	}
}

func TestConnectReachesReadyViaTimeout(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.waitState(t, StateAwaitingSessionReady)

	h.clock.Advance(defaultReadinessTimeout)
	h.waitState(t, StateIdleReady)

	ready := h.waitEvents(t, events.KindSessionReady, 1)
	if via := ready[0].(events.SessionReady).ConfirmedVia; via != events.ConfirmedViaTimeout {
		t.Fatalf("expected readiness confirmed via timeout, got %q", via)
	}

	var found bool
	for _, record := range h.session.History() {
		if record.Event == TriggerSessionReady && record.Metadata["confirmedVia"] == "timeout" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected confirmedVia=timeout in transition metadata")
	}
}

func TestConnectRetriesOnceWithFreshCredential(t *testing.T) {
	h := newHarness(t)
	h.dialer.failures = 1

	h.connect(t)
	h.waitState(t, StateAwaitingSessionReady)

	if got := h.provider.mintCount(); got != 2 {
		t.Fatalf("expected a fresh credential for the retry, got %d mints", got)
	}
	if h.dialer.channel(0).secret != "secret-2" {
		t.Fatalf("expected retry to use the fresh credential, got %q", h.dialer.channel(0).secret)
	}
}

func TestConnectFailsToErrorStateOnCredentialExhaustion(t *testing.T) {
	h := newHarness(t)
	h.provider.failures = 10

	var sessionErr error
	var errMu sync.Mutex
	err := h.session.Connect(t.Context(),
		OnEvent(h.sink.record),
		OnSessionError(func(_ string, err error) {
			errMu.Lock()
			defer errMu.Unlock()
			sessionErr = err
		}),
	)
	if err == nil {
		t.Fatalf("expected connect to fail")
	}
	var fetchErr *credentials.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected a credential fetch error, got %v", err)
	}

	h.waitState(t, StateError)
	errMu.Lock()
	defer errMu.Unlock()
	if sessionErr == nil {
		t.Fatalf("expected the error callback to fire")
	}

	if err := h.session.Reset(); err != nil {
		t.Fatalf("expected reset from error state to succeed, got %v", err)
	}
	h.waitState(t, StateDisconnected)
}

func TestConnectFromReadyIsRejected(t *testing.T) {
	h := newHarness(t)
	h.connectReady(t)

	if err := h.session.Connect(t.Context()); !errors.Is(err, ErrNotConnectable) {
		t.Fatalf("expected ErrNotConnectable on connect from ready, got %v", err)
	}
}

func TestRecordingCycleCommitsAndFinalizes(t *testing.T) {
	h := newHarness(t)

	var finals []string
	var finalsMu sync.Mutex
	h.connectReady(t, OnTranscription(func(_, text string) {
		finalsMu.Lock()
		defer finalsMu.Unlock()
		finals = append(finals, text)
	}))

	if err := h.session.StartRecording(); err != nil {
		t.Fatalf("expected recording to start, got %v", err)
	}
	h.waitState(t, StateRecording)
	if err := h.session.StopRecording(); err != nil {
		t.Fatalf("expected recording to stop, got %v", err)
	}
	h.waitState(t, StateAwaitingTranscript)

	channel := h.dialer.channel(0)
	if frames := channel.sentFrames(); len(frames) != 1 {
		t.Fatalf("expected one commit frame, got %d", len(frames))
	}

	channel.deliver(`{"type":"conversation.item.created","item":{"id":"item-1","role":"user"}}`)
	channel.deliver(`{"type":"conversation.item.input_audio_transcription.delta","item_id":"item-1","delta":"I'd like a salad"}`)
	channel.deliver(`{"type":"conversation.item.input_audio_transcription.completed","item_id":"item-1","transcript":"I'd like a salad"}`)
	h.waitState(t, StateIdleReady)

	finalsMu.Lock()
	defer finalsMu.Unlock()
	if len(finals) != 1 || finals[0] != "I'd like a salad" {
		t.Fatalf("expected one final transcript, got %v", finals)
	}
	if h.clock.Pending() != 1 { // only the refresh timer stays armed
		t.Fatalf("expected the transcript timer to be cancelled, %d timers pending", h.clock.Pending())
	}
}

func TestTranscriptWindowLapseReturnsToReady(t *testing.T) {
	h := newHarness(t)
	h.connectReady(t)

	if err := h.session.StartRecording(); err != nil {
		t.Fatalf("expected recording to start, got %v", err)
	}
	if err := h.session.StopRecording(); err != nil {
		t.Fatalf("expected recording to stop, got %v", err)
	}
	h.waitState(t, StateAwaitingTranscript)

	h.clock.Advance(defaultTranscriptTimeout)
	h.waitState(t, StateIdleReady)
	h.waitEvents(t, events.KindTranscriptTimedOut, 1)
}

func TestTeardownCancelsEveryTimer(t *testing.T) {
	h := newHarness(t)
	h.connectReady(t)

	if err := h.session.StartRecording(); err != nil {
		t.Fatalf("expected recording to start, got %v", err)
	}
	if err := h.session.StopRecording(); err != nil {
		t.Fatalf("expected recording to stop, got %v", err)
	}
	h.waitState(t, StateAwaitingTranscript)

	h.session.Teardown()
	if pending := h.clock.Pending(); pending != 0 {
		t.Fatalf("expected no timers after teardown, %d still pending", pending)
	}
	if !h.dialer.channel(0).isClosed() {
		t.Fatalf("expected the channel to be closed on teardown")
	}

	// A lapsed window after teardown must be inert.
	h.clock.Advance(time.Hour)
	if got := h.session.CurrentState(); got != StateDisconnected {
		t.Fatalf("expected %s after teardown, got %s", StateDisconnected, got)
	}
}

func TestTeardownDuringOpenClosesTheLateChannel(t *testing.T) {
	h := newHarness(t)
	h.dialer.opening = make(chan struct{}, 1)
	h.dialer.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.session.Connect(context.Background()) }()

	// Tear down while the dialer is still opening, then let the open
	// finish so it hands back a channel nobody is left to install.
	<-h.dialer.opening
	h.session.Teardown()
	close(h.dialer.gate)

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected %v from connect after teardown, got %v", ErrClosed, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected connect to return after the open completed")
	}

	channel := h.dialer.channel(0)
	if channel == nil {
		t.Fatalf("expected the gated open to produce a channel")
	}
	if !channel.isClosed() {
		t.Fatalf("expected the late channel to be closed, not leaked")
	}
	if got := h.session.CurrentState(); got != StateDisconnected {
		t.Fatalf("expected %s after teardown, got %s", StateDisconnected, got)
	}
}

// waitQueued polls until at least want commands sit in the loop's queue.
func waitQueued(t *testing.T, s *Session, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.commandMu.Lock()
		queued := len(s.commands)
		s.commandMu.Unlock()
		if queued >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected %d queued commands", want)
}

func TestStopQueuedBehindTeardownIsReleased(t *testing.T) {
	h := newHarness(t)
	h.connectReady(t)
	if err := h.session.StartRecording(); err != nil {
		t.Fatalf("expected recording to start, got %v", err)
	}

	// Hold the loop on a gate so the next commands pile up behind it.
	entered := make(chan struct{})
	gate := make(chan struct{})
	if !h.session.post(func() { close(entered); <-gate }) {
		t.Fatalf("expected the gate command to be accepted")
	}
	<-entered

	tornDown := make(chan struct{})
	go func() {
		h.session.Teardown()
		close(tornDown)
	}()
	waitQueued(t, h.session, 1)

	stopped := make(chan error, 1)
	go func() { stopped <- h.session.StopRecording() }()
	waitQueued(t, h.session, 2)

	close(gate)

	select {
	case err := <-stopped:
		if !errors.Is(err, ErrNotRecordable) {
			t.Fatalf("expected %v for a stop queued behind teardown, got %v", ErrNotRecordable, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected the queued stop to be released, not stranded")
	}
	select {
	case <-tornDown:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected teardown to complete")
	}
}

func TestRefreshSpliceKeepsPendingTranscripts(t *testing.T) {
	h := newHarness(t)
	h.connectReady(t)

	first := h.dialer.channel(0)
	first.deliver(`{"type":"conversation.item.created","item":{"id":"item-1","role":"user"}}`)
	first.deliver(`{"type":"conversation.item.input_audio_transcription.delta","item_id":"item-1","delta":"I'd like"}`)
	h.waitEvents(t, events.KindTranscriptUpdated, 1)

	h.clock.Advance(testCredentialLifetime - h.provider.lead)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && h.dialer.openCount() < 2 {
		time.Sleep(time.Millisecond)
	}
	second := h.dialer.channel(1)
	if second == nil {
		t.Fatalf("expected a second channel after the splice")
	}
	if second.secret == first.secret {
		t.Fatalf("expected the splice to use a fresh credential")
	}
	if !first.isClosed() {
		t.Fatalf("expected the spliced-out channel to be closed")
	}

	second.deliver(`{"type":"session.created","session":{"id":"sess-2"}}`)
	h.waitState(t, StateIdleReady)

	pending := h.session.PendingTranscripts()
	if len(pending) != 1 || pending[0].Text != "I'd like" {
		t.Fatalf("expected the non-final buffer to survive the splice, got %v", pending)
	}
	h.waitEvents(t, events.KindCredentialRefreshed, 1)

	// The old channel's late frames must not touch the new session.
	first.deliver(`{"type":"error","error":{"type":"server_error","code":"500","message":"stale"}}`)
	time.Sleep(10 * time.Millisecond)
	if got := h.session.CurrentState(); got != StateIdleReady {
		t.Fatalf("expected stale channel frames to be ignored, state went to %s", got)
	}
}

func TestRefreshDuringRecordingAbortsExplicitly(t *testing.T) {
	h := newHarness(t)
	h.connectReady(t)

	if err := h.session.StartRecording(); err != nil {
		t.Fatalf("expected recording to start, got %v", err)
	}
	h.waitState(t, StateRecording)

	h.clock.Advance(testCredentialLifetime - h.provider.lead)
	h.waitEvents(t, events.KindSessionRecordingAborted, 1)
	h.waitState(t, StateAwaitingSessionReady)
}

func TestRemoteErrorFrameIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.connectReady(t)

	h.dialer.channel(0).deliver(`{"type":"error","error":{"type":"server_error","code":"500","message":"boom"}}`)
	h.waitState(t, StateError)

	errored := h.waitEvents(t, events.KindSessionErrored, 1)
	if reason := errored[0].(events.SessionErrored).Reason; reason != "remote_error" {
		t.Fatalf("expected remote_error reason, got %q", reason)
	}
}

func TestMalformedFrameDoesNotDisturbSession(t *testing.T) {
	h := newHarness(t)
	h.connectReady(t)

	h.dialer.channel(0).deliver(`{"type":`)
	h.waitEvents(t, events.KindProtocolErrored, 1)
	if got := h.session.CurrentState(); got != StateIdleReady {
		t.Fatalf("expected session to stay ready, got %s", got)
	}
}

func TestInvalidTriggerIsRecordedNotApplied(t *testing.T) {
	h := newHarness(t)

	if err := h.session.StartRecording(); !errors.Is(err, ErrNotRecordable) {
		t.Fatalf("expected ErrNotRecordable, got %v", err)
	}

	var found bool
	for _, record := range h.session.History() {
		if record.Invalid && record.Event == TriggerRecordingStarted {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an invalid transition record")
	}
	if got := h.session.CurrentState(); got != StateDisconnected {
		t.Fatalf("expected state to be unchanged, got %s", got)
	}
}

func TestFunctionCallBecomesOrderIntent(t *testing.T) {
	h := newHarness(t)

	var intents []orders.Intent
	var intentsMu sync.Mutex
	h.connectReady(t, OnOrderIntent(func(intent orders.Intent) {
		intentsMu.Lock()
		defer intentsMu.Unlock()
		intents = append(intents, intent)
	}))

	channel := h.dialer.channel(0)
	channel.deliver(`{"type":"response.function_call_arguments.delta","call_id":"c1","name":"add_item_to_order","delta":"{\"item\":\"Greek"}`)
	channel.deliver(`{"type":"response.function_call_arguments.delta","call_id":"c1","delta":" Salad\",\"quantity\":2}"}`)
	channel.deliver(`{"type":"response.function_call_arguments.done","call_id":"c1"}`)

	h.waitEvents(t, events.KindOrderIntentIssued, 1)
	intentsMu.Lock()
	defer intentsMu.Unlock()
	if len(intents) != 1 {
		t.Fatalf("expected one order intent, got %d", len(intents))
	}
	if intents[0].Kind != orders.IntentAddItem || intents[0].ItemRef != "greek-salad" || intents[0].Quantity != 2 {
		t.Fatalf("unexpected intent %+v", intents[0])
	}

	// A duplicate terminal frame must not re-emit.
	channel.deliver(`{"type":"response.function_call_arguments.done","call_id":"c1"}`)
	time.Sleep(10 * time.Millisecond)
	if got := len(h.sink.ofKind(events.KindOrderIntentIssued)); got != 1 {
		t.Fatalf("expected the duplicate done to emit nothing, got %d intents", got)
	}
}

func TestFunctionCallDoneCarryingFullArguments(t *testing.T) {
	h := newHarness(t)
	h.connectReady(t)

	h.dialer.channel(0).deliver(`{"type":"response.function_call_arguments.done","call_id":"c2","name":"confirm_order","arguments":"{}"}`)

	issued := h.waitEvents(t, events.KindOrderIntentIssued, 1)
	intent := issued[0].(events.OrderIntentIssued).Intent.(orders.Intent)
	if intent.Kind != orders.IntentConfirmOrder {
		t.Fatalf("expected a confirm intent, got %+v", intent)
	}
}

// Package transport establishes and tears down the realtime channel: an
// offer/answer exchange with the remote endpoint followed by the control
// data channel the protocol events travel over.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tablevox/ordervoice-core/core/credentials"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultSignalingURL = "https://api.tablevox.dev/v1/realtime/sessions"
	defaultOpenTimeout  = 15 * time.Second
)

// LinkState is an asynchronous transport-level state change. These surface
// as callbacks rather than errors because they can occur at any time after
// a successful open.
type LinkState string

const (
	LinkDegraded LinkState = "degraded"
	LinkFailed   LinkState = "failed"
	LinkClosed   LinkState = "closed"
)

// Callbacks wire the control channel to its consumer. OnFrame is mandatory
// and is attached before the channel can deliver anything; opening without
// a frame handler lost the first frames of a session in earlier systems,
// with no visible error.
type Callbacks struct {
	OnFrame       func(raw string)
	OnStateChange func(state LinkState)
}

// DialerOption configures a Dialer.
type DialerOption func(*Dialer)

// WithSignalingURL overrides the offer/answer exchange endpoint.
func WithSignalingURL(url string) DialerOption {
	return func(d *Dialer) { d.signalingURL = url }
}

// WithOpenTimeout overrides the wall-clock bound on the full open sequence.
func WithOpenTimeout(timeout time.Duration) DialerOption {
	return func(d *Dialer) { d.openTimeout = timeout }
}

// WithHTTPClient overrides the HTTP client used for the offer exchange.
func WithHTTPClient(client *http.Client) DialerOption {
	return func(d *Dialer) { d.client = client }
}

// WithWebsocketDialer overrides the control-channel dialer.
func WithWebsocketDialer(dialer *websocket.Dialer) DialerOption {
	return func(d *Dialer) { d.wsDialer = dialer }
}

// Dialer opens realtime channels. It enforces that one credential opens at
// most one channel, ever; credentials are consumed by the open.
type Dialer struct {
	signalingURL string
	openTimeout  time.Duration
	client       *http.Client
	wsDialer     *websocket.Dialer

	mu          sync.Mutex
	usedSecrets map[string]bool
}

// NewDialer creates a channel dialer.
func NewDialer(opts ...DialerOption) *Dialer {
	d := &Dialer{
		signalingURL: defaultSignalingURL,
		openTimeout:  defaultOpenTimeout,
		wsDialer:     websocket.DefaultDialer,
		usedSecrets:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.client == nil {
		d.client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return d
}

// Open runs the full open sequence: build the local offer, exchange it with
// the remote endpoint under the credential, then dial the control channel
// the answer names. The whole sequence is bounded by the open timeout;
// exceeding it fails with ReasonDataChannelTimeout.
func (d *Dialer) Open(ctx context.Context, credential credentials.Credential, callbacks Callbacks) (*Channel, error) {
	if callbacks.OnFrame == nil {
		return nil, &ConnectionError{Reason: ReasonTransportFailed,
			Err: fmt.Errorf("frame handler must be attached before the channel opens")}
	}

	if err := d.consumeSecret(credential.Secret); err != nil {
		return nil, &ConnectionError{Reason: ReasonTransportFailed, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, d.openTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "open realtime channel")
	defer span.End()

	answer, err := d.exchangeOffer(ctx, credential)
	if err != nil {
		connErr := classifyOpenError(ReasonSDPExchangeFailed, err)
		span.RecordError(connErr)
		span.SetStatus(codes.Error, connErr.Error())
		return nil, connErr
	}
	span.SetAttributes(attribute.String("response.channel_url", answer.ChannelURL))

	header := http.Header{"Authorization": {"Bearer " + credential.Secret}}
	conn, _, err := d.wsDialer.DialContext(ctx, answer.ChannelURL, header)
	if err != nil {
		connErr := classifyOpenError(ReasonTransportFailed, err)
		span.RecordError(connErr)
		span.SetStatus(codes.Error, connErr.Error())
		return nil, connErr
	}

	channel := &Channel{
		conn:      conn,
		callbacks: callbacks,
		done:      make(chan struct{}),
	}
	// The read pump starts with the frame handler already bound, so frames
	// arriving immediately after the handshake cannot be dropped.
	go channel.readAndDispatchFrames()

	return channel, nil
}

func (d *Dialer) consumeSecret(secret string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.usedSecrets[secret] {
		return fmt.Errorf("credential already consumed by a previous channel open")
	}
	d.usedSecrets[secret] = true
	return nil
}

type answer struct {
	ChannelURL string `json:"channel_url"`
	RemoteSDP  string `json:"sdp"`
}

func (d *Dialer) exchangeOffer(ctx context.Context, credential credentials.Credential) (*answer, error) {
	offer := struct {
		OfferID string `json:"offer_id"`
		SDP     string `json:"sdp"`
	}{
		OfferID: uuid.NewString(),
		SDP:     buildLocalOffer(),
	}
	requestBody, err := json.Marshal(offer)
	if err != nil {
		return nil, fmt.Errorf("error marshalling offer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", d.signalingURL, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("error creating offer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential.Secret)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("offer exchange failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		errorBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("offer rejected with status %s: %s", resp.Status, bytes.TrimSpace(errorBody))
	}

	var remoteAnswer answer
	if err := json.NewDecoder(resp.Body).Decode(&remoteAnswer); err != nil {
		return nil, fmt.Errorf("error decoding answer: %w", err)
	}
	if remoteAnswer.ChannelURL == "" {
		return nil, fmt.Errorf("answer missing control channel url")
	}
	// The signaling endpoint may return http(s) URLs for the channel.
	if strings.HasPrefix(remoteAnswer.ChannelURL, "http") {
		remoteAnswer.ChannelURL = "ws" + strings.TrimPrefix(remoteAnswer.ChannelURL, "http")
	}
	return &remoteAnswer, nil
}

func buildLocalOffer() string {
	// Media negotiation is owned by the remote endpoint; the offer only has
	// to identify the session and declare the audio lane.
	return "v=0 m=audio 1 control 1"
}

func classifyOpenError(phase Reason, err error) *ConnectionError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ConnectionError{Reason: ReasonDataChannelTimeout, Err: err}
	}
	return &ConnectionError{Reason: phase, Err: err}
}

// Channel is one open control+media channel.
type Channel struct {
	conn      *websocket.Conn
	callbacks Callbacks

	connMu    sync.Mutex
	closeOnce sync.Once
	closing   atomic.Bool
	done      chan struct{}
}

// SendFrame writes one serialized control frame.
func (c *Channel) SendFrame(raw []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("failed to write control frame: %w", err)
	}
	return nil
}

// SendAudio writes one binary audio frame on the media lane.
func (c *Channel) SendAudio(audio []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write audio frame: %w", err)
	}
	return nil
}

// Close tears the channel down. Idempotent and safe from any state.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.connMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		c.connMu.Unlock()
		c.conn.Close()
	})
	<-c.done
	return nil
}

// Done is closed once the read pump has exited.
func (c *Channel) Done() <-chan struct{} { return c.done }

func (c *Channel) readAndDispatchFrames() {
	defer close(c.done)

	for {
		msgType, msg, err := c.conn.ReadMessage()
		if err != nil {
			if c.closing.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.notifyState(LinkClosed)
				return
			}
			logger.Warn("control channel read failed", "error", err)
			c.notifyState(LinkFailed)
			return
		}
		if msgType == websocket.TextMessage {
			c.callbacks.OnFrame(string(msg))
		}
	}
}

func (c *Channel) notifyState(state LinkState) {
	if c.callbacks.OnStateChange != nil {
		c.callbacks.OnStateChange(state)
	}
}

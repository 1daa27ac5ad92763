package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tablevox/ordervoice-core/core/clock"
	"github.com/tablevox/ordervoice-core/core/orders"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultIssuerURL   = "https://api.tablevox.dev/v1/realtime/credentials"
	defaultRefreshLead = 10 * time.Second
	defaultMaxAttempts = 3
	initialRetryDelay  = 500 * time.Millisecond
)

// ContextDescriptor carries everything the remote peer's behavior depends
// on. It must be complete before minting; nothing can be added afterwards.
type ContextDescriptor struct {
	RestaurantID string            `json:"restaurant_id"`
	Instructions string            `json:"instructions"`
	Menu         []orders.MenuItem `json:"menu"`
	Tools        []ToolDefinition  `json:"tools"`
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithIssuerURL overrides the credential issuer endpoint.
func WithIssuerURL(url string) ProviderOption {
	return func(p *Provider) { p.issuerURL = url }
}

// WithAPIKey overrides the issuer API key read from TABLEVOX_API_KEY.
func WithAPIKey(apiKey string) ProviderOption {
	return func(p *Provider) { p.apiKey = apiKey }
}

// WithHTTPClient overrides the HTTP client used for mint requests.
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(p *Provider) { p.client = client }
}

// WithRefreshLead overrides how long before expiry the refresh timer fires.
// The lead must cover a mint round-trip plus a channel re-open.
func WithRefreshLead(lead time.Duration) ProviderOption {
	return func(p *Provider) { p.refreshLead = lead }
}

// WithMaxAttempts bounds mint retries before the failure is surfaced.
func WithMaxAttempts(attempts int) ProviderOption {
	return func(p *Provider) { p.maxAttempts = attempts }
}

// WithClock overrides the clock used for refresh scheduling.
func WithClock(c clock.Clock) ProviderOption {
	return func(p *Provider) { p.clock = c }
}

// Provider mints and refreshes session credentials against the issuer.
// Mint requests are single-flight: a second Acquire while one is in flight
// awaits the same result instead of issuing a duplicate request.
type Provider struct {
	issuerURL   string
	apiKey      string
	client      *http.Client
	refreshLead time.Duration
	maxAttempts int
	retryDelay  time.Duration
	clock       clock.Clock

	mu       sync.Mutex
	inflight *mintFlight
}

type mintFlight struct {
	done       chan struct{}
	credential *Credential
	err        error
}

// NewProvider creates a credential provider.
func NewProvider(opts ...ProviderOption) *Provider {
	p := &Provider{
		issuerURL:   defaultIssuerURL,
		apiKey:      os.Getenv("TABLEVOX_API_KEY"),
		refreshLead: defaultRefreshLead,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  initialRetryDelay,
		clock:       clock.System(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		p.client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)}
	}
	return p
}

// RefreshLead returns the configured refresh lead time.
func (p *Provider) RefreshLead() time.Duration { return p.refreshLead }

// Acquire mints a credential embedding the full behavioral context. Network
// and issuer failures are retried with doubling delays up to the attempt
// bound, then surfaced as a *FetchError.
func (p *Provider) Acquire(ctx context.Context, descriptor ContextDescriptor) (*Credential, error) {
	p.mu.Lock()
	if flight := p.inflight; flight != nil {
		p.mu.Unlock()
		select {
		case <-flight.done:
			return flight.credential, flight.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	flight := &mintFlight{done: make(chan struct{})}
	p.inflight = flight
	p.mu.Unlock()

	credential, err := p.mintWithRetry(ctx, descriptor)

	p.mu.Lock()
	flight.credential, flight.err = credential, err
	p.inflight = nil
	p.mu.Unlock()
	close(flight.done)

	return credential, err
}

func (p *Provider) mintWithRetry(ctx context.Context, descriptor ContextDescriptor) (*Credential, error) {
	ctx, span := tracer.Start(ctx, "mint session credential")
	defer span.End()
	span.SetAttributes(attribute.String("request.restaurant_id", descriptor.RestaurantID))

	delay := p.retryDelay
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		credential, err := p.mint(ctx, descriptor)
		if err == nil {
			span.SetAttributes(attribute.Int("response.attempts", attempt))
			return credential, nil
		}
		lastErr = err
		logger.Warn("credential mint attempt failed",
			"attempt", attempt, "error", err)

		if attempt == p.maxAttempts {
			break
		}
		retry := make(chan struct{})
		timer := p.clock.AfterFunc(delay, func() { close(retry) })
		select {
		case <-ctx.Done():
			timer.Stop()
			span.RecordError(ctx.Err())
			return nil, ctx.Err()
		case <-retry:
		}
		delay *= 2
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return nil, lastErr
}

func (p *Provider) mint(ctx context.Context, descriptor ContextDescriptor) (*Credential, error) {
	requestBody, err := json.Marshal(descriptor)
	if err != nil {
		return nil, fmt.Errorf("error marshalling mint request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.issuerURL, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("error creating mint request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	// Request IDs correlate retried mints on the issuer side.
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(resp.Body)
		return nil, &FetchError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("non-OK HTTP status: %s: %s", resp.Status, bytes.TrimSpace(errorBody)),
		}
	}

	var minted struct {
		Secret             string    `json:"secret"`
		ExpiresAt          time.Time `json:"expires_at"`
		ContextFingerprint string    `json:"embedded_context_fingerprint"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&minted); err != nil {
		return nil, &FetchError{Err: fmt.Errorf("error decoding mint response: %w", err)}
	}
	if minted.Secret == "" {
		return nil, &FetchError{Err: fmt.Errorf("mint response missing secret")}
	}

	return &Credential{
		Secret:             minted.Secret,
		ExpiresAt:          minted.ExpiresAt,
		ContextFingerprint: minted.ContextFingerprint,
	}, nil
}

// ScheduleRefresh arms a single timer firing at expiry minus the refresh
// lead. The callback only reports that a refresh is needed; it never
// mutates session state itself. Returns the timer so the owner can cancel
// it on teardown. A credential already inside its lead window fires
// immediately.
func (p *Provider) ScheduleRefresh(credential Credential, onNeedRefresh func()) clock.Timer {
	delay := credential.TTL(p.clock.Now()) - p.refreshLead
	if delay < 0 {
		delay = 0
	}
	return p.clock.AfterFunc(delay, onNeedRefresh)
}

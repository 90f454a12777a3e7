// Package httpapi implements the service transport over the HTTP API.
package httpapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	stealth "github.com/anatolykoptev/go-stealth"
	"github.com/anatolykoptev/go-stealth/ratelimit"

	"github.com/anatolykoptev/go-dbc/transport"
)

const (
	// DefaultBaseURL is the HTTP API root.
	DefaultBaseURL = "http://api.dbcapi.me/api"

	defaultOverloadCooldown = 30 * time.Second
)

// Doer performs one HTTP round trip and returns body, response headers and
// status code. It must abort when ctx is done. *stealth.BrowserClient
// satisfies it.
type Doer interface {
	DoWithHeaderOrderCtx(ctx context.Context, method, url string, headers map[string]string, body io.Reader, order []string) ([]byte, map[string]string, int, error)
}

// Transport talks to the HTTP API. Each call is an independent request, so
// no serialization is needed.
type Transport struct {
	creds            transport.Credentials
	baseURL          string
	proxy            string
	doer             Doer
	overloadCooldown time.Duration

	mu          sync.Mutex
	rateLimiter *ratelimit.Limiter
	closed      bool
}

// Option configures a Transport.
type Option func(*Transport)

// WithBaseURL overrides the API root.
func WithBaseURL(u string) Option {
	return func(t *Transport) { t.baseURL = u }
}

// WithProxy routes requests through a proxy URL.
func WithProxy(proxy string) Option {
	return func(t *Transport) { t.proxy = proxy }
}

// WithDoer replaces the default stealth client.
func WithDoer(d Doer) Option {
	return func(t *Transport) { t.doer = d }
}

// WithRateLimit enables a per-endpoint local rate limiter.
func WithRateLimit(cfg ratelimit.Config) Option {
	return func(t *Transport) { t.rateLimiter = ratelimit.NewLimiter(cfg) }
}

// WithOverloadCooldown sets how long an endpoint stays limited after the
// service reports overload. Only effective with WithRateLimit.
func WithOverloadCooldown(d time.Duration) Option {
	return func(t *Transport) { t.overloadCooldown = d }
}

// New creates an HTTP transport.
func New(creds transport.Credentials, opts ...Option) (*Transport, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	t := &Transport{
		creds:            creds,
		baseURL:          DefaultBaseURL,
		overloadCooldown: defaultOverloadCooldown,
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.doer == nil {
		copts := []stealth.ClientOption{
			stealth.WithHeaderOrder(dbcHeaderOrder),
		}
		if t.proxy != "" {
			copts = append(copts, stealth.WithProxy(t.proxy))
			slog.Debug("dbc http: using proxy", slog.String("proxy", stealth.MaskProxy(t.proxy)))
		}
		bc, err := stealth.NewClient(copts...)
		if err != nil {
			return nil, fmt.Errorf("stealth client: %w", err)
		}
		t.doer = bc
	}
	return t, nil
}

// Close marks the transport closed. Requests are stateless, so there is no
// connection to tear down.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		slog.Debug("dbc http: close")
		t.closed = true
	}
	return nil
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// allowRequest checks the local limiter for an endpoint.
func (t *Transport) allowRequest(endpoint string) (bool, time.Time) {
	t.mu.Lock()
	if t.rateLimiter == nil {
		t.mu.Unlock()
		return true, time.Time{}
	}
	rl := t.rateLimiter
	t.mu.Unlock()
	if rl.Allow(endpoint) {
		return true, time.Time{}
	}
	return false, rl.AvailableAt(endpoint)
}

// markOverloaded blocks an endpoint locally after a 503.
func (t *Transport) markOverloaded(endpoint string) {
	t.mu.Lock()
	if t.rateLimiter == nil {
		t.mu.Unlock()
		return
	}
	rl := t.rateLimiter
	t.mu.Unlock()
	rl.MarkRateLimited(endpoint, time.Now().Add(t.overloadCooldown))
}

package dbc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anatolykoptev/go-dbc/transport"
	"github.com/anatolykoptev/go-dbc/transport/httpapi"
	"github.com/anatolykoptev/go-dbc/transport/socketapi"
)

// Client is the top-level service client.
type Client struct {
	transport transport.Transport
	engine    *Engine
	account   *Account
	cfg       Config
}

// NewClient builds the configured transport and wires a client around it.
func NewClient(cfg Config) (*Client, error) {
	cfg.defaults()
	t, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}
	return NewClientWithTransport(t, cfg), nil
}

// NewClientWithTransport wires a client around an existing transport.
func NewClientWithTransport(t transport.Transport, cfg Config) *Client {
	cfg.defaults()
	e := NewEngine(t, cfg)
	return &Client{
		transport: t,
		engine:    e,
		account:   &Account{transport: t, record: e.record},
		cfg:       cfg,
	}
}

func newTransport(cfg Config) (transport.Transport, error) {
	switch cfg.Transport {
	case TransportSocket:
		var opts []socketapi.Option
		if cfg.SocketAddr != "" {
			opts = append(opts, socketapi.WithAddr(cfg.SocketAddr))
		}
		t, err := socketapi.New(cfg.Credentials, opts...)
		if err != nil {
			return nil, fmt.Errorf("socket transport: %w", err)
		}
		return t, nil
	case TransportHTTP:
		var opts []httpapi.Option
		if cfg.BaseURL != "" {
			opts = append(opts, httpapi.WithBaseURL(cfg.BaseURL))
		}
		if cfg.Proxy != "" {
			opts = append(opts, httpapi.WithProxy(cfg.Proxy))
		}
		if cfg.RateLimit != nil {
			opts = append(opts, httpapi.WithRateLimit(*cfg.RateLimit))
		}
		t, err := httpapi.New(cfg.Credentials, opts...)
		if err != nil {
			return nil, fmt.Errorf("http transport: %w", err)
		}
		return t, nil
	}
	return nil, fmt.Errorf("dbc: unknown transport %q", cfg.Transport)
}

// Engine returns the job resolution engine.
func (c *Client) Engine() *Engine { return c.engine }

// Account returns the account facade.
func (c *Client) Account() *Account { return c.account }

// Close releases the transport's connection.
func (c *Client) Close() error { return c.transport.Close() }

// Upload submits p and returns a handle, or nil if the service did not queue it.
func (c *Client) Upload(ctx context.Context, p Payload, extras map[string]string) (*Captcha, error) {
	job, err := c.engine.Submit(ctx, p, extras)
	if err != nil || job == nil {
		return nil, err
	}
	h := NewCaptcha(c.engine, *job)
	h.token = p.isToken()
	return h, nil
}

// UploadRecaptchaV2 submits a reCAPTCHA v2 challenge.
func (c *Client) UploadRecaptchaV2(ctx context.Context, siteKey, pageURL string, extra map[string]any) (*Captcha, error) {
	return c.Upload(ctx, RecaptchaV2(siteKey, pageURL, extra), nil)
}

// UploadRecaptchaV3 submits a reCAPTCHA v3 challenge.
func (c *Client) UploadRecaptchaV3(ctx context.Context, siteKey, pageURL, action string, minScore float64, extra map[string]any) (*Captcha, error) {
	return c.Upload(ctx, RecaptchaV3(siteKey, pageURL, action, minScore, extra), nil)
}

// Solve uploads p and waits for any answer. It returns "" on timeout or when
// the job could not be queued.
func (c *Client) Solve(ctx context.Context, p Payload, extras map[string]string, timeout time.Duration) (string, error) {
	h, err := c.Upload(ctx, p, extras)
	if err != nil || h == nil {
		return "", err
	}
	return h.WaitUntilSolved(ctx, timeout)
}

// SolveRecaptchaV2 uploads a reCAPTCHA v2 challenge and waits for its token.
func (c *Client) SolveRecaptchaV2(ctx context.Context, siteKey, pageURL string, extra map[string]any, timeout time.Duration) (string, error) {
	return c.Solve(ctx, RecaptchaV2(siteKey, pageURL, extra), nil, timeout)
}

// SolveRecaptchaV3 uploads a reCAPTCHA v3 challenge and waits for its token.
func (c *Client) SolveRecaptchaV3(ctx context.Context, siteKey, pageURL, action string, minScore float64, extra map[string]any, timeout time.Duration) (string, error) {
	return c.Solve(ctx, RecaptchaV3(siteKey, pageURL, action, minScore, extra), nil, timeout)
}

// Decode submits p and waits for an answer graded correct.
func (c *Client) Decode(ctx context.Context, p Payload, extras map[string]string, timeout time.Duration) (*Job, error) {
	return c.engine.Decode(ctx, p, extras, timeout)
}

// Captcha fetches a job by id and returns a handle, or nil if unknown.
func (c *Client) Captcha(ctx context.Context, id int64) (*Captcha, error) {
	job, err := c.engine.Poll(ctx, id)
	if err != nil || job == nil {
		return nil, err
	}
	return NewCaptcha(c.engine, *job), nil
}

// Text fetches the current answer of a job; "" if unsolved or unknown.
func (c *Client) Text(ctx context.Context, id int64) (string, error) {
	job, err := c.engine.Poll(ctx, id)
	if err != nil || job == nil {
		return "", err
	}
	return job.Text, nil
}

// Report flags a job as incorrectly solved.
func (c *Client) Report(ctx context.Context, id int64) (bool, error) {
	return c.engine.Report(ctx, id)
}

// User returns the authenticated account.
func (c *Client) User(ctx context.Context) (*AccountInfo, error) {
	return c.account.User(ctx)
}

// Balance returns the account balance in US cents.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	bal, err := c.account.Balance(ctx)
	if err != nil {
		slog.Debug("balance unavailable", slog.Any("error", err))
	}
	return bal, err
}

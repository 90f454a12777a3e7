package dbc

import (
	"time"

	"github.com/anatolykoptev/go-stealth/ratelimit"
)

// TransportKind selects the transport NewClient builds.
type TransportKind string

const (
	TransportHTTP   TransportKind = "http"
	TransportSocket TransportKind = "socket"
)

const (
	// DefaultTimeout bounds image waits.
	DefaultTimeout = 60 * time.Second
	// DefaultTokenTimeout bounds token-challenge waits.
	DefaultTokenTimeout = 120 * time.Second
)

// Config holds all configuration for the client and engine.
type Config struct {
	// Credentials authenticate every call. Use TokenCredentials for an auth token.
	Credentials Credentials

	// Transport picks the HTTP (default) or socket API.
	Transport TransportKind

	// BaseURL overrides the HTTP API root.
	BaseURL string

	// Proxy routes HTTP API traffic through a proxy URL.
	Proxy string

	// RateLimit enables a local per-endpoint limiter on the HTTP transport.
	RateLimit *ratelimit.Config

	// SocketAddr pins the socket API host:port. Default: random API port.
	SocketAddr string

	// PollSchedule is the cadence between polls while waiting.
	PollSchedule PollSchedule

	// Timeout is the default wait for image jobs.
	Timeout time.Duration

	// TokenTimeout is the default wait for token challenges.
	TokenTimeout time.Duration

	// MetricsHook is called after each transport round trip.
	// op is the operation name; overloaded is set for Overloaded failures.
	MetricsHook func(op string, success, overloaded bool)

	// WaitHook is called whenever a wait ends, by solution, timeout, absence,
	// cancellation or error. mode is the Accept semantics, solved whether a
	// job was returned.
	WaitHook func(mode string, elapsed time.Duration, solved bool)
}

// defaults fills in zero-value config fields with sensible defaults.
func (cfg *Config) defaults() {
	if cfg.Transport == "" {
		cfg.Transport = TransportHTTP
	}
	if len(cfg.PollSchedule.Intervals) == 0 && cfg.PollSchedule.Fallback == 0 {
		cfg.PollSchedule = DefaultPollSchedule()
	}
	if cfg.PollSchedule.Fallback <= 0 {
		cfg.PollSchedule.Fallback = DefaultPollSchedule().Fallback
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TokenTimeout <= 0 {
		cfg.TokenTimeout = DefaultTokenTimeout
	}
}

package dbc

import "github.com/anatolykoptev/go-dbc/transport"

// Kind categorizes failures independently of the transport in use.
type Kind = transport.Kind

const (
	InvalidPayload = transport.InvalidPayload
	Unauthorized   = transport.Unauthorized
	Rejected       = transport.Rejected
	Overloaded     = transport.Overloaded
	Unavailable    = transport.Unavailable
	NotFound       = transport.NotFound
)

// Sentinels for errors.Is; they match any error of the same Kind.
var (
	ErrInvalidPayload = transport.ErrInvalidPayload
	ErrUnauthorized   = transport.ErrUnauthorized
	ErrRejected       = transport.ErrRejected
	ErrOverloaded     = transport.ErrOverloaded
	ErrUnavailable    = transport.ErrUnavailable
	ErrNotFound       = transport.ErrNotFound
)

// KindOf returns the Kind of a classified error.
func KindOf(err error) (Kind, bool) { return transport.KindOf(err) }

// Retryable reports whether err is Overloaded. The engine never retries it
// itself.
func Retryable(err error) bool { return transport.Retryable(err) }

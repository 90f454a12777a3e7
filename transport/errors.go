package transport

import (
	"errors"
	"fmt"
)

// Kind is the closed set of failure categories callers reason about.
// Every transport-specific failure is mapped to exactly one Kind.
type Kind int

const (
	InvalidPayload Kind = iota + 1 // empty or unreadable input, no network call made
	Unauthorized                   // credentials rejected, banned, or out of funds
	Rejected                       // service refused the submitted content
	Overloaded                     // transient capacity failure, safe to retry later
	Unavailable                    // network failure or unparseable response
	NotFound                       // service has no record of the id
)

func (k Kind) String() string {
	switch k {
	case InvalidPayload:
		return "invalid payload"
	case Unauthorized:
		return "unauthorized"
	case Rejected:
		return "rejected"
	case Overloaded:
		return "overloaded"
	case Unavailable:
		return "unavailable"
	case NotFound:
		return "not found"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a failure classified into the taxonomy.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "submit", "fetch"
	Msg  string
	Err  error // underlying cause, if any
}

func (e *Error) Error() string {
	s := "dbc: "
	if e.Op != "" {
		s += e.Op + ": "
	}
	s += e.Kind.String()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind, so errors.Is
// matches the package sentinels regardless of Op, Msg, or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for use with errors.Is.
var (
	ErrInvalidPayload = &Error{Kind: InvalidPayload}
	ErrUnauthorized   = &Error{Kind: Unauthorized}
	ErrRejected       = &Error{Kind: Rejected}
	ErrOverloaded     = &Error{Kind: Overloaded}
	ErrUnavailable    = &Error{Kind: Unavailable}
	ErrNotFound       = &Error{Kind: NotFound}
)

// NewError builds a classified error.
func NewError(kind Kind, op, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: cause}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Retryable reports whether err is a transient capacity failure.
// Overloaded is the only kind callers are expected to retry.
func Retryable(err error) bool {
	k, ok := KindOf(err)
	return ok && k == Overloaded
}

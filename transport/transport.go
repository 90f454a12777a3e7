// Package transport defines the capability contract between the job
// resolution engine and the concrete service transports, plus the error
// taxonomy every transport maps its failures into.
package transport

import (
	"context"
	"errors"
)

// AuthTokenUser is the username that marks Credentials as token-based.
const AuthTokenUser = "authtoken"

// APIVersion is sent to the service to identify the client.
const APIVersion = "DBC/Go v1.0"

// Transport performs single named remote operations.
// A nil record with a nil error is a soft absence: the service acknowledged
// the call but had nothing to report.
type Transport interface {
	Submit(ctx context.Context, s Submission, extras map[string]string) (*JobRecord, error)
	Fetch(ctx context.Context, id int64) (*JobRecord, error)
	Report(ctx context.Context, id int64) (*JobRecord, error)
	AccountInfo(ctx context.Context) (*AccountInfo, error)

	// Close releases any held connection. Safe to call more than once.
	Close() error
}

// JobRecord is the normalized wire-level view of a job.
type JobRecord struct {
	ID        int64
	Text      string
	IsCorrect bool
}

// AccountInfo is the normalized account record.
type AccountInfo struct {
	ID           int64
	BalanceCents float64
	IsBanned     bool
}

// Submission is a normalized payload. Exactly one of Image or Token is set.
type Submission struct {
	Image  []byte
	Banner []byte
	Token  *TokenFields
}

// TokenFields describes a token-based challenge.
type TokenFields struct {
	Type   int
	Params string // JSON-encoded parameter blob
}

// IsToken reports whether s is a token challenge.
func (s Submission) IsToken() bool { return s.Token != nil }

// Credentials are immutable account credentials.
type Credentials struct {
	Username string
	Password string
}

// TokenCredentials returns credentials for a bearer-style auth token.
func TokenCredentials(token string) Credentials {
	return Credentials{Username: AuthTokenUser, Password: token}
}

// IsToken reports whether the credentials carry an auth token.
func (c Credentials) IsToken() bool { return c.Username == AuthTokenUser }

// Validate rejects missing or empty credentials.
func (c Credentials) Validate() error {
	if c.Username == "" {
		return errors.New("dbc: account username is missing or empty")
	}
	if c.Password == "" {
		return errors.New("dbc: account password is missing or empty")
	}
	return nil
}

// Fields returns the credentials as request fields.
func (c Credentials) Fields() map[string]string {
	if c.IsToken() {
		return map[string]string{"authtoken": c.Password}
	}
	return map[string]string{"username": c.Username, "password": c.Password}
}

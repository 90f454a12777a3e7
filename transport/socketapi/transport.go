// Package socketapi implements the service transport over the persistent
// socket API: one TCP connection carrying line-delimited JSON commands.
package socketapi

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"strconv"
	"sync"
	"time"

	stealth "github.com/anatolykoptev/go-stealth"

	"github.com/anatolykoptev/go-dbc/transport"
)

const (
	// DefaultHost is the socket API host.
	DefaultHost = "api.dbcapi.me"

	firstPort = 8123
	lastPort  = 8130

	terminator = "\r\n"

	defaultIOTimeout = 60 * time.Second
)

// Transport holds exactly one connection. Every call takes the mutex for the
// whole connect/login/send/receive sequence.
type Transport struct {
	creds     transport.Credentials
	host      string
	addr      string
	ioTimeout time.Duration
	backoff   stealth.BackoffConfig
	dialer    net.Dialer

	mu        sync.Mutex
	conn      net.Conn
	rd        *bufio.Reader
	loggedIn  bool
	connFails int
	closed    bool
}

// Option configures a Transport.
type Option func(*Transport)

// WithAddr pins the host:port to dial instead of a random API port.
func WithAddr(addr string) Option {
	return func(t *Transport) { t.addr = addr }
}

// WithHost changes the API host; the port is still picked from the API range.
func WithHost(host string) Option {
	return func(t *Transport) { t.host = host }
}

// WithIOTimeout bounds each round trip when the context has no deadline.
func WithIOTimeout(d time.Duration) Option {
	return func(t *Transport) { t.ioTimeout = d }
}

// WithReconnectBackoff sets the delay schedule applied before reconnecting
// after consecutive connection failures.
func WithReconnectBackoff(b stealth.BackoffConfig) Option {
	return func(t *Transport) { t.backoff = b }
}

// New creates a socket transport. No connection is made until the first call.
func New(creds transport.Credentials, opts ...Option) (*Transport, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	t := &Transport{
		creds:     creds,
		host:      DefaultHost,
		ioTimeout: defaultIOTimeout,
		backoff: stealth.BackoffConfig{
			InitialWait: 1 * time.Second,
			MaxWait:     30 * time.Second,
			Multiplier:  2.0,
			JitterPct:   0.3,
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// response covers every field the socket API returns.
type response struct {
	Status    int     `json:"status"`
	Error     string  `json:"error"`
	Captcha   int64   `json:"captcha"`
	Text      *string `json:"text"`
	IsCorrect bool    `json:"is_correct"`
	User      int64   `json:"user"`
	Balance   float64 `json:"balance"`
	IsBanned  bool    `json:"is_banned"`
}

func (r *response) jobRecord() *transport.JobRecord {
	if r.Captcha <= 0 {
		return nil
	}
	rec := &transport.JobRecord{ID: r.Captcha, IsCorrect: r.IsCorrect}
	if r.Text != nil {
		rec.Text = *r.Text
	}
	return rec
}

// Submit uploads an image (base64) or a token challenge.
func (t *Transport) Submit(ctx context.Context, s transport.Submission, extras map[string]string) (*transport.JobRecord, error) {
	fields := make(map[string]any, len(extras)+3)
	for k, v := range extras {
		fields[k] = v
	}
	if s.IsToken() {
		fields["type"] = s.Token.Type
		fields["token_params"] = s.Token.Params
	} else {
		fields["captcha"] = base64.StdEncoding.EncodeToString(s.Image)
		if len(s.Banner) > 0 {
			fields["banner"] = base64.StdEncoding.EncodeToString(s.Banner)
		}
	}
	r, err := t.call(ctx, "submit", "upload", fields)
	if err != nil {
		return nil, err
	}
	return r.jobRecord(), nil
}

// Fetch returns the current record for a job.
func (t *Transport) Fetch(ctx context.Context, id int64) (*transport.JobRecord, error) {
	r, err := t.call(ctx, "fetch", "captcha", map[string]any{"captcha": id})
	if err != nil {
		return nil, err
	}
	return r.jobRecord(), nil
}

// Report flags a solved job as incorrectly solved.
func (t *Transport) Report(ctx context.Context, id int64) (*transport.JobRecord, error) {
	r, err := t.call(ctx, "report", "report", map[string]any{"captcha": id})
	if err != nil {
		return nil, err
	}
	return r.jobRecord(), nil
}

// AccountInfo returns the authenticated account.
func (t *Transport) AccountInfo(ctx context.Context) (*transport.AccountInfo, error) {
	r, err := t.call(ctx, "user", "user", nil)
	if err != nil {
		return nil, err
	}
	if r.User <= 0 {
		return nil, nil
	}
	return &transport.AccountInfo{ID: r.User, BalanceCents: r.Balance, IsBanned: r.IsBanned}, nil
}

// Close drops the connection. Safe to call more than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return t.disconnectLocked()
}

func (t *Transport) disconnectLocked() error {
	if t.conn == nil {
		return nil
	}
	slog.Debug("dbc socket: close")
	err := t.conn.Close()
	t.conn = nil
	t.rd = nil
	t.loggedIn = false
	return err
}

// call runs one command, connecting and logging in first when needed.
func (t *Transport) call(ctx context.Context, op, cmd string, fields map[string]any) (*response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, transport.NewError(transport.Unavailable, op, "transport closed", nil)
	}
	if err := t.connectLocked(ctx, op); err != nil {
		return nil, err
	}
	if !t.loggedIn {
		login := make(map[string]any, 2)
		for k, v := range t.creds.Fields() {
			login[k] = v
		}
		if _, err := t.roundTripLocked(ctx, op, "login", login); err != nil {
			_ = t.disconnectLocked()
			return nil, err
		}
		t.loggedIn = true
		slog.Debug("dbc socket: logged in")
	}
	return t.roundTripLocked(ctx, op, cmd, fields)
}

// connectLocked dials if there is no live connection, waiting out the
// reconnect backoff after previous failures.
func (t *Transport) connectLocked(ctx context.Context, op string) error {
	if t.conn != nil {
		return nil
	}
	if t.connFails > 0 {
		delay := t.backoff.Duration(t.connFails - 1)
		slog.Warn("dbc socket: reconnecting",
			slog.Int("consec_fails", t.connFails),
			slog.Duration("backoff", delay))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	addr := t.addr
	if addr == "" {
		port := firstPort + rand.IntN(lastPort-firstPort+1) //nolint:gosec // port spread, not security
		addr = net.JoinHostPort(t.host, strconv.Itoa(port))
	}
	slog.Debug("dbc socket: connect", slog.String("addr", addr))
	conn, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		t.connFails++
		return transport.NewError(transport.Unavailable, op, "API connection failed", err)
	}
	t.conn = conn
	t.rd = bufio.NewReader(conn)
	t.loggedIn = false
	return nil
}

// roundTripLocked writes one request line and reads one response line.
func (t *Transport) roundTripLocked(ctx context.Context, op, cmd string, fields map[string]any) (*response, error) {
	req := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		req[k] = v
	}
	req["cmd"] = cmd
	req["version"] = transport.APIVersion
	data, err := json.Marshal(req)
	if err != nil {
		return nil, transport.NewError(transport.InvalidPayload, op, "encode request", err)
	}

	conn := t.conn
	deadline := time.Now().Add(t.ioTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	slog.Debug("dbc socket send", slog.String("cmd", cmd))
	if _, err := conn.Write(append(data, terminator...)); err != nil {
		return nil, t.ioFailureLocked(ctx, op, err)
	}
	line, err := t.rd.ReadBytes('\n')
	if err != nil {
		return nil, t.ioFailureLocked(ctx, op, err)
	}
	t.connFails = 0
	slog.Debug("dbc socket recv", slog.String("cmd", cmd), slog.Int("bytes", len(line)))

	var r response
	if err := json.Unmarshal(trimTerminator(line), &r); err != nil {
		_ = t.disconnectLocked()
		return nil, transport.NewError(transport.Unavailable, op, "invalid API response", err)
	}
	if r.Error != "" {
		if r.Error == "not-logged-in" {
			// Session expired on a live connection; log in again next call.
			t.loggedIn = false
		}
		return nil, classifySocketError(op, r.Error)
	}
	return &r, nil
}

// ioFailureLocked drops the broken connection and classifies the failure.
func (t *Transport) ioFailureLocked(ctx context.Context, op string, err error) error {
	_ = t.disconnectLocked()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	t.connFails++
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return transport.NewError(transport.Unavailable, op, "API request timed out", err)
	}
	return transport.NewError(transport.Unavailable, op, "connection lost", err)
}

func trimTerminator(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

// classifySocketError maps the API error string to the taxonomy.
func classifySocketError(op, code string) error {
	switch code {
	case "not-logged-in", "invalid-credentials":
		return transport.NewError(transport.Unauthorized, op, "access denied, check your credentials", nil)
	case "banned":
		return transport.NewError(transport.Unauthorized, op, "access denied, account is suspended", nil)
	case "insufficient-funds":
		return transport.NewError(transport.Unauthorized, op, "captcha was rejected due to low balance", nil)
	case "invalid-captcha":
		return transport.NewError(transport.Rejected, op, "captcha is not a valid image", nil)
	case "service-overload":
		return transport.NewError(transport.Overloaded, op, "captcha was rejected due to service overload, try again later", nil)
	case "captcha-not-found":
		return transport.NewError(transport.NotFound, op, "", nil)
	}
	return transport.NewError(transport.Unavailable, op, fmt.Sprintf("API server error occurred: %s", code), nil)
}

package dbc

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/anatolykoptev/go-dbc/transport"
)

// Engine owns the submit, poll, resolve-or-timeout state machine. It keeps no
// mutable state of its own and is safe for concurrent use when its Transport
// is.
type Engine struct {
	transport transport.Transport
	cfg       Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an engine over t.
func NewEngine(t transport.Transport, cfg Config) *Engine {
	cfg.defaults()
	return &Engine{
		transport: t,
		cfg:       cfg,
		now:       time.Now,
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit normalizes p and queues it. Empty images fail with InvalidPayload
// before any network call. A nil Job with a nil error means the service did
// not queue the job; try again later.
func (e *Engine) Submit(ctx context.Context, p Payload, extras map[string]string) (*Job, error) {
	if p == nil {
		return nil, transport.NewError(transport.InvalidPayload, "submit", "no payload", nil)
	}
	s, err := p.normalize()
	if err != nil {
		return nil, err
	}
	rec, err := e.transport.Submit(ctx, s, extras)
	e.record("submit", err)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		slog.Debug("captcha not queued")
		return nil, nil
	}
	job := jobFromRecord(rec, e.now())
	slog.Info("captcha uploaded", slog.Int64("captcha", job.ID), slog.Bool("token", p.isToken()))
	return job, nil
}

// Poll fetches the current snapshot of a job in exactly one round trip.
// Unknown ids yield a nil Job with a nil error.
func (e *Engine) Poll(ctx context.Context, id int64) (*Job, error) {
	rec, err := e.transport.Fetch(ctx, id)
	e.record("fetch", err)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return jobFromRecord(rec, time.Time{}), nil
}

// WaitForSolution polls job id until it is solved under accept, the timeout
// passes, or the service drops the job. The last two return a nil Job with a
// nil error. A negative timeout uses Config.Timeout; zero means the deadline
// has already passed. Cancelling ctx returns ctx.Err().
func (e *Engine) WaitForSolution(ctx context.Context, id int64, timeout time.Duration, accept Accept) (*Job, error) {
	deadline := e.now().Add(e.timeoutFor(timeout, false))
	return e.await(ctx, id, nil, deadline, accept, nil)
}

// Decode submits p and waits for a solution graded correct. A nil Job with a
// nil error means the job could not be queued, timed out, or was solved
// incorrectly. A negative timeout uses the configured default for the
// payload kind.
func (e *Engine) Decode(ctx context.Context, p Payload, extras map[string]string, timeout time.Duration) (*Job, error) {
	token := p != nil && p.isToken()
	deadline := e.now().Add(e.timeoutFor(timeout, token))
	job, err := e.Submit(ctx, p, extras)
	if err != nil || job == nil {
		return nil, err
	}
	return e.await(ctx, job.ID, job, deadline, RequireCorrect, nil)
}

// Report tells the service a solved job was incorrect. It returns true when
// the service's record no longer marks the job correct.
func (e *Engine) Report(ctx context.Context, id int64) (bool, error) {
	rec, err := e.transport.Report(ctx, id)
	e.record("report", err)
	if err != nil {
		return false, err
	}
	if rec == nil {
		// Nothing echoed back; not counted as accepted.
		return false, nil
	}
	slog.Info("captcha reported", slog.Int64("captcha", id), slog.Bool("accepted", !rec.IsCorrect))
	return !rec.IsCorrect, nil
}

// await is the polling loop. current is the last known snapshot, or nil to
// poll straight away. observe sees every fresh snapshot. The wait hook sees
// every exit, including cancellation and transport errors.
func (e *Engine) await(ctx context.Context, id int64, current *Job, deadline time.Time, accept Accept, observe func(*Job)) (*Job, error) {
	start := e.now()
	cur := e.cfg.PollSchedule.cursor()
	job := current
	polls := 0

	fail := func(err error) (*Job, error) {
		slog.Debug("captcha wait aborted", slog.Int64("captcha", id), slog.Int("polls", polls), slog.Any("error", err))
		e.observeWait(accept, start, false)
		return nil, err
	}

	for !job.Solved() {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if polls > 0 {
			if err := e.sleep(ctx, cur.next()); err != nil {
				return fail(err)
			}
		}
		if !e.now().Before(deadline) {
			slog.Debug("captcha wait timed out", slog.Int64("captcha", id), slog.Int("polls", polls))
			e.observeWait(accept, start, false)
			return nil, nil
		}

		next, err := e.Poll(ctx, id)
		polls++
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(ctxErr)
		}
		if errors.Is(err, transport.ErrNotFound) {
			err, next = nil, nil
		}
		if err != nil {
			return fail(err)
		}
		if next == nil {
			slog.Debug("captcha gone", slog.Int64("captcha", id))
			e.observeWait(accept, start, false)
			return nil, nil
		}
		if job != nil {
			next.CreatedAt = job.CreatedAt
		}
		job = next
		if observe != nil {
			observe(job)
		}
		slog.Debug("captcha polled", slog.Int64("captcha", id), slog.Int("poll", polls), slog.Bool("solved", job.Solved()))
	}

	if accept == RequireCorrect && !job.IsCorrect {
		slog.Debug("captcha solved but not graded correct", slog.Int64("captcha", id))
		e.observeWait(accept, start, false)
		return nil, nil
	}
	slog.Info("captcha solved", slog.Int64("captcha", id), slog.Int("polls", polls))
	e.observeWait(accept, start, true)
	return job, nil
}

func (e *Engine) timeoutFor(timeout time.Duration, token bool) time.Duration {
	if timeout >= 0 {
		return timeout
	}
	if token {
		return e.cfg.TokenTimeout
	}
	return e.cfg.Timeout
}

// record calls the metrics hook if configured.
func (e *Engine) record(op string, err error) {
	if e.cfg.MetricsHook != nil {
		e.cfg.MetricsHook(op, err == nil, transport.Retryable(err))
	}
}

func (e *Engine) observeWait(accept Accept, start time.Time, solved bool) {
	if e.cfg.WaitHook != nil {
		e.cfg.WaitHook(accept.String(), e.now().Sub(start), solved)
	}
}

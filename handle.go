package dbc

import (
	"context"
	"time"
)

// Captcha is a handle on one submitted job. It keeps the last fetched
// snapshot; only Refresh and WaitUntilSolved replace it. Not safe for
// concurrent use.
type Captcha struct {
	engine *Engine
	job    Job
	token  bool
}

// NewCaptcha binds a job snapshot to an engine.
func NewCaptcha(e *Engine, job Job) *Captcha {
	return &Captcha{engine: e, job: job}
}

// ID returns the service-assigned job id.
func (c *Captcha) ID() int64 { return c.job.ID }

// Text returns the last known answer, empty until solved.
func (c *Captcha) Text() string { return c.job.Text }

// Job returns a copy of the last known snapshot.
func (c *Captcha) Job() Job { return c.job }

// Solved reports whether the last known snapshot has an answer.
func (c *Captcha) Solved() bool { return c.job.Solved() }

// Refresh polls once and replaces the snapshot. If the service no longer has
// the job, the snapshot is kept.
func (c *Captcha) Refresh(ctx context.Context) (bool, error) {
	job, err := c.engine.Poll(ctx, c.job.ID)
	if err != nil {
		return false, err
	}
	if job != nil {
		c.replace(job)
	}
	return c.Solved(), nil
}

// WaitUntilSolved polls on the engine's schedule until any answer arrives.
// It returns "" if the deadline passes or the job disappears. A negative
// timeout uses the configured default.
func (c *Captcha) WaitUntilSolved(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := c.engine.now().Add(c.engine.timeoutFor(timeout, c.token))
	job, err := c.engine.await(ctx, c.job.ID, nil, deadline, AcceptAnyText, c.replace)
	if err != nil || job == nil {
		return "", err
	}
	return job.Text, nil
}

// ReportIncorrect reports the answer as wrong.
func (c *Captcha) ReportIncorrect(ctx context.Context) (bool, error) {
	return c.engine.Report(ctx, c.job.ID)
}

func (c *Captcha) replace(job *Job) {
	created := c.job.CreatedAt
	c.job = *job
	if c.job.CreatedAt.IsZero() {
		c.job.CreatedAt = created
	}
}

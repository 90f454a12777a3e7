package dbc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/anatolykoptev/go-dbc/transport"
)

// fakeTransport is a scripted transport.Transport that counts invocations.
type fakeTransport struct {
	mu sync.Mutex

	submitRec *transport.JobRecord
	submitErr error
	fetch     func(n int, id int64) (*transport.JobRecord, error)
	reportRec *transport.JobRecord
	reportErr error
	account   *transport.AccountInfo
	accErr    error

	submits     int
	fetches     int
	reports     int
	accounts    int
	closes      int
	submissions []transport.Submission
	extras      []map[string]string
}

func (f *fakeTransport) Submit(_ context.Context, s transport.Submission, extras map[string]string) (*transport.JobRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	f.submissions = append(f.submissions, s)
	f.extras = append(f.extras, extras)
	return f.submitRec, f.submitErr
}

func (f *fakeTransport) Fetch(_ context.Context, id int64) (*transport.JobRecord, error) {
	f.mu.Lock()
	f.fetches++
	n := f.fetches
	fn := f.fetch
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(n, id)
}

func (f *fakeTransport) Report(_ context.Context, _ int64) (*transport.JobRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports++
	return f.reportRec, f.reportErr
}

func (f *fakeTransport) AccountInfo(_ context.Context) (*transport.AccountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts++
	return f.account, f.accErr
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTransport) calls() (submits, fetches, reports int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits, f.fetches, f.reports
}

// fakeClock advances only when the engine sleeps.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) total() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var sum time.Duration
	for _, d := range c.slept {
		sum += d
	}
	return sum
}

func (c *fakeClock) sleeps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slept)
}

func newTestEngine(t *testing.T, ft *fakeTransport, cfg Config) (*Engine, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)}
	e := NewEngine(ft, cfg)
	e.now = clk.Now
	e.sleep = clk.Sleep
	return e, clk
}

// unsolvedUntil returns a fetch script that is pending until poll n.
func unsolvedUntil(n int, text string, correct bool) func(int, int64) (*transport.JobRecord, error) {
	return func(call int, id int64) (*transport.JobRecord, error) {
		if call < n {
			return &transport.JobRecord{ID: id}, nil
		}
		return &transport.JobRecord{ID: id, Text: text, IsCorrect: correct}, nil
	}
}

package dbc

import "time"

// PollSchedule is the sequence of waits between successive polls. Once
// Intervals is exhausted, Fallback is used for every further wait.
type PollSchedule struct {
	Intervals []time.Duration
	Fallback  time.Duration
}

// DefaultPollSchedule returns the service's recommended cadence.
func DefaultPollSchedule() PollSchedule {
	return PollSchedule{
		Intervals: []time.Duration{
			1 * time.Second, 1 * time.Second, 2 * time.Second,
			3 * time.Second, 2 * time.Second, 2 * time.Second,
			3 * time.Second, 2 * time.Second, 2 * time.Second,
		},
		Fallback: 3 * time.Second,
	}
}

// Delay returns the wait before retry n (1-indexed).
func (s PollSchedule) Delay(n int) time.Duration {
	if n >= 1 && n <= len(s.Intervals) {
		return s.Intervals[n-1]
	}
	return s.Fallback
}

// cursor walks the schedule for a single wait call.
type cursor struct {
	s PollSchedule
	n int
}

func (s PollSchedule) cursor() *cursor { return &cursor{s: s} }

func (c *cursor) next() time.Duration {
	c.n++
	return c.s.Delay(c.n)
}

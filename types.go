package dbc

import (
	"time"

	"github.com/anatolykoptev/go-dbc/transport"
)

// Job is an immutable snapshot of one server-side job.
type Job struct {
	ID        int64
	Text      string // empty until solved
	IsCorrect bool   // meaningful only once solved
	CreatedAt time.Time
}

// Solved reports whether the job has a non-empty answer.
func (j *Job) Solved() bool { return j != nil && j.Text != "" }

func jobFromRecord(rec *transport.JobRecord, createdAt time.Time) *Job {
	return &Job{ID: rec.ID, Text: rec.Text, IsCorrect: rec.IsCorrect, CreatedAt: createdAt}
}

// Accept selects which solved jobs end a wait.
type Accept int

const (
	// AcceptAnyText returns any solved text regardless of grading.
	AcceptAnyText Accept = iota
	// RequireCorrect only returns solved jobs graded correct.
	RequireCorrect
)

func (a Accept) String() string {
	if a == RequireCorrect {
		return "require_correct"
	}
	return "any_text"
}

type (
	AccountInfo = transport.AccountInfo
	Credentials = transport.Credentials
)

// TokenCredentials returns credentials for a bearer-style auth token.
func TokenCredentials(token string) Credentials { return transport.TokenCredentials(token) }

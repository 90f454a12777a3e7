package captcha

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dbc "github.com/anatolykoptev/go-dbc"
)

const (
	solveTimeout     = 120 * time.Second
	balanceWarnLevel = 5.0 // warn when balance drops below $5
)

// ErrTimeout is returned when no correct solution arrived in time.
var ErrTimeout = errors.New("captcha: solve timeout")

// DeathByCaptcha implements Solver for reCAPTCHA v2 challenges.
type DeathByCaptcha struct {
	client  *dbc.Client
	timeout time.Duration
}

// NewDeathByCaptcha wraps a client. A zero timeout means 120s.
func NewDeathByCaptcha(client *dbc.Client, timeout time.Duration) *DeathByCaptcha {
	if timeout <= 0 {
		timeout = solveTimeout
	}
	return &DeathByCaptcha{client: client, timeout: timeout}
}

// Solve submits a reCAPTCHA v2 challenge and waits for a correct token.
func (d *DeathByCaptcha) Solve(ctx context.Context, siteKey, pageURL string) (string, error) {
	// Check balance before solve
	bal, balErr := d.Balance(ctx)
	if balErr == nil && bal < balanceWarnLevel {
		slog.Warn("DeathByCaptcha balance low", slog.Float64("balance", bal))
	}

	job, err := d.client.Decode(ctx, dbc.RecaptchaV2(siteKey, pageURL, nil), nil, d.timeout)
	if err != nil {
		return "", fmt.Errorf("dbc decode: %w", err)
	}
	if job == nil {
		return "", fmt.Errorf("%w after %s", ErrTimeout, d.timeout)
	}
	return job.Text, nil
}

// Balance returns the account balance in USD.
func (d *DeathByCaptcha) Balance(ctx context.Context) (float64, error) {
	cents, err := d.client.Balance(ctx)
	if err != nil {
		return 0, err
	}
	return cents / 100, nil
}

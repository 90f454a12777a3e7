// Package captcha adapts the client to a provider-neutral Solver interface
// for token challenges raised during browser automation.
package captcha

import "context"

// Solver abstracts CAPTCHA solving services.
type Solver interface {
	// Solve submits a token challenge and returns the solution token.
	// siteKey is the challenge's public site key, pageURL the page showing it.
	Solve(ctx context.Context, siteKey, pageURL string) (token string, err error)

	// Balance returns the account balance in USD.
	Balance(ctx context.Context) (float64, error)
}

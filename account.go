package dbc

import (
	"context"

	"github.com/anatolykoptev/go-dbc/transport"
)

// Account exposes read-only account data.
type Account struct {
	transport transport.Transport
	record    func(op string, err error)
}

// NewAccount creates an account facade over t.
func NewAccount(t transport.Transport) *Account {
	return &Account{transport: t}
}

// User returns the authenticated account, or nil if the service returned none.
func (a *Account) User(ctx context.Context) (*AccountInfo, error) {
	info, err := a.transport.AccountInfo(ctx)
	if a.record != nil {
		a.record("user", err)
	}
	return info, err
}

// Balance returns the account balance in US cents.
func (a *Account) Balance(ctx context.Context) (float64, error) {
	info, err := a.User(ctx)
	if err != nil {
		return 0, err
	}
	if info == nil {
		return 0, transport.NewError(transport.NotFound, "user", "no account record", nil)
	}
	return info.BalanceCents, nil
}

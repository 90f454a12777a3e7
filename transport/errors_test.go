package transport

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	err := NewError(Rejected, "submit", "bad image", nil)
	wrapped := fmt.Errorf("upload: %w", err)

	assert.ErrorIs(t, wrapped, ErrRejected)
	assert.NotErrorIs(t, wrapped, ErrOverloaded)
}

func TestErrorUnwrapsCause(t *testing.T) {
	err := NewError(Unavailable, "fetch", "", io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, "dbc: fetch: unavailable: unexpected EOF", err.Error())
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
		ok   bool
	}{
		{"direct", NewError(NotFound, "report", "", nil), NotFound, true},
		{"wrapped", fmt.Errorf("x: %w", NewError(Unauthorized, "user", "", nil)), Unauthorized, true},
		{"plain", errors.New("boom"), 0, false},
		{"nil", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, ok := KindOf(tt.err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.kind, k)
		})
	}
}

func TestRetryableOnlyOverloaded(t *testing.T) {
	for _, k := range []Kind{InvalidPayload, Unauthorized, Rejected, Unavailable, NotFound} {
		assert.False(t, Retryable(NewError(k, "", "", nil)), k.String())
	}
	assert.True(t, Retryable(NewError(Overloaded, "submit", "", nil)))
}

func TestCredentials(t *testing.T) {
	tok := TokenCredentials("secret")
	require.NoError(t, tok.Validate())
	assert.True(t, tok.IsToken())
	assert.Equal(t, map[string]string{"authtoken": "secret"}, tok.Fields())

	up := Credentials{Username: "bob", Password: "pw"}
	assert.False(t, up.IsToken())
	assert.Equal(t, map[string]string{"username": "bob", "password": "pw"}, up.Fields())

	assert.Error(t, Credentials{Password: "pw"}.Validate())
	assert.Error(t, Credentials{Username: "bob"}.Validate())
}

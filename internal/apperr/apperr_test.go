package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Validation("empty"), KindValidation},
		{"auth", Auth("bad otp"), KindAuth},
		{"forbidden", Forbidden("nope"), KindForbidden},
		{"not found", NotFound("missing"), KindNotFound},
		{"limit", Limit("too many"), KindLimitExceeded},
		{"wrapped", fmt.Errorf("ctx: %w", Forbidden("x")), KindForbidden},
		{"plain", errors.New("boom"), KindInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestIs_MatchesOnKind(t *testing.T) {
	assert.ErrorIs(t, Limit("Maximum of 3 pinned messages allowed"), ErrLimitExceeded)
	assert.ErrorIs(t, fmt.Errorf("wrap: %w", NotFound("message not found")), ErrNotFound)
	assert.NotErrorIs(t, Forbidden("x"), ErrAuth)
}

func TestMessage_HidesInternalCause(t *testing.T) {
	err := Internal("load message", errors.New("db error: connection refused"))
	assert.Equal(t, "internal server error", Message(err))
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, "Message cannot be empty", Message(Validation("Message cannot be empty")))
}

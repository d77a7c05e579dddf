package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	t.Run("matches wrapped errors", func(t *testing.T) {
		err := fmt.Errorf("fetch commits: %w", NewNotFoundError("repository octo/missing"))

		assert.True(t, IsNotFound(err))
		assert.False(t, IsRateLimited(err))
		assert.Equal(t, ErrCodeNotFound, CodeOf(err))
	})

	t.Run("plain errors have no code", func(t *testing.T) {
		err := errors.New("boom")

		assert.Equal(t, ErrCode(""), CodeOf(err))
		assert.False(t, IsUnauthorized(err))
	})

	t.Run("unwrap exposes the cause", func(t *testing.T) {
		cause := errors.New("connection reset")
		err := NewUnavailableError("GET commits", cause)

		assert.True(t, errors.Is(err, cause))
		assert.True(t, IsUnavailable(err))
	})
}

func TestStatusText(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"input", NewBadRequestError("Invalid repository URL."), "Invalid repository URL."},
		{"not found", NewNotFoundError("repository octo/x"), "repository octo/x not found"},
		{"auth", NewUnauthorizedError("401"), "Invalid or expired token: 401"},
		{"exhausted", fmt.Errorf("probe: %w", NewRateLimitedError("all tokens have reached the limit")), "Request limit reached: all tokens have reached the limit"},
		{"unknown", errors.New("disk full"), "Unexpected error: disk full"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusText(tt.err))
		})
	}
}

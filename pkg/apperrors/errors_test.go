package apperrors

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
		{"nil", nil, ""},
		{"bad request", BadRequest("invalid email %q", "x"), KindBadRequest},
		{"wrapped queue full", fmt.Errorf("admission: %w", QueueFull("queue is full")), KindQueueFull},
		{"not found", NotFound("job %s not found", "0000000a"), KindNotFound},
		{"plain error", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestError_IsSentinels(t *testing.T) {
	err := fmt.Errorf("lookup: %w", NotFound("job missing"))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrQueueFull))

	assert.True(t, errors.Is(QueueFull("full"), ErrQueueFull))
	assert.True(t, errors.Is(Internal(errors.New("db down"), "failed"), ErrInternal))
}

func TestInternal_HidesCauseFromMessage(t *testing.T) {
	cause := errors.New("connection refused")
	err := Internal(cause, "parameter interning failed")

	assert.Equal(t, "parameter interning failed", MessageOf(err))
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)
}

func TestMessageOf_PlainError(t *testing.T) {
	assert.Equal(t, "internal error", MessageOf(errors.New("secret detail")))
}

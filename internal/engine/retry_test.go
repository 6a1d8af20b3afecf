package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/driprun/driprun/pkg/schema"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 30 * time.Second, MaxDelay: 2 * time.Minute}

	assert.Equal(t, 30*time.Second, p.Backoff(1))
	assert.Equal(t, time.Minute, p.Backoff(2))
	assert.Equal(t, 2*time.Minute, p.Backoff(3))
	assert.Equal(t, 2*time.Minute, p.Backoff(4), "capped at max delay")
	assert.Equal(t, 30*time.Second, p.Backoff(0), "attempt floor is 1")
}

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cancelled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"retryable engine error", schema.NewError(schema.ErrCodeDispatch, "smtp down"), true},
		{"definition error", schema.NewError(schema.ErrCodeDefinition, "bad step"), false},
		{"validation error", schema.NewError(schema.ErrCodeValidation, "bad input"), false},
		{"cycle ceiling", schema.NewError(schema.ErrCodeCycleExceeded, "looped"), false},
		{"wrapped engine error", schema.NewError(schema.ErrCodeStore, "busy").WithCause(errors.New("locked")), true},
		{"plain invalid", errors.New("invalid payload"), false},
		{"plain transient", errors.New("connection reset"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryableError(tc.err))
		})
	}
}

func TestRunTransitionTable(t *testing.T) {
	assert.True(t, CanTransitionRun(schema.RunStatusRunning, schema.RunStatusCompleted))
	assert.True(t, CanTransitionRun(schema.RunStatusRunning, schema.RunStatusFailed))
	assert.True(t, CanTransitionRun(schema.RunStatusRunning, schema.RunStatusCancelled))
	assert.False(t, CanTransitionRun(schema.RunStatusCompleted, schema.RunStatusRunning))
	assert.False(t, CanTransitionRun(schema.RunStatusCancelled, schema.RunStatusFailed))
}

func TestQueueTransitionTable(t *testing.T) {
	assert.True(t, CanTransitionQueueItem(schema.QueueStatusQueued, schema.QueueStatusProcessing))
	assert.True(t, CanTransitionQueueItem(schema.QueueStatusProcessing, schema.QueueStatusQueued), "retry path")
	assert.True(t, CanTransitionQueueItem(schema.QueueStatusProcessing, schema.QueueStatusDone))
	assert.True(t, CanTransitionQueueItem(schema.QueueStatusProcessing, schema.QueueStatusFailed))
	assert.False(t, CanTransitionQueueItem(schema.QueueStatusQueued, schema.QueueStatusDone))
	assert.False(t, CanTransitionQueueItem(schema.QueueStatusDone, schema.QueueStatusQueued))
}

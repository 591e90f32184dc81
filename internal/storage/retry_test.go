package storage

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransientConflictRecognizesSerializationAndDeadlock(t *testing.T) {
	assert.True(t, isTransientConflict(&pgconn.PgError{Code: "40001"}))
	assert.True(t, isTransientConflict(&pgconn.PgError{Code: "40P01"}))
	assert.False(t, isTransientConflict(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isTransientConflict(errors.New("not a pg error")))
}

func TestCommitWithRetryStopsOnNonTransientError(t *testing.T) {
	permanent := errors.New("disk full")
	calls := 0
	err := commitWithRetry(context.Background(), slog.Default(), "exp_1", 3, time.Millisecond, func() error {
		calls++
		return permanent
	})
	assert.Equal(t, permanent, err)
	assert.Equal(t, 1, calls)
}

func TestCommitWithRetrySucceedsAfterTransientConflicts(t *testing.T) {
	calls := 0
	err := commitWithRetry(context.Background(), slog.Default(), "exp_1", 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestCommitWithRetryGivesUpAfterMaxRetries(t *testing.T) {
	conflict := &pgconn.PgError{Code: "40P01"}
	calls := 0
	err := commitWithRetry(context.Background(), slog.Default(), "exp_1", 2, time.Millisecond, func() error {
		calls++
		return conflict
	})
	assert.Equal(t, conflict, err)
	assert.Equal(t, 3, calls) // initial attempt + 2 retries
}

func TestCommitWithRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := commitWithRetry(ctx, slog.Default(), "exp_1", 3, time.Millisecond, func() error {
		return &pgconn.PgError{Code: "40001"}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

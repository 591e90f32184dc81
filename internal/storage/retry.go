package storage

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// transientConflictCodes are the Postgres SQLSTATE codes a transaction-window
// commit retries on rather than surfacing to the caller: both mean another
// session raced the same rows inside the window, not a durable failure.
var transientConflictCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
}

func isTransientConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return transientConflictCodes[pgErr.Code]
}

// commitWithRetry runs commit, retrying with jittered exponential backoff
// while it keeps failing on a transient conflict at the transaction-window
// boundary (spec §4.2's commit-on-wall-clock-advance). dbName is only used
// to label the warning logged on each retry, so an operator watching commit
// contention across many experiment databases can tell them apart.
func commitWithRetry(ctx context.Context, logger *slog.Logger, dbName string, maxRetries int, baseDelay time.Duration, commit func() error) error {
	var err error
	for attempt := range maxRetries + 1 {
		err = commit()
		if err == nil || !isTransientConflict(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		jitter := time.Duration(rand.Int64N(int64(baseDelay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		logger.Warn("storage: transaction window commit hit a transient conflict, retrying",
			"database", dbName, "attempt", attempt+1, "max_retries", maxRetries, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseDelay + jitter):
		}
		baseDelay *= 2
	}
	return err
}

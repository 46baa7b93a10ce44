package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/yungbote/stairway/flight"
	"github.com/yungbote/stairway/pkg/logger"
)

const (
	maxTransactionRetries = 20
	retryBackoffFloor     = 100 * time.Millisecond
	retryBackoffSpread    = 500 * time.Millisecond
)

var (
	serializableTx  = &sql.TxOptions{Isolation: sql.LevelSerializable}
	readCommittedTx = &sql.TxOptions{Isolation: sql.LevelReadCommitted}
)

// transientError classifies storage failures that are safe to retry:
// serialization failures, deadlocks, lock waits, and connection-class
// SQLSTATEs. Context cancellation is never transient.
func transientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := strings.TrimSpace(pgErr.Code)
		switch code {
		case "40001", "40P01", "55P03", "57P03":
			return true // serialization / deadlock / lock_not_available / cannot_connect_now
		}
		// Class 08: connection exceptions.
		if strings.HasPrefix(code, "08") {
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadlock"),
		strings.Contains(msg, "serialization"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"):
		return true
	}
	return false
}

func duplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.TrimSpace(pgErr.Code) == "23505" {
		return true
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(strings.ToLower(err.Error()), "duplicate key")
}

// runTransaction executes fn inside one transaction at the given isolation,
// retrying on transient storage errors with random-interval backoff up to a
// bounded attempt count. Non-transient errors surface immediately.
func runTransaction(ctx context.Context, log *logger.Logger, db *gorm.DB, opts *sql.TxOptions, fn func(tx *gorm.DB) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxTransactionRetries; attempt++ {
		lastErr = db.WithContext(ctx).Transaction(fn, opts)
		if lastErr == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !transientError(lastErr) {
			return lastErr
		}
		backoff := retryBackoffFloor + time.Duration(rand.Int63n(int64(retryBackoffSpread)))
		log.Debug("retrying transaction after transient storage error",
			"attempt", attempt,
			"backoff", backoff,
			"error", lastErr,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("%w: transient retries exhausted: %v", flight.ErrDatabaseOperation, lastErr)
}

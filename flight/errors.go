package flight

import (
	"errors"
	"strings"
)

var (
	// ErrDuplicateFlightID indicates a submit with a flight id that already
	// exists in the shared store.
	ErrDuplicateFlightID = errors.New("duplicate flight id")
	// ErrFlightNotFound indicates a lookup for an unknown flight id.
	ErrFlightNotFound = errors.New("flight not found")
	// ErrInvalidTransition indicates a status transition the journal refuses.
	ErrInvalidTransition = errors.New("invalid flight status transition")
	// ErrShuttingDown indicates the engine is quieting down and refuses work.
	ErrShuttingDown = errors.New("stairway is shutting down")
	// ErrMapSealed indicates a write to an immutable parameter map.
	ErrMapSealed = errors.New("flight map is sealed")
	// ErrRetry classifies a step panic as retryable. Step bodies that prefer
	// panicking over returning ResultRetry wrap their error with Retryable.
	ErrRetry = errors.New("retryable step failure")
	// ErrDatabaseOperation indicates a permanent storage failure surfaced to
	// the caller after transient retries were exhausted.
	ErrDatabaseOperation = errors.New("database operation failed")
)

// Retryable tags err so a panic carrying it classifies as FAILURE_RETRY.
func Retryable(err error) error {
	if err == nil {
		return ErrRetry
	}
	return errors.Join(ErrRetry, err)
}

// RecoveredError is an error rebuilt from a serialized exception. The
// original type is gone; only the message survives the round trip.
type RecoveredError struct {
	Message string
}

func (e *RecoveredError) Error() string {
	if strings.TrimSpace(e.Message) == "" {
		return "flight error"
	}
	return e.Message
}

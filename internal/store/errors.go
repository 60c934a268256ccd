package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNoEvents indicates an attempt to append an empty batch.
	ErrNoEvents = errors.New("no events to append")

	// ErrStorageUnavailable marks transport or backend failures. Callers
	// retry with backoff; the store never masks it. Detected with
	// errors.Is on wrapped adapter errors.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ConcurrencyError reports an expected-vs-actual version mismatch on
// append. It is recoverable by reload and retry, always surfaced to the
// caller and never retried internally.
type ConcurrencyError struct {
	AggregateID string
	Expected    int64
	Actual      int64
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrency conflict on aggregate %q: expected version %d, actual %d",
		e.AggregateID, e.Expected, e.Actual)
}

// IsConcurrencyError reports whether err carries a *ConcurrencyError.
func IsConcurrencyError(err error) bool {
	var target *ConcurrencyError
	return errors.As(err, &target)
}

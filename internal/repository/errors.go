package repository

import (
	"errors"
	"fmt"
)

// SnapshotInconsistencyError reports a loaded snapshot whose version
// exceeds the event stream's current head. That indicates corruption, so
// materialization halts instead of guessing.
type SnapshotInconsistencyError struct {
	AggregateID     string
	SnapshotVersion int64
	StreamVersion   int64
}

func (e *SnapshotInconsistencyError) Error() string {
	return fmt.Sprintf("snapshot inconsistency on aggregate %q: snapshot version %d exceeds stream version %d",
		e.AggregateID, e.SnapshotVersion, e.StreamVersion)
}

// IsSnapshotInconsistency reports whether err carries a
// *SnapshotInconsistencyError.
func IsSnapshotInconsistency(err error) bool {
	var target *SnapshotInconsistencyError
	return errors.As(err, &target)
}

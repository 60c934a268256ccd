package codec

import (
	"errors"
	"fmt"
)

// UnknownEventTypeError is returned when an envelope references an event
// type with no registration. The event cannot be reconstructed; callers
// must quarantine it rather than drop it silently.
type UnknownEventTypeError struct {
	EventType string
}

func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("unknown event type %q: no decoder registered", e.EventType)
}

// UpcastChainBrokenError is returned when a payload upgrade path is missing
// an intermediate step. FromVersion is the step that has no upcaster;
// TargetVersion is the registered current schema version.
type UpcastChainBrokenError struct {
	EventType     string
	FromVersion   int
	TargetVersion int
}

func (e *UpcastChainBrokenError) Error() string {
	return fmt.Sprintf("upcast chain broken for event type %q: no upcaster from schema version %d (target %d)",
		e.EventType, e.FromVersion, e.TargetVersion)
}

// IsUnknownEventType reports whether err is an UnknownEventTypeError.
func IsUnknownEventType(err error) bool {
	var target *UnknownEventTypeError
	return errors.As(err, &target)
}

// IsUpcastChainBroken reports whether err is an UpcastChainBrokenError.
func IsUpcastChainBroken(err error) bool {
	var target *UpcastChainBrokenError
	return errors.As(err, &target)
}

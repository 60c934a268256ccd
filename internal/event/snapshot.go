package event

import (
	"fmt"
	"time"
)

// Snapshot is a cached materialization of aggregate state at a specific
// version, used to bound replay cost. A snapshot at version V is valid only
// if folding events 1..V deterministically reproduces State. Multiple
// snapshots may exist per aggregate; readers prefer the highest version not
// exceeding the desired read version.
type Snapshot struct {
	AggregateID   string    `json:"aggregate_id"`
	AggregateType string    `json:"aggregate_type"`
	Version       int64     `json:"version"`
	State         []byte    `json:"state"`
	CreatedAt     time.Time `json:"created_at"`
}

// Validate ensures the snapshot is storable.
func (s *Snapshot) Validate() error {
	if s.AggregateID == "" {
		return fmt.Errorf("aggregate_id is required")
	}
	if s.Version < 1 {
		return fmt.Errorf("version must be >= 1, got %d", s.Version)
	}
	if len(s.State) == 0 {
		return fmt.Errorf("state is required")
	}
	return nil
}

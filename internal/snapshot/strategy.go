package snapshot

import (
	"math"
	"sync"
	"time"
)

// Strategy decides whether an aggregate is due for a new snapshot after a
// successful append. The core only needs the boolean; which variant runs
// and with which thresholds is a configuration concern.
type Strategy interface {
	ShouldSnapshot(aggregateID string, currentVersion, eventsSinceLastSnapshot int64) bool
}

// Observer is implemented by strategies that refine their decision from
// runtime signals. The repository feeds it; plain strategies ignore it.
type Observer interface {
	// RecordAccess notes a load of the aggregate.
	RecordAccess(aggregateID string)
	// RecordPayload notes the payload size of an appended event.
	RecordPayload(aggregateID string, size int)
}

// DefaultSimpleThreshold is the event count that triggers a snapshot when
// no threshold is configured.
const DefaultSimpleThreshold = 10

// SimpleStrategy snapshots every fixed number of events.
type SimpleStrategy struct {
	threshold int64
}

// NewSimpleStrategy creates the fixed-threshold variant. A non-positive
// threshold falls back to DefaultSimpleThreshold.
func NewSimpleStrategy(threshold int64) *SimpleStrategy {
	if threshold <= 0 {
		threshold = DefaultSimpleThreshold
	}
	return &SimpleStrategy{threshold: threshold}
}

func (s *SimpleStrategy) ShouldSnapshot(_ string, _ int64, eventsSinceLastSnapshot int64) bool {
	return eventsSinceLastSnapshot >= s.threshold
}

// TimeBasedStrategy snapshots when the wall-clock interval since the last
// snapshot decision for that aggregate has elapsed, ignoring event count
// entirely.
type TimeBasedStrategy struct {
	interval time.Duration

	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewTimeBasedStrategy creates the wall-clock variant.
func NewTimeBasedStrategy(interval time.Duration) *TimeBasedStrategy {
	return &TimeBasedStrategy{
		interval: interval,
		last:     make(map[string]time.Time),
		now:      time.Now,
	}
}

func (s *TimeBasedStrategy) ShouldSnapshot(aggregateID string, _ int64, eventsSinceLastSnapshot int64) bool {
	if eventsSinceLastSnapshot <= 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	last, seen := s.last[aggregateID]
	if !seen {
		// First sighting starts the clock instead of snapshotting a
		// possibly single-event aggregate immediately.
		s.last[aggregateID] = now
		return false
	}
	if now.Sub(last) < s.interval {
		return false
	}
	s.last[aggregateID] = now
	return true
}

// AdaptiveConfig tunes the adaptive variant. The weights are configuration,
// not a canonical formula: any monotonic combination where more
// complexity, more access, or more elapsed time lowers the threshold is
// acceptable.
type AdaptiveConfig struct {
	BaseThreshold int64
	MinThreshold  int64
	MaxThreshold  int64

	// ComplexityWeight scales the normalized historical payload size
	// (EWMA, 1.0 at 1 KiB per event).
	ComplexityWeight float64
	// AccessWeight scales the normalized load frequency (1.0 at 10 loads
	// since the last snapshot).
	AccessWeight float64
	// TimeWeight scales elapsed time since the last snapshot (1.0 at
	// ReferenceAge).
	TimeWeight float64

	// ReferenceAge is the elapsed time that counts as one unit of time
	// pressure.
	ReferenceAge time.Duration
}

// DefaultAdaptiveConfig returns balanced defaults.
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		BaseThreshold:    50,
		MinThreshold:     5,
		MaxThreshold:     200,
		ComplexityWeight: 1.0,
		AccessWeight:     1.0,
		TimeWeight:       1.0,
		ReferenceAge:     10 * time.Minute,
	}
}

type adaptiveState struct {
	payloadEWMA  float64
	accesses     int64
	lastSnapshot time.Time
}

// AdaptiveStrategy computes a dynamic threshold per aggregate from payload
// complexity, access frequency and elapsed time, clamped to
// [MinThreshold, MaxThreshold]. Higher pressure on any signal lowers the
// threshold, so hot or heavy aggregates snapshot more often.
type AdaptiveStrategy struct {
	config AdaptiveConfig

	mu    sync.Mutex
	state map[string]*adaptiveState
	now   func() time.Time
}

// ewmaAlpha is the smoothing factor for the per-aggregate payload size
// average.
const ewmaAlpha = 0.2

// NewAdaptiveStrategy creates the adaptive variant. Zero config fields fall
// back to the defaults.
func NewAdaptiveStrategy(config AdaptiveConfig) *AdaptiveStrategy {
	def := DefaultAdaptiveConfig()
	if config.BaseThreshold <= 0 {
		config.BaseThreshold = def.BaseThreshold
	}
	if config.MinThreshold <= 0 {
		config.MinThreshold = def.MinThreshold
	}
	if config.MaxThreshold <= 0 {
		config.MaxThreshold = def.MaxThreshold
	}
	if config.MaxThreshold < config.MinThreshold {
		config.MaxThreshold = config.MinThreshold
	}
	if config.ReferenceAge <= 0 {
		config.ReferenceAge = def.ReferenceAge
	}
	return &AdaptiveStrategy{
		config: config,
		state:  make(map[string]*adaptiveState),
		now:    time.Now,
	}
}

func (s *AdaptiveStrategy) ShouldSnapshot(aggregateID string, _ int64, eventsSinceLastSnapshot int64) bool {
	if eventsSinceLastSnapshot <= 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateFor(aggregateID)
	threshold := s.threshold(st)
	if eventsSinceLastSnapshot < threshold {
		return false
	}

	st.accesses = 0
	st.lastSnapshot = s.now()
	return true
}

// Threshold exposes the currently computed threshold for an aggregate,
// mainly for observability.
func (s *AdaptiveStrategy) Threshold(aggregateID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threshold(s.stateFor(aggregateID))
}

// threshold computes base / (1 + weighted pressure), clamped. Caller must
// hold mu.
func (s *AdaptiveStrategy) threshold(st *adaptiveState) int64 {
	complexity := st.payloadEWMA / 1024.0
	access := float64(st.accesses) / 10.0
	elapsed := 0.0
	if !st.lastSnapshot.IsZero() {
		elapsed = s.now().Sub(st.lastSnapshot).Seconds() / s.config.ReferenceAge.Seconds()
	}

	pressure := s.config.ComplexityWeight*complexity +
		s.config.AccessWeight*access +
		s.config.TimeWeight*elapsed

	raw := float64(s.config.BaseThreshold) / (1.0 + pressure)
	threshold := int64(math.Round(raw))
	if threshold < s.config.MinThreshold {
		return s.config.MinThreshold
	}
	if threshold > s.config.MaxThreshold {
		return s.config.MaxThreshold
	}
	return threshold
}

// RecordAccess implements Observer.
func (s *AdaptiveStrategy) RecordAccess(aggregateID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateFor(aggregateID).accesses++
}

// RecordPayload implements Observer.
func (s *AdaptiveStrategy) RecordPayload(aggregateID string, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateFor(aggregateID)
	if st.payloadEWMA == 0 {
		st.payloadEWMA = float64(size)
		return
	}
	st.payloadEWMA = ewmaAlpha*float64(size) + (1-ewmaAlpha)*st.payloadEWMA
}

// stateFor returns the per-aggregate state, creating it on first sight.
// Caller must hold mu.
func (s *AdaptiveStrategy) stateFor(aggregateID string) *adaptiveState {
	st, ok := s.state[aggregateID]
	if !ok {
		st = &adaptiveState{lastSnapshot: s.now()}
		s.state[aggregateID] = st
	}
	return st
}

var (
	_ Strategy = (*SimpleStrategy)(nil)
	_ Strategy = (*TimeBasedStrategy)(nil)
	_ Strategy = (*AdaptiveStrategy)(nil)
	_ Observer = (*AdaptiveStrategy)(nil)
)

package event

// Stream is an ordered, finite slice of envelopes for one aggregate,
// loaded within an inclusive version range. It is constructed on read and
// discarded after use; it carries no write authority. Filtering and slicing
// operate on the already-loaded envelopes without touching storage.
type Stream struct {
	aggregateID string
	envelopes   []Envelope
}

// NewStream wraps envelopes already ordered by version ascending.
func NewStream(aggregateID string, envelopes []Envelope) *Stream {
	return &Stream{aggregateID: aggregateID, envelopes: envelopes}
}

// EmptyStream returns a stream with no envelopes. Hot-store misses return
// this rather than an error so the orchestrator can fall back.
func EmptyStream(aggregateID string) *Stream {
	return &Stream{aggregateID: aggregateID}
}

// AggregateID returns the aggregate this stream belongs to.
func (s *Stream) AggregateID() string { return s.aggregateID }

// Envelopes returns the underlying envelopes in version order.
// Callers must not mutate the returned slice.
func (s *Stream) Envelopes() []Envelope { return s.envelopes }

// Len returns the number of envelopes in the stream.
func (s *Stream) Len() int { return len(s.envelopes) }

// IsEmpty reports whether the stream holds no envelopes.
func (s *Stream) IsEmpty() bool { return len(s.envelopes) == 0 }

// FirstVersion returns the lowest version in the stream, 0 if empty.
func (s *Stream) FirstVersion() int64 {
	if len(s.envelopes) == 0 {
		return 0
	}
	return s.envelopes[0].Version
}

// LastVersion returns the highest version in the stream, 0 if empty.
func (s *Stream) LastVersion() int64 {
	if len(s.envelopes) == 0 {
		return 0
	}
	return s.envelopes[len(s.envelopes)-1].Version
}

// FilterByType returns a new stream holding only envelopes whose event type
// is one of the given types. Order is preserved.
func (s *Stream) FilterByType(eventTypes ...string) *Stream {
	if len(eventTypes) == 0 {
		return s
	}
	want := make(map[string]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		want[t] = struct{}{}
	}
	var filtered []Envelope
	for _, env := range s.envelopes {
		if _, ok := want[env.EventType]; ok {
			filtered = append(filtered, env)
		}
	}
	return &Stream{aggregateID: s.aggregateID, envelopes: filtered}
}

// Slice returns a new stream restricted to the inclusive version range
// [fromVersion, toVersion]. toVersion = 0 means open-ended.
func (s *Stream) Slice(fromVersion, toVersion int64) *Stream {
	var sliced []Envelope
	for _, env := range s.envelopes {
		if env.Version < fromVersion {
			continue
		}
		if toVersion > 0 && env.Version > toVersion {
			break
		}
		sliced = append(sliced, env)
	}
	return &Stream{aggregateID: s.aggregateID, envelopes: sliced}
}

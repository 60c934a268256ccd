// Package codec converts typed domain events to and from their envelope
// representation. Event types are registered explicitly in a registry that
// maps the event type tag to a factory, the current schema version, and a
// chain of upcasters, populated at startup. There is no reflection-driven
// type discovery: an unregistered type is a hard error.
package codec

import (
	"fmt"
	"sync"
)

// Event is a typed domain event. Implementations are plain structs with
// JSON-serializable fields; EventType returns the stable registry tag.
type Event interface {
	EventType() string
}

// Upcaster migrates a structured payload from one schema version to the
// next. Upcasters are pure: they must not mutate the input map and must be
// deterministic for a given input.
type Upcaster func(payload map[string]any) (map[string]any, error)

type registration struct {
	factory       func() Event
	schemaVersion int
	upcasters     map[int]Upcaster // keyed by the version they upgrade FROM
}

// Registry maps event type tags to decoders and upcaster chains.
// Registration happens at startup; lookups are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*registration
}

// NewRegistry creates an empty event type registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*registration)}
}

// Register adds an event type at the given current schema version.
// The factory must return a fresh zero value on every call.
// Panics on nil factories and duplicate registrations: both are programming
// errors that must surface at startup, not at read time.
func (r *Registry) Register(eventType string, schemaVersion int, factory func() Event) {
	if factory == nil {
		panic(fmt.Sprintf("codec: nil factory for event type %q", eventType))
	}
	if schemaVersion < 1 {
		panic(fmt.Sprintf("codec: schema version must be >= 1 for event type %q, got %d", eventType, schemaVersion))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[eventType]; exists {
		panic(fmt.Sprintf("codec: event type %q already registered", eventType))
	}
	r.types[eventType] = &registration{
		factory:       factory,
		schemaVersion: schemaVersion,
		upcasters:     make(map[int]Upcaster),
	}
}

// RegisterUpcaster adds the upgrade step fromVersion -> fromVersion+1 for
// an already registered event type. Panics if the type is unknown or the
// step is out of range, for the same startup-failure reason as Register.
func (r *Registry) RegisterUpcaster(eventType string, fromVersion int, fn Upcaster) {
	if fn == nil {
		panic(fmt.Sprintf("codec: nil upcaster for event type %q", eventType))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.types[eventType]
	if !ok {
		panic(fmt.Sprintf("codec: cannot register upcaster for unknown event type %q", eventType))
	}
	if fromVersion < 1 || fromVersion >= reg.schemaVersion {
		panic(fmt.Sprintf("codec: upcaster from version %d out of range for event type %q (current %d)",
			fromVersion, eventType, reg.schemaVersion))
	}
	if _, exists := reg.upcasters[fromVersion]; exists {
		panic(fmt.Sprintf("codec: upcaster from version %d already registered for event type %q", fromVersion, eventType))
	}
	reg.upcasters[fromVersion] = fn
}

// SchemaVersion returns the current registered schema version for an event
// type, or an UnknownEventTypeError.
func (r *Registry) SchemaVersion(eventType string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.types[eventType]
	if !ok {
		return 0, &UnknownEventTypeError{EventType: eventType}
	}
	return reg.schemaVersion, nil
}

func (r *Registry) lookup(eventType string) (*registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.types[eventType]
	if !ok {
		return nil, &UnknownEventTypeError{EventType: eventType}
	}
	return reg, nil
}

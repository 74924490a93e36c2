// Package events defines the versioned domain-event base type shared by
// every cross-module event in the system (call.ended, call.initiated,
// user.blocked, media.uploaded, ...), and the upgrade/downgrade strategy
// registry that lets producers and consumers evolve independently
// (spec.md §4.6).
package events

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Base carries the fields every domain event must have. Event is
// immutable after construction (spec.md §3 "Versioned Domain Event").
type Base struct {
	EventID       uuid.UUID `json:"eventId"`
	Version       int       `json:"version"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source"`
	AggregateID   string    `json:"aggregateId"`
	CorrelationID string    `json:"correlationId,omitempty"`
	EventType     string    `json:"eventType"`
}

// Event is satisfied by every versioned domain event.
type Event interface {
	Base() Base
	// Validate self-checks the event's invariants (non-empty aggregate id,
	// known event type, version >= 1). NewBase does not call it; it runs
	// only when invoked explicitly.
	Validate() error
}

// NewBase builds a Base with a fresh event id and the current timestamp.
// now is injected so callers (and their callers, all the way down to the
// call-history finalizer) can use internal/clock for deterministic tests.
func NewBase(now time.Time, source, aggregateID, eventType string, version int, correlationID string) Base {
	return Base{
		EventID:       uuid.New(),
		Version:       version,
		Timestamp:     now,
		Source:        source,
		AggregateID:   aggregateID,
		CorrelationID: correlationID,
		EventType:     eventType,
	}
}

// Validate checks the invariants common to every event: an event id, a
// non-empty event type and aggregate id, and version >= 1.
func (b Base) Validate() error {
	if b.EventID == uuid.Nil {
		return errors.New("events: missing event id")
	}
	if b.EventType == "" {
		return errors.New("events: missing event type")
	}
	if b.AggregateID == "" {
		return errors.New("events: missing aggregate id")
	}
	if b.Version < 1 {
		return errors.New("events: version must be >= 1")
	}
	return nil
}

// Envelope is the wire shape used to persist/transmit an event alongside
// its type-specific payload, with an `extra` sidecar map for
// forward-compatible upgrades (spec.md §9 "Dynamic payloads"). Decode
// fills Extra only from a literal "extra" key; any other unknown
// top-level field is dropped.
type Envelope struct {
	Base
	Payload json.RawMessage   `json:"payload"`
	Extra   map[string]any    `json:"extra,omitempty"`
}

// Encode marshals an Event's Base plus a type-specific payload into an
// Envelope's wire JSON.
func Encode(e Event, payload any) ([]byte, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	env := Envelope{Base: e.Base(), Payload: p}
	return json.Marshal(env)
}

// Decode parses raw wire JSON into an Envelope.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

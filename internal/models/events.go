package models

import (
	"time"

	"github.com/google/uuid"
)

// ProcessedEventStatus is the outcome recorded for one
// (eventId, handlerId) pair (spec.md §3 "Processed-Event Ledger Entry").
type ProcessedEventStatus string

const (
	ProcessedEventSucceeded ProcessedEventStatus = "succeeded"
	ProcessedEventFailed    ProcessedEventStatus = "failed"
)

// ProcessedEvent is the idempotency gate: a handler probes this table
// before acting on an event, and records its outcome afterward. Unique
// on (event_id, handler_id).
type ProcessedEvent struct {
	EventID   uuid.UUID            `gorm:"type:uuid;primary_key" json:"event_id"`
	HandlerID string               `gorm:"primary_key;size:100" json:"handler_id"`
	Status    ProcessedEventStatus `gorm:"size:10;not null" json:"status"`
	LastError string               `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ProcessedEvent) TableName() string {
	return "processed_events"
}

// DomainEventLogEntry is the durable, append-mostly log of critical
// domain events (spec.md §3 "Versioned Domain Event", §6 "Persisted
// event log"). Unique on event_id; upserts are idempotent.
type DomainEventLogEntry struct {
	EventID       uuid.UUID `gorm:"type:uuid;primary_key" json:"event_id"`
	Version       int       `gorm:"not null" json:"version"`
	EventType     string    `gorm:"size:100;not null;index" json:"event_type"`
	Source        string    `gorm:"size:100;not null" json:"source"`
	AggregateID   string    `gorm:"size:255;not null;index" json:"aggregate_id"`
	CorrelationID string    `gorm:"size:255;index" json:"correlation_id,omitempty"`
	Payload       JSONB     `gorm:"type:jsonb" json:"payload"`
	Timestamp     time.Time `gorm:"not null" json:"timestamp"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (DomainEventLogEntry) TableName() string {
	return "domain_event_log"
}

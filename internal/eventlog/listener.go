// Package eventlog implements the listener that writes critical domain
// events to a durable log, unique by event id (spec.md §2 "Domain-Event
// Persistence", §6 "Persisted event log").
package eventlog

import (
	"context"
	"encoding/json"

	"github.com/zerodha/logf"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nyife/rtcore/internal/events"
	"github.com/nyife/rtcore/internal/idempotency"
	"github.com/nyife/rtcore/internal/models"
)

// HandlerID is this listener's identity in the processed-event ledger.
const HandlerID = "domain-event-persistence"

// Listener persists every event it receives to the durable event log.
// It is registered against every topic the application considers
// critical; the bus's per-listener isolation means a write failure here
// never blocks sibling listeners.
type Listener struct {
	db     *gorm.DB
	ledger *idempotency.Ledger
	log    logf.Logger
}

// New creates a Listener.
func New(db *gorm.DB, ledger *idempotency.Ledger, log logf.Logger) *Listener {
	return &Listener{db: db, ledger: ledger, log: log}
}

// Handle upserts env into the durable event log, gated by the
// idempotency ledger so at-least-once redelivery is a no-op
// (spec.md §8).
func (l *Listener) Handle(env events.Envelope) error {
	ctx := context.Background()
	return l.ledger.Guard(ctx, env.EventID, HandlerID, true, func() error {
		var payload models.JSONB
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				l.log.Warn("eventlog: payload is not a JSON object, storing raw", "event_id", env.EventID, "error", err)
				payload = models.JSONB{"_raw": json.RawMessage(env.Payload)}
			}
		}

		entry := models.DomainEventLogEntry{
			EventID:       env.EventID,
			Version:       env.Version,
			EventType:     env.EventType,
			Source:        env.Source,
			AggregateID:   env.AggregateID,
			CorrelationID: env.CorrelationID,
			Payload:       payload,
			Timestamp:     env.Timestamp,
		}

		return l.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).Create(&entry).Error
	})
}

// Package idempotency implements the processed-event ledger: a
// persistent (eventId, handlerId) record gating replay of at-least-once
// delivered events (spec.md §4.6, §8 "Processing an event twice with the
// same (eventId, handlerId) is a no-op").
package idempotency

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/zerodha/logf"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nyife/rtcore/internal/models"
)

// Ledger gates handler execution on (eventId, handlerId).
type Ledger struct {
	db  *gorm.DB
	log logf.Logger
}

// New creates a Ledger backed by db.
func New(db *gorm.DB, log logf.Logger) *Ledger {
	return &Ledger{db: db, log: log}
}

// AlreadyProcessed reports whether (eventID, handlerID) has a terminal
// ledger entry — the idempotency probe every side-effecting listener
// performs before acting (spec.md §4.6).
func (l *Ledger) AlreadyProcessed(ctx context.Context, eventID uuid.UUID, handlerID string) (bool, error) {
	var entry models.ProcessedEvent
	err := l.db.WithContext(ctx).
		Where("event_id = ? AND handler_id = ?", eventID, handlerID).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecordSuccess upserts a succeeded entry for (eventID, handlerID).
func (l *Ledger) RecordSuccess(ctx context.Context, eventID uuid.UUID, handlerID string) error {
	entry := models.ProcessedEvent{
		EventID:   eventID,
		HandlerID: handlerID,
		Status:    models.ProcessedEventSucceeded,
	}
	return l.upsert(ctx, entry)
}

// RecordFailure upserts a failed entry for (eventID, handlerID), keeping
// the error for diagnostics. A failed entry still satisfies
// AlreadyProcessed: spec.md §9's open question "does a failed entry
// block future retries?" is ratified here as yes — non-critical
// listeners acknowledge-and-record rather than replay forever (spec.md
// §4.6, §7), so a failed terminal entry is as final as a succeeded one.
// Callers that must retry failures use a different handler id per
// attempt generation, or clear the entry explicitly.
func (l *Ledger) RecordFailure(ctx context.Context, eventID uuid.UUID, handlerID string, cause error) error {
	entry := models.ProcessedEvent{
		EventID:   eventID,
		HandlerID: handlerID,
		Status:    models.ProcessedEventFailed,
		LastError: cause.Error(),
	}
	return l.upsert(ctx, entry)
}

func (l *Ledger) upsert(ctx context.Context, entry models.ProcessedEvent) error {
	return l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}, {Name: "handler_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "last_error", "updated_at"}),
	}).Create(&entry).Error
}

// Guard runs fn exactly once per (eventID, handlerID), probing and
// recording against the ledger around it. If fn returns an error, the
// failure is recorded but Guard still returns nil unless reThrow is
// true — mirroring spec.md §4.6/§7's "handlers document whether they
// re-throw" to avoid poison-loop amplification on non-critical paths.
func (l *Ledger) Guard(ctx context.Context, eventID uuid.UUID, handlerID string, reThrow bool, fn func() error) error {
	done, err := l.AlreadyProcessed(ctx, eventID, handlerID)
	if err != nil {
		return err
	}
	if done {
		l.log.Debug("idempotency: skipping already-processed event", "event_id", eventID, "handler_id", handlerID)
		return nil
	}

	if err := fn(); err != nil {
		if recErr := l.RecordFailure(ctx, eventID, handlerID, err); recErr != nil {
			l.log.Error("idempotency: failed to record failure", "error", recErr, "event_id", eventID, "handler_id", handlerID)
		}
		if reThrow {
			return err
		}
		return nil
	}

	return l.RecordSuccess(ctx, eventID, handlerID)
}

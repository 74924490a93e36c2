package callhistory

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nyife/rtcore/internal/apperr"
	"github.com/nyife/rtcore/internal/cache"
	"github.com/nyife/rtcore/internal/models"
)

// MissedCount returns the number of calls userID has missed since their
// last viewed timestamp, serving from cache and falling back to a
// database count on a miss (spec.md §3 "Missed-Call Badge State",
// §4.2 "Missed calls count").
func (c *Core) MissedCount(ctx context.Context, userID string) (int64, error) {
	if raw, err := c.cache.Get(ctx, missedCountKey(userID)); err == nil {
		return int64(binary.BigEndian.Uint64(raw)), nil
	} else if !errors.Is(err, cache.ErrNotFound) {
		return 0, apperr.Wrap(apperr.Internal, "failed to read missed-call count cache", err)
	}

	lastViewed, err := c.lastViewedAt(ctx, userID)
	if err != nil {
		return 0, err
	}

	id, err := uuid.Parse(userID)
	if err != nil {
		return 0, apperr.Wrap(apperr.BadInput, "invalid user id", err)
	}

	var count int64
	err = c.db.WithContext(ctx).
		Model(&models.CallParticipant{}).
		Joins("JOIN call_history_records ON call_history_records.id = call_participants.call_history_record_id").
		Where("call_participants.user_id = ?", id).
		Where("call_participants.status = ?", models.ParticipantMissed).
		Where("call_history_records.started_at > ?", lastViewed).
		Count(&count).Error
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, "failed to count missed calls", err)
	}

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(count))
	if err := c.cache.Set(ctx, missedCountKey(userID), buf, c.cfg.MissedCountTTL); err != nil {
		c.log.Error("callhistory: failed to cache missed-call count", "error", err, "user_id", userID)
	}

	return count, nil
}

// MarkViewed records now as userID's last-viewed timestamp, durably and
// in cache, and invalidates the cached count so the next read recomputes
// against the new cutoff (spec.md §4.2 "Mark missed calls viewed").
func (c *Core) MarkViewed(ctx context.Context, userID string) error {
	id, err := uuid.Parse(userID)
	if err != nil {
		return apperr.Wrap(apperr.BadInput, "invalid user id", err)
	}

	now := c.clock.Now()
	state := models.MissedCallViewState{UserID: id, LastViewedAt: now}
	if err := c.db.WithContext(ctx).Save(&state).Error; err != nil {
		return apperr.Wrap(apperr.Internal, "failed to persist missed-call viewed state", err)
	}

	buf, err := now.MarshalBinary()
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to encode viewed timestamp", err)
	}
	if err := c.cache.Set(ctx, missedViewedKey(userID), buf, c.cfg.MissedViewedTTL); err != nil {
		c.log.Error("callhistory: failed to cache missed-call viewed state", "error", err, "user_id", userID)
	}
	if err := c.cache.Delete(ctx, missedCountKey(userID)); err != nil {
		c.log.Error("callhistory: failed to invalidate missed-call count cache", "error", err, "user_id", userID)
	}
	return nil
}

func (c *Core) lastViewedAt(ctx context.Context, userID string) (time.Time, error) {
	if raw, err := c.cache.Get(ctx, missedViewedKey(userID)); err == nil {
		var t time.Time
		if err := t.UnmarshalBinary(raw); err == nil {
			return t, nil
		}
	}

	id, err := uuid.Parse(userID)
	if err != nil {
		return time.Time{}, apperr.Wrap(apperr.BadInput, "invalid user id", err)
	}

	var state models.MissedCallViewState
	err = c.db.WithContext(ctx).Where("user_id = ?", id).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, apperr.Wrap(apperr.Internal, "failed to load missed-call viewed state", err)
	}
	return state.LastViewedAt, nil
}

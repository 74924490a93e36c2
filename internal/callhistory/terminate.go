package callhistory

import (
	"context"

	"github.com/nyife/rtcore/internal/apperr"
	"github.com/nyife/rtcore/internal/models"
)

// TerminateBetween tears down any in-progress call between userA and
// userB without writing a CallHistoryRecord, used when an external
// block/privacy decision must end a call immediately (spec.md §4.2
// "Terminate between users", §1 "privacy/block policy... a single
// predicate this module consults but never evaluates").
//
// It is deliberately lighter than EndCall: a blocked call leaves no
// durable trace, only an in-flight call.ended notification so the
// signaling hub can tear down sockets.
func (c *Core) TerminateBetween(ctx context.Context, userA, userB string) error {
	sessionA, err := c.GetActiveByUser(ctx, userA)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return nil
		}
		return err
	}
	sessionB, err := c.GetActiveByUser(ctx, userB)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return nil
		}
		return err
	}
	if sessionA.CallID != sessionB.CallID {
		return nil
	}

	session := *sessionA
	keys := make([]string, 0, len(session.AllParticipants())+1)
	for _, userID := range session.AllParticipants() {
		keys = append(keys, userIndexKey(userID))
	}
	keys = append(keys, sessionKey(session.CallID))
	if err := c.cache.Delete(ctx, keys...); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to tear down blocked call session", err)
	}

	c.publishCallEnded(session, models.CallHistoryCancelled, "blocked", 0)
	return nil
}

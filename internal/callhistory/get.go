package callhistory

import (
	"context"
	"errors"

	"github.com/nyife/rtcore/internal/apperr"
	"github.com/nyife/rtcore/internal/cache"
	"github.com/nyife/rtcore/internal/callstate"
	"github.com/nyife/rtcore/internal/models"
)

// GetActiveByCallID loads the session for callID, or a not-found apperr.
func (c *Core) GetActiveByCallID(ctx context.Context, callID string) (*ActiveCallSession, error) {
	raw, err := c.cache.Get(ctx, sessionKey(callID))
	if errors.Is(err, cache.ErrNotFound) {
		return nil, wrapNotFound("call session not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to load call session", err)
	}
	session, err := unmarshalSession(raw)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to decode call session", err)
	}
	return &session, nil
}

// GetActiveByUser resolves userID's current call via the user index, or
// a not-found apperr if the user has none.
func (c *Core) GetActiveByUser(ctx context.Context, userID string) (*ActiveCallSession, error) {
	raw, err := c.cache.Get(ctx, userIndexKey(userID))
	if errors.Is(err, cache.ErrNotFound) {
		return nil, wrapNotFound("no active call for user")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to read user call index", err)
	}
	return c.GetActiveByCallID(ctx, string(raw))
}

// UpdateStatus drives the session's state machine forward by event,
// persisting the resulting state and refreshing the session TTL
// (spec.md §4.1, §4.2). A missing session is a silent no-op — the
// caller's own end-of-call path will already be unwinding it.
func (c *Core) UpdateStatus(ctx context.Context, callID string, event callstate.Event) error {
	session, err := c.GetActiveByCallID(ctx, callID)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return nil
		}
		return err
	}

	next, err := callstate.Transition(session.Status, event)
	if err != nil {
		return err
	}
	session.Status = next

	return c.writeSession(ctx, *session)
}

// UpdateProvider switches a session onto the SFU control plane once a
// room has been created for it (spec.md §4.5 "any call that becomes a
// group mid-flight must be re-provisioned on the SFU").
func (c *Core) UpdateProvider(ctx context.Context, callID string, provider models.CallProvider, sfuRoomName string) error {
	session, err := c.GetActiveByCallID(ctx, callID)
	if err != nil {
		return err
	}
	session.Provider = provider
	session.SFURoomName = sfuRoomName
	return c.writeSession(ctx, *session)
}

// Heartbeat extends the TTL of a session's cache entries (session key
// and every participant index key share one TTL clock; spec.md §6). A
// heartbeat for an absent session is a silent no-op — the caller's own
// disconnect-grace timer will already be unwinding it.
func (c *Core) Heartbeat(ctx context.Context, callID string) error {
	session, err := c.GetActiveByCallID(ctx, callID)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return nil
		}
		return err
	}

	if err := c.cache.Expire(ctx, sessionKey(session.CallID), c.cfg.SessionTTL); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to extend call session ttl", err)
	}
	for _, userID := range session.AllParticipants() {
		if err := c.cache.Expire(ctx, userIndexKey(userID), c.cfg.SessionTTL); err != nil {
			return apperr.Wrap(apperr.Internal, "failed to extend call index ttl", err)
		}
	}
	return nil
}

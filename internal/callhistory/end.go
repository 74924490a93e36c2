package callhistory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nyife/rtcore/internal/apperr"
	"github.com/nyife/rtcore/internal/callstate"
	"github.com/nyife/rtcore/internal/models"
)

// EndReasonTimeout etc. name the reasons finalize accepts, mirrored on
// the wire in the call.ended event (spec.md §4.2).
const (
	EndReasonHangup    = "hangup"
	EndReasonTimeout   = "timeout"
	EndReasonRejected  = "rejected"
	EndReasonCancelled = "cancelled"
	EndReasonBlocked   = "blocked"
	EndReasonFailed    = "failed"
)

// EndCall finalizes callID with an explicit terminal status, used by
// signaling handlers that already know the outcome (hangup, reject,
// ringing timeout) (spec.md §4.2 "End call").
func (c *Core) EndCall(ctx context.Context, callID string, status models.CallHistoryStatus, reason string) (*Result, error) {
	return c.finalize(ctx, callID, status, reason)
}

// EndGracefully finalizes callID by inferring the terminal status from
// the session's current state rather than requiring the caller to know
// it (spec.md §4.2 "End call gracefully" — used by disconnect-grace and
// cleanup paths that only know a call must end, not why).
func (c *Core) EndGracefully(ctx context.Context, callID string, reason string) (*Result, error) {
	session, err := c.GetActiveByCallID(ctx, callID)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			if result, werr := c.cachedResult(ctx, callID); werr == nil {
				return result, nil
			}
		}
		return nil, err
	}
	status := decideGracefulStatus(session.Status, reason)
	return c.finalize(ctx, callID, status, reason)
}

// CleanupUserSessions gracefully ends the call (if any) referenced by
// userID's index, used when a user's connection drops entirely
// (spec.md §4.2 "Cleanup user sessions").
func (c *Core) CleanupUserSessions(ctx context.Context, userID string, reason string) error {
	session, err := c.GetActiveByUser(ctx, userID)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return nil
		}
		return err
	}
	_, err = c.EndGracefully(ctx, session.CallID, reason)
	return err
}

// finalize is the lock-guarded critical section shared by EndCall and
// EndGracefully: acquire the distributed end-lock, write the durable
// record, tear down the cache, and publish call.ended. A racer that
// loses the lock polls the result cache instead of erroring, so two
// concurrent hangups observe one consistent outcome (spec.md §5
// "Concurrent end").
func (c *Core) finalize(ctx context.Context, callID string, status models.CallHistoryStatus, reason string) (*Result, error) {
	token, acquired, err := c.acquireEndLock(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !acquired {
		if result, err := c.cachedResult(ctx, callID); err == nil {
			return result, nil
		}
		return c.waitForResult(ctx, callID)
	}
	defer c.releaseEndLock(ctx, callID, token)

	session, err := c.GetActiveByCallID(ctx, callID)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			if result, werr := c.cachedResult(ctx, callID); werr == nil {
				return result, nil
			}
			return nil, wrapNotFound("call session not found")
		}
		return nil, err
	}

	now := c.clock.Now()
	duration := clampDuration(now.Unix()-session.StartedAt, c.cfg.MaxCallDuration)

	record, err := c.writeRecord(ctx, *session, status, reason, now, duration)
	if err != nil {
		return nil, err
	}

	c.teardownSession(ctx, *session)
	c.publishCallEnded(*session, status, reason, duration)

	result := Result{CallID: callID, RecordID: record.ID.String(), Status: status, Duration: duration}
	c.cacheResult(ctx, result)
	return &result, nil
}

func (c *Core) teardownSession(ctx context.Context, session ActiveCallSession) {
	keys := make([]string, 0, len(session.AllParticipants())+1)
	for _, userID := range session.AllParticipants() {
		keys = append(keys, userIndexKey(userID))
	}
	keys = append(keys, sessionKey(session.CallID))
	if err := c.cache.Delete(ctx, keys...); err != nil {
		c.log.Error("callhistory: failed to tear down call session cache", "error", err, "call_id", session.CallID)
	}
	for _, userID := range session.ParticipantIDs {
		if err := c.cache.Delete(ctx, missedCountKey(userID)); err != nil {
			c.log.Error("callhistory: failed to invalidate missed-call count cache", "error", err, "user_id", userID)
		}
	}
}

func (c *Core) writeRecord(ctx context.Context, session ActiveCallSession, status models.CallHistoryStatus, reason string, endedAt time.Time, duration int) (*models.CallHistoryRecord, error) {
	hostID, err := uuid.Parse(session.HostID)
	if err != nil {
		return nil, apperr.Wrap(apperr.BadInput, "invalid host id", err)
	}

	var conversationID *uuid.UUID
	if session.ConversationID != "" {
		id, err := uuid.Parse(session.ConversationID)
		if err != nil {
			return nil, apperr.Wrap(apperr.BadInput, "invalid conversation id", err)
		}
		conversationID = &id
	}

	record := models.CallHistoryRecord{
		InitiatorID:      hostID,
		ParticipantCount: len(session.AllParticipants()),
		CallType:         session.CallType,
		Provider:         session.Provider,
		ConversationID:   conversationID,
		Status:           status,
		Duration:         duration,
		StartedAt:        time.Unix(session.StartedAt, 0),
		EndedAt:          endedAt,
		EndReason:        reason,
	}

	statuses := mapParticipantStatuses(status, session.HostID, session.ParticipantIDs, reason)
	for _, userID := range session.AllParticipants() {
		id, err := uuid.Parse(userID)
		if err != nil {
			return nil, apperr.Wrap(apperr.BadInput, "invalid participant id", err)
		}
		role := models.ParticipantRoleMember
		if userID == session.HostID {
			role = models.ParticipantRoleHost
		}
		record.Participants = append(record.Participants, models.CallParticipant{
			UserID: id,
			Role:   role,
			Status: statuses[userID],
		})
	}

	if err := c.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to write call history record", err)
	}
	return &record, nil
}

// mapParticipantStatuses derives each participant's outcome
// deterministically from the call's terminal status (spec.md §4.2,
// ratified per the Open Question in DESIGN.md): a completed call joins
// everyone; a rejected call marks the rejecting receiver rejected and
// leaves the host; any other non-completed outcome (missed, no-answer,
// cancelled, blocked, failed) marks every receiver missed and the host
// left, since in none of those cases did the host's own leg ever
// connect either.
func mapParticipantStatuses(status models.CallHistoryStatus, hostID string, receiverIDs []string, reason string) map[string]models.ParticipantStatus {
	out := make(map[string]models.ParticipantStatus, len(receiverIDs)+1)

	if status == models.CallHistoryCompleted {
		out[hostID] = models.ParticipantJoined
		for _, id := range receiverIDs {
			out[id] = models.ParticipantJoined
		}
		return out
	}

	out[hostID] = models.ParticipantLeft
	receiverStatus := models.ParticipantMissed
	if status == models.CallHistoryRejected || reason == EndReasonRejected {
		receiverStatus = models.ParticipantRejected
	}
	for _, id := range receiverIDs {
		out[id] = receiverStatus
	}
	return out
}

// decideGracefulStatus infers a terminal status from a session's
// current machine state and the reason the caller is ending it, for
// callers that know a call must end but not under which named status
// (spec.md §4.2 "End call gracefully").
func decideGracefulStatus(state callstate.State, reason string) models.CallHistoryStatus {
	switch state {
	case callstate.StateActive, callstate.StateReconnecting:
		return models.CallHistoryCompleted
	case callstate.StateRinging:
		if reason == EndReasonTimeout {
			return models.CallHistoryNoAnswer
		}
		if reason == EndReasonRejected {
			return models.CallHistoryRejected
		}
		return models.CallHistoryMissed
	default:
		return models.CallHistoryCancelled
	}
}

func clampDuration(seconds int64, max time.Duration) int {
	if seconds < 0 {
		return 0
	}
	if max > 0 && seconds > int64(max.Seconds()) {
		return int(max.Seconds())
	}
	return int(seconds)
}

// callEndedPayload is the call.ended (v2) event payload (spec.md §6).
type callEndedPayload struct {
	CallID         string              `json:"callId"`
	HostID         string              `json:"hostId"`
	ParticipantIDs []string            `json:"participantIds"`
	ConversationID string              `json:"conversationId,omitempty"`
	Status         models.CallHistoryStatus `json:"status"`
	Reason         string              `json:"reason"`
	Provider       models.CallProvider `json:"provider"`
	Duration       int                 `json:"duration"`
}

func (c *Core) publishCallEnded(session ActiveCallSession, status models.CallHistoryStatus, reason string, duration int) {
	payload := callEndedPayload{
		CallID:         session.CallID,
		HostID:         session.HostID,
		ParticipantIDs: session.ParticipantIDs,
		ConversationID: session.ConversationID,
		Status:         status,
		Reason:         reason,
		Provider:       session.Provider,
		Duration:       duration,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		c.log.Error("callhistory: failed to encode call.ended payload", "error", err, "call_id", session.CallID)
		return
	}
	c.bus.Publish(TopicCallEnded, c.envelope(session.CallID, "call.ended", 2, raw))
}

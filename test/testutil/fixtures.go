package testutil

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nyife/rtcore/internal/models"
)

// CreateTestCallHistoryRecord persists a finished call with one host row
// and one member row per memberIDs entry, each participant's status
// derived from the call's status, for tests that exercise the
// missed-call count query or history listing against a real database.
func CreateTestCallHistoryRecord(t *testing.T, db *gorm.DB, hostID uuid.UUID, memberIDs []uuid.UUID, status models.CallHistoryStatus, startedAt time.Time, duration int) *models.CallHistoryRecord {
	t.Helper()

	participants := []models.CallParticipant{
		{UserID: hostID, Role: models.ParticipantRoleHost, Status: hostParticipantStatus(status)},
	}
	for _, id := range memberIDs {
		participants = append(participants, models.CallParticipant{
			UserID: id,
			Role:   models.ParticipantRoleMember,
			Status: memberParticipantStatus(status),
		})
	}

	record := &models.CallHistoryRecord{
		InitiatorID:      hostID,
		ParticipantCount: len(participants),
		CallType:         models.CallTypeVoice,
		Provider:         models.CallProviderP2P,
		Status:           status,
		Duration:         duration,
		StartedAt:        startedAt,
		EndedAt:          startedAt.Add(time.Duration(duration) * time.Second),
		Participants:     participants,
	}
	require.NoError(t, db.Create(record).Error)
	return record
}

func hostParticipantStatus(status models.CallHistoryStatus) models.ParticipantStatus {
	if status == models.CallHistoryCompleted {
		return models.ParticipantJoined
	}
	return models.ParticipantLeft
}

func memberParticipantStatus(status models.CallHistoryStatus) models.ParticipantStatus {
	switch status {
	case models.CallHistoryCompleted:
		return models.ParticipantJoined
	case models.CallHistoryRejected:
		return models.ParticipantRejected
	default:
		return models.ParticipantMissed
	}
}

// NewTestUserID returns a fresh random user id, for tests that only
// need distinct identities rather than persisted rows.
func NewTestUserID() string {
	return uuid.New().String()
}

package database_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyife/rtcore/internal/models"
	"github.com/nyife/rtcore/test/testutil"
)

func TestAutoMigrate_PersistsCallHistoryRecord(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.TruncateTables(db)

	record := &models.CallHistoryRecord{
		InitiatorID:      uuid.New(),
		ParticipantCount: 1,
		CallType:         models.CallTypeVoice,
		Provider:         models.CallProviderP2P,
		Status:           models.CallHistoryCompleted,
		Duration:         42,
		StartedAt:        time.Now().Add(-time.Minute),
		EndedAt:          time.Now(),
	}
	require.NoError(t, db.Create(record).Error)

	var loaded models.CallHistoryRecord
	require.NoError(t, db.First(&loaded, "id = ?", record.ID).Error)
	assert.Equal(t, models.CallHistoryCompleted, loaded.Status)
	assert.Equal(t, 42, loaded.Duration)
}

func TestAutoMigrate_PersistsDomainEventLogEntry(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.TruncateTables(db)

	entry := models.DomainEventLogEntry{
		EventID:     uuid.New(),
		Version:     1,
		EventType:   "call.initiated",
		Source:      "callhistory",
		AggregateID: uuid.New().String(),
		Payload:     models.JSONB{"hello": "world"},
		Timestamp:   time.Now(),
	}
	require.NoError(t, db.Create(&entry).Error)

	var count int64
	db.Model(&models.DomainEventLogEntry{}).Where("event_id = ?", entry.EventID).Count(&count)
	assert.Equal(t, int64(1), count)
}

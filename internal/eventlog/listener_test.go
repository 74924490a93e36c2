package eventlog_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerodha/logf"

	"github.com/nyife/rtcore/internal/eventlog"
	"github.com/nyife/rtcore/internal/events"
	"github.com/nyife/rtcore/internal/idempotency"
	"github.com/nyife/rtcore/internal/models"
	"github.com/nyife/rtcore/test/testutil"
)

func TestListener_Handle_PersistsEventOnceByEventID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.TruncateTables(db)
	ledger := idempotency.New(db, logf.New(logf.Opts{}))
	listener := eventlog.New(db, ledger, logf.New(logf.Opts{}))

	base := events.NewBase(time.Unix(100, 0), "callhistory", "call-1", "call.ended", 2, "")
	env := events.Envelope{Base: base, Payload: json.RawMessage(`{"callId":"call-1","duration":16}`)}

	require.NoError(t, listener.Handle(env))
	require.NoError(t, listener.Handle(env)) // redelivery is a no-op

	var count int64
	require.NoError(t, db.Model(&models.DomainEventLogEntry{}).Where("event_id = ?", base.EventID).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	var entry models.DomainEventLogEntry
	require.NoError(t, db.Where("event_id = ?", base.EventID).First(&entry).Error)
	assert.Equal(t, "call.ended", entry.EventType)
	assert.Equal(t, 2, entry.Version)
	assert.Equal(t, "call-1", entry.AggregateID)
}

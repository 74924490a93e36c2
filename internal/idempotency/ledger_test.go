package idempotency_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerodha/logf"

	"github.com/nyife/rtcore/internal/idempotency"
	"github.com/nyife/rtcore/internal/models"
	"github.com/nyife/rtcore/test/testutil"
)

func TestLedger_AlreadyProcessed_FalseUntilRecorded(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.TruncateTables(db)
	ledger := idempotency.New(db, logf.New(logf.Opts{}))

	eventID := uuid.New()
	done, err := ledger.AlreadyProcessed(context.Background(), eventID, "eventlog")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, ledger.RecordSuccess(context.Background(), eventID, "eventlog"))

	done, err = ledger.AlreadyProcessed(context.Background(), eventID, "eventlog")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestLedger_Guard_RunsExactlyOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.TruncateTables(db)
	ledger := idempotency.New(db, logf.New(logf.Opts{}))

	eventID := uuid.New()
	runs := 0
	run := func() error {
		runs++
		return nil
	}

	require.NoError(t, ledger.Guard(context.Background(), eventID, "handler-a", false, run))
	require.NoError(t, ledger.Guard(context.Background(), eventID, "handler-a", false, run))

	assert.Equal(t, 1, runs)
}

func TestLedger_Guard_DifferentHandlerRunsIndependently(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.TruncateTables(db)
	ledger := idempotency.New(db, logf.New(logf.Opts{}))

	eventID := uuid.New()
	runs := 0
	run := func() error {
		runs++
		return nil
	}

	require.NoError(t, ledger.Guard(context.Background(), eventID, "handler-a", false, run))
	require.NoError(t, ledger.Guard(context.Background(), eventID, "handler-b", false, run))

	assert.Equal(t, 2, runs)
}

func TestLedger_Guard_FailureRecordedAndBlocksReplayWithoutReThrow(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.TruncateTables(db)
	ledger := idempotency.New(db, logf.New(logf.Opts{}))

	eventID := uuid.New()
	runs := 0
	failing := func() error {
		runs++
		return errors.New("boom")
	}

	err := ledger.Guard(context.Background(), eventID, "handler-a", false, failing)
	require.NoError(t, err, "non-re-throwing guard swallows the handler error")

	var entry models.ProcessedEvent
	require.NoError(t, db.Where("event_id = ? AND handler_id = ?", eventID, "handler-a").First(&entry).Error)
	assert.Equal(t, models.ProcessedEventFailed, entry.Status)
	assert.Equal(t, "boom", entry.LastError)

	// A redelivery of the same (eventID, handlerID) is a no-op: the
	// failed entry is terminal (spec.md §9 open question, ratified in
	// DESIGN.md).
	require.NoError(t, ledger.Guard(context.Background(), eventID, "handler-a", false, failing))
	assert.Equal(t, 1, runs)
}

func TestLedger_Guard_ReThrowPropagatesError(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.TruncateTables(db)
	ledger := idempotency.New(db, logf.New(logf.Opts{}))

	eventID := uuid.New()
	failing := func() error { return errors.New("critical failure") }

	err := ledger.Guard(context.Background(), eventID, "handler-a", true, failing)
	require.Error(t, err)
	assert.Equal(t, "critical failure", err.Error())
}

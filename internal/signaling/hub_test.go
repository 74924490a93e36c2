package signaling_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerodha/logf"

	"github.com/nyife/rtcore/internal/cache"
	"github.com/nyife/rtcore/internal/callhistory"
	"github.com/nyife/rtcore/internal/callstate"
	"github.com/nyife/rtcore/internal/clock"
	"github.com/nyife/rtcore/internal/config"
	"github.com/nyife/rtcore/internal/eventbus"
	"github.com/nyife/rtcore/internal/ice"
	"github.com/nyife/rtcore/internal/sfu"
	"github.com/nyife/rtcore/internal/signaling"
	"github.com/nyife/rtcore/test/testutil"
)

func newTestHub(t *testing.T) (*signaling.Hub, *callhistory.Core) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	testutil.TruncateTables(db)

	core := callhistory.New(cache.NewMemory(), db, eventbus.New(logf.New(logf.Opts{})), clock.Real, logf.New(logf.Opts{}), callhistory.Config{
		SessionTTL:      5 * time.Minute,
		EndLockTTL:      5 * time.Second,
		ResultTTL:       10 * time.Second,
		MissedViewedTTL: 90 * 24 * time.Hour,
		MissedCountTTL:  time.Minute,
		EndLockWait:     3 * time.Second,
		MaxCallDuration: 24 * time.Hour,
	})

	iceSvc := ice.New([]string{"stun:stun.example.com"}, "", "test-secret", time.Hour, clock.Real, nil)
	sfuClient := sfu.New("http://127.0.0.1:0", "test-key", 25, logf.New(logf.Opts{}))

	cfg := config.SignalingConfig{
		RingingTimeout:    30 * time.Second,
		RingingAckTimeout: 2 * time.Second,
		DisconnectGrace:   3 * time.Second,
		ICEBatchWindow:    50 * time.Millisecond,
	}

	hub := signaling.New(core, iceSvc, sfuClient, cfg, clock.Real, nil, nil, logf.New(logf.Opts{}))
	go hub.Run()
	return hub, core
}

func TestCallHistoryCore_OneToOne_CompletedViaHangup(t *testing.T) {
	_, core := newTestHub(t)
	ctx := context.Background()

	alice, bob := testutil.NewTestUserID(), testutil.NewTestUserID()
	session, err := core.StartCall(ctx, alice, bob, nil, "voice", "")
	require.NoError(t, err)
	require.NotEmpty(t, session.CallID)

	require.NoError(t, core.UpdateStatus(ctx, session.CallID, callstate.EventAccept))

	result, err := core.EndCall(ctx, session.CallID, "completed", callhistory.EndReasonHangup)
	require.NoError(t, err)
	assert.Equal(t, "completed", string(result.Status))

	_, err = core.GetActiveByCallID(ctx, session.CallID)
	assert.Error(t, err)
}

func TestCallHistoryCore_Busy_RejectsSecondCall(t *testing.T) {
	_, core := newTestHub(t)
	ctx := context.Background()

	_, err := core.StartCall(ctx, "carol", "dave", nil, "voice", "")
	require.NoError(t, err)

	_, err = core.StartCall(ctx, "carol", "erin", nil, "voice", "")
	require.Error(t, err)
}

package events_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyife/rtcore/internal/events"
)

func TestStrategy_UpgradeTo_AppliesChainInOrder(t *testing.T) {
	s := events.NewStrategy("call.ended", 3)
	s.OnUpgrade(1, func(p json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"v":2}`), nil
	})
	s.OnUpgrade(2, func(p json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"v":3}`), nil
	})

	out, err := s.UpgradeTo(json.RawMessage(`{"v":1}`), 1, 3)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":3}`, string(out))
}

func TestStrategy_UpgradeTo_MissingPathErrors(t *testing.T) {
	s := events.NewStrategy("call.ended", 3)
	s.OnUpgrade(1, func(p json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"v":2}`), nil
	})

	_, err := s.UpgradeTo(json.RawMessage(`{"v":1}`), 1, 3)
	require.Error(t, err)
}

func TestStrategy_DowngradeTo_AppliesChainInOrder(t *testing.T) {
	s := events.NewStrategy("call.ended", 3)
	s.OnDowngrade(2, func(p json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"v":2}`), nil
	})
	s.OnDowngrade(1, func(p json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"v":1}`), nil
	})

	out, err := s.DowngradeTo(json.RawMessage(`{"v":3}`), 3, 1)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(out))
}

func TestStrategy_CanConsume(t *testing.T) {
	s := events.NewStrategy("call.ended", 2)

	assert.True(t, s.CanConsume("call.ended", 1, 2))
	assert.True(t, s.CanConsume("call.ended", 2, 2))
	assert.False(t, s.CanConsume("call.ended", 3, 2))
	assert.False(t, s.CanConsume("call.initiated", 1, 2))
}

func TestRegistry_RegisterLookupSeal(t *testing.T) {
	r := events.NewRegistry()
	s := events.NewStrategy("call.ended", 2)
	r.Register(s)

	got, ok := r.Lookup("call.ended")
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = r.Lookup("call.initiated")
	assert.False(t, ok)

	r.Seal()
	assert.Panics(t, func() {
		r.Register(events.NewStrategy("call.initiated", 1))
	})
}

func TestBase_ValidateRejectsIncompleteEvent(t *testing.T) {
	valid := events.NewBase(time.Unix(0, 0), "callhistory", "call-123", "call.ended", 2, "")
	require.NoError(t, valid.Validate())

	missingType := valid
	missingType.EventType = ""
	assert.Error(t, missingType.Validate())

	missingAggregate := valid
	missingAggregate.AggregateID = ""
	assert.Error(t, missingAggregate.Validate())

	badVersion := valid
	badVersion.Version = 0
	assert.Error(t, badVersion.Validate())
}

package eventbus_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerodha/logf"

	"github.com/nyife/rtcore/internal/eventbus"
	"github.com/nyife/rtcore/internal/events"
)

func testEnvelope(aggregateID string) events.Envelope {
	return events.Envelope{
		Base: events.NewBase(time.Unix(0, 0), "test", aggregateID, "test.event", 1, ""),
	}
}

func TestPublish_DeliversToAllSubscribersInOrder(t *testing.T) {
	bus := eventbus.New(logf.New(logf.Opts{}))

	var order []string
	bus.Subscribe("topic.a", "first", func(env events.Envelope) error {
		order = append(order, "first")
		return nil
	})
	bus.Subscribe("topic.a", "second", func(env events.Envelope) error {
		order = append(order, "second")
		return nil
	})

	bus.Publish("topic.a", testEnvelope("agg-1"))

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestPublish_IsolatesHandlerErrors(t *testing.T) {
	bus := eventbus.New(logf.New(logf.Opts{}))

	secondRan := false
	bus.Subscribe("topic.a", "failing", func(env events.Envelope) error {
		return errors.New("boom")
	})
	bus.Subscribe("topic.a", "healthy", func(env events.Envelope) error {
		secondRan = true
		return nil
	})

	require.NotPanics(t, func() {
		bus.Publish("topic.a", testEnvelope("agg-1"))
	})
	assert.True(t, secondRan)
}

func TestPublish_IsolatesHandlerPanics(t *testing.T) {
	bus := eventbus.New(logf.New(logf.Opts{}))

	secondRan := false
	bus.Subscribe("topic.a", "panics", func(env events.Envelope) error {
		panic("unexpected")
	})
	bus.Subscribe("topic.a", "healthy", func(env events.Envelope) error {
		secondRan = true
		return nil
	})

	require.NotPanics(t, func() {
		bus.Publish("topic.a", testEnvelope("agg-1"))
	})
	assert.True(t, secondRan)
}

func TestPublish_OnlyDeliversToMatchingTopic(t *testing.T) {
	bus := eventbus.New(logf.New(logf.Opts{}))

	var gotA, gotB bool
	bus.Subscribe("topic.a", "a-handler", func(env events.Envelope) error {
		gotA = true
		return nil
	})
	bus.Subscribe("topic.b", "b-handler", func(env events.Envelope) error {
		gotB = true
		return nil
	})

	bus.Publish("topic.a", testEnvelope("agg-1"))

	assert.True(t, gotA)
	assert.False(t, gotB)
}

func TestPublish_NoSubscribersIsNoOp(t *testing.T) {
	bus := eventbus.New(logf.New(logf.Opts{}))
	assert.NotPanics(t, func() {
		bus.Publish("topic.nobody-listens", testEnvelope("agg-1"))
	})
}

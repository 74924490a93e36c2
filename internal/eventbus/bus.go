// Package eventbus implements the in-process publish/subscribe fan-out
// described in spec.md §2/§5: synchronous delivery in emission order
// within one process, with per-listener error isolation so one failing
// handler cannot block or crash the others. Listeners are registered
// explicitly at startup (spec.md §9 "class-based listeners... explicit
// topic->handler registration; composition over inheritance"), grounded
// on the pack's source/kind-constant event bus
// (nugget-thane-ai-agent/internal/events/bus.go) adapted to typed
// domain events and synchronous dispatch.
package eventbus

import (
	"github.com/nyife/rtcore/internal/events"
	"github.com/zerodha/logf"
)

// Topic names a class of domain event. Topics are exported constants on
// the producing package (callhistory.TopicCallEnded etc.); the bus
// itself is topic-agnostic.
type Topic string

// Handler processes one event on one topic. A non-nil return does not
// stop delivery to other handlers — the bus isolates each handler's
// failure (spec.md §2 "synchronous fan-out with per-listener error
// isolation").
type Handler func(env events.Envelope) error

// Bus is a synchronous, in-process pub/sub dispatcher. The zero value is
// not usable; construct with New.
type Bus struct {
	log      logf.Logger
	handlers map[Topic][]namedHandler
}

type namedHandler struct {
	name string
	fn   Handler
}

// New creates an empty Bus.
func New(log logf.Logger) *Bus {
	return &Bus{
		log:      log,
		handlers: make(map[Topic][]namedHandler),
	}
}

// Subscribe registers fn under name to receive every event published on
// topic. Intended for startup wiring, not hot-path use; Subscribe itself
// is not safe for concurrent use with Publish.
func (b *Bus) Subscribe(topic Topic, name string, fn Handler) {
	b.handlers[topic] = append(b.handlers[topic], namedHandler{name: name, fn: fn})
}

// Publish delivers env to every handler registered on topic, in
// registration order, isolating panics and errors per handler so one
// broken listener cannot prevent the others from observing the event.
func (b *Bus) Publish(topic Topic, env events.Envelope) {
	for _, h := range b.handlers[topic] {
		b.dispatch(topic, h, env)
	}
}

func (b *Bus) dispatch(topic Topic, h namedHandler, env events.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("eventbus: handler panicked",
				"topic", topic, "handler", h.name, "event_id", env.EventID, "panic", r)
		}
	}()

	if err := h.fn(env); err != nil {
		b.log.Error("eventbus: handler returned error",
			"topic", topic, "handler", h.name, "event_id", env.EventID, "error", err)
	}
}

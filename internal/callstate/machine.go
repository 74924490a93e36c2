// Package callstate implements the call session state machine as a pure
// function over (state, event), per spec.md §4.1 and the design note
// "state machine as a pure function... implement as a table keyed by
// (state, event); forbid any branching outside the table."
package callstate

import "github.com/nyife/rtcore/internal/apperr"

// State is one of the call session's lifecycle states.
type State string

const (
	StateIdle          State = "idle"
	StateRinging       State = "ringing"
	StateActive        State = "active"
	StateReconnecting  State = "reconnecting"
	StateEnded         State = "ended"
)

// Event is one of the inputs the signaling hub or call-history core
// feeds into the machine.
type Event string

const (
	EventInitiate   Event = "initiate"
	EventAccept     Event = "accept"
	EventReject     Event = "reject"
	EventHangup     Event = "hangup"
	EventTimeout    Event = "timeout"
	EventDisconnect Event = "disconnect"
	EventReconnect  Event = "reconnect"
	EventFail       Event = "fail"
	EventBlock      Event = "block"
	EventCancel     Event = "cancel"
)

// table encodes spec.md §4.1's transition grid exactly; there is no
// other branching logic anywhere in this package.
var table = map[State]map[Event]State{
	StateIdle: {
		EventInitiate: StateRinging,
	},
	StateRinging: {
		EventAccept: StateActive,
		EventReject: StateEnded,
		EventHangup: StateEnded,
		EventTimeout: StateEnded,
		EventBlock:  StateEnded,
		EventCancel: StateEnded,
	},
	StateActive: {
		EventHangup:     StateEnded,
		EventDisconnect: StateReconnecting,
		EventBlock:      StateEnded,
	},
	StateReconnecting: {
		EventHangup:    StateEnded,
		EventReconnect: StateActive,
		EventFail:      StateEnded,
		EventBlock:     StateEnded,
	},
	StateEnded: {},
}

// Transition applies event to from, returning the resulting State or a
// bad-input apperr.Error if the transition is absent from the table
// (spec.md §4.1 "Any transition absent from the table fails with an
// invalid-transition error").
func Transition(from State, event Event) (State, error) {
	events, ok := table[from]
	if !ok {
		return "", apperr.New(apperr.BadInput, "unknown call state")
	}
	to, ok := events[event]
	if !ok {
		return "", apperr.New(apperr.BadInput, "invalid call state transition")
	}
	return to, nil
}

// IsTerminal reports whether a state has no outgoing transitions.
func IsTerminal(s State) bool {
	return s == StateEnded
}

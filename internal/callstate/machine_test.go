package callstate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyife/rtcore/internal/apperr"
	"github.com/nyife/rtcore/internal/callstate"
)

func TestTransition_TableDriven(t *testing.T) {
	cases := []struct {
		name  string
		from  callstate.State
		event callstate.Event
		want  callstate.State
	}{
		{"initiate rings", callstate.StateIdle, callstate.EventInitiate, callstate.StateRinging},
		{"accept activates", callstate.StateRinging, callstate.EventAccept, callstate.StateActive},
		{"reject ends", callstate.StateRinging, callstate.EventReject, callstate.StateEnded},
		{"hangup from ringing ends", callstate.StateRinging, callstate.EventHangup, callstate.StateEnded},
		{"timeout from ringing ends", callstate.StateRinging, callstate.EventTimeout, callstate.StateEnded},
		{"block from ringing ends", callstate.StateRinging, callstate.EventBlock, callstate.StateEnded},
		{"cancel from ringing ends", callstate.StateRinging, callstate.EventCancel, callstate.StateEnded},
		{"hangup from active ends", callstate.StateActive, callstate.EventHangup, callstate.StateEnded},
		{"disconnect from active reconnects", callstate.StateActive, callstate.EventDisconnect, callstate.StateReconnecting},
		{"block from active ends", callstate.StateActive, callstate.EventBlock, callstate.StateEnded},
		{"hangup from reconnecting ends", callstate.StateReconnecting, callstate.EventHangup, callstate.StateEnded},
		{"reconnect from reconnecting activates", callstate.StateReconnecting, callstate.EventReconnect, callstate.StateActive},
		{"fail from reconnecting ends", callstate.StateReconnecting, callstate.EventFail, callstate.StateEnded},
		{"block from reconnecting ends", callstate.StateReconnecting, callstate.EventBlock, callstate.StateEnded},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := callstate.Transition(tc.from, tc.event)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTransition_InvalidIsBadInput(t *testing.T) {
	cases := []struct {
		name  string
		from  callstate.State
		event callstate.Event
	}{
		{"accept from idle", callstate.StateIdle, callstate.EventAccept},
		{"initiate from ringing", callstate.StateRinging, callstate.EventInitiate},
		{"accept twice", callstate.StateActive, callstate.EventAccept},
		{"reconnect from active", callstate.StateActive, callstate.EventReconnect},
		{"anything from ended", callstate.StateEnded, callstate.EventHangup},
		{"unknown state", callstate.State("bogus"), callstate.EventInitiate},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := callstate.Transition(tc.from, tc.event)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.BadInput))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, callstate.IsTerminal(callstate.StateEnded))
	assert.False(t, callstate.IsTerminal(callstate.StateActive))
	assert.False(t, callstate.IsTerminal(callstate.StateRinging))
	assert.False(t, callstate.IsTerminal(callstate.StateReconnecting))
	assert.False(t, callstate.IsTerminal(callstate.StateIdle))
}

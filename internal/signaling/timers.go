package signaling

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// timerSet owns every per-call and per-(call,user) timer the hub
// schedules: ringing timeout, ringing-ack timeout, disconnect grace,
// and ICE-candidate batching (spec.md §4.3 "Hub-owned timers"). All
// cancellation is explicit and deterministic on terminal transitions
// and reconnect (spec.md §5).
type timerSet struct {
	hub *Hub

	mu          sync.Mutex
	ringing     map[string]*time.Timer // callID
	ack         map[string]*time.Timer // callID
	disconnect  map[string]*time.Timer // userID
	iceBatches  map[string]*iceBatch   // "callID:userID"
}

type iceBatch struct {
	timer      *time.Timer
	candidates []json.RawMessage
}

func newTimerSet(h *Hub) *timerSet {
	return &timerSet{
		hub:        h,
		ringing:    make(map[string]*time.Timer),
		ack:        make(map[string]*time.Timer),
		disconnect: make(map[string]*time.Timer),
		iceBatches: make(map[string]*iceBatch),
	}
}

// startRinging arms the 30 s ringing timeout (spec.md §4.3 "Ringing
// timeout"). Firing ends the call gracefully with reason=timeout.
func (t *timerSet) startRinging(callID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked(t.ringing, callID)
	t.ringing[callID] = time.AfterFunc(t.hub.cfg.RingingTimeout, func() {
		t.hub.post(func() { t.hub.onRingingTimeout(callID) })
	})
}

func (t *timerSet) cancelRinging(callID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked(t.ringing, callID)
}

// startAck arms the 2 s ringing-ack timeout for 1-to-1 calls only
// (spec.md §4.3 "Ringing ack timeout").
func (t *timerSet) startAck(callID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked(t.ack, callID)
	t.ack[callID] = time.AfterFunc(t.hub.cfg.RingingAckTimeout, func() {
		t.hub.post(func() { t.hub.onAckTimeout(callID) })
	})
}

func (t *timerSet) cancelAck(callID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked(t.ack, callID)
}

// startDisconnect arms the 3 s disconnect-grace timer for userID
// (spec.md §4.3 "Disconnect grace").
func (t *timerSet) startDisconnect(userID, callID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked(t.disconnect, userID)
	t.disconnect[userID] = time.AfterFunc(t.hub.cfg.DisconnectGrace, func() {
		t.hub.post(func() { t.hub.onDisconnectGraceExpired(userID, callID) })
	})
}

func (t *timerSet) cancelDisconnect(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked(t.disconnect, userID)
}

func (t *timerSet) cancelLocked(m map[string]*time.Timer, key string) {
	if timer, ok := m[key]; ok {
		timer.Stop()
		delete(m, key)
	}
}

// cancelCall clears every call-scoped timer (ringing, ack) on a
// terminal transition (spec.md §5 "cancellation is deterministic on
// terminal transitions").
func (t *timerSet) cancelCall(callID string) {
	t.cancelRinging(callID)
	t.cancelAck(callID)
}

func batchKey(callID, userID string) string {
	return fmt.Sprintf("%s:%s", callID, userID)
}

// bufferICECandidate appends candidate to the (callID,userID) batch,
// starting the 50 ms flush timer on the first candidate (spec.md §4.3
// "ICE candidate batching"). candidate is the pre-serialized JSON
// fragment exactly as received, relayed unchanged on flush.
func (t *timerSet) bufferICECandidate(callID, userID string, candidate json.RawMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := batchKey(callID, userID)
	b, ok := t.iceBatches[key]
	if !ok {
		b = &iceBatch{}
		t.iceBatches[key] = b
		b.timer = time.AfterFunc(t.hub.cfg.ICEBatchWindow, func() {
			t.hub.post(func() { t.hub.flushICEBatch(callID, userID) })
		})
	}
	b.candidates = append(b.candidates, candidate)
}

// takeICEBatch removes and returns the buffered candidates for
// (callID,userID), called once the flush timer fires.
func (t *timerSet) takeICEBatch(callID, userID string) []json.RawMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := batchKey(callID, userID)
	b, ok := t.iceBatches[key]
	if !ok {
		return nil
	}
	delete(t.iceBatches, key)
	return b.candidates
}

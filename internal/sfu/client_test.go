package sfu_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerodha/logf"

	"github.com/nyife/rtcore/internal/apperr"
	"github.com/nyife/rtcore/internal/sfu"
	"github.com/nyife/rtcore/pkg/sfuapi"
)

const testCap = 25

func TestRoomName_IsDeterministic(t *testing.T) {
	assert.Equal(t, "call-abc123", sfu.RoomName("abc123"))
}

func TestCreateRoom_SendsAuthAndSizesRoomToPartyCountUnderCap(t *testing.T) {
	var gotAuth string
	var gotReq sfuapi.CreateRoomRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(sfuapi.Room{Name: gotReq.Name, URL: "https://sfu.example.com/" + gotReq.Name})
	}))
	defer srv.Close()

	client := sfu.New(srv.URL, "secret-key", testCap, logf.New(logf.Opts{}))

	room, err := client.CreateRoom(t.Context(), "call-1", 4, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-key", gotAuth)
	assert.Equal(t, sfu.RoomName("call-1"), gotReq.Name)
	assert.Equal(t, 4, gotReq.MaxParticipants, "a party count under the cap sizes the room to the call, not the cap")
	assert.Equal(t, "https://sfu.example.com/"+sfu.RoomName("call-1"), room.URL)
}

func TestCreateRoom_PartyCountAboveCapIsClamped(t *testing.T) {
	var gotReq sfuapi.CreateRoomRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(sfuapi.Room{})
	}))
	defer srv.Close()

	client := sfu.New(srv.URL, "secret-key", testCap, logf.New(logf.Opts{}))
	_, err := client.CreateRoom(t.Context(), "call-1", testCap+10, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, testCap, gotReq.MaxParticipants)
}

func TestCreateMeetingToken_ReturnsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sfuapi.CreateMeetingTokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "room-1", req.Properties.RoomName)
		assert.Equal(t, "alice", req.Properties.UserID)
		assert.True(t, req.Properties.IsOwner)
		_ = json.NewEncoder(w).Encode(sfuapi.MeetingToken{Token: "opaque-token-value"})
	}))
	defer srv.Close()

	client := sfu.New(srv.URL, "secret-key", testCap, logf.New(logf.Opts{}))
	token, err := client.CreateMeetingToken(t.Context(), "room-1", "alice", "Alice", true)
	require.NoError(t, err)
	assert.Equal(t, "opaque-token-value", token)
}

func TestDeleteRoom_TreatsNotFoundAsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(sfuapi.APIError{Error: "room not found"})
	}))
	defer srv.Close()

	client := sfu.New(srv.URL, "secret-key", testCap, logf.New(logf.Opts{}))
	assert.NoError(t, client.DeleteRoom(t.Context(), "call-1"))
}

func TestDeleteRoom_PropagatesOtherErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(sfuapi.APIError{Error: "boom"})
	}))
	defer srv.Close()

	client := sfu.New(srv.URL, "secret-key", testCap, logf.New(logf.Opts{}))
	err := client.DeleteRoom(t.Context(), "call-1")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.External))
}

func TestRoomURL_ReadsThrough(t *testing.T) {
	client := sfu.New("http://127.0.0.1:0", "key", testCap, logf.New(logf.Opts{}))
	assert.Equal(t, "https://sfu.example.com/call-1", client.RoomURL(&sfuapi.Room{URL: "https://sfu.example.com/call-1"}))
}

// Package sfu implements the REST-style control plane for SFU rooms and
// per-user meeting tokens (spec.md §4.5), following the teacher's
// pkg/whatsapp.Client idiom: a shared *http.Client, a doRequest helper
// that maps non-2xx responses to typed API errors, and a configurable
// base URL for tests.
package sfu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zerodha/logf"

	"github.com/nyife/rtcore/internal/apperr"
	"github.com/nyife/rtcore/pkg/sfuapi"
)

// DefaultTimeout matches spec.md §5 "SFU REST calls have a fixed HTTP
// timeout (10 s)".
const DefaultTimeout = 10 * time.Second

// MeetingTokenTTL matches spec.md §4.5 "expire in 1 h".
const MeetingTokenTTL = time.Hour

// Client is the SFU control-plane REST client.
type Client struct {
	httpClient  *http.Client
	log         logf.Logger
	baseURL     string
	apiKey      string
	participantCap int
}

// New creates a Client talking to baseURL, authenticated with apiKey.
// participantCap bounds the size of any room it creates (spec.md §4.5
// "a configured participant cap"); a call with fewer parties than the
// cap gets a room sized to the call.
func New(baseURL, apiKey string, participantCap int, log logf.Logger) *Client {
	return &Client{
		httpClient:     &http.Client{Timeout: DefaultTimeout},
		log:            log,
		baseURL:        baseURL,
		apiKey:         apiKey,
		participantCap: participantCap,
	}
}

// RoomName returns the deterministic SFU room name for a call
// (spec.md §4.5 "call-{callId}").
func RoomName(callID string) string {
	return "call-" + callID
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "failed to marshal sfu request", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "failed to build sfu request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.External, "sfu request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.External, "failed to read sfu response", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return respBody, apperr.New(apperr.NotFound, "sfu resource not found")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr sfuapi.APIError
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error != "" {
			return nil, apperr.New(apperr.External, fmt.Sprintf("sfu error %d: %s", resp.StatusCode, apiErr.Error))
		}
		return nil, apperr.New(apperr.External, fmt.Sprintf("sfu returned status %d", resp.StatusCode))
	}

	return respBody, nil
}

// CreateRoom creates an SFU room for callID sized for partyCount
// participants, capped at the client's configured participant ceiling,
// expiring absolutely after ttl (spec.md §4.5).
func (c *Client) CreateRoom(ctx context.Context, callID string, partyCount int, ttl time.Duration) (*sfuapi.Room, error) {
	size := partyCount
	if size > c.participantCap {
		size = c.participantCap
	}

	req := sfuapi.CreateRoomRequest{
		Name:            RoomName(callID),
		MaxParticipants: size,
		ExpiresAt:       time.Now().Add(ttl).Unix(),
	}

	raw, err := c.doRequest(ctx, http.MethodPost, "/rooms", req)
	if err != nil {
		return nil, err
	}

	var room sfuapi.Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return nil, apperr.Wrap(apperr.External, "failed to parse sfu create-room response", err)
	}
	return &room, nil
}

// CreateMeetingToken mints a token binding (roomName, userID) for
// MeetingTokenTTL (spec.md §4.5).
func (c *Client) CreateMeetingToken(ctx context.Context, roomName, userID, displayName string, isOwner bool) (string, error) {
	req := sfuapi.CreateMeetingTokenRequest{
		Properties: sfuapi.MeetingTokenProperties{
			RoomName:    roomName,
			UserID:      userID,
			DisplayName: displayName,
			IsOwner:     isOwner,
			ExpiresAt:   time.Now().Add(MeetingTokenTTL).Unix(),
		},
	}

	raw, err := c.doRequest(ctx, http.MethodPost, "/meeting-tokens", req)
	if err != nil {
		return "", err
	}

	var tok sfuapi.MeetingToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		return "", apperr.Wrap(apperr.External, "failed to parse sfu meeting-token response", err)
	}
	return tok.Token, nil
}

// DeleteRoom deletes the SFU room for callID. A 404 is treated as
// success (spec.md §4.5 "404 on delete is treated as success").
func (c *Client) DeleteRoom(ctx context.Context, callID string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, "/rooms/"+RoomName(callID), nil)
	if apperr.Is(err, apperr.NotFound) {
		return nil
	}
	return err
}

// RoomURL returns the client-facing join URL for an already-created room.
func (c *Client) RoomURL(room *sfuapi.Room) string {
	return room.URL
}

// Package ice implements the STUN/TURN configuration service: a static
// STUN list plus HMAC-derived short-lived TURN credentials using the
// "time-limited shared-secret" scheme (spec.md §4.5), and per-user
// transport-policy selection.
package ice

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // required by the TURN REST API credential scheme
	"encoding/base64"
	"fmt"
	"time"

	"github.com/nyife/rtcore/internal/clock"
)

// TransportPolicy mirrors RTCIceTransportPolicy.
type TransportPolicy string

const (
	TransportPolicyAll   TransportPolicy = "all"
	TransportPolicyRelay TransportPolicy = "relay"
)

// Server is one entry of an RTCConfiguration's iceServers list.
type Server struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Config is the full ICE configuration handed to a client.
type Config struct {
	Servers            []Server        `json:"iceServers"`
	ICETransportPolicy TransportPolicy `json:"iceTransportPolicy"`
}

// PrivacyLookup resolves a user's preferred transport policy; callers
// wire this to the external privacy/block capability (spec.md §1 "Out
// of scope: privacy/block policy evaluation... treated as a capability
// with a single predicate"). A nil lookup defaults every user to relay.
type PrivacyLookup func(userID string) TransportPolicy

// Service issues ICE configuration, deriving TURN credentials without
// ever exposing the shared secret (spec.md §9 "Shared-secret TURN... keep
// the secret in a restricted config scope; never log it").
type Service struct {
	stunURLs      []string
	turnURL       string
	sharedSecret  string
	credentialTTL time.Duration
	clock         clock.Clock
	privacy       PrivacyLookup
}

// New creates a Service. stunURLs and turnURL come from ICEConfig;
// sharedSecret must never be logged or serialized.
func New(stunURLs []string, turnURL, sharedSecret string, credentialTTL time.Duration, clk clock.Clock, privacy PrivacyLookup) *Service {
	return &Service{
		stunURLs:      stunURLs,
		turnURL:       turnURL,
		sharedSecret:  sharedSecret,
		credentialTTL: credentialTTL,
		clock:         clk,
		privacy:       privacy,
	}
}

// turnCredential derives {username, credential} for userID using the
// time-limited shared-secret scheme: username = "{unixExpiry}:{userId}",
// credential = base64(HMAC-SHA1(secret, username)) (spec.md §4.5).
func (s *Service) turnCredential(userID string) (username, credential string, expiry time.Time) {
	expiry = s.clock.Now().Add(s.credentialTTL)
	username = fmt.Sprintf("%d:%s", expiry.Unix(), userID)

	mac := hmac.New(sha1.New, []byte(s.sharedSecret))
	mac.Write([]byte(username))
	credential = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return username, credential, expiry
}

// ConfigFor builds the full ICE configuration for userID: a STUN entry
// plus a fresh TURN entry, with the transport policy resolved from the
// privacy lookup (default "relay") (spec.md §4.5).
func (s *Service) ConfigFor(userID string) Config {
	username, credential, _ := s.turnCredential(userID)

	servers := make([]Server, 0, len(s.stunURLs)+1)
	for _, url := range s.stunURLs {
		servers = append(servers, Server{URLs: []string{url}})
	}
	if s.turnURL != "" {
		servers = append(servers, Server{
			URLs:       []string{s.turnURL},
			Username:   username,
			Credential: credential,
		})
	}

	policy := TransportPolicyRelay
	if s.privacy != nil {
		policy = s.privacy(userID)
	}

	return Config{Servers: servers, ICETransportPolicy: policy}
}

package ice_test

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // matches the TURN REST credential scheme under test
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyife/rtcore/internal/clock"
	"github.com/nyife/rtcore/internal/ice"
)

func TestConfigFor_IncludesSTUNAndFreshTURNCredential(t *testing.T) {
	mock := clock.NewMock(time.Unix(1000, 0))
	svc := ice.New([]string{"stun:stun.example.com:3478"}, "turn:turn.example.com:3478", "s3cr3t", time.Hour, mock, nil)

	cfg := svc.ConfigFor("user-1")

	require.Len(t, cfg.Servers, 2)
	assert.Equal(t, []string{"stun:stun.example.com:3478"}, cfg.Servers[0].URLs)
	assert.Empty(t, cfg.Servers[0].Username)

	turn := cfg.Servers[1]
	assert.Equal(t, []string{"turn:turn.example.com:3478"}, turn.URLs)

	expiry := mock.Now().Add(time.Hour).Unix()
	wantUsername := fmt.Sprintf("%d:user-1", expiry)
	assert.Equal(t, wantUsername, turn.Username)

	mac := hmac.New(sha1.New, []byte("s3cr3t"))
	mac.Write([]byte(wantUsername))
	wantCredential := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	assert.Equal(t, wantCredential, turn.Credential)
}

func TestConfigFor_CredentialChangesAsClockAdvances(t *testing.T) {
	mock := clock.NewMock(time.Unix(1000, 0))
	svc := ice.New(nil, "turn:turn.example.com:3478", "s3cr3t", time.Minute, mock, nil)

	first := svc.ConfigFor("user-1").Servers[0]
	mock.Advance(time.Minute)
	second := svc.ConfigFor("user-1").Servers[0]

	assert.NotEqual(t, first.Username, second.Username)
	assert.NotEqual(t, first.Credential, second.Credential)
}

func TestConfigFor_DefaultTransportPolicyIsRelay(t *testing.T) {
	svc := ice.New([]string{"stun:stun.example.com"}, "turn:turn.example.com", "secret", time.Hour, clock.Real, nil)
	cfg := svc.ConfigFor("user-1")
	assert.Equal(t, ice.TransportPolicyRelay, cfg.ICETransportPolicy)
}

func TestConfigFor_PrivacyLookupOverridesPolicy(t *testing.T) {
	privacy := func(userID string) ice.TransportPolicy {
		if userID == "open-user" {
			return ice.TransportPolicyAll
		}
		return ice.TransportPolicyRelay
	}
	svc := ice.New(nil, "turn:turn.example.com", "secret", time.Hour, clock.Real, privacy)

	assert.Equal(t, ice.TransportPolicyAll, svc.ConfigFor("open-user").ICETransportPolicy)
	assert.Equal(t, ice.TransportPolicyRelay, svc.ConfigFor("other-user").ICETransportPolicy)
}

func TestConfigFor_NoTURNURLOmitsTURNServer(t *testing.T) {
	svc := ice.New([]string{"stun:stun.example.com"}, "", "secret", time.Hour, clock.Real, nil)
	cfg := svc.ConfigFor("user-1")
	require.Len(t, cfg.Servers, 1)
}

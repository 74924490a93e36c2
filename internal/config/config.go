// Package config loads the typed configuration tree for the real-time
// core from a TOML file overlaid with environment variables, using the
// same koanf provider/parser set the teacher depends on.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/nyife/rtcore/internal/crypto"
)

// DatabaseConfig configures the relational store used by the
// call-history finalizer and the domain-event log.
type DatabaseConfig struct {
	Host            string `koanf:"host"`
	Port            int    `koanf:"port"`
	User            string `koanf:"user"`
	Password        string `koanf:"password"`
	Name            string `koanf:"name"`
	SSLMode         string `koanf:"ssl_mode"`
	MaxOpenConns    int    `koanf:"max_open_conns"`
	MaxIdleConns    int    `koanf:"max_idle_conns"`
	ConnMaxLifetime int    `koanf:"conn_max_lifetime_secs"`
}

// RedisConfig configures the shared cache/queue/event-bus backing store.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// StorageConfig configures the object store used by the media pipeline.
type StorageConfig struct {
	S3Bucket string `koanf:"s3_bucket"`
	S3Region string `koanf:"s3_region"`
	S3Key    string `koanf:"s3_key"`
	S3Secret string `koanf:"s3_secret"`
}

// CallHistoryConfig configures session TTLs and lock behavior for the
// call-history core (spec.md §6 "Cache keys").
type CallHistoryConfig struct {
	SessionTTL       time.Duration `koanf:"session_ttl"`
	EndLockTTL       time.Duration `koanf:"end_lock_ttl"`
	ResultTTL        time.Duration `koanf:"result_ttl"`
	MissedViewedTTL  time.Duration `koanf:"missed_viewed_ttl"`
	MissedCountTTL   time.Duration `koanf:"missed_count_ttl"`
	EndLockWait      time.Duration `koanf:"end_lock_wait"`
	MaxCallDuration  time.Duration `koanf:"max_call_duration"`
}

// SignalingConfig configures the websocket hub's timers.
type SignalingConfig struct {
	RingingTimeout    time.Duration `koanf:"ringing_timeout"`
	RingingAckTimeout time.Duration `koanf:"ringing_ack_timeout"`
	DisconnectGrace   time.Duration `koanf:"disconnect_grace"`
	ICEBatchWindow    time.Duration `koanf:"ice_batch_window"`
}

// ICEConfig configures the STUN/TURN credential issuer (spec.md §4.5).
type ICEConfig struct {
	StunURLs    []string      `koanf:"stun_urls"`
	TurnURL     string        `koanf:"turn_url"`
	SharedSecret string       `koanf:"shared_secret"` // may be "enc:"-prefixed
	CredentialTTL time.Duration `koanf:"credential_ttl"`
}

// SFUConfig configures the SFU REST control plane.
type SFUConfig struct {
	BaseURL      string        `koanf:"base_url"`
	APIKey       string        `koanf:"api_key"` // may be "enc:"-prefixed
	RequestTimeout time.Duration `koanf:"request_timeout"`
	TokenTTL     time.Duration `koanf:"token_ttl"`
	// RoomParticipantCap is the ceiling on a group call's SFU room size
	// (spec.md §4.5 "a configured participant cap"). A call with fewer
	// parties than this gets a room sized to the call, not the cap.
	RoomParticipantCap int `koanf:"room_participant_cap"`
}

// MediaConfig configures the upload/processing pipeline.
type MediaConfig struct {
	PresignExpiry     time.Duration    `koanf:"presign_expiry"`
	MaxBytesByType    map[string]int64 `koanf:"max_bytes_by_type"`
	ThumbnailMaxPx    int              `koanf:"thumbnail_max_px"`
	OptimizedMaxPx    int              `koanf:"optimized_max_px"`
	HLSEnabled        bool             `koanf:"hls_enabled"`
	HLSMinDuration    time.Duration    `koanf:"hls_min_duration"`
	HLSMinWidth       int              `koanf:"hls_min_width"`
	FFmpegBinary      string           `koanf:"ffmpeg_binary"`
	TempDir           string           `koanf:"temp_dir"`
	LocalBrokerAttempts int            `koanf:"local_broker_attempts"`
	QueuePollTimeout  time.Duration    `koanf:"queue_poll_timeout"`
}

// Config is the root configuration tree.
type Config struct {
	Database    DatabaseConfig    `koanf:"database"`
	Redis       RedisConfig       `koanf:"redis"`
	Storage     StorageConfig     `koanf:"storage"`
	CallHistory CallHistoryConfig `koanf:"call_history"`
	Signaling   SignalingConfig   `koanf:"signaling"`
	ICE         ICEConfig         `koanf:"ice"`
	SFU         SFUConfig         `koanf:"sfu"`
	Media       MediaConfig       `koanf:"media"`

	// EncryptionKey decrypts "enc:"-prefixed secrets (ICE.SharedSecret,
	// SFU.APIKey, Storage.S3Secret) at load time. Sourced only from the
	// environment, never from the config file, so it never ends up on disk
	// next to the ciphertext it protects.
	EncryptionKey string `koanf:"-"`
}

func defaults() *Config {
	return &Config{
		CallHistory: CallHistoryConfig{
			SessionTTL:      5 * time.Minute,
			EndLockTTL:      5 * time.Second,
			ResultTTL:       10 * time.Second,
			MissedViewedTTL: 90 * 24 * time.Hour,
			MissedCountTTL:  30 * time.Second,
			EndLockWait:     3 * time.Second,
			MaxCallDuration: 24 * time.Hour,
		},
		Signaling: SignalingConfig{
			RingingTimeout:    30 * time.Second,
			RingingAckTimeout: 2 * time.Second,
			DisconnectGrace:   3 * time.Second,
			ICEBatchWindow:    50 * time.Millisecond,
		},
		ICE: ICEConfig{
			CredentialTTL: time.Hour,
		},
		SFU: SFUConfig{
			RequestTimeout:     10 * time.Second,
			TokenTTL:           time.Hour,
			RoomParticipantCap: 25,
		},
		Media: MediaConfig{
			PresignExpiry:    15 * time.Minute,
			ThumbnailMaxPx:   320,
			OptimizedMaxPx:   1600,
			HLSMinDuration:   5 * time.Second,
			HLSMinWidth:      640,
			FFmpegBinary:     "ffmpeg",
			LocalBrokerAttempts: 3,
			QueuePollTimeout: 20 * time.Second,
			MaxBytesByType: map[string]int64{
				"image":    25 << 20,
				"video":    512 << 20,
				"audio":    50 << 20,
				"document": 100 << 20,
			},
		},
	}
}

// Load reads configuration from a TOML file at path, then overlays any
// RTCORE_-prefixed environment variables (RTCORE_DATABASE__HOST etc, "__"
// flattened to "."), following the teacher's koanf provider order.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// RTCORE_DATABASE__HOST -> "database.host"; a double underscore is the
	// nesting separator so single-underscore field names (max_open_conns)
	// survive untouched.
	if err := k.Load(env.Provider("RTCORE_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "RTCORE_")
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env overrides: %w", err)
	}

	cfg := defaults()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.EncryptionKey = os.Getenv("RTCORE_ENCRYPTION_KEY")

	var err error
	if cfg.ICE.SharedSecret, err = crypto.Decrypt(cfg.ICE.SharedSecret, cfg.EncryptionKey); err != nil {
		return nil, fmt.Errorf("failed to decrypt ice shared secret: %w", err)
	}
	if cfg.SFU.APIKey, err = crypto.Decrypt(cfg.SFU.APIKey, cfg.EncryptionKey); err != nil {
		return nil, fmt.Errorf("failed to decrypt sfu api key: %w", err)
	}
	if cfg.Storage.S3Secret, err = crypto.Decrypt(cfg.Storage.S3Secret, cfg.EncryptionKey); err != nil {
		return nil, fmt.Errorf("failed to decrypt s3 secret: %w", err)
	}
	return cfg, nil
}

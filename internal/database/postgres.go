// Package database wires the gorm/PostgreSQL connection and migration
// set for the durable side of the core: call history, the domain-event
// log, the idempotency ledger, and media attachments. It follows the
// teacher's internal/database split between connection setup
// (postgres.go) and model registration, trimmed of the multi-tenant
// RBAC/seed machinery that belonged to the teacher's own domain.
package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nyife/rtcore/internal/config"
	"github.com/nyife/rtcore/internal/models"
)

// NewPostgres opens a connection pool sized per cfg (spec.md's ambient
// config stack), following the teacher's dsn-from-struct-fields idiom.
func NewPostgres(cfg *config.DatabaseConfig, debug bool) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	logLevel := logger.Silent
	if debug {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	return db, nil
}

// MigrationModel pairs a human-readable name with the model it migrates,
// for progress reporting.
type MigrationModel struct {
	Name  string
	Model interface{}
}

// GetMigrationModels returns every model the real-time core persists
// (spec.md §3): call history and its participants, the missed-call view
// state, the domain-event log, the idempotency ledger, and media
// attachments.
func GetMigrationModels() []MigrationModel {
	return []MigrationModel{
		{"CallHistoryRecord", &models.CallHistoryRecord{}},
		{"CallParticipant", &models.CallParticipant{}},
		{"MissedCallViewState", &models.MissedCallViewState{}},
		{"DomainEventLogEntry", &models.DomainEventLogEntry{}},
		{"ProcessedEvent", &models.ProcessedEvent{}},
		{"MediaAttachment", &models.MediaAttachment{}},
	}
}

// AutoMigrate runs auto migration for every registered model.
func AutoMigrate(db *gorm.DB) error {
	for _, m := range GetMigrationModels() {
		if err := db.AutoMigrate(m.Model); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", m.Name, err)
		}
	}
	return CreateIndexes(db)
}

// getIndexes returns index creation SQL not expressible via gorm tags.
func getIndexes() []string {
	return []string{
		`CREATE INDEX IF NOT EXISTS idx_call_history_initiator ON call_history_records(initiator_id, started_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_call_history_conversation ON call_history_records(conversation_id, started_at DESC) WHERE conversation_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_call_participants_user_status ON call_participants(user_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_domain_event_log_type ON domain_event_log(event_type, timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_media_attachments_uploader ON media_attachments(uploader_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_media_attachments_message ON media_attachments(message_id) WHERE message_id IS NOT NULL`,
	}
}

// CreateIndexes creates additional indexes not handled by GORM tags.
func CreateIndexes(db *gorm.DB) error {
	for _, idx := range getIndexes() {
		if err := db.Exec(idx).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

package database

import (
	"fmt"
	"time"

	"github.com/bulkwave/bulkwave/internal/config"
	"github.com/bulkwave/bulkwave/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewPostgres creates a new PostgreSQL connection
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
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	return db, nil
}

// MigrationModels returns all models to migrate, in dependency order
func MigrationModels() []interface{} {
	return []interface{}{
		&models.Sender{},
		&models.Template{},
		&models.Campaign{},
		&models.CampaignContact{},
		&models.SendQueueEntry{},
		&models.Message{},
		&models.MessageStatusLog{},
		&models.UserReplyLimit{},
		&models.Notification{},
	}
}

// AutoMigrate runs auto migration for all models
func AutoMigrate(db *gorm.DB) error {
	for _, m := range MigrationModels() {
		if err := db.AutoMigrate(m); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", m, err)
		}
	}
	return nil
}

// getIndexes returns all index creation SQL statements
func getIndexes() []string {
	return []string{
		// Queue claiming: rows the processor polls for
		`CREATE INDEX IF NOT EXISTS idx_send_queue_claim ON send_queue_entries(campaign_id, status, created_at) WHERE status IN ('ready','processing')`,
		`CREATE INDEX IF NOT EXISTS idx_send_queue_order ON send_queue_entries(campaign_id, template_order, retry_count, status) WHERE status = 'ready'`,
		// At-most-once send backstop
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_send_queue_wamid ON send_queue_entries(whats_app_message_id) WHERE whats_app_message_id IS NOT NULL`,
		// Reaper: stuck processing rows by age
		`CREATE INDEX IF NOT EXISTS idx_send_queue_processing ON send_queue_entries(status, updated_at) WHERE status = 'processing'`,
		// Message lookups by sender + user
		`CREATE INDEX IF NOT EXISTS idx_messages_sender_phone ON messages(sender_id, user_phone, created_at DESC)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_outgoing_wamid ON messages(whats_app_message_id) WHERE direction = 'outgoing' AND whats_app_message_id != ''`,
		// Status log reconciliation
		`CREATE INDEX IF NOT EXISTS idx_status_logs_campaign_wamid ON message_status_logs(campaign_id, whats_app_message_id)`,
		`CREATE INDEX IF NOT EXISTS idx_status_logs_wamid ON message_status_logs(whats_app_message_id)`,
		// Scheduler sweeps
		`CREATE INDEX IF NOT EXISTS idx_campaigns_scheduled ON campaigns(status, scheduled_start_time) WHERE status = 'scheduled'`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_spam_paused ON campaigns(status, spam_paused_until) WHERE status = 'paused'`,
		// Campaign contacts by campaign
		`CREATE INDEX IF NOT EXISTS idx_campaign_contacts_campaign ON campaign_contacts(campaign_id, is_valid)`,
	}
}

// CreateIndexes creates additional indexes not handled by GORM tags
func CreateIndexes(db *gorm.DB) error {
	for _, idx := range getIndexes() {
		if err := db.Exec(idx).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

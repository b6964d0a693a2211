package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Journal entry kinds.
const (
	EntryDeposit  = "deposit"
	EntryTransfer = "transfer"
	EntryMint     = "mint"
)

// Entry is one audited token movement.
type Entry struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Kind      string    `gorm:"size:16;index"`
	Auction   string    `gorm:"size:42;index"`
	Token     string    `gorm:"size:42;index"`
	From      string    `gorm:"size:42"`
	To        string    `gorm:"size:42"`
	Amount    string    `gorm:"size:80"`
	RequestID string    `gorm:"size:64;index"`
	CreatedAt time.Time
}

// TableName pins the table name across drivers.
func (Entry) TableName() string { return "ledger_journal" }

// Journal persists dispatched transfers and deposits for audit.
type Journal struct {
	db *gorm.DB
}

// OpenJournal connects to dsn. postgres:// DSNs use the postgres driver,
// anything else is treated as a sqlite path or DSN.
func OpenJournal(dsn string) (*Journal, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("journal: dsn required")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	return NewJournal(db)
}

// NewJournal wraps an existing connection and migrates the schema.
func NewJournal(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("journal: database required")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record stores the entries in a single transaction.
func (j *Journal) Record(ctx context.Context, entries []Entry) error {
	if j == nil || len(entries) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range entries {
			entry := entries[i]
			if entry.ID == uuid.Nil {
				entry.ID = uuid.New()
			}
			if entry.CreatedAt.IsZero() {
				// keep batch order under created_at sorting; microseconds
				// survive postgres timestamp precision
				entry.CreatedAt = now.Add(time.Duration(i) * time.Microsecond)
			}
			if err := tx.Create(&entry).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns the most recent entries, optionally filtered by auction.
func (j *Journal) List(ctx context.Context, auction string, limit int) ([]Entry, error) {
	if j == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := j.db.WithContext(ctx).Order("created_at desc").Limit(limit)
	if trimmed := strings.TrimSpace(auction); trimmed != "" {
		query = query.Where("auction = ?", trimmed)
	}
	var out []Entry
	if err := query.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

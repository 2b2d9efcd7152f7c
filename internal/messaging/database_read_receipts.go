package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errNilDatabase = errors.New("read_receipts.nil_database")

type readReceiptRecord struct {
	MessageID string `gorm:"column:message_id;primaryKey"`
	ReadUnix  int64  `gorm:"column:read_unix;not null"`
}

func (readReceiptRecord) TableName() string {
	return "read_receipts"
}

// DatabaseReadReceiptStore persists acknowledgements with GORM, usually
// sharing the token store's database.
type DatabaseReadReceiptStore struct {
	db *gorm.DB
}

// NewDatabaseReadReceiptStore migrates the receipts table on the provided handle.
func NewDatabaseReadReceiptStore(ctx context.Context, gormDB *gorm.DB) (*DatabaseReadReceiptStore, error) {
	if gormDB == nil {
		return nil, fmt.Errorf("read_receipts.open: %w", errNilDatabase)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&readReceiptRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("read_receipts.migrate: %w", migrateErr)
	}
	return &DatabaseReadReceiptStore{db: gormDB}, nil
}

// MarkRead upserts one row per identifier.
func (store *DatabaseReadReceiptStore) MarkRead(ctx context.Context, messageIDs ...string) error {
	nowUnix := time.Now().UTC().Unix()
	for _, messageID := range messageIDs {
		if messageID == "" {
			continue
		}
		record := readReceiptRecord{MessageID: messageID, ReadUnix: nowUnix}
		if err := store.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&record).Error; err != nil {
			return fmt.Errorf("read_receipts.mark_read: %w", err)
		}
	}
	return nil
}

// IsRead checks for the identifier's row.
func (store *DatabaseReadReceiptStore) IsRead(ctx context.Context, messageID string) (bool, error) {
	var record readReceiptRecord
	err := store.db.WithContext(ctx).Where("message_id = ?", messageID).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("read_receipts.is_read: %w", err)
	}
	return true, nil
}

// ReadIDs returns every acknowledged identifier.
func (store *DatabaseReadReceiptStore) ReadIDs(ctx context.Context) ([]string, error) {
	var identifiers []string
	err := store.db.WithContext(ctx).
		Model(&readReceiptRecord{}).
		Pluck("message_id", &identifiers).Error
	if err != nil {
		return nil, fmt.Errorf("read_receipts.read_ids: %w", err)
	}
	return identifiers, nil
}

// Clear deletes all rows.
func (store *DatabaseReadReceiptStore) Clear(ctx context.Context) error {
	if err := store.db.WithContext(ctx).
		Where("1 = 1").
		Delete(&readReceiptRecord{}).Error; err != nil {
		return fmt.Errorf("read_receipts.clear: %w", err)
	}
	return nil
}

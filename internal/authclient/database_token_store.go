package authclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("token_store.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("token_store.empty_database_url")
	errSQLiteEmptyPath     = errors.New("token_store.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("token_store.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("token_store.unsupported_no_scheme")
)

// DatabaseTokenStore persists the session token pair using GORM so it
// survives process restarts, the way browser-local storage survived page
// reloads in the original dashboard.
type DatabaseTokenStore struct {
	db          *gorm.DB
	driverLabel string
}

// Driver exposes the selected database driver label.
func (store *DatabaseTokenStore) Driver() string {
	return store.driverLabel
}

// DB exposes the underlying handle so sibling stores can share one database.
func (store *DatabaseTokenStore) DB() *gorm.DB {
	return store.db
}

type sessionTokenRecord struct {
	SlotID       string `gorm:"column:slot_id;primaryKey"`
	AccessToken  string `gorm:"column:access_token;not null"`
	RefreshToken string `gorm:"column:refresh_token;not null;default:''"`
	UpdatedUnix  int64  `gorm:"column:updated_unix;not null"`
}

func (sessionTokenRecord) TableName() string {
	return "session_tokens"
}

// The store keeps a single row; the dashboard holds at most one session.
const sessionSlotID = "current"

// NewDatabaseTokenStore constructs a GORM-backed store from a database URL.
func NewDatabaseTokenStore(ctx context.Context, databaseURL string) (*DatabaseTokenStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("token_store.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("token_store.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&sessionTokenRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("token_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseTokenStore{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// Save upserts the single session row.
func (store *DatabaseTokenStore) Save(ctx context.Context, accessToken string, refreshToken string) error {
	if strings.TrimSpace(accessToken) == "" {
		return fmt.Errorf("token_store.save.%s: %w", store.driverLabel, ErrEmptyAccessToken)
	}
	nowUnix := time.Now().UTC().Unix()

	var existing sessionTokenRecord
	findErr := store.db.WithContext(ctx).Where("slot_id = ?", sessionSlotID).Take(&existing).Error
	if findErr != nil && !errors.Is(findErr, gorm.ErrRecordNotFound) {
		return fmt.Errorf("token_store.save.%s: %w", store.driverLabel, findErr)
	}

	record := sessionTokenRecord{
		SlotID:       sessionSlotID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		UpdatedUnix:  nowUnix,
	}
	if refreshToken == "" {
		record.RefreshToken = existing.RefreshToken
	}

	if errors.Is(findErr, gorm.ErrRecordNotFound) {
		if createErr := store.db.WithContext(ctx).Create(&record).Error; createErr != nil {
			return fmt.Errorf("token_store.save.%s: %w", store.driverLabel, createErr)
		}
		return nil
	}
	if updateErr := store.db.WithContext(ctx).Model(&sessionTokenRecord{}).
		Where("slot_id = ?", sessionSlotID).
		Updates(map[string]any{
			"access_token":  record.AccessToken,
			"refresh_token": record.RefreshToken,
			"updated_unix":  record.UpdatedUnix,
		}).Error; updateErr != nil {
		return fmt.Errorf("token_store.save.%s: %w", store.driverLabel, updateErr)
	}
	return nil
}

// Load returns the persisted token pair.
func (store *DatabaseTokenStore) Load(ctx context.Context) (TokenPair, error) {
	var record sessionTokenRecord
	err := store.db.WithContext(ctx).Where("slot_id = ?", sessionSlotID).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return TokenPair{}, fmt.Errorf("token_store.load.%s: %w", store.driverLabel, ErrTokenNotFound)
		}
		return TokenPair{}, fmt.Errorf("token_store.load.%s: %w", store.driverLabel, err)
	}
	return TokenPair{
		AccessToken:  record.AccessToken,
		RefreshToken: record.RefreshToken,
	}, nil
}

// Clear deletes the session row. Deleting a missing row is not an error.
func (store *DatabaseTokenStore) Clear(ctx context.Context) error {
	result := store.db.WithContext(ctx).Where("slot_id = ?", sessionSlotID).Delete(&sessionTokenRecord{})
	if result.Error != nil {
		return fmt.Errorf("token_store.clear.%s: %w", store.driverLabel, result.Error)
	}
	return nil
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("token_store.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("token_store.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("token_store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("token_store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}

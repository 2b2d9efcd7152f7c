package authclient

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newSQLiteStore(t *testing.T) *DatabaseTokenStore {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "session.db")
	store, openErr := NewDatabaseTokenStore(context.Background(), "sqlite://"+databasePath)
	if openErr != nil {
		t.Fatalf("opening sqlite store failed: %v", openErr)
	}
	return store
}

func TestDatabaseTokenStoreRoundTrip(t *testing.T) {
	store := newSQLiteStore(t)

	if store.Driver() != "sqlite" {
		t.Fatalf("expected sqlite driver label, got %s", store.Driver())
	}
	if _, err := store.Load(context.Background()); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected not found before save, got %v", err)
	}

	if err := store.Save(context.Background(), "access-a", "refresh-a"); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	pair, loadErr := store.Load(context.Background())
	if loadErr != nil {
		t.Fatalf("load failed: %v", loadErr)
	}
	if pair.AccessToken != "access-a" || pair.RefreshToken != "refresh-a" {
		t.Fatalf("round trip mismatch: %+v", pair)
	}

	if err := store.Save(context.Background(), "access-b", ""); err != nil {
		t.Fatalf("access-only save failed: %v", err)
	}
	pair, _ = store.Load(context.Background())
	if pair.AccessToken != "access-b" || pair.RefreshToken != "refresh-a" {
		t.Fatalf("expected refresh token preserved across access refresh, got %+v", pair)
	}

	if err := store.Clear(context.Background()); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if _, err := store.Load(context.Background()); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected not found after clear, got %v", err)
	}
	if err := store.Clear(context.Background()); err != nil {
		t.Fatalf("clearing an empty store must not error: %v", err)
	}
}

func TestDatabaseTokenStoreRejectsEmptyAccessToken(t *testing.T) {
	store := newSQLiteStore(t)
	if err := store.Save(context.Background(), "", "refresh"); !errors.Is(err, ErrEmptyAccessToken) {
		t.Fatalf("expected empty access token error, got %v", err)
	}
}

func TestNewDatabaseTokenStoreRejectsBadURLs(t *testing.T) {
	if _, err := NewDatabaseTokenStore(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty database URL")
	}
	if _, err := NewDatabaseTokenStore(context.Background(), "mysql://localhost/db"); !errors.Is(err, ErrUnsupportedDialect) {
		t.Fatalf("expected unsupported dialect error, got %v", err)
	}
	if _, err := NewDatabaseTokenStore(context.Background(), "no-scheme-at-all"); err == nil {
		t.Fatalf("expected error for URL without scheme")
	}
	if _, err := NewDatabaseTokenStore(context.Background(), "sqlite://"); err == nil {
		t.Fatalf("expected error for sqlite URL without path")
	}
}

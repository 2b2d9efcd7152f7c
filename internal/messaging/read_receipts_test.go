package messaging

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"github.com/opsdesk/opsdesk/internal/authclient"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newSQLiteReceiptStore(t *testing.T) *DatabaseReadReceiptStore {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "receipts.db")
	gormDB, openErr := gorm.Open(sqliteDialector.Open(databasePath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		t.Fatalf("opening sqlite failed: %v", openErr)
	}
	store, storeErr := NewDatabaseReadReceiptStore(context.Background(), gormDB)
	if storeErr != nil {
		t.Fatalf("building receipt store failed: %v", storeErr)
	}
	return store
}

func runReceiptStoreContract(t *testing.T, store ReadReceiptStore) {
	t.Helper()
	ctx := context.Background()

	read, checkErr := store.IsRead(ctx, "m1")
	if checkErr != nil || read {
		t.Fatalf("fresh store must report unread: read=%v err=%v", read, checkErr)
	}

	if err := store.MarkRead(ctx, "m1", "m2", ""); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	// Re-acknowledging is a no-op, not an error.
	if err := store.MarkRead(ctx, "m1"); err != nil {
		t.Fatalf("repeated mark read failed: %v", err)
	}

	for _, messageID := range []string{"m1", "m2"} {
		read, checkErr = store.IsRead(ctx, messageID)
		if checkErr != nil || !read {
			t.Fatalf("%s should be read: read=%v err=%v", messageID, read, checkErr)
		}
	}
	read, _ = store.IsRead(ctx, "m3")
	if read {
		t.Fatalf("m3 was never acknowledged")
	}

	identifiers, listErr := store.ReadIDs(ctx)
	if listErr != nil {
		t.Fatalf("listing identifiers failed: %v", listErr)
	}
	sort.Strings(identifiers)
	if len(identifiers) != 2 || identifiers[0] != "m1" || identifiers[1] != "m2" {
		t.Fatalf("unexpected identifiers: %v", identifiers)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	identifiers, _ = store.ReadIDs(ctx)
	if len(identifiers) != 0 {
		t.Fatalf("expected empty store after clear, got %v", identifiers)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clearing an empty store must not error: %v", err)
	}
}

func TestMemoryReadReceiptStore(t *testing.T) {
	runReceiptStoreContract(t, NewMemoryReadReceiptStore())
}

func TestDatabaseReadReceiptStore(t *testing.T) {
	runReceiptStoreContract(t, newSQLiteReceiptStore(t))
}

func TestNewDatabaseReadReceiptStoreRejectsNilHandle(t *testing.T) {
	if _, err := NewDatabaseReadReceiptStore(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil database handle")
	}
}

func testMessages() []authclient.Message {
	base := time.Unix(1700000000, 0).UTC()
	return []authclient.Message{
		{ID: "m1", Subject: "Shift swap", CreatedAt: base},
		{ID: "m2", Subject: "Inventory recount", CreatedAt: base.Add(time.Minute)},
		{ID: "m3", Subject: "Audit prep", CreatedAt: base.Add(2 * time.Minute)},
	}
}

func TestUnreadCount(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryReadReceiptStore()
	messages := testMessages()

	count, countErr := UnreadCount(ctx, messages, store)
	if countErr != nil || count != 3 {
		t.Fatalf("expected 3 unread, got %d (%v)", count, countErr)
	}

	if err := store.MarkRead(ctx, "m1", "m3"); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	count, _ = UnreadCount(ctx, messages, store)
	if count != 1 {
		t.Fatalf("expected 1 unread, got %d", count)
	}
}

func TestFilterUnreadKeepsArrivalOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryReadReceiptStore()
	messages := testMessages()

	if err := store.MarkRead(ctx, "m2"); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	unread, filterErr := FilterUnread(ctx, messages, store)
	if filterErr != nil {
		t.Fatalf("filter failed: %v", filterErr)
	}
	if len(unread) != 2 || unread[0].ID != "m1" || unread[1].ID != "m3" {
		t.Fatalf("unexpected unread set: %+v", unread)
	}
}

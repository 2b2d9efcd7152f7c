// Package messaging tracks which inter-department messages the local user
// has acknowledged as read. The list never syncs to the server; unread
// counts are computed entirely client-side from it.
package messaging

import (
	"context"
	"sync"
)

// ReadReceiptStore persists acknowledged-read message identifiers.
type ReadReceiptStore interface {
	// MarkRead records the given message identifiers as read. Marking an
	// already-read message is not an error.
	MarkRead(ctx context.Context, messageIDs ...string) error
	// IsRead reports whether a message has been acknowledged.
	IsRead(ctx context.Context, messageID string) (bool, error)
	// ReadIDs returns all acknowledged message identifiers.
	ReadIDs(ctx context.Context) ([]string, error)
	// Clear forgets every acknowledgement, e.g. on logout.
	Clear(ctx context.Context) error
}

// MemoryReadReceiptStore is an in-memory store intended for tests and dev.
type MemoryReadReceiptStore struct {
	mutex sync.Mutex
	read  map[string]struct{}
}

// NewMemoryReadReceiptStore creates an empty in-memory store.
func NewMemoryReadReceiptStore() *MemoryReadReceiptStore {
	return &MemoryReadReceiptStore{read: make(map[string]struct{})}
}

// MarkRead records the identifiers.
func (store *MemoryReadReceiptStore) MarkRead(ctx context.Context, messageIDs ...string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for _, messageID := range messageIDs {
		if messageID == "" {
			continue
		}
		store.read[messageID] = struct{}{}
	}
	return nil
}

// IsRead reports whether the identifier has been recorded.
func (store *MemoryReadReceiptStore) IsRead(ctx context.Context, messageID string) (bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	_, ok := store.read[messageID]
	return ok, nil
}

// ReadIDs returns all recorded identifiers.
func (store *MemoryReadReceiptStore) ReadIDs(ctx context.Context) ([]string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	identifiers := make([]string, 0, len(store.read))
	for messageID := range store.read {
		identifiers = append(identifiers, messageID)
	}
	return identifiers, nil
}

// Clear forgets everything.
func (store *MemoryReadReceiptStore) Clear(ctx context.Context) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.read = make(map[string]struct{})
	return nil
}

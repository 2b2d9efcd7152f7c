package authclient

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryTokenStore is an in-memory store intended for tests and dev.
type MemoryTokenStore struct {
	mutex sync.Mutex
	pair  TokenPair
	saved bool
}

// NewMemoryTokenStore creates a new in-memory token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

// Save overwrites the stored access token and, when provided, the refresh token.
func (store *MemoryTokenStore) Save(ctx context.Context, accessToken string, refreshToken string) error {
	if strings.TrimSpace(accessToken) == "" {
		return fmt.Errorf("token_store.save: %w", ErrEmptyAccessToken)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.pair.AccessToken = accessToken
	if refreshToken != "" {
		store.pair.RefreshToken = refreshToken
	}
	store.saved = true
	return nil
}

// Load returns the current token pair.
func (store *MemoryTokenStore) Load(ctx context.Context) (TokenPair, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if !store.saved {
		return TokenPair{}, fmt.Errorf("token_store.load: %w", ErrTokenNotFound)
	}
	return store.pair, nil
}

// Clear removes both tokens.
func (store *MemoryTokenStore) Clear(ctx context.Context) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.pair = TokenPair{}
	store.saved = false
	return nil
}

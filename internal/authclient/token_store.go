package authclient

import (
	"context"
	"errors"
)

var (
	// ErrTokenNotFound indicates no token pair has been persisted.
	ErrTokenNotFound = errors.New("token_store.not_found")
	// ErrEmptyAccessToken indicates Save was called without an access token.
	ErrEmptyAccessToken = errors.New("token_store.empty_access_token")
)

// TokenPair holds the two opaque credentials of a session.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// TokenStore persists the session's token pair across restarts.
// Values are opaque strings; no validation happens here.
type TokenStore interface {
	// Save overwrites the stored access token. An empty refreshToken keeps
	// the previously stored refresh token.
	Save(ctx context.Context, accessToken string, refreshToken string) error
	// Load returns the current token pair or ErrTokenNotFound.
	Load(ctx context.Context) (TokenPair, error)
	// Clear removes both tokens. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

package authclient

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionExpired indicates the session could not be recovered and was cleared.
	ErrSessionExpired = errors.New("authclient.session_expired")
	// ErrBadCredentials indicates the authentication endpoint rejected the supplied credentials.
	ErrBadCredentials = errors.New("authclient.bad_credentials")
	// ErrServerUnreachable indicates the remote API could not be reached at the transport level.
	ErrServerUnreachable = errors.New("authclient.server_unreachable")
)

// APIError carries a non-401 HTTP failure through to the calling screen untouched.
type APIError struct {
	StatusCode int
	Body       string
}

// Error renders the status code and a body excerpt.
func (apiError *APIError) Error() string {
	return fmt.Sprintf("authclient.api_error: status=%d body=%s", apiError.StatusCode, apiError.Body)
}

// IsAuthFailure reports whether the error means the caller's session is gone.
func IsAuthFailure(err error) bool {
	if errors.Is(err, ErrSessionExpired) {
		return true
	}
	var apiError *APIError
	if errors.As(err, &apiError) {
		return apiError.StatusCode == 401 || apiError.StatusCode == 403
	}
	return false
}

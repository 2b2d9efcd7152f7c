package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const defaultLoginTimeout = 15 * time.Second

var (
	// ErrMissingBaseURL indicates the client was constructed without an API base URL.
	ErrMissingBaseURL = errors.New("authclient.missing_base_url")
	// ErrMissingTokenStore indicates the client was constructed without a token store.
	ErrMissingTokenStore = errors.New("authclient.missing_token_store")
)

// ClientConfig configures the API client pipeline.
type ClientConfig struct {
	// APIBaseURL is the root of the remote REST API, without trailing slash.
	APIBaseURL string
	// Store persists the session token pair.
	Store TokenStore
	// Broadcaster receives session-expired events. Optional; a private one
	// is created when nil.
	Broadcaster *Broadcaster
	// Metrics counts auth events. Optional.
	Metrics MetricsRecorder
	// Logger is optional; a no-op logger is used when nil.
	Logger *zap.Logger
	// HTTPClient is optional; http.DefaultClient semantics apply when nil.
	HTTPClient *http.Client
	// LoginTimeout bounds the credential exchange call.
	LoginTimeout time.Duration
}

// Client is the single pipeline through which every API call passes. It
// attaches the bearer credential on the way out and recovers from access
// token expiry on the way back.
type Client struct {
	baseURL      string
	store        TokenStore
	broadcaster  *Broadcaster
	metrics      MetricsRecorder
	logger       *zap.Logger
	httpClient   *http.Client
	loginTimeout time.Duration
	refreshGroup singleflight.Group
}

// NewClient validates the configuration and constructs a Client.
func NewClient(configuration ClientConfig) (*Client, error) {
	if strings.TrimSpace(configuration.APIBaseURL) == "" {
		return nil, fmt.Errorf("authclient.new: %w", ErrMissingBaseURL)
	}
	if configuration.Store == nil {
		return nil, fmt.Errorf("authclient.new: %w", ErrMissingTokenStore)
	}
	broadcaster := configuration.Broadcaster
	if broadcaster == nil {
		broadcaster = NewBroadcaster(nil)
	}
	metrics := configuration.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	loginTimeout := configuration.LoginTimeout
	if loginTimeout <= 0 {
		loginTimeout = defaultLoginTimeout
	}
	return &Client{
		baseURL:      strings.TrimRight(configuration.APIBaseURL, "/"),
		store:        configuration.Store,
		broadcaster:  broadcaster,
		metrics:      metrics,
		logger:       logger,
		httpClient:   httpClient,
		loginTimeout: loginTimeout,
	}, nil
}

// Broadcaster exposes the session event broadcaster for subscribers.
func (client *Client) Broadcaster() *Broadcaster {
	return client.broadcaster
}

// Do issues an API call with bearer injection and the single built-in
// refresh-and-replay on 401. The JSON body is marshalled once so the
// request can be rebuilt for the replay; out, when non-nil, receives the
// decoded success payload.
func (client *Client) Do(ctx context.Context, method string, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		encoded, encodeErr := json.Marshal(body)
		if encodeErr != nil {
			return fmt.Errorf("authclient.encode: %w", encodeErr)
		}
		payload = encoded
	}

	accessToken := client.currentAccessToken(ctx)
	statusCode, responseBody, sendErr := client.send(ctx, method, path, payload, accessToken)
	if sendErr != nil {
		return fmt.Errorf("%w: %v", ErrServerUnreachable, sendErr)
	}

	if statusCode == http.StatusUnauthorized {
		newToken, refreshErr := client.refreshAccessToken(ctx)
		if refreshErr != nil {
			return refreshErr
		}
		client.metrics.Increment(EventRequestReplayed)
		statusCode, responseBody, sendErr = client.send(ctx, method, path, payload, newToken)
		if sendErr != nil {
			return fmt.Errorf("%w: %v", ErrServerUnreachable, sendErr)
		}
		// A replayed request that still 401s is not retried again.
	}

	if statusCode < 200 || statusCode > 299 {
		return &APIError{StatusCode: statusCode, Body: string(responseBody)}
	}
	if out != nil && len(responseBody) > 0 {
		if decodeErr := json.Unmarshal(responseBody, out); decodeErr != nil {
			return fmt.Errorf("authclient.decode: %w", decodeErr)
		}
	}
	return nil
}

// refreshAccessToken runs one refresh episode. Concurrent callers join the
// in-flight exchange and share its outcome: the same new token or the same
// failure. Exactly one exchange call leaves the process per episode.
func (client *Client) refreshAccessToken(ctx context.Context) (string, error) {
	result, err, shared := client.refreshGroup.Do("refresh", func() (any, error) {
		// The episode must outlive any single caller's cancellation once it
		// has started; every joiner is owed its outcome.
		return client.exchangeRefreshToken(context.WithoutCancel(ctx))
	})
	if shared {
		client.metrics.Increment(EventRefreshJoined)
	}
	if err != nil {
		return "", err
	}
	newToken, ok := result.(string)
	if !ok || newToken == "" {
		return "", fmt.Errorf("authclient.refresh: %w", ErrSessionExpired)
	}
	return newToken, nil
}

func (client *Client) exchangeRefreshToken(ctx context.Context) (string, error) {
	pair, loadErr := client.store.Load(ctx)
	if loadErr != nil || strings.TrimSpace(pair.RefreshToken) == "" {
		client.expireSession(ctx, ReasonRefreshTokenMissing)
		return "", fmt.Errorf("authclient.refresh.no_refresh_token: %w", ErrSessionExpired)
	}

	requestBody, _ := json.Marshal(map[string]string{"refresh": pair.RefreshToken})
	statusCode, responseBody, sendErr := client.send(ctx, http.MethodPost, "/auth/token/refresh/", requestBody, "")
	if sendErr != nil {
		client.metrics.Increment(EventRefreshFailure)
		client.expireSession(ctx, ReasonRefreshFailed)
		return "", fmt.Errorf("authclient.refresh.transport: %w: %v", ErrSessionExpired, sendErr)
	}
	if statusCode != http.StatusOK {
		client.metrics.Increment(EventRefreshFailure)
		client.expireSession(ctx, ReasonRefreshFailed)
		return "", fmt.Errorf("authclient.refresh.rejected_status_%d: %w", statusCode, ErrSessionExpired)
	}

	var exchanged struct {
		Access string `json:"access"`
	}
	if decodeErr := json.Unmarshal(responseBody, &exchanged); decodeErr != nil || exchanged.Access == "" {
		client.metrics.Increment(EventRefreshFailure)
		client.expireSession(ctx, ReasonRefreshFailed)
		return "", fmt.Errorf("authclient.refresh.malformed_payload: %w", ErrSessionExpired)
	}

	if saveErr := client.store.Save(ctx, exchanged.Access, ""); saveErr != nil {
		client.metrics.Increment(EventRefreshFailure)
		return "", fmt.Errorf("authclient.refresh.save: %w", saveErr)
	}
	client.metrics.Increment(EventRefreshSuccess)
	client.logger.Info("access token refreshed",
		zap.String("code", "authclient.refresh.success"))
	return exchanged.Access, nil
}

// Refresh runs a refresh episode out-of-band, e.g. when the user chooses
// to extend a session nearing expiry.
func (client *Client) Refresh(ctx context.Context) error {
	_, err := client.refreshAccessToken(ctx)
	return err
}

// Login exchanges credentials for a token pair and persists it.
func (client *Client) Login(ctx context.Context, identifier string, secret string) error {
	loginCtx, cancel := context.WithTimeout(ctx, client.loginTimeout)
	defer cancel()

	requestBody, _ := json.Marshal(map[string]string{
		"email":    identifier,
		"password": secret,
	})
	statusCode, responseBody, sendErr := client.send(loginCtx, http.MethodPost, "/auth/token/", requestBody, "")
	if sendErr != nil {
		client.metrics.Increment(EventLoginFailure)
		return fmt.Errorf("authclient.login.transport: %w: %v", ErrServerUnreachable, sendErr)
	}
	if statusCode == http.StatusBadRequest || statusCode == http.StatusUnauthorized {
		client.metrics.Increment(EventLoginFailure)
		return fmt.Errorf("authclient.login.rejected: %w", ErrBadCredentials)
	}
	if statusCode != http.StatusOK {
		client.metrics.Increment(EventLoginFailure)
		return &APIError{StatusCode: statusCode, Body: string(responseBody)}
	}

	var issued struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	if decodeErr := json.Unmarshal(responseBody, &issued); decodeErr != nil || issued.Access == "" || issued.Refresh == "" {
		client.metrics.Increment(EventLoginFailure)
		return fmt.Errorf("authclient.login.malformed_payload: %w", ErrServerUnreachable)
	}
	if saveErr := client.store.Save(ctx, issued.Access, issued.Refresh); saveErr != nil {
		return fmt.Errorf("authclient.login.save: %w", saveErr)
	}
	client.metrics.Increment(EventLoginSuccess)
	return nil
}

// Logout clears the persisted token pair. Idempotent; later calls leave
// the pipeline sending unauthenticated requests.
func (client *Client) Logout(ctx context.Context) error {
	if clearErr := client.store.Clear(ctx); clearErr != nil {
		return fmt.Errorf("authclient.logout: %w", clearErr)
	}
	client.metrics.Increment(EventLogout)
	return nil
}

// AccessToken returns the current access token, or empty when logged out.
func (client *Client) AccessToken(ctx context.Context) string {
	return client.currentAccessToken(ctx)
}

func (client *Client) currentAccessToken(ctx context.Context) string {
	pair, loadErr := client.store.Load(ctx)
	if loadErr != nil {
		return ""
	}
	return pair.AccessToken
}

func (client *Client) expireSession(ctx context.Context, reason string) {
	if clearErr := client.store.Clear(ctx); clearErr != nil {
		client.logger.Warn("failed to clear token store on expiry",
			zap.String("code", "authclient.expire.clear_failed"),
			zap.Error(clearErr))
	}
	client.metrics.Increment(EventSessionExpired)
	client.broadcaster.Publish(reason)
	client.logger.Info("session expired",
		zap.String("code", "authclient.expire"),
		zap.String("reason", reason))
}

// send performs one HTTP exchange and drains the response body so the
// request can be judged and replayed by the caller.
func (client *Client) send(ctx context.Context, method string, path string, payload []byte, accessToken string) (int, []byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	request, buildErr := http.NewRequestWithContext(ctx, method, client.baseURL+path, bodyReader)
	if buildErr != nil {
		return 0, nil, buildErr
	}
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+accessToken)
	}
	requestID := uuid.NewString()
	request.Header.Set("X-Request-ID", requestID)

	startTime := time.Now()
	response, sendErr := client.httpClient.Do(request)
	if sendErr != nil {
		return 0, nil, sendErr
	}
	defer func() { _ = response.Body.Close() }()
	responseBody, readErr := io.ReadAll(response.Body)
	if readErr != nil {
		return 0, nil, readErr
	}
	client.logger.Debug("api call",
		zap.String("code", "authclient.request"),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", response.StatusCode),
		zap.String("request_id", requestID),
		zap.Duration("elapsed", time.Since(startTime)),
	)
	return response.StatusCode, responseBody, nil
}

package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type fakeAPI struct {
	mutex           sync.Mutex
	refreshCalls    int64
	protectedCalls  int64
	lastAuthHeader  string
	validAccess     string
	refreshToken    string
	refreshDelay    time.Duration
	refreshStatus   int
	refreshedAccess string
	rejectProtected int64
	server          *httptest.Server
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	api := &fakeAPI{
		validAccess:     "access-1",
		refreshToken:    "refresh-1",
		refreshStatus:   http.StatusOK,
		refreshedAccess: "access-2",
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/token/", func(writer http.ResponseWriter, request *http.Request) {
		var credentials struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if decodeErr := json.NewDecoder(request.Body).Decode(&credentials); decodeErr != nil {
			writer.WriteHeader(http.StatusBadRequest)
			return
		}
		if credentials.Email != "user@example.com" || credentials.Password != "correct" {
			writer.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(writer).Encode(map[string]string{
			"access":  api.validAccess,
			"refresh": api.refreshToken,
		})
	})
	mux.HandleFunc("/auth/token/refresh/", func(writer http.ResponseWriter, request *http.Request) {
		atomic.AddInt64(&api.refreshCalls, 1)
		if api.refreshDelay > 0 {
			time.Sleep(api.refreshDelay)
		}
		var inbound struct {
			Refresh string `json:"refresh"`
		}
		if decodeErr := json.NewDecoder(request.Body).Decode(&inbound); decodeErr != nil || inbound.Refresh != api.refreshToken {
			writer.WriteHeader(http.StatusUnauthorized)
			return
		}
		if api.refreshStatus != http.StatusOK {
			writer.WriteHeader(api.refreshStatus)
			return
		}
		api.mutex.Lock()
		api.validAccess = api.refreshedAccess
		api.mutex.Unlock()
		_ = json.NewEncoder(writer).Encode(map[string]string{"access": api.refreshedAccess})
	})
	mux.HandleFunc("/things/", func(writer http.ResponseWriter, request *http.Request) {
		atomic.AddInt64(&api.protectedCalls, 1)
		api.mutex.Lock()
		api.lastAuthHeader = request.Header.Get("Authorization")
		expected := "Bearer " + api.validAccess
		api.mutex.Unlock()
		if atomic.LoadInt64(&api.rejectProtected) != 0 || request.Header.Get("Authorization") != expected {
			writer.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(writer).Encode(map[string]string{"result": "ok"})
	})
	api.server = httptest.NewServer(mux)
	t.Cleanup(api.server.Close)
	return api
}

func newTestClient(t *testing.T, api *fakeAPI, store TokenStore) (*Client, *CounterMetrics, *Broadcaster) {
	t.Helper()
	metrics := NewCounterMetrics()
	broadcaster := NewBroadcaster(nil)
	client, clientErr := NewClient(ClientConfig{
		APIBaseURL:  api.server.URL,
		Store:       store,
		Broadcaster: broadcaster,
		Metrics:     metrics,
		Logger:      zaptest.NewLogger(t),
	})
	if clientErr != nil {
		t.Fatalf("client construction failed: %v", clientErr)
	}
	return client, metrics, broadcaster
}

func TestNewClientRequiresBaseURLAndStore(t *testing.T) {
	if _, err := NewClient(ClientConfig{Store: NewMemoryTokenStore()}); !errors.Is(err, ErrMissingBaseURL) {
		t.Fatalf("expected missing base URL error, got %v", err)
	}
	if _, err := NewClient(ClientConfig{APIBaseURL: "http://localhost"}); !errors.Is(err, ErrMissingTokenStore) {
		t.Fatalf("expected missing token store error, got %v", err)
	}
}

func TestLoginStoresTokenPair(t *testing.T) {
	api := newFakeAPI(t)
	store := NewMemoryTokenStore()
	client, metrics, _ := newTestClient(t, api, store)

	if loginErr := client.Login(context.Background(), "user@example.com", "correct"); loginErr != nil {
		t.Fatalf("login failed: %v", loginErr)
	}
	pair, loadErr := store.Load(context.Background())
	if loadErr != nil {
		t.Fatalf("token pair not persisted: %v", loadErr)
	}
	if pair.AccessToken != "access-1" || pair.RefreshToken != "refresh-1" {
		t.Fatalf("unexpected persisted pair: %+v", pair)
	}
	if metrics.Count(EventLoginSuccess) != 1 {
		t.Fatalf("expected one login.success, got %d", metrics.Count(EventLoginSuccess))
	}
}

func TestLoginClassifiesBadCredentials(t *testing.T) {
	api := newFakeAPI(t)
	client, _, _ := newTestClient(t, api, NewMemoryTokenStore())

	loginErr := client.Login(context.Background(), "user@example.com", "wrong")
	if !errors.Is(loginErr, ErrBadCredentials) {
		t.Fatalf("expected bad credentials error, got %v", loginErr)
	}
}

func TestLoginClassifiesUnreachableServer(t *testing.T) {
	api := newFakeAPI(t)
	store := NewMemoryTokenStore()
	client, _, _ := newTestClient(t, api, store)
	api.server.Close()

	loginErr := client.Login(context.Background(), "user@example.com", "correct")
	if !errors.Is(loginErr, ErrServerUnreachable) {
		t.Fatalf("expected unreachable error, got %v", loginErr)
	}
}

func TestExpiredAccessTokenIsRecoveredTransparently(t *testing.T) {
	api := newFakeAPI(t)
	store := NewMemoryTokenStore()
	client, metrics, _ := newTestClient(t, api, store)

	// Stale access token with a valid refresh token.
	if saveErr := store.Save(context.Background(), "stale-access", "refresh-1"); saveErr != nil {
		t.Fatalf("seed failed: %v", saveErr)
	}

	var result map[string]string
	if doErr := client.Do(context.Background(), http.MethodGet, "/things/", nil, &result); doErr != nil {
		t.Fatalf("expected transparent recovery, got %v", doErr)
	}
	if result["result"] != "ok" {
		t.Fatalf("unexpected payload: %v", result)
	}
	if got := atomic.LoadInt64(&api.refreshCalls); got != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", got)
	}
	if got := atomic.LoadInt64(&api.protectedCalls); got != 2 {
		t.Fatalf("expected original call plus one replay, got %d", got)
	}
	pair, _ := store.Load(context.Background())
	if pair.AccessToken != "access-2" {
		t.Fatalf("expected refreshed access token persisted, got %q", pair.AccessToken)
	}
	if pair.RefreshToken != "refresh-1" {
		t.Fatalf("refresh token must survive an access refresh, got %q", pair.RefreshToken)
	}
	if metrics.Count(EventRequestReplayed) != 1 {
		t.Fatalf("expected one replay counted, got %d", metrics.Count(EventRequestReplayed))
	}
}

func TestRefreshFailureClearsSessionAndBroadcasts(t *testing.T) {
	api := newFakeAPI(t)
	api.refreshStatus = http.StatusUnauthorized
	store := NewMemoryTokenStore()
	client, _, broadcaster := newTestClient(t, api, store)
	events, unsubscribe := broadcaster.Subscribe()
	defer unsubscribe()

	if saveErr := store.Save(context.Background(), "stale-access", "refresh-1"); saveErr != nil {
		t.Fatalf("seed failed: %v", saveErr)
	}

	doErr := client.Do(context.Background(), http.MethodGet, "/things/", nil, nil)
	if !errors.Is(doErr, ErrSessionExpired) {
		t.Fatalf("expected session expired, got %v", doErr)
	}
	if _, loadErr := store.Load(context.Background()); !errors.Is(loadErr, ErrTokenNotFound) {
		t.Fatalf("expected cleared store, got %v", loadErr)
	}
	select {
	case event := <-events:
		if event.Reason != ReasonRefreshFailed {
			t.Fatalf("unexpected broadcast reason: %s", event.Reason)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected session-expired broadcast")
	}
}

func TestMissingRefreshTokenSkipsRefreshEntirely(t *testing.T) {
	api := newFakeAPI(t)
	store := NewMemoryTokenStore()
	client, _, broadcaster := newTestClient(t, api, store)
	events, unsubscribe := broadcaster.Subscribe()
	defer unsubscribe()

	if saveErr := store.Save(context.Background(), "stale-access", ""); saveErr != nil {
		t.Fatalf("seed failed: %v", saveErr)
	}

	doErr := client.Do(context.Background(), http.MethodGet, "/things/", nil, nil)
	if !errors.Is(doErr, ErrSessionExpired) {
		t.Fatalf("expected session expired, got %v", doErr)
	}
	if got := atomic.LoadInt64(&api.refreshCalls); got != 0 {
		t.Fatalf("expected no refresh attempt, got %d", got)
	}
	if _, loadErr := store.Load(context.Background()); !errors.Is(loadErr, ErrTokenNotFound) {
		t.Fatalf("expected cleared store, got %v", loadErr)
	}
	select {
	case event := <-events:
		if event.Reason != ReasonRefreshTokenMissing {
			t.Fatalf("unexpected broadcast reason: %s", event.Reason)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected session-expired broadcast")
	}
}

func TestConcurrent401sShareOneRefreshEpisode(t *testing.T) {
	api := newFakeAPI(t)
	api.refreshDelay = 150 * time.Millisecond
	store := NewMemoryTokenStore()
	client, _, _ := newTestClient(t, api, store)

	if saveErr := store.Save(context.Background(), "stale-access", "refresh-1"); saveErr != nil {
		t.Fatalf("seed failed: %v", saveErr)
	}

	const concurrentCalls = 5
	start := make(chan struct{})
	errorsChannel := make(chan error, concurrentCalls)
	var waitGroup sync.WaitGroup
	for index := 0; index < concurrentCalls; index++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			<-start
			errorsChannel <- client.Do(context.Background(), http.MethodGet, "/things/", nil, nil)
		}()
	}
	close(start)
	waitGroup.Wait()
	close(errorsChannel)

	for doErr := range errorsChannel {
		if doErr != nil {
			t.Fatalf("expected every caller to settle successfully, got %v", doErr)
		}
	}
	if got := atomic.LoadInt64(&api.refreshCalls); got != 1 {
		t.Fatalf("expected exactly one refresh exchange for %d concurrent 401s, got %d", concurrentCalls, got)
	}
}

func TestReplayedRequestThatStill401sIsNotRetriedAgain(t *testing.T) {
	api := newFakeAPI(t)
	// The refresh succeeds but the protected route keeps rejecting.
	atomic.StoreInt64(&api.rejectProtected, 1)
	store := NewMemoryTokenStore()
	client, _, _ := newTestClient(t, api, store)

	if saveErr := store.Save(context.Background(), "stale-access", "refresh-1"); saveErr != nil {
		t.Fatalf("seed failed: %v", saveErr)
	}

	doErr := client.Do(context.Background(), http.MethodGet, "/things/", nil, nil)
	var apiError *APIError
	if !errors.As(doErr, &apiError) || apiError.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected terminal 401 API error, got %v", doErr)
	}
	if got := atomic.LoadInt64(&api.refreshCalls); got != 1 {
		t.Fatalf("expected a single refresh attempt, got %d", got)
	}
	if got := atomic.LoadInt64(&api.protectedCalls); got != 2 {
		t.Fatalf("expected no second replay, got %d calls", got)
	}
}

func TestNonAuthErrorsPassThroughUnchanged(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/broken/", func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusInternalServerError)
		_, _ = writer.Write([]byte("boom"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, clientErr := NewClient(ClientConfig{
		APIBaseURL: server.URL,
		Store:      NewMemoryTokenStore(),
	})
	if clientErr != nil {
		t.Fatalf("client construction failed: %v", clientErr)
	}

	doErr := client.Do(context.Background(), http.MethodGet, "/broken/", nil, nil)
	var apiError *APIError
	if !errors.As(doErr, &apiError) {
		t.Fatalf("expected API error, got %v", doErr)
	}
	if apiError.StatusCode != http.StatusInternalServerError || apiError.Body != "boom" {
		t.Fatalf("expected untouched 500, got %+v", apiError)
	}
}

func TestLogoutLeavesRequestsUnauthenticated(t *testing.T) {
	api := newFakeAPI(t)
	store := NewMemoryTokenStore()
	client, _, _ := newTestClient(t, api, store)

	if loginErr := client.Login(context.Background(), "user@example.com", "correct"); loginErr != nil {
		t.Fatalf("login failed: %v", loginErr)
	}
	if logoutErr := client.Logout(context.Background()); logoutErr != nil {
		t.Fatalf("logout failed: %v", logoutErr)
	}
	if logoutErr := client.Logout(context.Background()); logoutErr != nil {
		t.Fatalf("logout must be idempotent: %v", logoutErr)
	}

	_ = client.Do(context.Background(), http.MethodGet, "/things/", nil, nil)
	api.mutex.Lock()
	header := api.lastAuthHeader
	api.mutex.Unlock()
	if header != "" {
		t.Fatalf("expected unauthenticated request after logout, got header %q", header)
	}
}

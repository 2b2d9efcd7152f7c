// Package sessionwatch warns the user before the access token silently
// expires, and offers extend-or-logout.
//
// The token's expiry claim is decoded WITHOUT signature verification. This
// is advisory, UX-only information: the client inspecting its own token is
// not a security boundary, and the server independently validates every
// token it receives. Do not mistake this package for token validation.
package sessionwatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now returns the current UTC timestamp.
func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Defaults for the polling cadence and the warning window.
const (
	DefaultPollInterval  = 30 * time.Second
	DefaultWarnWindow    = 2 * time.Minute
	DefaultCountdownTick = time.Second
)

// Sentinel errors exposed by the watcher.
var (
	ErrMissingTokenSource = errors.New("sessionwatch.missing_token_source")
	ErrMissingForceLogout = errors.New("sessionwatch.missing_force_logout")
	ErrMissingExtend      = errors.New("sessionwatch.missing_extend")
	ErrMissingToken       = errors.New("sessionwatch.missing_token")
	ErrMalformedToken     = errors.New("sessionwatch.malformed_token")
	ErrNoExpiryClaim      = errors.New("sessionwatch.no_expiry_claim")
	ErrAlreadyStarted     = errors.New("sessionwatch.already_started")
)

// ExpiryOf decodes the access token's exp claim without verifying the
// signature and returns the expiry timestamp.
func ExpiryOf(token string) (time.Time, error) {
	if strings.TrimSpace(token) == "" {
		return time.Time{}, fmt.Errorf("sessionwatch.expiry_of: %w", ErrMissingToken)
	}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, parseErr := parser.ParseUnverified(token, claims); parseErr != nil {
		return time.Time{}, fmt.Errorf("sessionwatch.expiry_of: %w", ErrMalformedToken)
	}
	expiresAt, expErr := claims.GetExpirationTime()
	if expErr != nil || expiresAt == nil {
		return time.Time{}, fmt.Errorf("sessionwatch.expiry_of: %w", ErrNoExpiryClaim)
	}
	return expiresAt.Time, nil
}

// Config configures the Watcher.
type Config struct {
	// TokenSource returns the current access token, or empty when logged out.
	TokenSource func(ctx context.Context) string
	// Extend runs the refresh flow out-of-band when the user chooses to
	// keep the session alive.
	Extend func(ctx context.Context) error
	// ForceLogout tears the session down when the countdown runs out or an
	// extend attempt fails.
	ForceLogout func(ctx context.Context, reason string)
	// OnWarning surfaces the countdown affordance with the remaining time.
	OnWarning func(remaining time.Duration)
	// OnCountdown ticks while the affordance is visible.
	OnCountdown func(remaining time.Duration)
	// OnWarningCleared hides the affordance after a successful extend.
	OnWarningCleared func()

	PollInterval  time.Duration
	WarnWindow    time.Duration
	CountdownTick time.Duration
	Clock         Clock
	Logger        *zap.Logger
}

// Watcher polls the access token's expiry and drives the warning countdown.
type Watcher struct {
	mutex         sync.Mutex
	tokenSource   func(ctx context.Context) string
	extend        func(ctx context.Context) error
	forceLogout   func(ctx context.Context, reason string)
	onWarning     func(remaining time.Duration)
	onCountdown   func(remaining time.Duration)
	onCleared     func()
	pollInterval  time.Duration
	warnWindow    time.Duration
	countdownTick time.Duration
	clock         Clock
	logger        *zap.Logger

	warningActive bool
	expiresAt     time.Time
	started       bool
	stopChannel   chan struct{}
}

// New constructs a Watcher after validating the supplied configuration.
func New(configuration Config) (*Watcher, error) {
	if configuration.TokenSource == nil {
		return nil, fmt.Errorf("sessionwatch.new: %w", ErrMissingTokenSource)
	}
	if configuration.ForceLogout == nil {
		return nil, fmt.Errorf("sessionwatch.new: %w", ErrMissingForceLogout)
	}
	pollInterval := configuration.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	warnWindow := configuration.WarnWindow
	if warnWindow <= 0 {
		warnWindow = DefaultWarnWindow
	}
	countdownTick := configuration.CountdownTick
	if countdownTick <= 0 {
		countdownTick = DefaultCountdownTick
	}
	clock := configuration.Clock
	if clock == nil {
		clock = systemClock{}
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		tokenSource:   configuration.TokenSource,
		extend:        configuration.Extend,
		forceLogout:   configuration.ForceLogout,
		onWarning:     configuration.OnWarning,
		onCountdown:   configuration.OnCountdown,
		onCleared:     configuration.OnWarningCleared,
		pollInterval:  pollInterval,
		warnWindow:    warnWindow,
		countdownTick: countdownTick,
		clock:         clock,
		logger:        logger,
	}, nil
}

// Start checks the token immediately and then polls in the background
// until Stop is called or the context is cancelled. A stopped watcher
// can be started again.
func (watcher *Watcher) Start(ctx context.Context) error {
	watcher.mutex.Lock()
	if watcher.started {
		watcher.mutex.Unlock()
		return fmt.Errorf("sessionwatch.start: %w", ErrAlreadyStarted)
	}
	watcher.started = true
	stopChannel := make(chan struct{})
	watcher.stopChannel = stopChannel
	watcher.mutex.Unlock()

	watcher.Poll(ctx)
	go watcher.run(ctx, stopChannel)
	return nil
}

// Stop halts the background polling loop. Idempotent.
func (watcher *Watcher) Stop() {
	watcher.mutex.Lock()
	defer watcher.mutex.Unlock()
	if !watcher.started {
		return
	}
	watcher.started = false
	close(watcher.stopChannel)
	watcher.stopChannel = nil
}

func (watcher *Watcher) run(ctx context.Context, stopChannel <-chan struct{}) {
	pollTicker := time.NewTicker(watcher.pollInterval)
	defer pollTicker.Stop()
	countdownTicker := time.NewTicker(watcher.countdownTick)
	defer countdownTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopChannel:
			return
		case <-pollTicker.C:
			watcher.Poll(ctx)
		case <-countdownTicker.C:
			watcher.tickCountdown(ctx)
		}
	}
}

// Poll re-reads the token's expiry and surfaces the warning when the
// remaining time has entered the warning window.
func (watcher *Watcher) Poll(ctx context.Context) {
	token := watcher.tokenSource(ctx)
	if token == "" {
		watcher.clearWarning(false)
		return
	}
	expiresAt, expiryErr := ExpiryOf(token)
	if expiryErr != nil {
		watcher.logger.Debug("token expiry unreadable",
			zap.String("code", "sessionwatch.poll.unreadable"),
			zap.Error(expiryErr))
		watcher.clearWarning(false)
		return
	}

	watcher.mutex.Lock()
	watcher.expiresAt = expiresAt
	remaining := expiresAt.Sub(watcher.clock.Now())
	alreadyWarning := watcher.warningActive
	shouldWarn := remaining > 0 && remaining <= watcher.warnWindow
	if shouldWarn && !alreadyWarning {
		watcher.warningActive = true
	}
	watcher.mutex.Unlock()

	if shouldWarn && !alreadyWarning && watcher.onWarning != nil {
		watcher.onWarning(remaining)
	}
	if remaining <= 0 {
		watcher.expire(ctx)
	}
}

// WarningActive reports whether the countdown affordance is visible.
func (watcher *Watcher) WarningActive() bool {
	watcher.mutex.Lock()
	defer watcher.mutex.Unlock()
	return watcher.warningActive
}

// Remaining returns the time left on the last observed expiry.
func (watcher *Watcher) Remaining() time.Duration {
	watcher.mutex.Lock()
	defer watcher.mutex.Unlock()
	if watcher.expiresAt.IsZero() {
		return 0
	}
	return watcher.expiresAt.Sub(watcher.clock.Now())
}

// Extend runs the refresh flow; success resets and hides the warning,
// failure forces logout.
func (watcher *Watcher) Extend(ctx context.Context) error {
	if watcher.extend == nil {
		return fmt.Errorf("sessionwatch.extend: %w", ErrMissingExtend)
	}
	if extendErr := watcher.extend(ctx); extendErr != nil {
		watcher.logger.Warn("session extend failed",
			zap.String("code", "sessionwatch.extend.failed"),
			zap.Error(extendErr))
		watcher.clearWarning(false)
		watcher.forceLogout(ctx, "extend_failed")
		return extendErr
	}
	watcher.clearWarning(true)
	watcher.Poll(ctx)
	return nil
}

func (watcher *Watcher) tickCountdown(ctx context.Context) {
	watcher.mutex.Lock()
	if !watcher.warningActive {
		watcher.mutex.Unlock()
		return
	}
	remaining := watcher.expiresAt.Sub(watcher.clock.Now())
	watcher.mutex.Unlock()

	if remaining <= 0 {
		watcher.expire(ctx)
		return
	}
	if watcher.onCountdown != nil {
		watcher.onCountdown(remaining)
	}
}

// expire tears the session down. Reached from the countdown hitting zero
// and from a poll that finds the token already past its expiry, e.g. after
// the host slept through the whole warning window.
func (watcher *Watcher) expire(ctx context.Context) {
	watcher.mutex.Lock()
	watcher.warningActive = false
	watcher.expiresAt = time.Time{}
	watcher.mutex.Unlock()
	watcher.logger.Info("session expiry reached",
		zap.String("code", "sessionwatch.expired"))
	watcher.forceLogout(ctx, "timeout_expired")
}

func (watcher *Watcher) clearWarning(notify bool) {
	watcher.mutex.Lock()
	wasWarning := watcher.warningActive
	watcher.warningActive = false
	watcher.mutex.Unlock()
	if notify && wasWarning && watcher.onCleared != nil {
		watcher.onCleared()
	}
}

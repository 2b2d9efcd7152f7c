package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opsdesk/opsdesk/internal/authclient"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Status tracks the session lifecycle. A failed background profile fetch
// drops straight back to unauthenticated; there is no stale intermediate.
type Status string

const (
	// StatusUnauthenticated means no session is held.
	StatusUnauthenticated Status = "unauthenticated"
	// StatusAuthenticating means a credential exchange is in progress.
	StatusAuthenticating Status = "authenticating"
	// StatusAuthenticated means a profile has been loaded for the current token.
	StatusAuthenticated Status = "authenticated"
)

// ErrMissingClient indicates the manager was constructed without an API client.
var ErrMissingClient = errors.New("session.missing_client")

// ManagerConfig configures the session manager.
type ManagerConfig struct {
	Client *authclient.Client
	Logger *zap.Logger
}

// Manager owns the authenticated identity, the derived permission set, and
// the login/logout lifecycle. It is an explicit injected object rather than
// ambient shared state so the refresh invariants stay unit-testable.
type Manager struct {
	mutex       sync.Mutex
	client      *authclient.Client
	logger      *zap.Logger
	status      Status
	user        *authclient.UserProfile
	permissions PermissionSet
	roles       []authclient.RoleEntry
	departments []authclient.Department
}

// NewManager validates the configuration and constructs a Manager.
func NewManager(configuration ManagerConfig) (*Manager, error) {
	if configuration.Client == nil {
		return nil, fmt.Errorf("session.new: %w", ErrMissingClient)
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		client: configuration.Client,
		logger: logger,
		status: StatusUnauthenticated,
	}, nil
}

// Login exchanges credentials, persists the issued token pair, and loads
// the profile and catalogues. On failure the manager returns to the
// unauthenticated state and surfaces the classified error.
func (manager *Manager) Login(ctx context.Context, identifier string, secret string) (authclient.UserProfile, error) {
	manager.setStatus(StatusAuthenticating)

	if loginErr := manager.client.Login(ctx, identifier, secret); loginErr != nil {
		manager.reset()
		return authclient.UserProfile{}, loginErr
	}
	if bootstrapErr := manager.Bootstrap(ctx); bootstrapErr != nil {
		return authclient.UserProfile{}, bootstrapErr
	}
	user, _ := manager.User()
	return user, nil
}

// Bootstrap reacts to an access token change, including the initial load
// from the persisted store. It concurrently fetches the profile, the role
// catalogue, and the department catalogue, then recomputes permissions.
// A profile fetch rejected for authorization forces a full logout.
func (manager *Manager) Bootstrap(ctx context.Context) error {
	if manager.client.AccessToken(ctx) == "" {
		manager.reset()
		return nil
	}

	var profile authclient.UserProfile
	var roleCatalogue []authclient.RoleEntry
	var departmentCatalogue []authclient.Department

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		fetched, fetchErr := manager.client.FetchProfile(groupCtx)
		if fetchErr != nil {
			return fetchErr
		}
		profile = fetched
		return nil
	})
	group.Go(func() error {
		fetched, fetchErr := manager.client.FetchRoles(groupCtx)
		if fetchErr != nil {
			return fetchErr
		}
		roleCatalogue = fetched
		return nil
	})
	group.Go(func() error {
		fetched, fetchErr := manager.client.FetchDepartments(groupCtx)
		if fetchErr != nil {
			return fetchErr
		}
		departmentCatalogue = fetched
		return nil
	})

	if waitErr := group.Wait(); waitErr != nil {
		if authclient.IsAuthFailure(waitErr) {
			manager.logger.Warn("bootstrap rejected, forcing logout",
				zap.String("code", "session.bootstrap.unauthorized"),
				zap.Error(waitErr))
			_ = manager.Logout(ctx)
		} else {
			manager.reset()
		}
		return fmt.Errorf("session.bootstrap: %w", waitErr)
	}

	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	manager.user = &profile
	manager.permissions = ComputePermissions(profile.Role)
	manager.roles = roleCatalogue
	manager.departments = departmentCatalogue
	manager.status = StatusAuthenticated
	manager.logger.Info("session established",
		zap.String("code", "session.bootstrap.ok"),
		zap.String("user_id", profile.ID),
		zap.String("role", profile.Role))
	return nil
}

// Logout clears the token store and all in-memory session state. Idempotent.
func (manager *Manager) Logout(ctx context.Context) error {
	logoutErr := manager.client.Logout(ctx)
	manager.reset()
	if logoutErr != nil {
		return fmt.Errorf("session.logout: %w", logoutErr)
	}
	return nil
}

// UserUpdate carries a partial profile to merge after side-channel
// mutations such as an avatar upload. Empty fields are left untouched.
type UserUpdate struct {
	Email     string
	FirstName string
	LastName  string
	AvatarURL string
}

// UpdateUser shallow-merges the partial record into the in-memory user
// without a server round-trip.
func (manager *Manager) UpdateUser(update UserUpdate) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	if manager.user == nil {
		return
	}
	if update.Email != "" {
		manager.user.Email = update.Email
	}
	if update.FirstName != "" {
		manager.user.FirstName = update.FirstName
	}
	if update.LastName != "" {
		manager.user.LastName = update.LastName
	}
	if update.AvatarURL != "" {
		manager.user.AvatarURL = update.AvatarURL
	}
}

// User returns a copy of the current user, if authenticated.
func (manager *Manager) User() (authclient.UserProfile, bool) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	if manager.user == nil {
		return authclient.UserProfile{}, false
	}
	return *manager.user, true
}

// Status returns the current lifecycle state.
func (manager *Manager) Status() Status {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	return manager.status
}

// Permissions returns the derived capability map for the current user.
func (manager *Manager) Permissions() PermissionSet {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	clone := make(PermissionSet, len(manager.permissions))
	for capability, granted := range manager.permissions {
		clone[capability] = granted
	}
	return clone
}

// Roles returns the cached role catalogue.
func (manager *Manager) Roles() []authclient.RoleEntry {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	return append([]authclient.RoleEntry(nil), manager.roles...)
}

// Departments returns the cached department catalogue.
func (manager *Manager) Departments() []authclient.Department {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	return append([]authclient.Department(nil), manager.departments...)
}

// HasRole reports whether the current user holds exactly the given role.
func (manager *Manager) HasRole(role string) bool {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	return manager.user != nil && manager.user.Role == role
}

// HasAnyRole reports whether the current user holds any of the given roles.
func (manager *Manager) HasAnyRole(roles ...string) bool {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	if manager.user == nil {
		return false
	}
	for _, role := range roles {
		if manager.user.Role == role {
			return true
		}
	}
	return false
}

// Can reports whether the current user's permission set grants a capability.
func (manager *Manager) Can(capability string) bool {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	return manager.permissions.Allows(capability)
}

func (manager *Manager) setStatus(status Status) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	manager.status = status
}

func (manager *Manager) reset() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	manager.user = nil
	manager.permissions = nil
	manager.roles = nil
	manager.departments = nil
	manager.status = StatusUnauthenticated
}

package security

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// User is an account known to an Authenticator.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"` // Never serialize
	Roles        []Role    `json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
	LastLogin    time.Time `json:"last_login,omitempty"`
	FailedLogins int       `json:"-"`
	LockedUntil  time.Time `json:"-"`
	Disabled     bool      `json:"disabled,omitempty"`
}

// Principal returns the identity carried in request contexts.
func (u *User) Principal() *Principal {
	return &Principal{Username: u.Username, Roles: slices.Clone(u.Roles)}
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	MinPasswordLength int
	BcryptCost        int

	// Lockout settings
	MaxFailedLogins int
	LockoutDuration time.Duration
}

// DefaultAuthConfig returns default authentication configuration.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		MinPasswordLength: 8,
		BcryptCost:        bcrypt.DefaultCost,
		MaxFailedLogins:   5,
		LockoutDuration:   15 * time.Minute,
	}
}

// AuthEvent describes one authentication attempt.
type AuthEvent struct {
	Timestamp time.Time
	Username  string
	UserID    string
	Success   bool
	Details   string
}

// Authenticator manages users and verifies passwords.
//
// Accounts are locked for LockoutDuration after MaxFailedLogins consecutive failures.
// Unknown users and wrong passwords fail the same way so callers cannot probe for names.
type Authenticator struct {
	mu     sync.Mutex
	users  map[string]*User // keyed by username
	config AuthConfig
	now    func() time.Time

	auditLog func(AuthEvent)
}

// NewAuthenticator creates an authenticator; zero config fields take their defaults.
func NewAuthenticator(config AuthConfig) *Authenticator {
	def := DefaultAuthConfig()
	if config.BcryptCost == 0 {
		config.BcryptCost = def.BcryptCost
	}
	if config.MinPasswordLength == 0 {
		config.MinPasswordLength = def.MinPasswordLength
	}
	if config.MaxFailedLogins == 0 {
		config.MaxFailedLogins = def.MaxFailedLogins
	}
	if config.LockoutDuration == 0 {
		config.LockoutDuration = def.LockoutDuration
	}
	return &Authenticator{
		users:  make(map[string]*User),
		config: config,
		now:    time.Now,
	}
}

// SetAuditLogger sets the callback receiving every authentication attempt.
func (a *Authenticator) SetAuditLogger(fn func(AuthEvent)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.auditLog = fn
}

func (a *Authenticator) logAudit(event AuthEvent) {
	if a.auditLog != nil {
		event.Timestamp = a.now()
		a.auditLog(event)
	}
}

// CreateUser hashes password with bcrypt and adds the account. No roles means viewer.
func (a *Authenticator) CreateUser(username, password string, roles []Role) (*User, error) {
	if len(password) < a.config.MinPasswordLength {
		return nil, fmt.Errorf("%w: minimum %d characters required", ErrPasswordTooShort, a.config.MinPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return a.AddUser(username, string(hash), roles)
}

// AddUser adds an account whose bcrypt hash is already known, as loaded from a policy file.
func (a *Authenticator) AddUser(username, passwordHash string, roles []Role) (*User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.users[username]; exists {
		return nil, ErrUserExists
	}
	if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
		return nil, fmt.Errorf("user %q: invalid password hash: %w", username, err)
	}
	if len(roles) == 0 {
		roles = []Role{RoleViewer}
	}
	user := &User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		Roles:        slices.Clone(roles),
		CreatedAt:    a.now(),
	}
	a.users[username] = user
	return copyUserSafe(user), nil
}

// LoadUsers adds every user of p, replacing accounts with the same name.
func (a *Authenticator) LoadUsers(p *Policy) error {
	for _, u := range p.Users {
		_ = a.DeleteUser(u.Username)
		if _, err := a.AddUser(u.Username, u.PasswordHash, u.Roles); err != nil {
			return err
		}
	}
	return nil
}

// Authenticate verifies credentials and returns the caller's principal.
func (a *Authenticator) Authenticate(username, password string) (*Principal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	user, exists := a.users[username]
	if !exists {
		a.logAudit(AuthEvent{Username: username, Details: "user not found"})
		return nil, ErrInvalidCredentials
	}

	now := a.now()
	if !user.LockedUntil.IsZero() && now.Before(user.LockedUntil) {
		a.logAudit(AuthEvent{Username: username, UserID: user.ID, Details: "account locked"})
		return nil, ErrAccountLocked
	}
	if user.Disabled {
		a.logAudit(AuthEvent{Username: username, UserID: user.ID, Details: "account disabled"})
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		user.FailedLogins++
		if user.FailedLogins >= a.config.MaxFailedLogins {
			user.LockedUntil = now.Add(a.config.LockoutDuration)
		}
		a.logAudit(AuthEvent{
			Username: username,
			UserID:   user.ID,
			Details:  fmt.Sprintf("invalid password (attempt %d/%d)", user.FailedLogins, a.config.MaxFailedLogins),
		})
		return nil, ErrInvalidCredentials
	}

	user.FailedLogins = 0
	user.LockedUntil = time.Time{}
	user.LastLogin = now
	a.logAudit(AuthEvent{Username: username, UserID: user.ID, Success: true})
	return user.Principal(), nil
}

// GetUser returns a copy of the account without its hash.
func (a *Authenticator) GetUser(username string) (*User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	user, ok := a.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return copyUserSafe(user), nil
}

// ListUsers returns every account sorted by username.
func (a *Authenticator) ListUsers() []*User {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*User, 0, len(a.users))
	for _, u := range a.users {
		out = append(out, copyUserSafe(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// UnlockUser clears a lockout.
func (a *Authenticator) UnlockUser(username string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	user, ok := a.users[username]
	if !ok {
		return ErrUserNotFound
	}
	user.FailedLogins = 0
	user.LockedUntil = time.Time{}
	return nil
}

// DisableUser blocks logins without deleting the account.
func (a *Authenticator) DisableUser(username string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	user, ok := a.users[username]
	if !ok {
		return ErrUserNotFound
	}
	user.Disabled = true
	return nil
}

// DeleteUser removes an account.
func (a *Authenticator) DeleteUser(username string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.users[username]; !ok {
		return ErrUserNotFound
	}
	delete(a.users, username)
	return nil
}

func copyUserSafe(u *User) *User {
	c := *u
	c.PasswordHash = ""
	c.Roles = slices.Clone(u.Roles)
	return &c
}

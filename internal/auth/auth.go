// Package auth verifies the credentials a Bolt client presents in its LOGON
// message and reports the roles attached to them.
//
// It deliberately carries only the slice of the teacher's auth system that a
// Bolt connection handler needs: bcrypt password hashing and brute-force
// lockout. Token issuance, audit logging, and HTTP-facing session management
// belong to a caller's own auth stack, not to the protocol handler.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrUserExists is returned by CreateUser for a username already registered.
	ErrUserExists = errors.New("auth: user already exists")
	// ErrUserNotFound is returned by GetUser for an unknown username.
	ErrUserNotFound = errors.New("auth: user not found")
	// ErrInvalidCredentials covers both unknown usernames and wrong
	// passwords; callers must not distinguish between the two or they leak
	// which usernames are registered.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrAccountLocked is returned while a user is serving out a lockout
	// window from too many failed attempts.
	ErrAccountLocked = errors.New("auth: account locked")
	// ErrAccountDisabled is returned for a user explicitly disabled by an admin.
	ErrAccountDisabled = errors.New("auth: account disabled")
	// ErrPasswordTooShort is returned by CreateUser when the password is
	// shorter than Config.MinPasswordLength.
	ErrPasswordTooShort = errors.New("auth: password too short")
)

// Role is an opaque permission bundle name. Roles map to their permission
// sets via RolePermissions, the same Neo4j-flavored role/permission model
// the rest of this module's config uses.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Permission is a single authorizable action.
type Permission string

const (
	PermRead   Permission = "read"
	PermWrite  Permission = "write"
	PermSchema Permission = "schema"
	PermAdmin  Permission = "admin"
)

// RolePermissions maps each role to the permissions it carries.
var RolePermissions = map[Role][]Permission{
	RoleAdmin:  {PermRead, PermWrite, PermSchema, PermAdmin},
	RoleEditor: {PermRead, PermWrite},
	RoleViewer: {PermRead},
}

// User is a registered account. passwordHash never leaves this package.
type User struct {
	Username     string
	passwordHash string
	Roles        []Role
	Disabled     bool
	failedLogins int
	lockedUntil  time.Time
}

// HasRole reports whether u carries role.
func (u *User) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasPermission reports whether any of u's roles grant perm.
func (u *User) HasPermission(perm Permission) bool {
	for _, r := range u.Roles {
		for _, p := range RolePermissions[r] {
			if p == perm {
				return true
			}
		}
	}
	return false
}

// Config tunes password policy and lockout behavior.
type Config struct {
	// BcryptCost is the hashing cost factor. Zero means bcrypt.DefaultCost.
	BcryptCost int
	// MinPasswordLength rejects CreateUser calls below this length.
	MinPasswordLength int
	// MaxFailedLogins is the number of consecutive bad passwords before
	// the account is locked for LockoutDuration.
	MaxFailedLogins int
	// LockoutDuration is how long a locked account stays locked.
	LockoutDuration time.Duration
}

// DefaultConfig mirrors the teacher's defaults: bcrypt's own default cost,
// an 8-character minimum, and a lockout after 5 bad attempts for 15 minutes.
func DefaultConfig() Config {
	return Config{
		BcryptCost:        bcrypt.DefaultCost,
		MinPasswordLength: 8,
		MaxFailedLogins:   5,
		LockoutDuration:   15 * time.Minute,
	}
}

// Authenticator is an in-memory user store with bcrypt password checks and
// brute-force lockout. It is safe for concurrent use.
type Authenticator struct {
	mu     sync.Mutex
	config Config
	users  map[string]*User
	now    func() time.Time
}

// New builds an Authenticator. A zero Config is filled in with
// DefaultConfig's values field by field.
func New(config Config) *Authenticator {
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	if config.MinPasswordLength == 0 {
		config.MinPasswordLength = 8
	}
	if config.MaxFailedLogins == 0 {
		config.MaxFailedLogins = 5
	}
	if config.LockoutDuration == 0 {
		config.LockoutDuration = 15 * time.Minute
	}
	return &Authenticator{
		config: config,
		users:  make(map[string]*User),
		now:    time.Now,
	}
}

// CreateUser registers username with password, hashed with bcrypt, and the
// given roles. An empty roles slice defaults to RoleViewer.
func (a *Authenticator) CreateUser(username, password string, roles []Role) (*User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.users[username]; exists {
		return nil, ErrUserExists
	}
	if len(password) < a.config.MinPasswordLength {
		return nil, fmt.Errorf("%w: minimum %d characters required", ErrPasswordTooShort, a.config.MinPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}
	if len(roles) == 0 {
		roles = []Role{RoleViewer}
	}

	u := &User{
		Username:     username,
		passwordHash: string(hash),
		Roles:        roles,
	}
	a.users[username] = u
	return u, nil
}

// Authenticate verifies username/password. It never distinguishes an
// unknown username from a wrong password in the returned error, and it
// still runs a bcrypt comparison against a fixed hash for unknown usernames
// so the two cases cost about the same amount of time.
func (a *Authenticator) Authenticate(username, password string) (*User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	user, exists := a.users[username]
	if !exists {
		bcrypt.CompareHashAndPassword([]byte(unknownUserHash), []byte(password))
		return nil, ErrInvalidCredentials
	}

	if !user.lockedUntil.IsZero() && a.now().Before(user.lockedUntil) {
		return nil, ErrAccountLocked
	}
	if user.Disabled {
		return nil, ErrAccountDisabled
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.passwordHash), []byte(password)); err != nil {
		user.failedLogins++
		if user.failedLogins >= a.config.MaxFailedLogins {
			user.lockedUntil = a.now().Add(a.config.LockoutDuration)
		}
		return nil, ErrInvalidCredentials
	}

	user.failedLogins = 0
	user.lockedUntil = time.Time{}
	return user, nil
}

// GetUser returns the registered user, or ErrUserNotFound.
func (a *Authenticator) GetUser(username string) (*User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// SetDisabled enables or disables username's account.
func (a *Authenticator) SetDisabled(username string, disabled bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[username]
	if !ok {
		return ErrUserNotFound
	}
	u.Disabled = disabled
	return nil
}

// unknownUserHash is a valid bcrypt hash of no password anyone will type.
// Comparing against it for unknown usernames keeps Authenticate's timing
// independent of whether the username exists.
const unknownUserHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

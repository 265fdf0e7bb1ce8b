package bolt

import (
	"fmt"

	"github.com/orneryd/nornicdb/internal/auth"
)

// AuthenticatorAdapter wraps an auth.Authenticator to implement
// BoltAuthenticator, translating Bolt's (scheme, principal, credentials)
// LOGON fields into auth's (username, password) credential check.
type AuthenticatorAdapter struct {
	auth           *auth.Authenticator
	allowAnonymous bool
}

// NewAuthenticatorAdapter wraps authenticator without anonymous access.
func NewAuthenticatorAdapter(authenticator *auth.Authenticator) *AuthenticatorAdapter {
	return &AuthenticatorAdapter{auth: authenticator}
}

// NewAuthenticatorAdapterWithAnonymous wraps authenticator and grants
// "none"-scheme connections the viewer role.
func NewAuthenticatorAdapterWithAnonymous(authenticator *auth.Authenticator) *AuthenticatorAdapter {
	return &AuthenticatorAdapter{auth: authenticator, allowAnonymous: true}
}

// Authenticate implements BoltAuthenticator.
func (a *AuthenticatorAdapter) Authenticate(scheme, principal, credentials string) (*BoltAuthResult, error) {
	if scheme == "none" || scheme == "" {
		if !a.allowAnonymous {
			return nil, fmt.Errorf("anonymous authentication not allowed")
		}
		return &BoltAuthResult{Authenticated: true, Username: "anonymous", Roles: []string{"viewer"}}, nil
	}
	if scheme != "basic" {
		return nil, fmt.Errorf("unsupported authentication scheme: %s (only 'basic' and 'none' supported)", scheme)
	}

	user, err := a.auth.Authenticate(principal, credentials)
	if err != nil {
		return nil, err
	}

	roles := make([]string, len(user.Roles))
	for i, r := range user.Roles {
		roles[i] = string(r)
	}
	return &BoltAuthResult{Authenticated: true, Username: user.Username, Roles: roles}, nil
}

// SetAllowAnonymous enables or disables anonymous authentication.
func (a *AuthenticatorAdapter) SetAllowAnonymous(allow bool) {
	a.allowAnonymous = allow
}

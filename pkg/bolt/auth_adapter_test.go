package bolt

import (
	"testing"

	"github.com/orneryd/nornicdb/internal/auth"
)

func TestAuthenticatorAdapter(t *testing.T) {
	authenticator := auth.New(auth.DefaultConfig())

	if _, err := authenticator.CreateUser("admin", "admin-password", []auth.Role{auth.RoleAdmin}); err != nil {
		t.Fatalf("failed to create admin user: %v", err)
	}
	if _, err := authenticator.CreateUser("editor", "editor-password", []auth.Role{auth.RoleEditor}); err != nil {
		t.Fatalf("failed to create editor user: %v", err)
	}
	if _, err := authenticator.CreateUser("viewer", "viewer-password", []auth.Role{auth.RoleViewer}); err != nil {
		t.Fatalf("failed to create viewer user: %v", err)
	}
	if _, err := authenticator.CreateUser("cluster-node-1", "cluster-secret-123", []auth.Role{auth.RoleAdmin}); err != nil {
		t.Fatalf("failed to create cluster service account: %v", err)
	}

	t.Run("basic auth success - admin", func(t *testing.T) {
		adapter := NewAuthenticatorAdapter(authenticator)
		result, err := adapter.Authenticate("basic", "admin", "admin-password")
		if err != nil {
			t.Fatalf("expected success, got error: %v", err)
		}
		if !result.Authenticated {
			t.Error("expected Authenticated=true")
		}
		if result.Username != "admin" {
			t.Errorf("expected username 'admin', got %q", result.Username)
		}
		if !result.HasRole("admin") {
			t.Error("expected admin role")
		}
		if !result.HasPermission("write") || !result.HasPermission("schema") {
			t.Error("admin should have write and schema permission")
		}
	})

	t.Run("basic auth success - editor", func(t *testing.T) {
		adapter := NewAuthenticatorAdapter(authenticator)
		result, err := adapter.Authenticate("basic", "editor", "editor-password")
		if err != nil {
			t.Fatalf("expected success, got error: %v", err)
		}
		if !result.HasRole("editor") {
			t.Error("expected editor role")
		}
		if !result.HasPermission("write") {
			t.Error("editor should have write permission")
		}
		if result.HasPermission("schema") {
			t.Error("editor should not have schema permission")
		}
	})

	t.Run("basic auth success - viewer", func(t *testing.T) {
		adapter := NewAuthenticatorAdapter(authenticator)
		result, err := adapter.Authenticate("basic", "viewer", "viewer-password")
		if err != nil {
			t.Fatalf("expected success, got error: %v", err)
		}
		if !result.HasRole("viewer") {
			t.Error("expected viewer role")
		}
		if !result.HasPermission("read") {
			t.Error("viewer should have read permission")
		}
		if result.HasPermission("write") {
			t.Error("viewer should not have write permission")
		}
	})

	t.Run("service account auth for clustering", func(t *testing.T) {
		adapter := NewAuthenticatorAdapter(authenticator)
		result, err := adapter.Authenticate("basic", "cluster-node-1", "cluster-secret-123")
		if err != nil {
			t.Fatalf("expected success for service account, got error: %v", err)
		}
		if result.Username != "cluster-node-1" {
			t.Errorf("expected username 'cluster-node-1', got %q", result.Username)
		}
		if !result.HasRole("admin") {
			t.Error("service account should have admin role for clustering")
		}
	})

	t.Run("basic auth failure - wrong password", func(t *testing.T) {
		adapter := NewAuthenticatorAdapter(authenticator)
		if _, err := adapter.Authenticate("basic", "admin", "wrong-password"); err == nil {
			t.Error("expected error for wrong password")
		}
	})

	t.Run("basic auth failure - unknown user", func(t *testing.T) {
		adapter := NewAuthenticatorAdapter(authenticator)
		if _, err := adapter.Authenticate("basic", "unknown-user", "any-password"); err == nil {
			t.Error("expected error for unknown user")
		}
	})

	t.Run("anonymous auth - disabled by default", func(t *testing.T) {
		adapter := NewAuthenticatorAdapter(authenticator)
		if _, err := adapter.Authenticate("none", "", ""); err == nil {
			t.Error("expected error for anonymous auth when disabled")
		}
	})

	t.Run("anonymous auth - enabled", func(t *testing.T) {
		adapter := NewAuthenticatorAdapterWithAnonymous(authenticator)
		result, err := adapter.Authenticate("none", "", "")
		if err != nil {
			t.Fatalf("expected success for anonymous auth when enabled, got: %v", err)
		}
		if result.Username != "anonymous" {
			t.Errorf("expected username 'anonymous', got %q", result.Username)
		}
		if !result.HasRole("viewer") {
			t.Error("anonymous should have viewer role")
		}
		if !result.HasPermission("read") || result.HasPermission("write") {
			t.Error("anonymous should have read but not write permission")
		}
	})

	t.Run("anonymous auth - empty scheme treated as none", func(t *testing.T) {
		adapter := NewAuthenticatorAdapterWithAnonymous(authenticator)
		result, err := adapter.Authenticate("", "", "")
		if err != nil {
			t.Fatalf("expected success for empty scheme when anonymous enabled: %v", err)
		}
		if result.Username != "anonymous" {
			t.Errorf("expected username 'anonymous', got %q", result.Username)
		}
	})

	t.Run("unsupported auth scheme", func(t *testing.T) {
		adapter := NewAuthenticatorAdapter(authenticator)
		if _, err := adapter.Authenticate("kerberos", "user", "ticket"); err == nil {
			t.Error("expected error for unsupported auth scheme")
		}
	})

	t.Run("SetAllowAnonymous toggle", func(t *testing.T) {
		adapter := NewAuthenticatorAdapter(authenticator)

		if _, err := adapter.Authenticate("none", "", ""); err == nil {
			t.Error("expected error when anonymous disabled")
		}

		adapter.SetAllowAnonymous(true)
		result, err := adapter.Authenticate("none", "", "")
		if err != nil {
			t.Fatalf("expected success when anonymous enabled: %v", err)
		}
		if result.Username != "anonymous" {
			t.Error("expected anonymous user")
		}

		adapter.SetAllowAnonymous(false)
		if _, err := adapter.Authenticate("none", "", ""); err == nil {
			t.Error("expected error after disabling anonymous")
		}
	})
}

func TestAuthenticatorAdapterIntegrationWithBoltConfig(t *testing.T) {
	authenticator := auth.New(auth.DefaultConfig())
	if _, err := authenticator.CreateUser("testuser", "testpass", []auth.Role{auth.RoleEditor}); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	boltConfig := DefaultConfig()
	boltConfig.Authenticator = NewAuthenticatorAdapter(authenticator)
	boltConfig.RequireAuth = true

	if boltConfig.Authenticator == nil {
		t.Error("authenticator should be set")
	}

	result, err := boltConfig.Authenticator.Authenticate("basic", "testuser", "testpass")
	if err != nil {
		t.Fatalf("auth through config failed: %v", err)
	}
	if !result.Authenticated {
		t.Error("expected successful authentication")
	}
}

package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	c := DefaultConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if c.Auth.Enabled {
		t.Errorf("expected auth disabled by default")
	}
	if c.Address() != "0.0.0.0:7687" {
		t.Errorf("Address() = %q, want 0.0.0.0:7687", c.Address())
	}
}

func TestLoadFromEnvNeo4jAuth(t *testing.T) {
	t.Setenv("NEO4J_AUTH", "neo4j/supersecret1")
	t.Setenv("NEO4J_dbms_connector_bolt_listen__address_port", "7688")

	c := LoadFromEnv()
	if !c.Auth.Enabled {
		t.Fatalf("expected auth enabled")
	}
	if c.Auth.InitialUsername != "neo4j" || c.Auth.InitialPassword != "supersecret1" {
		t.Errorf("got username=%q password=%q", c.Auth.InitialUsername, c.Auth.InitialPassword)
	}
	if c.Bolt.ListenPort != 7688 {
		t.Errorf("ListenPort = %d, want 7688", c.Bolt.ListenPort)
	}
}

func TestLoadFromEnvAuthNone(t *testing.T) {
	t.Setenv("NEO4J_AUTH", "none")
	c := LoadFromEnv()
	if c.Auth.Enabled {
		t.Errorf("expected auth disabled for NEO4J_AUTH=none")
	}
}

func TestLoadFromEnvSingleTokenAuth(t *testing.T) {
	t.Setenv("NEO4J_AUTH", "just-a-password")
	c := LoadFromEnv()
	if c.Auth.InitialUsername != "neo4j" {
		t.Errorf("expected default username neo4j, got %q", c.Auth.InitialUsername)
	}
	if c.Auth.InitialPassword != "just-a-password" {
		t.Errorf("expected password just-a-password, got %q", c.Auth.InitialPassword)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	c := DefaultConfig()
	c.Bolt.ListenPort = 0
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for invalid port")
	}
}

func TestValidateRejectsShortPassword(t *testing.T) {
	c := DefaultConfig()
	c.Auth.Enabled = true
	c.Auth.InitialUsername = "neo4j"
	c.Auth.InitialPassword = "short"
	c.Auth.MinPasswordLength = 8
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for short password")
	}
}

func TestLoadFileOverlay(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("CreateTemp() error = %v", err)
	}
	defer f.Close()

	if _, err := f.WriteString("bolt:\n  listen_port: 7999\n"); err != nil {
		t.Fatalf("WriteString() error = %v", err)
	}

	c := DefaultConfig()
	if err := c.LoadFile(f.Name()); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if c.Bolt.ListenPort != 7999 {
		t.Errorf("ListenPort = %d, want 7999", c.Bolt.ListenPort)
	}
	// Fields absent from the file are untouched.
	if c.Bolt.ListenAddress != "0.0.0.0" {
		t.Errorf("ListenAddress = %q, want unchanged 0.0.0.0", c.Bolt.ListenAddress)
	}
}

func TestLoadFromEnvDuration(t *testing.T) {
	t.Setenv("BOLTGRAPHD_READ_TIMEOUT", "30s")
	c := LoadFromEnv()
	if c.ReadTimeout != 30*time.Second {
		t.Errorf("ReadTimeout = %v, want 30s", c.ReadTimeout)
	}
}

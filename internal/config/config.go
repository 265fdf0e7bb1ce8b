// Package config loads the connection handler's settings from environment
// variables, Neo4j's own names where one exists, so a driver expecting Neo4j
// env vars still works unmodified against this server. An optional YAML file
// loaded afterwards with LoadFile overrides whatever settings it names.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything a boltgraphd process needs to bind a listener,
// size its buffers, and decide whether to require authentication.
type Config struct {
	// Auth mirrors NEO4J_AUTH: "username/password" to require auth, or
	// "none" to accept any connection without checking credentials.
	Auth struct {
		Enabled           bool   `yaml:"enabled"`
		InitialUsername   string `yaml:"initial_username"`
		InitialPassword   string `yaml:"initial_password"`
		MinPasswordLength int    `yaml:"min_password_length"`
	} `yaml:"auth"`

	// Bolt is the listener this server actually serves.
	Bolt struct {
		ListenAddress string `yaml:"listen_address"`
		ListenPort    int    `yaml:"listen_port"`
		// WebSocketEnabled allows browser clients to upgrade the raw TCP
		// connection to a WebSocket before the Bolt handshake, per the
		// framer's transparent wrapping of Bolt bytes in 0x82 frames.
		WebSocketEnabled bool `yaml:"websocket_enabled"`
	} `yaml:"bolt"`

	// ReadTimeout and WriteTimeout bound how long a connection may sit
	// idle mid-message before it is dropped. Zero disables the timeout.
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultConfig matches Neo4j's own out-of-the-box defaults: auth disabled,
// bolt listening on every interface at 7687, no timeouts.
func DefaultConfig() *Config {
	c := &Config{}
	c.Auth.Enabled = false
	c.Auth.InitialUsername = "neo4j"
	c.Auth.InitialPassword = "neo4j"
	c.Auth.MinPasswordLength = 8
	c.Bolt.ListenAddress = "0.0.0.0"
	c.Bolt.ListenPort = 7687
	c.Bolt.WebSocketEnabled = true
	return c
}

// LoadFromEnv builds a Config starting from DefaultConfig and overlaying
// whatever environment variables are set. NEO4J_* names are honored for
// drop-in compatibility with existing Neo4j driver configuration;
// BOLTGRAPHD_* names cover settings Neo4j has no equivalent for.
func LoadFromEnv() *Config {
	c := DefaultConfig()

	authStr := getEnv("NEO4J_AUTH", "none")
	if authStr == "none" {
		c.Auth.Enabled = false
	} else {
		c.Auth.Enabled = true
		parts := strings.SplitN(authStr, "/", 2)
		if len(parts) == 2 {
			c.Auth.InitialUsername = parts[0]
			c.Auth.InitialPassword = parts[1]
		} else {
			c.Auth.InitialUsername = "neo4j"
			c.Auth.InitialPassword = authStr
		}
	}
	c.Auth.MinPasswordLength = getEnvInt("NEO4J_dbms_security_auth_minimum__password__length", c.Auth.MinPasswordLength)

	c.Bolt.ListenAddress = getEnv("NEO4J_dbms_connector_bolt_listen__address", c.Bolt.ListenAddress)
	c.Bolt.ListenPort = getEnvInt("NEO4J_dbms_connector_bolt_listen__address_port", c.Bolt.ListenPort)
	c.Bolt.WebSocketEnabled = getEnvBool("BOLTGRAPHD_WEBSOCKET_ENABLED", c.Bolt.WebSocketEnabled)

	c.ReadTimeout = getEnvDuration("BOLTGRAPHD_READ_TIMEOUT", c.ReadTimeout)
	c.WriteTimeout = getEnvDuration("BOLTGRAPHD_WRITE_TIMEOUT", c.WriteTimeout)

	return c
}

// LoadFile overlays path, a YAML document matching Config's shape, onto c.
// Fields absent from the file are left as c already has them, so callers
// typically call LoadFromEnv first and then LoadFile to let a file override
// individual settings without having to repeat every one of them.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Validate rejects a Config that would make the server misbehave in a way
// worth catching before it starts listening.
func (c *Config) Validate() error {
	if c.Auth.Enabled {
		if c.Auth.InitialUsername == "" {
			return fmt.Errorf("config: authentication enabled but no username provided")
		}
		if len(c.Auth.InitialPassword) < c.Auth.MinPasswordLength {
			return fmt.Errorf("config: password must be at least %d characters", c.Auth.MinPasswordLength)
		}
	}
	if c.Bolt.ListenPort <= 0 || c.Bolt.ListenPort > 65535 {
		return fmt.Errorf("config: invalid bolt port: %d", c.Bolt.ListenPort)
	}
	return nil
}

// Address returns the host:port a listener should bind.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Bolt.ListenAddress, c.Bolt.ListenPort)
}

// String is a safe representation for logging; it omits the password.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Auth: %v, Bolt: %s, WebSocket: %v}",
		c.Auth.Enabled, c.Address(), c.Bolt.WebSocketEnabled)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

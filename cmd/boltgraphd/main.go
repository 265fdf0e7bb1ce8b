// Command boltgraphd runs the Bolt protocol connection server standalone.
//
// Query execution is deliberately out of scope for pkg/bolt: it only
// speaks the wire protocol and hands every RUN to whatever QueryExecutor
// the caller wires in. This binary wires in a stub executor so the server
// is runnable on its own; embedding it in a real graph engine means
// passing bolt.New a QueryExecutor backed by that engine instead.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orneryd/nornicdb/internal/auth"
	"github.com/orneryd/nornicdb/internal/config"
	"github.com/orneryd/nornicdb/internal/log"
	"github.com/orneryd/nornicdb/pkg/bolt"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "boltgraphd",
		Short: "boltgraphd - standalone Bolt protocol connection server",
		Long: `boltgraphd speaks the Neo4j Bolt wire protocol: handshake,
PackStream framing, the connection state machine, and the two-step
HELLO/LOGON authentication flow. It does not execute queries itself; RUN
messages are handed to an injected QueryExecutor.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("boltgraphd v%s (%s)\n", version, commit)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Bolt connection server",
		RunE:  runServe,
	}
	serveCmd.Flags().String("config", "", "Path to a YAML config file overlaid on top of environment defaults")
	serveCmd.Flags().Int("port", 0, "Bolt listen port (overrides config/env when nonzero)")
	serveCmd.Flags().Bool("log-queries", false, "Log HELLO/LOGON/RUN activity to stdout")
	serveCmd.Flags().Bool("allow-anonymous", false, "Accept LOGON with scheme=none even when auth is enabled")
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	portOverride, _ := cmd.Flags().GetInt("port")
	logQueries, _ := cmd.Flags().GetBool("log-queries")
	allowAnonymous, _ := cmd.Flags().GetBool("allow-anonymous")

	cfg := config.LoadFromEnv()
	if configFile != "" {
		if err := cfg.LoadFile(configFile); err != nil {
			return err
		}
	}
	if portOverride != 0 {
		cfg.Bolt.ListenPort = portOverride
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Infof("%s", cfg.String())

	boltConfig := bolt.DefaultConfig()
	boltConfig.Port = cfg.Bolt.ListenPort
	boltConfig.AllowWebSocket = cfg.Bolt.WebSocketEnabled
	boltConfig.LogQueries = logQueries
	boltConfig.RequireAuth = cfg.Auth.Enabled
	boltConfig.AllowAnonymous = allowAnonymous

	if cfg.Auth.Enabled {
		authenticator := auth.New(auth.Config{MinPasswordLength: cfg.Auth.MinPasswordLength})
		if _, err := authenticator.CreateUser(cfg.Auth.InitialUsername, cfg.Auth.InitialPassword, []auth.Role{auth.RoleAdmin}); err != nil {
			return fmt.Errorf("creating initial user: %w", err)
		}
		if allowAnonymous {
			boltConfig.Authenticator = bolt.NewAuthenticatorAdapterWithAnonymous(authenticator)
		} else {
			boltConfig.Authenticator = bolt.NewAuthenticatorAdapter(authenticator)
		}
		log.Infof("authentication enabled, initial user %q", cfg.Auth.InitialUsername)
	} else {
		log.Infof("authentication disabled, every LOGON is accepted as an anonymous admin")
	}

	server := bolt.New(boltConfig, &stubExecutor{})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Infof("shutting down")
		return server.Close()
	}
}

// stubExecutor answers every RUN with an error instead of crashing, since
// boltgraphd's own scope ends at the wire protocol. Embedding a real
// graph engine means constructing bolt.Server with that engine's own
// QueryExecutor in place of this one.
type stubExecutor struct{}

func (s *stubExecutor) Execute(ctx context.Context, query string, params map[string]any) (*bolt.QueryResult, error) {
	return nil, fmt.Errorf("boltgraphd: no query executor configured")
}

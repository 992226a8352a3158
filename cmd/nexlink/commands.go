package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/samvad-hq/nexlink/internal/app"
	"github.com/samvad-hq/nexlink/internal/config"
	"github.com/samvad-hq/nexlink/internal/identity"
	"github.com/samvad-hq/nexlink/internal/logger"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nexlink",
		Short:         "Personal API testing backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newTokenCmd(), newVersionCmd())
	return root
}

// serverFlags registers the flags that override configuration keys.
func serverFlags(fs *pflag.FlagSet) {
	fs.String("host", "", "Bind address")
	fs.IntP("port", "p", 5000, "HTTP server port")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("storage-type", "bbolt", "Storage backend (bbolt, sqlite, memory)")
	fs.String("bbolt-path", "./data/nexlink.db", "BoltDB file path")
	fs.String("sqlite-path", "./data/nexlink.sqlite", "SQLite database path")
	fs.String("publishers-file", "", "Publishers config file (YAML or JSON)")
	fs.String("cors-allowed-origins", "*", "Comma separated list of allowed CORS origins")
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Example: `  # Start with defaults (port 5000, bbolt storage)
  JWT_SECRET=dev nexlink serve

  # SQLite storage and execution events
  nexlink serve --storage-type sqlite --publishers-file configs/publishers.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Flags())
		},
	}
	serverFlags(cmd.Flags())
	return cmd
}

func runServe(flags *pflag.FlagSet) error {
	cfg, err := config.Load(flags)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.Init(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	logger.InfoObj("nexlink starting", "config", cfg.Redacted())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := app.NewServer(ctx, cfg, log)
	if err != nil {
		logger.ErrorObj("failed to initialize server", "error", err.Error())
		return err
	}

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server run: %w", err)
	}
	return nil
}

func newTokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Sign a bearer token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(nil)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			token, err := identity.NewJWTVerifier(cfg.JWTSecret).Issue(args[0], ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "Token lifetime (0 = no expiry)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "nexlink %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		},
	}
}

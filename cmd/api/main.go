package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/markdave123-py/ToolSuite/internal/app"
	"github.com/markdave123-py/ToolSuite/internal/config"
	db "github.com/markdave123-py/ToolSuite/internal/core/database"
	"github.com/markdave123-py/ToolSuite/internal/logger"
)

var Version = "dev"

const shutdownGrace = 15 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:     "toolsuite",
		Short:   "ToolSuite API: receipt extraction, exports and pay stubs",
		Version: Version,
		RunE:    runServe,
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(bootstrapCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE:  runServe,
	}
}

func bootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Apply the embedded database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			conn, err := db.Open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := db.EnsureBootstrapped(cmd.Context(), conn, log); err != nil {
				return err
			}
			log.Info("schema is up to date")
			return nil
		},
	}
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := logger.Init(cfg.LogLevel); err != nil {
		return nil, nil, err
	}
	return cfg, logger.Get(), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApp(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}
	defer application.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- application.Server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return application.Server.Shutdown(shutdownCtx)
}

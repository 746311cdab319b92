package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/conductor-dev/conductor/internal/api"
	"github.com/conductor-dev/conductor/internal/config"
	"github.com/conductor-dev/conductor/internal/events"
	"github.com/conductor-dev/conductor/internal/gitx"
	"github.com/conductor-dev/conductor/internal/orchestrator"
	"github.com/conductor-dev/conductor/internal/store"

	// Provider registration
	_ "github.com/conductor-dev/conductor/internal/hosting/github"
	_ "github.com/conductor-dev/conductor/internal/hosting/gitlab"
)

// newServeCmd creates the serve command for the HTTP service.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator HTTP service",
		Long: `Start the conductor HTTP service.

The service exposes task management, the live event feed (SSE and
websocket), diff retrieval, and promotion. It is designed to sit behind
a trusted reverse proxy and carries no authentication of its own.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if dataDir, _ := cmd.Flags().GetString("data-dir"); cmd.Flags().Changed("data-dir") {
				cfg.DataDir = dataDir
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().String("addr", "", "listen address (overrides config)")
	cmd.Flags().String("data-dir", "", "storage root (overrides config)")
	return cmd
}

// runServe wires the components together and runs until a signal or a
// listener failure.
func runServe(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default()

	st, err := store.New(cfg.DataDir)
	if err != nil {
		return err
	}
	feed := events.NewFeed(st, logger)
	git := gitx.New(nil)

	orch, err := orchestrator.New(cfg, st, feed, git, logger)
	if err != nil {
		return err
	}

	server := api.New(orch, logger)
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Handler(),
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serving", "addr", cfg.Addr, "data_dir", cfg.DataDir)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

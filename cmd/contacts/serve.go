package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/arc-contacts/internal/bridge"
	"github.com/gezibash/arc-contacts/internal/cli"
	"github.com/gezibash/arc-contacts/internal/config"
	"github.com/gezibash/arc-contacts/internal/directory/physical"
)

const (
	compactionInterval = 10 * time.Minute
	discardRatio       = 0.5
	shutdownTimeout    = 15 * time.Second
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the directory over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, v)
		},
	}
	config.BindServeFlags(cmd, v)
	return cmd
}

func runServe(cmd *cobra.Command, v *viper.Viper) error {
	configFile, _ := cmd.Flags().GetString("config")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env, err := cli.OpenEnv(ctx, v, configFile, os.Stderr)
	if err != nil {
		return err
	}
	cfg := env.Config

	env.Obs.ServeMetrics(ctx, cfg.Observability.MetricsAddr)

	if c, ok := env.Backend.(compactor); ok {
		startCompaction(ctx, c, compactionInterval)
	}

	srv, err := bridge.New(cfg.Bridge.Addr, env.Obs, env.Directory)
	if err != nil {
		_ = env.Close(context.Background())
		return fmt.Errorf("create bridge: %w", err)
	}
	env.Obs.Shutdown.Register("bridge", srv.Stop)

	slog.Info("directory ready",
		"backend", cfg.Storage.Backend,
		"page_cache", cfg.Directory.PageCache.Enabled,
		"cache_threshold", cfg.Directory.PageCache.Threshold,
		"cache_capacity", cfg.Directory.PageCache.Capacity,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	closed := make(chan error, 1)
	go func() {
		select {
		case <-sigCh:
			slog.Info("shutdown signal received")
		case <-ctx.Done():
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		closed <- env.Close(shutdownCtx)
	}()

	slog.Info("serving", "addr", srv.Addr(), "metrics", cfg.Observability.MetricsAddr)
	if err := srv.Serve(); err != nil {
		cancel()
		<-closed
		return err
	}
	if err := <-closed; err != nil {
		slog.Error("shutdown error", "error", err)
		return err
	}
	return nil
}

// compactor is implemented by backends that reclaim disk space on demand.
type compactor interface {
	RunGC(discardRatio float64) error
}

// startCompaction runs c.RunGC every interval until ctx is cancelled.
func startCompaction(ctx context.Context, c compactor, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("compaction goroutine stopped")
				return
			case <-ticker.C:
				if err := c.RunGC(discardRatio); err != nil && !errors.Is(err, physical.ErrClosed) {
					slog.ErrorContext(ctx, "periodic compaction failed", "error", err)
				}
			}
		}
	}()
}

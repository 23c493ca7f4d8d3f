// Package app provides the top-level application lifecycle for ratecore. It
// wires stores, caches, blob storage and services together and starts the
// goroutines of the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/ratecore/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the configured mode and blocks until
// the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.Int("assets", len(a.cfg.Engine.Assets)),
	)

	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}

	switch strings.ToLower(a.cfg.Mode) {
	case "server":
		return a.ServerMode(ctx, deps)
	case "archive":
		return a.ArchiveMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Restore loads the snapshot at key back into the stores. The key "latest"
// selects the most recent snapshot under the configured prefix.
//
// Restore always connects to Redis so the cached index of every restored asset
// can be evicted; otherwise readers would keep serving the pre-restore state.
func (a *App) Restore(ctx context.Context, key string) error {
	deps, cleanup, err := wireWith(ctx, a.cfg, a.logger, backends{redis: true, s3: true})
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	snaps := a.snapshotter(deps)
	if snaps == nil {
		return fmt.Errorf("app: restore: object storage is not configured")
	}
	if key == "latest" {
		if key, err = snaps.Latest(ctx); err != nil {
			return fmt.Errorf("app: restore: %w", err)
		}
	}
	snap, err := snaps.Restore(ctx, key)
	if err != nil {
		return fmt.Errorf("app: restore: %w", err)
	}
	a.logger.InfoContext(ctx, "snapshot restored",
		slog.String("path", key),
		slog.Time("taken_at", snap.TakenAt),
		slog.Int("indexes", len(snap.Indexes)),
		slog.Int("indicators", len(snap.Indicators)),
	)
	return nil
}

func (a *App) wire(ctx context.Context) (*Dependencies, error) {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	return deps, nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

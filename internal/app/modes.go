package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/ratecore/internal/blob/s3"
	"github.com/alanyoungcy/ratecore/internal/crypto"
	"github.com/alanyoungcy/ratecore/internal/notify"
	"github.com/alanyoungcy/ratecore/internal/pipeline"
	"github.com/alanyoungcy/ratecore/internal/server"
	"github.com/alanyoungcy/ratecore/internal/server/handler"
	"github.com/alanyoungcy/ratecore/internal/server/ws"
	"github.com/alanyoungcy/ratecore/internal/service"
)

// ServerMode serves the HTTP API and WebSocket relay. When archiving is
// enabled the snapshot cron runs alongside.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startHTTPServer(ctx, g, deps); err != nil {
		return fmt.Errorf("server mode: %w", err)
	}
	if a.cfg.Archive.Enabled {
		a.startArchiver(ctx, g, deps)
	}
	return g.Wait()
}

// ArchiveMode only snapshots the stored state on the configured schedule.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

// FullMode serves the API (unless server.enabled is off) and archives on
// schedule.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Server.Enabled {
		if err := a.startHTTPServer(ctx, g, deps); err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
	}
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

// snapshotter returns nil when no object store is wired. Snapshots are
// sealed when archive.seal_passphrase is set.
func (a *App) snapshotter(deps *Dependencies) *s3blob.Snapshotter {
	if deps.BlobWriter == nil {
		return nil
	}
	snaps := s3blob.NewSnapshotter(
		deps.BlobWriter,
		deps.BlobReader,
		deps.StateStore,
		deps.AuditStore,
		a.cfg.Archive.Prefix,
	)
	if deps.IndexCache != nil {
		snaps.WithIndexCache(deps.IndexCache)
	}
	if pass := a.cfg.Archive.SealPassphrase; pass != "" {
		sealer, err := crypto.NewSealer(pass)
		if err == nil {
			snaps.WithSealer(sealer)
		}
	}
	return snaps
}

// notifier builds the alert fan-out from the [notify] section.
func (a *App) notifier() *notify.Notifier {
	var senders []notify.Sender
	if a.cfg.Notify.TelegramToken != "" {
		senders = append(senders, notify.NewTelegramSender(a.cfg.Notify.TelegramToken, a.cfg.Notify.TelegramChatID))
	}
	if a.cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(a.cfg.Notify.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, a.cfg.Notify.Events, a.logger)
}

func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	snaps := a.snapshotter(deps)
	if snaps == nil {
		a.logger.WarnContext(ctx, "archiver disabled: object storage is not configured")
		return
	}
	archiver := pipeline.NewArchiver(snaps, a.logger)
	if n := a.notifier(); n.Enabled() {
		archiver.WithAlerts(n)
	}
	g.Go(func() error {
		if err := archiver.RunCron(ctx, a.cfg.Archive.Cron); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
}

// startHTTPServer builds the services and adds the HTTP server and WebSocket
// hub to g. The server is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	params, err := a.cfg.AssetParams()
	if err != nil {
		return err
	}
	registry := service.NewAssetRegistry(params)
	lockTTL := a.cfg.Redis.LockTTL.Duration

	indexes := service.NewIndexService(registry, deps.IndexStore, deps.IndexCache,
		deps.LockManager, deps.SignalBus, deps.AuditStore, lockTTL, a.logger)
	ledger := service.NewLedgerService(registry, indexes, deps.IndicatorStore,
		deps.LockManager, deps.SignalBus, deps.AuditStore, lockTTL, a.logger)
	liquidity := service.NewLiquidityService(registry)

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, registry.Assets()),
		Indexes:   handler.NewIndexHandler(indexes, a.logger),
		Swaps:     handler.NewSwapHandler(ledger, a.logger),
		Soap:      handler.NewSoapHandler(ledger, a.logger),
		Liquidity: handler.NewLiquidityHandler(liquidity, a.logger),
		Audit:     handler.NewAuditHandler(deps.AuditStore, a.logger),
	}
	if snaps := a.snapshotter(deps); snaps != nil {
		handlers.Snapshots = handler.NewSnapshotHandler(snaps, a.logger)
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	a.logger.InfoContext(ctx, "HTTP server configured",
		slog.Int("port", a.cfg.Server.Port),
		slog.Int("assets", len(params)),
	)
	return nil
}

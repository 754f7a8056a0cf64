package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/okxsim/internal/domain"
	"github.com/alanyoungcy/okxsim/internal/feed"
	"github.com/alanyoungcy/okxsim/internal/notify"
	"github.com/alanyoungcy/okxsim/internal/server"
	"github.com/alanyoungcy/okxsim/internal/server/handler"
	"github.com/alanyoungcy/okxsim/internal/server/ws"
	"github.com/alanyoungcy/okxsim/internal/service"
)

const (
	// writerLockTTL is a coarse startup guard against a second writer for the
	// same instrument. The lock is not renewed; after a crash it expires on
	// its own.
	writerLockTTL = 5 * time.Minute

	// statusInterval is how often the engine status is published on the bus.
	statusInterval = 5 * time.Second

	// staleAfter is the book age past which the feed is reported stale.
	staleAfter = 30 * time.Second
)

// FullMode runs everything: the feed, the live book, optional frame
// recording, gap alerting, archiving, and the HTTP/WebSocket API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	unlock, err := deps.LockManager.Acquire(ctx, "writer:"+a.cfg.OKX.InstID, writerLockTTL)
	if err != nil {
		return fmt.Errorf("full mode: acquire writer lock: %w", err)
	}
	defer unlock()

	g, ctx := errgroup.WithContext(ctx)

	svc := a.buildBookService(deps)
	a.startFeed(ctx, g, deps, svc)
	a.startGapAlerter(ctx, g, deps)
	a.startStatusLoop(ctx, g, deps, svc)
	a.startArchiveLoop(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svc)
	}

	return g.Wait()
}

// MonitorMode maintains the book and fans out to the mirror and bus, but
// serves no API. Useful for a dedicated writer process behind separate
// server-mode readers.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	unlock, err := deps.LockManager.Acquire(ctx, "writer:"+a.cfg.OKX.InstID, writerLockTTL)
	if err != nil {
		return fmt.Errorf("monitor mode: acquire writer lock: %w", err)
	}
	defer unlock()

	g, ctx := errgroup.WithContext(ctx)

	svc := a.buildBookService(deps)
	a.startFeed(ctx, g, deps, svc)
	a.startGapAlerter(ctx, g, deps)
	a.startStatusLoop(ctx, g, deps, svc)

	return g.Wait()
}

// ServerMode serves the API without consuming the feed. Book endpoints report
// 503 until a separate writer has populated this process; the simulation
// history, gap audit, and WebSocket bridge work off the shared stores and bus.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	svc := a.buildBookService(deps)
	a.startHTTPServer(ctx, g, deps, svc)

	return g.Wait()
}

// ReplayMode rebuilds the book from recorded frames in object storage,
// running every update through the normal service path. When the HTTP server
// is enabled it stays up after the replay so the result can be inspected.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	if deps.BlobReader == nil {
		return fmt.Errorf("replay mode: s3 is not configured")
	}

	prefix := a.cfg.Replay.Prefix
	if prefix == "" {
		prefix = fmt.Sprintf("frames/%s/", a.cfg.OKX.InstID)
	}
	a.logger.InfoContext(ctx, "starting replay mode", slog.String("prefix", prefix))

	g, ctx := errgroup.WithContext(ctx)

	svc := a.buildBookService(deps)
	replayer := feed.NewReplayer(deps.BlobReader, prefix, func(ctx context.Context, u domain.BookUpdate) {
		if err := svc.Apply(ctx, u); err != nil {
			a.logger.WarnContext(ctx, "replay apply failed", slog.String("error", err.Error()))
		}
	}, a.logger)

	g.Go(func() error {
		if err := replayer.Run(ctx); err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		st := svc.Status()
		a.logger.InfoContext(ctx, "replay finished",
			slog.String("state", st.State),
			slog.Int64("sequence", st.Sequence),
			slog.Int64("applied", st.Applied),
			slog.Int64("gaps", st.Gaps),
		)
		return nil
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svc)
	}

	return g.Wait()
}

// buildBookService assembles the live book service with the cost simulator
// and whatever fan-out targets were wired.
func (a *App) buildBookService(deps *Dependencies) *service.OrderBookService {
	return service.NewOrderBookService(
		a.cfg.OKX.InstID,
		buildSimulator(a.cfg, a.logger),
		deps.Mirror,
		deps.SignalBus,
		deps.SimulationStore,
		deps.GapStore,
		a.logger,
	)
}

// startFeed launches the WebSocket feed goroutine and, when enabled, the raw
// frame recorder. The feed's resync path is wired back into the processor's
// gap handling.
func (a *App) startFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.OrderBookService) {
	var onRaw func([]byte)
	if a.cfg.OKX.RecordFrames && deps.BlobWriter != nil {
		rec := feed.NewRecorder(
			deps.BlobWriter,
			a.cfg.OKX.InstID,
			a.cfg.OKX.RecordCapacity,
			a.cfg.OKX.RecordFlushInterval.Duration,
			a.logger,
		)
		onRaw = rec.Record
		g.Go(func() error {
			return rec.Run(ctx)
		})
	}

	okxFeed := feed.NewOKXFeed(
		a.cfg.OKX.WsURL,
		a.cfg.OKX.InstID,
		func(ctx context.Context, u domain.BookUpdate) {
			if err := svc.Apply(ctx, u); err != nil {
				a.logger.WarnContext(ctx, "apply update failed", slog.String("error", err.Error()))
			}
		},
		onRaw,
		a.logger,
	)
	// Resync runs off the writer path; the notification is fire-and-forget.
	svc.OnResyncRequired(func() {
		okxFeed.RequestResync()
		go func() {
			nctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			msg := fmt.Sprintf("Resubscribing %s after a sequence gap", a.cfg.OKX.InstID)
			if err := deps.Notifier.Notify(nctx, notify.EventResync, "Book resync", msg); err != nil {
				a.logger.Warn("resync notification failed", slog.String("error", err.Error()))
			}
		}()
	})

	g.Go(func() error {
		defer okxFeed.Close()
		return okxFeed.Run(ctx)
	})
}

// startGapAlerter bridges the gap channel on the bus to the configured
// notification senders.
func (a *App) startGapAlerter(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	alerter := notify.NewGapAlerter(deps.SignalBus, deps.Notifier, service.ChannelGaps, a.logger)
	g.Go(func() error {
		return alerter.Run(ctx)
	})
}

// startStatusLoop periodically publishes the engine status on the bus and
// raises a feed-stale notification when the synced book stops advancing.
func (a *App) startStatusLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.OrderBookService) {
	g.Go(func() error {
		ticker := time.NewTicker(statusInterval)
		defer ticker.Stop()

		wasStale := false
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				st := svc.Status()
				payload, _ := json.Marshal(map[string]any{
					"event":  "engine_status",
					"mode":   a.cfg.Mode,
					"status": st,
				})
				if err := deps.SignalBus.Publish(ctx, service.ChannelStatus, payload); err != nil {
					a.logger.WarnContext(ctx, "publish status failed", slog.String("error", err.Error()))
				}

				stale := st.State == "synced" && st.StalenessMs > staleAfter.Milliseconds()
				if stale && !wasStale {
					msg := fmt.Sprintf("No %s book update for %dms", st.InstID, st.StalenessMs)
					if err := deps.Notifier.Notify(ctx, notify.EventFeedStale, "Feed stale", msg); err != nil {
						a.logger.WarnContext(ctx, "feed-stale notification failed", slog.String("error", err.Error()))
					}
				}
				wasStale = stale
			}
		}
	})
}

// startArchiveLoop moves rows older than the retention window out of Postgres
// into object storage on the configured interval.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Archive.Enabled || deps.Archiver == nil {
		return
	}

	retention := a.cfg.Archive.RetentionDays
	interval := a.cfg.Archive.Interval.Duration

	g.Go(func() error {
		runOnce := func() {
			cutoff := time.Now().UTC().AddDate(0, 0, -retention)
			sims, err := deps.Archiver.ArchiveSimulations(ctx, cutoff)
			if err != nil {
				a.logger.ErrorContext(ctx, "archive simulations failed", slog.String("error", err.Error()))
			}
			gaps, err := deps.Archiver.ArchiveGapEvents(ctx, cutoff)
			if err != nil {
				a.logger.ErrorContext(ctx, "archive gap events failed", slog.String("error", err.Error()))
			}
			if sims > 0 || gaps > 0 {
				a.logger.InfoContext(ctx, "archive cycle complete",
					slog.Int64("simulations", sims),
					slog.Int64("gap_events", gaps),
					slog.Time("cutoff", cutoff),
				)
			}
		}

		runOnce()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				runOnce()
			}
		}
	})
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.OrderBookService) {
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		InstID:    a.cfg.OKX.InstID,
		StartedAt: startedAt,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(a.logger),
		Simulate: handler.NewSimulateHandler(svc, deps.SimulationStore, a.cfg.OKX.InstID, a.logger),
		Book:     handler.NewBookHandler(svc, a.logger),
		Status:   handler.NewStatusHandler(svc, deps.GapStore, a.cfg.Mode, startedAt, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/betcoon/internal/blob/s3"
	"github.com/alanyoungcy/betcoon/internal/betting"
	"github.com/alanyoungcy/betcoon/internal/crypto"
	"github.com/alanyoungcy/betcoon/internal/domain"
	"github.com/alanyoungcy/betcoon/internal/keeper"
	"github.com/alanyoungcy/betcoon/internal/oracle"
	"github.com/alanyoungcy/betcoon/internal/server"
	"github.com/alanyoungcy/betcoon/internal/server/handler"
	"github.com/alanyoungcy/betcoon/internal/server/ws"
)

// shutdownTimeout bounds how long in-flight HTTP requests may take to drain.
const shutdownTimeout = 10 * time.Second

// ServerMode serves the HTTP API and the live event socket.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	svc, err := a.newService(deps)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svc)
	return g.Wait()
}

// KeeperMode periodically resolves due bets and re-drives stale claims.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode")

	svc, err := a.newService(deps)
	if err != nil {
		return fmt.Errorf("keeper mode: %w", err)
	}
	return a.newKeeper(deps, svc).Run(ctx)
}

// FeedMode records price ticks for the oracle.
func (a *App) FeedMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting feed mode")
	return a.newFeed(deps).Run(ctx)
}

// ArchiveMode exports settled bets to object storage on a fixed interval.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")
	return a.runArchive(ctx, deps)
}

// FullMode runs every subsystem the configuration enables in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	svc, err := a.newService(deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Oracle.FeedURL != "" {
		feed := a.newFeed(deps)
		g.Go(func() error {
			return feed.Run(ctx)
		})
	} else {
		a.logger.WarnContext(ctx, "oracle.feed_url is empty; resolution depends on prices recorded elsewhere")
	}

	k := a.newKeeper(deps, svc)
	g.Go(func() error {
		return k.Run(ctx)
	})

	if a.cfg.ArchiveEnabled() {
		g.Go(func() error {
			return a.runArchive(ctx, deps)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svc)
	}

	return g.Wait()
}

// newService builds the betting components over deps.
func (a *App) newService(deps *Dependencies) (*betting.Service, error) {
	cfg, err := a.bettingConfig()
	if err != nil {
		return nil, err
	}
	events := betting.NewEvents(deps.Bus, deps.Audit, deps.Notifier, a.logger)
	orc := oracle.NewHistoryOracle(deps.Prices, cfg.OracleTimeout, cfg.OracleTolerance)

	return betting.New(betting.Deps{
		Bets:     deps.Bets,
		Ledger:   deps.Ledger,
		Locks:    deps.Locks,
		Oracle:   orc,
		Transfer: deps.Transfer,
		Clock:    deps.Clock,
		Events:   events,
	}, cfg, a.logger), nil
}

func (a *App) bettingConfig() (betting.Config, error) {
	tie, err := domain.ParseSide(a.cfg.Settlement.TieSide)
	if err != nil {
		return betting.Config{}, fmt.Errorf("settlement.tie_side: %w", err)
	}
	s := a.cfg.Settlement
	return betting.Config{
		DefaultSubject:    s.DefaultSubject,
		TieSide:           tie,
		GracePeriod:       s.GracePeriod.Duration,
		MinOracleFailures: s.MinOracleFailures,
		OracleTimeout:     a.cfg.Oracle.Timeout.Duration,
		OracleTolerance:   a.cfg.Oracle.Tolerance.Duration,
		LockTTL:           s.LockTTL.Duration,
		LockTimeout:       s.LockTimeout.Duration,
	}, nil
}

func (a *App) newKeeper(deps *Dependencies, svc *betting.Service) *keeper.Keeper {
	return keeper.New(svc.Registry, svc.Engine, svc.Claims, deps.Clock, keeper.Config{
		Interval:     a.cfg.Keeper.Interval.Duration,
		BatchSize:    a.cfg.Keeper.BatchSize,
		PendingAfter: a.cfg.Claims.PendingAfter.Duration,
	}, a.logger)
}

func (a *App) newFeed(deps *Dependencies) *oracle.Feed {
	header := http.Header{}
	if a.cfg.Oracle.FeedAuthToken != "" {
		header.Set("Authorization", "Bearer "+a.cfg.Oracle.FeedAuthToken)
	}
	return oracle.NewFeed(a.cfg.Oracle.FeedURL, header, a.cfg.Oracle.Subjects, deps.Prices, a.logger)
}

// runArchive exports bets settled more than retention_days ago, once at start
// and then every archive.interval. A failed pass is retried on the next tick.
func (a *App) runArchive(ctx context.Context, deps *Dependencies) error {
	if deps.BlobWriter == nil {
		return fmt.Errorf("archive: blob storage is not configured")
	}
	archiver := s3blob.NewArchiver(deps.Bets, deps.Ledger, deps.BlobWriter, deps.BlobReader, deps.Audit,
		s3blob.ArchiverConfig{PageSize: a.cfg.Archive.PageSize}, a.logger)
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	ticker := time.NewTicker(a.cfg.Archive.Interval.Duration)
	defer ticker.Stop()
	for {
		before := deps.Clock.Now().Add(-retention)
		n, err := archiver.ArchiveSettled(ctx, before)
		switch {
		case err != nil && ctx.Err() == nil:
			a.logger.ErrorContext(ctx, "archive pass failed", slog.String("error", err.Error()))
		case err == nil:
			a.logger.InfoContext(ctx, "archive pass complete",
				slog.Int64("bets", n),
				slog.Time("before", before),
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// startHTTPServer registers the API server and the websocket hub on g. Both
// stop when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *betting.Service) {
	hub := ws.NewHub(deps.Bus, ws.Config{
		Channel: betting.EventsChannel,
		Stream:  betting.EventsStream,
	}, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	h := server.Handlers{
		Health: handler.NewHealthHandler(deps.Checks, a.logger),
		Bets:   handler.NewBetHandler(svc.Registry, svc.Engine, a.logger),
		Claims: handler.NewClaimHandler(svc.Claims, svc.Ledger, a.logger),
		Events: handler.NewEventHandler(deps.Bus, betting.EventsStream, deps.Audit, a.logger),
	}
	// Balances only move when payouts go to the internal book.
	if strings.EqualFold(a.cfg.Transfer.Mode, "book") {
		h.Accounts = handler.NewAccountHandler(deps.Balances, a.logger)
	}

	srvCfg := server.Config{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		RateLimit:    a.cfg.Server.RateLimit,
		RateWindow:   a.cfg.Server.RateWindow.Duration,
		ReadTimeout:  a.cfg.Server.ReadTimeout.Duration,
		WriteTimeout: a.cfg.Server.WriteTimeout.Duration,
	}
	if a.cfg.Server.CallerSecret != "" {
		srvCfg.CallerAuth = &crypto.CallerAuth{
			Secret:  []byte(a.cfg.Server.CallerSecret),
			MaxSkew: a.cfg.Server.CallerMaxSkew.Duration,
		}
	}
	srv := server.New(srvCfg, h, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.String("addr", srvCfg.Addr),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

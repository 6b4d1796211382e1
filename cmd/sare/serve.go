package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/revittco/sare/internal/api"
	"github.com/revittco/sare/internal/audit"
	"github.com/revittco/sare/internal/metrics"
	"github.com/revittco/sare/internal/sare"
	"github.com/revittco/sare/internal/store/sqlite"
)

const (
	tickInterval  = time.Second
	pruneInterval = time.Hour
)

func cmdServe(args []string) error {
	ctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	cfg := loadConfig()
	applyFlags(cfg, args)

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	fileCfg, found, err := loadFileConfig(cfg.ConfigFile)
	if err != nil {
		return err
	}
	if found {
		logger.Info("loaded config", "file", cfg.ConfigFile)
	}
	if cfg.ArchiveDSN != "" {
		fileCfg.Archive.DSN = cfg.ArchiveDSN
	}

	bus := audit.NewBus()
	engine, err := sare.New(fileCfg.Options(),
		sare.WithLogger(logger),
		sare.WithPublisher(bus),
	)
	if err != nil {
		return err
	}
	fileCfg.Apply(engine)

	deps := api.RouterDeps{
		Engine:   engine,
		Version:  version,
		Bus:      bus,
		Registry: metrics.NewRegistry(engine),
	}

	var db *sqlite.DB
	if dsn := fileCfg.Archive.DSN; dsn != "" {
		db, err = sqlite.New(ctx, dsn)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		deps.Store = db
		logger.Info("evolution archive enabled", "dsn", dsn)
	}

	app := engine.Wrap(newDemoMux(), fileCfg.Pipeline()...)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveHTTP(ctx, "app", cfg.HTTPAddr, app) })
	g.Go(func() error { return serveHTTP(ctx, "admin", cfg.AdminAddr, api.NewRouter(deps)) })
	g.Go(func() error { return runTicker(ctx, engine) })

	if db != nil {
		archiver := audit.NewArchiver(db, bus, logger.With("component", "archiver"))
		g.Go(func() error { return archiver.Run(ctx) })
		if retention := fileCfg.Archive.Retention.Std(); retention > 0 {
			g.Go(func() error { return runPruner(ctx, db, retention) })
		}
	}

	return g.Wait()
}

// serveHTTP runs an HTTP server until ctx is done.
func serveHTTP(ctx context.Context, name, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}
	if name == "admin" {
		// SSE streams stay open.
		srv.WriteTimeout = 0
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "server", name, "addr", addr, "url", httpURLFromAddr(addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down http server", "server", name)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runTicker drives the engine's periodic work between requests so idle
// periods still refresh history and evict expired responses.
func runTicker(ctx context.Context, e *sare.Engine) error {
	t := time.NewTicker(tickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			e.Tick()
		}
	}
}

// runPruner deletes archived records older than retention.
func runPruner(ctx context.Context, db *sqlite.DB, retention time.Duration) error {
	t := time.NewTicker(pruneInterval)
	defer t.Stop()
	for {
		n, err := db.PruneEvolutionRecords(ctx, time.Now().UTC().Add(-retention))
		if err != nil && ctx.Err() == nil {
			slog.Error("prune evolution archive", "error", err)
		} else if n > 0 {
			slog.Info("pruned evolution archive", "records", n)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

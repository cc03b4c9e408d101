// Command skin-store serves the durable skin store HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/skin-sync/internal/config"
	"github.com/and161185/skin-sync/internal/limiter"
	"github.com/and161185/skin-sync/internal/migrate"
	"github.com/and161185/skin-sync/internal/model"
	"github.com/and161185/skin-sync/internal/repository"
	"github.com/and161185/skin-sync/internal/repository/postgres"
	"github.com/and161185/skin-sync/internal/repository/s3store"
	"github.com/and161185/skin-sync/internal/service"
	"github.com/and161185/skin-sync/internal/storeapi"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads the environment, applies flag overrides and serves until interrupted.
func main() {
	envFile := flag.String("env", "", "env file (default .env)")
	addr := flag.String("addr", "", "listen address (overrides STORE_ADDR)")
	debug := flag.Bool("debug", false, "development logging")
	flag.Parse()

	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}
	cfg, envFound, err := config.LoadStore(files...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	cfg.Debug = cfg.Debug || *debug

	logger, _ := zap.NewProduction()
	if cfg.Debug {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()
	if !envFound {
		logger.Info("no .env file found, using process environment")
	}
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("backend", cfg.Backend),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("store error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg config.Store, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		repo repository.SkinRepository
		lim  limiter.Limiter
	)
	g, gctx := errgroup.WithContext(ctx)

	switch cfg.Backend {
	case config.BackendPostgres:
		if err := migrate.Up(ctx, cfg.DSN); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		db, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer db.Close()
		repo = postgres.NewSkinRepo(db)
		lim = limiter.NewPG(db.Pool, limiter.DefaultPolicy)
	case config.BackendS3:
		r, err := s3store.New(ctx, cfg.Bucket, cfg.Region, cfg.Prefix)
		if err != nil {
			return fmt.Errorf("s3 config: %w", err)
		}
		repo = r
		mem := limiter.NewMemory(limiter.DefaultPolicy)
		lim = mem
		g.Go(func() error {
			t := time.NewTicker(limiter.DefaultPolicy.Window)
			defer t.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-t.C:
					mem.Prune()
				}
			}
		})
	}

	h := storeapi.NewHandler(
		service.NewSkinService(repo, model.DefaultMaxResolution),
		service.NewKeyAuth(cfg.APIKeyHash, lim),
		logger,
	)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

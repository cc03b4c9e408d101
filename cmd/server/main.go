// Command skin-sync-server runs the session coordinator behind a gRPC endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/skin-sync/internal/config"
	"github.com/and161185/skin-sync/internal/coordinator"
	grpcserver "github.com/and161185/skin-sync/internal/server/grpc"
	"github.com/and161185/skin-sync/internal/skinstore"
	"github.com/and161185/skin-sync/internal/wire"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func newLogger(debug bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// main parses configuration, starts the coordinator loop and serves gRPC until SIGINT/SIGTERM.
func main() {
	cfg, err := config.ParseServer(os.Args[0], os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := newLogger(cfg.Debug)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.Bool("persistence", cfg.Store.Enabled),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg config.Server, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Durable store; a nil Store runs the coordinator memory-only.
	var store coordinator.Store
	if cfg.Store.Enabled {
		client := skinstore.NewClient(cfg.Store.URL, cfg.Store.APIKey, logger.Named("store"))
		gw := skinstore.NewGateway(client, cfg.Store.Workers, logger.Named("store"))
		defer gw.Close()
		store = gw
	}

	coord := coordinator.New(coordinator.Config{
		MaxChunkSize:       cfg.MaxChunkSize,
		JoinSyncDelayTicks: cfg.JoinSyncDelayTicks,
	}, store, logger.Named("coordinator"))

	opts := grpcserver.GRPCOptions([]byte(cfg.JWTKey), cfg.MaxRecvMsgSize, logger)
	if !cfg.Plaintext {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return fmt.Errorf("load TLS cert/key: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}
	gs := grpc.NewServer(opts...)

	app := grpcserver.New(coord, grpcserver.Options{
		OutboxSize:    cfg.OutboxSize,
		MaxResolution: cfg.MaxResolution,
	}, logger.Named("session"))
	app.Register(gs)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(wire.ServiceName, healthpb.HealthCheckResponse_SERVING)
	if cfg.Dev {
		reflection.Register(gs)
	}

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return coord.Run(gctx, cfg.TickInterval) })
	g.Go(func() error { return app.EvictStale(gctx, 0, cfg.PendingTTL) })
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.Bool("tls", !cfg.Plaintext))
		if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		hs.Shutdown()
		done := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			gs.Stop()
		}
		return nil
	})
	return g.Wait()
}

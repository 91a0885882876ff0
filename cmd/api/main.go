package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"villagepay.org/internal/auth"
	"villagepay.org/internal/config"
	"villagepay.org/internal/httpapi"
	"villagepay.org/internal/obs"
	"villagepay.org/internal/settlement"
	"villagepay.org/internal/store/pg"
	"villagepay.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

type closer interface {
	settlement.Store
	Close() error
}

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	issuer, err := auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		log.Fatalf("auth issuer: %v", err)
	}

	events := stream.New()
	engine := settlement.New(store, settlement.Options{
		OpTimeout:       cfg.Settlement.OpTimeout,
		MaxAttempts:     cfg.Settlement.MaxAttempts,
		VillageWalletID: cfg.Settlement.VillageWalletID,
		Publisher:       events,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := engine.EnsureVillageWallet(ctx); err != nil {
		log.Fatalf("ensure village wallet: %v", err)
	}

	probe := httpapi.ReadyProbe{Store: store}
	api := httpapi.New(engine, issuer, events, probe, version, httpapi.Options{
		RateBurst:      cfg.HTTP.RateLimitBurst,
		RatePerSecond:  cfg.HTTP.RateLimitPerSecond,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// SSE responses stay open; per-request deadlines come from the engine.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	health := httpapi.NewGRPCServer(probe, version)
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)

	obs.Info("starting", map[string]any{
		"service":   "villagepay-api",
		"version":   version,
		"http_addr": cfg.HTTPAddr,
		"grpc_addr": cfg.GRPCAddr,
		"postgres":  cfg.PGDSN != "",
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		health.Run(gctx, 10*time.Second)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		obs.Info("shutting_down", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcSrv.GracefulStop()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		obs.Error("server_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	obs.Info("stopped", nil)
}

func openStore(cfg config.Config) (closer, error) {
	if cfg.PGDSN == "" {
		obs.Warn("in_memory_store", map[string]any{"reason": "VILLAGEPAY_PG_DSN not set"})
		return memoryStore{settlement.NewInMemory()}, nil
	}
	store, err := pg.Open(cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	return store, nil
}

type memoryStore struct{ *settlement.InMemory }

func (memoryStore) Close() error { return nil }

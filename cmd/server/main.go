package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"tilewire/internal/catalog"
	"tilewire/internal/config"
	httphandlers "tilewire/internal/http"
	"tilewire/internal/logger"
	"tilewire/internal/metrics"
	"tilewire/internal/server"
	"tilewire/internal/store"
	"tilewire/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.InitTracer(ctx, telemetry.Config{
			ServiceName:  cfg.Telemetry.ServiceName,
			Environment:  cfg.Telemetry.Environment,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		}, log)
		if err != nil {
			log.Fatal("Failed to initialize telemetry", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(ctx); err != nil {
				log.Error("Failed to shutdown telemetry", zap.Error(err))
			}
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tileStore, err := store.New(ctx, store.Options{
		Type:       cfg.Store.Type,
		FileDir:    cfg.Store.FileDir,
		SQLitePath: cfg.Store.SQLitePath,
		HotTiles:   cfg.Store.HotTiles,
		Redis: store.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		},
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tile store", zap.Error(err))
	}
	defer tileStore.Close()

	srv := server.New(tileStore, server.Options{
		TileWidth:     cfg.Tiles.Width,
		TileHeight:    cfg.Tiles.Height,
		TileCacheSize: cfg.TileCacheBytes(),
		ShmDir:        cfg.ShmPath,
	}, log, metrics.NewServer(reg))

	if err := srv.AddDrawable(cfg.Drawable.ID, cfg.Drawable.Width, cfg.Drawable.Height, cfg.Drawable.BPP); err != nil {
		log.Fatal("Failed to register drawable", zap.Error(err))
	}

	var drawables httphandlers.DrawableCatalog
	if cfg.DrawablesDir != "" {
		cat, err := catalog.New(cfg.DrawablesDir, log)
		if err != nil {
			log.Fatal("Failed to open drawable catalog", zap.Error(err))
		}
		if err := cat.Scan(); err != nil {
			log.Warn("Initial catalog scan failed", zap.Error(err))
		}
		for _, e := range cat.Entries() {
			if err := srv.AddDrawable(e.ID, e.Width, e.Height, e.BPP); err != nil {
				log.Warn("Skipping catalog drawable", zap.Int32("drawable", e.ID), zap.Error(err))
			}
		}
		drawables = cat
	}

	if cfg.Listen.Network == "unix" {
		os.Remove(cfg.Listen.Addr)
	}
	listener, err := net.Listen(cfg.Listen.Network, cfg.Listen.Addr)
	if err != nil {
		log.Fatal("Failed to listen", zap.String("network", cfg.Listen.Network), zap.String("addr", cfg.Listen.Addr), zap.Error(err))
	}

	log.Info("Starting tilewire server",
		zap.String("network", cfg.Listen.Network),
		zap.String("addr", cfg.Listen.Addr),
		zap.String("admin_addr", cfg.AdminAddr),
		zap.String("store", cfg.Store.Type),
	)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ctx, listener)
	}()

	handlers := httphandlers.New(log, srv, drawables)
	admin := &http.Server{
		Addr:    cfg.AdminAddr,
		Handler: httphandlers.NewRouter(handlers, reg, cfg.Telemetry.Enabled),
	}

	go func() {
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Admin server failed", zap.Error(err))
		}
	}()

	serving := true
	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case err := <-serveErr:
		log.Error("Tile listener stopped", zap.Error(err))
		serving = false
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := admin.Shutdown(shutdownCtx); err != nil {
		log.Error("Admin server forced to shutdown", zap.Error(err))
	}

	if serving {
		select {
		case <-serveErr:
		case <-shutdownCtx.Done():
			log.Warn("Tile sessions did not close in time")
		}
	}

	log.Info("Server stopped", zap.Any("stats", srv.Stats()))
}

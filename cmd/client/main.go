package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"tilewire/internal/cache"
	"tilewire/internal/client"
	"tilewire/internal/config"
	"tilewire/internal/logger"
	"tilewire/internal/metrics"
	"tilewire/internal/tile"
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

	// The client dials the same kind of socket the server listens on.
	peer, err := client.Dial(ctx, cfg.Listen.Network, cfg.ServerAddr, log)
	if err != nil {
		log.Fatal("Failed to connect", zap.String("addr", cfg.ServerAddr), zap.Error(err))
	}

	code := run(ctx, peer, cfg, log)
	if err := peer.Close(); err != nil {
		log.Warn("Failed to close connection", zap.Error(err))
	}
	log.Sync()
	os.Exit(code)
}

// run walks every tile of the configured drawable through the cache. A
// protocol desync surfaces as a *cache.FatalError panic and ends the run.
func run(ctx context.Context, peer *client.Peer, cfg *config.Config, log *zap.Logger) (code int) {
	defer func() {
		if r := recover(); r != nil {
			var ferr *cache.FatalError
			if err, ok := r.(error); ok && errors.As(err, &ferr) {
				log.Error("Tile session aborted", zap.Error(ferr))
				code = 1
				return
			}
			panic(r)
		}
	}()

	serverCfg, err := peer.Handshake()
	if err != nil {
		log.Error("Handshake failed", zap.Error(err))
		return 1
	}

	m := metrics.NewCache(prometheus.NewRegistry())
	tc := cache.NewTileCache(peer, int(serverCfg.TileWidth), int(serverCfg.TileHeight), log, m)
	tc.ConfigureBudgetBytes(serverCfg.TileCacheSize)

	grid := tile.Grid{
		Width:      cfg.Drawable.Width,
		Height:     cfg.Drawable.Height,
		BPP:        cfg.Drawable.BPP,
		TileWidth:  int(serverCfg.TileWidth),
		TileHeight: int(serverCfg.TileHeight),
	}
	tiles := cache.TilesForGrid(cfg.Drawable.ID, false, grid)

	log.Info("Starting tile walk",
		zap.Int32("drawable", cfg.Drawable.ID),
		zap.Int("tiles", len(tiles)),
		zap.Int64("budget_bytes", tc.MaxSize()),
	)
	start := time.Now()

	for _, t := range tiles {
		if ctx.Err() != nil {
			log.Info("Tile walk interrupted")
			break
		}

		data := tc.Acquire(t)
		for i := range data {
			data[i]++
		}
		tc.Release(t, true)
	}

	tc.Clear()
	if err := peer.Quit(); err != nil {
		log.Warn("Failed to send quit", zap.Error(err))
	}

	log.Info("Tile walk completed",
		zap.Int("tiles", len(tiles)),
		zap.Duration("duration", time.Since(start)),
		zap.Any("cache", m.Snapshot()),
		zap.Int("resident_tiles", tc.Len()),
	)
	return 0
}

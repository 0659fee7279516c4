// Package server is a reference image-data server: it owns drawables, answers
// tile fetches from a store, and accepts tile uploads from clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tilewire/internal/metrics"
	"tilewire/internal/store"
	"tilewire/internal/tile"
)

const tracerName = "tilewire/internal/server"

var ErrUnknownDrawable = errors.New("unknown drawable")

type Options struct {
	TileWidth  int
	TileHeight int
	// TileCacheSize is the client cache budget in bytes advertised at handshake.
	TileCacheSize int64
	AppName       string
	// ShmDir enables shared memory transfers; each session maps its own
	// segment in this directory.
	ShmDir string
}

type Drawable struct {
	ID     int32 `json:"id"`
	Width  int   `json:"width"`
	Height int   `json:"height"`
	BPP    int   `json:"bpp"`
	Tiles  int   `json:"tiles"`
}

type Stats struct {
	Sessions    int64  `json:"sessions"`
	TilesServed uint64 `json:"tiles_served"`
	TilesStored uint64 `json:"tiles_stored"`
	Drawables   int    `json:"drawables"`
}

type Server struct {
	opts    Options
	store   store.Store
	log     *zap.Logger
	metrics *metrics.Server
	tracer  trace.Tracer

	mu        sync.RWMutex
	drawables map[int32]tile.Grid

	sessions atomic.Int64
	served   atomic.Uint64
	stored   atomic.Uint64
}

func New(st store.Store, opts Options, log *zap.Logger, m *metrics.Server) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.TileWidth <= 0 {
		opts.TileWidth = tile.DefaultWidth
	}
	if opts.TileHeight <= 0 {
		opts.TileHeight = tile.DefaultHeight
	}
	if opts.AppName == "" {
		opts.AppName = "tilewire"
	}
	return &Server{
		opts:      opts,
		store:     st,
		log:       log,
		metrics:   m,
		tracer:    otel.Tracer(tracerName),
		drawables: make(map[int32]tile.Grid),
	}
}

// AddDrawable registers (or replaces) a drawable's geometry.
func (s *Server) AddDrawable(id int32, width, height, bpp int) error {
	if id < 0 {
		return fmt.Errorf("drawable id must be non-negative, got %d", id)
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("drawable %d: invalid size %dx%d", id, width, height)
	}
	if bpp < 1 || bpp > tile.MaxBPP {
		return fmt.Errorf("drawable %d: bpp must be between 1 and %d, got %d", id, tile.MaxBPP, bpp)
	}

	g := tile.Grid{
		Width:      width,
		Height:     height,
		BPP:        bpp,
		TileWidth:  s.opts.TileWidth,
		TileHeight: s.opts.TileHeight,
	}

	s.mu.Lock()
	s.drawables[id] = g
	s.mu.Unlock()

	s.log.Info("Drawable registered",
		zap.Int32("drawable", id),
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Int("bpp", bpp),
		zap.Int("tiles", g.NumTiles()),
	)
	return nil
}

func (s *Server) grid(id int32) (tile.Grid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.drawables[id]
	if !ok {
		return tile.Grid{}, fmt.Errorf("%w: %d", ErrUnknownDrawable, id)
	}
	return g, nil
}

// Drawables lists registered drawables ordered by id.
func (s *Server) Drawables() []Drawable {
	s.mu.RLock()
	out := make([]Drawable, 0, len(s.drawables))
	for id, g := range s.drawables {
		out = append(out, Drawable{ID: id, Width: g.Width, Height: g.Height, BPP: g.BPP, Tiles: g.NumTiles()})
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Drawable) int { return int(a.ID) - int(b.ID) })
	return out
}

func (s *Server) Stats() Stats {
	s.mu.RLock()
	n := len(s.drawables)
	s.mu.RUnlock()

	return Stats{
		Sessions:    s.sessions.Load(),
		TilesServed: s.served.Load(),
		TilesStored: s.stored.Load(),
		Drawables:   n,
	}
}

// ClearTiles drops every stored tile; drawables read back as zeros afterwards.
func (s *Server) ClearTiles() error {
	if err := s.store.Clear(); err != nil {
		return fmt.Errorf("failed to clear tile store: %w", err)
	}
	s.log.Info("Tile store cleared")
	return nil
}

// Serve accepts connections until ctx is cancelled or the listener fails.
// Open sessions are closed on return.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	s.log.Info("Tile server listening", zap.Stringer("addr", l.Addr()))

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			cancel()
			g.Wait()
			return fmt.Errorf("accept failed: %w", err)
		}

		g.Go(func() error {
			s.ServeConn(ctx, conn)
			return nil
		})
	}

	return g.Wait()
}

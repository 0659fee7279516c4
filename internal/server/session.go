package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"tilewire/internal/protocol"
	"tilewire/internal/shm"
	"tilewire/internal/tile"
	"tilewire/internal/wire"
)

type session struct {
	srv *Server
	id  string
	ch  *wire.Channel
	seg *shm.Segment
	log *zap.Logger
}

// ServeConn runs one client session to completion and closes conn.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	id := uuid.NewString()
	log := s.log.With(
		zap.String("session_id", id),
		zap.String("remote_addr", conn.RemoteAddr().String()),
	)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	s.sessions.Add(1)
	defer s.sessions.Add(-1)
	if s.metrics != nil {
		s.metrics.Sessions.Inc()
		defer s.metrics.Sessions.Dec()
	}

	sess := &session{
		srv: s,
		id:  id,
		ch:  wire.NewChannel(conn, protocol.NewRegistry()),
		log: log,
	}
	defer sess.close()

	defer func() {
		if r := recover(); r != nil {
			var perr *wire.ProtocolError
			if err, ok := r.(error); ok && errors.As(err, &perr) {
				log.Error("Session desynchronized", zap.Error(perr))
				return
			}
			panic(r)
		}
	}()

	log.Info("Session started")
	start := time.Now()

	err := sess.run(ctx)
	switch {
	case err == nil:
		log.Info("Session ended", zap.Duration("duration", time.Since(start)))
	case ctx.Err() != nil, errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		log.Info("Session closed", zap.Duration("duration", time.Since(start)), zap.Error(err))
	default:
		log.Error("Session failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
	}
}

func (ss *session) close() {
	if ss.seg != nil {
		if err := ss.seg.Close(); err != nil {
			ss.log.Warn("Failed to release shared memory", zap.Error(err))
		}
	}
}

func (ss *session) segmentSize() int {
	return ss.srv.opts.TileWidth * ss.srv.opts.TileHeight * tile.MaxBPP
}

func (ss *session) run(ctx context.Context) error {
	cfg := &protocol.ConfigMsg{
		TileWidth:     uint32(ss.srv.opts.TileWidth),
		TileHeight:    uint32(ss.srv.opts.TileHeight),
		ShmID:         -1,
		AppName:       ss.srv.opts.AppName,
		TileCacheSize: ss.srv.opts.TileCacheSize,
		NumProcessors: int32(runtime.NumCPU()),
	}

	if dir := ss.srv.opts.ShmDir; dir != "" {
		seg, err := shm.Create(filepath.Join(dir, "tilewire-"+ss.id), ss.segmentSize())
		if err != nil {
			ss.log.Warn("Shared memory disabled for session", zap.Error(err))
		} else {
			ss.seg = seg
			cfg.ShmID = 0
			cfg.ShmPath = seg.Path()
		}
	}

	if err := protocol.WriteConfig(ss.ch, cfg); err != nil {
		return fmt.Errorf("failed to send config: %w", err)
	}

	for {
		msg, err := ss.ch.ReadMessage()
		if err != nil {
			return err
		}
		ss.srv.countMessage(msg.Type)

		switch msg.Type {
		case protocol.Quit:
			return nil
		case protocol.HasInit:
			ss.log.Debug("Client has init")
		case protocol.TileReq:
			req := msg.Data.(*protocol.TileRequest)
			if req.DrawableID == protocol.PutDrawableID {
				err = ss.handlePut(ctx)
			} else {
				err = ss.handleGet(ctx, req)
			}
			ss.ch.DestroyMessage(msg)
			if err != nil {
				return err
			}
		default:
			ss.ch.DestroyMessage(msg)
			return &protocol.UnexpectedError{Want: protocol.TileReq, Got: msg.Type}
		}
	}
}

func (s *Server) countMessage(msgType uint32) {
	if s.metrics != nil {
		s.metrics.Messages.WithLabelValues(protocol.TypeName(msgType)).Inc()
	}
}

func (s *Server) observeStore(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.StoreDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.StoreErrors.WithLabelValues(op).Inc()
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (ss *session) lookup(id int32, index uint32) (tile.Grid, int, int, error) {
	g, err := ss.srv.grid(id)
	if err != nil {
		return g, 0, 0, err
	}
	w, h, err := g.TileSize(index)
	return g, w, h, err
}

func (ss *session) handleGet(ctx context.Context, req *protocol.TileRequest) (err error) {
	key := tile.Key{DrawableID: req.DrawableID, Index: req.TileNum, Shadow: req.Shadow != 0}

	_, span := ss.srv.tracer.Start(ctx, "tile.get",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("session.id", ss.id),
			attribute.Int("tile.drawable", int(key.DrawableID)),
			attribute.Int("tile.index", int(key.Index)),
			attribute.Bool("tile.shadow", key.Shadow),
		),
	)
	defer func() { endSpan(span, err) }()

	g, w, h, err := ss.lookup(key.DrawableID, key.Index)
	if err != nil {
		return fmt.Errorf("tile request %s: %w", key, err)
	}
	size := w * h * g.BPP

	start := time.Now()
	data, ok, err := ss.srv.store.Get(key)
	ss.srv.observeStore("get", start, err)
	if err != nil {
		return fmt.Errorf("failed to load tile %s: %w", key, err)
	}
	if !ok {
		data = make([]byte, size)
	} else if len(data) != size {
		return fmt.Errorf("stored tile %s has %d bytes, want %d", key, len(data), size)
	}
	span.SetAttributes(attribute.Bool("tile.stored", ok))

	out := &protocol.TileDataMsg{
		DrawableID: key.DrawableID,
		TileNum:    key.Index,
		Shadow:     req.Shadow,
		BPP:        uint32(g.BPP),
		Width:      uint32(w),
		Height:     uint32(h),
	}
	if ss.seg != nil {
		copy(ss.seg.Data(), data)
		out.UseShm = 1
	} else {
		out.Data = data
	}

	if err := protocol.WriteTileData(ss.ch, out); err != nil {
		return fmt.Errorf("failed to send tile %s: %w", key, err)
	}

	ack, err := protocol.Expect(ss.ch, protocol.TileAck)
	if err != nil {
		return fmt.Errorf("waiting for ack of tile %s: %w", key, err)
	}
	ss.ch.DestroyMessage(ack)

	ss.srv.served.Add(1)
	if ss.srv.metrics != nil {
		ss.srv.metrics.TilesServed.Inc()
	}
	ss.log.Debug("Tile served", zap.Stringer("tile", key), zap.Bool("stored", ok))
	return nil
}

func (ss *session) handlePut(ctx context.Context) (err error) {
	_, span := ss.srv.tracer.Start(ctx, "tile.put",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("session.id", ss.id)),
	)
	defer func() { endSpan(span, err) }()

	ready := &protocol.TileDataMsg{}
	if ss.seg != nil {
		ready.UseShm = 1
	}
	if err := protocol.WriteTileData(ss.ch, ready); err != nil {
		return fmt.Errorf("failed to acknowledge put request: %w", err)
	}

	msg, err := protocol.Expect(ss.ch, protocol.TileData)
	if err != nil {
		return fmt.Errorf("waiting for uploaded tile: %w", err)
	}
	defer ss.ch.DestroyMessage(msg)

	d := msg.Data.(*protocol.TileDataMsg)
	key := tile.Key{DrawableID: d.DrawableID, Index: d.TileNum, Shadow: d.Shadow != 0}
	span.SetAttributes(
		attribute.Int("tile.drawable", int(key.DrawableID)),
		attribute.Int("tile.index", int(key.Index)),
		attribute.Bool("tile.shadow", key.Shadow),
	)

	g, w, h, err := ss.lookup(key.DrawableID, key.Index)
	if err != nil {
		return fmt.Errorf("tile upload %s: %w", key, err)
	}
	if int(d.Width) != w || int(d.Height) != h || int(d.BPP) != g.BPP {
		return fmt.Errorf("tile upload %s: geometry %dx%dx%d does not match drawable (%dx%dx%d)",
			key, d.Width, d.Height, d.BPP, w, h, g.BPP)
	}

	data := make([]byte, d.Len())
	if d.UseShm != 0 {
		if ss.seg == nil {
			return fmt.Errorf("tile upload %s: client used shared memory but none is mapped", key)
		}
		copy(data, ss.seg.Data()[:len(data)])
	} else {
		copy(data, d.Data)
	}

	start := time.Now()
	err = ss.srv.store.Set(key, data)
	ss.srv.observeStore("set", start, err)
	if err != nil {
		return fmt.Errorf("failed to store tile %s: %w", key, err)
	}

	if err := protocol.WriteTileAck(ss.ch); err != nil {
		return fmt.Errorf("failed to ack tile %s: %w", key, err)
	}

	ss.srv.stored.Add(1)
	if ss.srv.metrics != nil {
		ss.srv.metrics.TilesStored.Inc()
	}
	ss.log.Debug("Tile stored", zap.Stringer("tile", key))
	return nil
}

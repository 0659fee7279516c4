// Package client implements cache.Remote on top of the tile wire protocol.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"go.uber.org/zap"

	"tilewire/internal/cache"
	"tilewire/internal/protocol"
	"tilewire/internal/shm"
	"tilewire/internal/wire"
)

// Peer talks to one image-data server. Each Fetch and Store is a complete
// request/response exchange; nothing is pipelined.
type Peer struct {
	ch     *wire.Channel
	seg    *shm.Segment
	log    *zap.Logger
	closer io.Closer
}

var _ cache.Remote = (*Peer)(nil)

func New(ch *wire.Channel, log *zap.Logger) *Peer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Peer{ch: ch, log: log}
}

// Dial connects to a server and wraps the connection in a Peer.
func Dial(ctx context.Context, network, addr string, log *zap.Logger) (*Peer, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to tile server: %w", err)
	}
	p := New(wire.NewChannel(conn, protocol.NewRegistry()), log)
	p.closer = conn
	return p, nil
}

func (p *Peer) Channel() *wire.Channel {
	return p.ch
}

// Handshake reads the session config the server opens with and maps the
// shared memory segment it advertises, if any. The server sends every tile
// through an advertised segment, so a segment that cannot be mapped fails
// the handshake.
func (p *Peer) Handshake() (*protocol.ConfigMsg, error) {
	msg, err := protocol.Expect(p.ch, protocol.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to read server config: %w", err)
	}
	cfg := msg.Data.(*protocol.ConfigMsg)

	if cfg.ShmPath != "" {
		seg, err := shm.Open(cfg.ShmPath)
		if err != nil {
			return nil, fmt.Errorf("failed to map shared memory segment %s: %w", cfg.ShmPath, err)
		}
		p.seg = seg
	}

	p.log.Info("connected to tile server",
		zap.String("app", cfg.AppName),
		zap.Uint32("tile_width", cfg.TileWidth),
		zap.Uint32("tile_height", cfg.TileHeight),
		zap.Int64("tile_cache_size", cfg.TileCacheSize),
		zap.Bool("shm", p.seg != nil),
	)
	return cfg, nil
}

func shadowFlag(shadow bool) uint32 {
	if shadow {
		return 1
	}
	return 0
}

// Fetch requests a tile and copies the server's reply into t.Data().
func (p *Peer) Fetch(t *cache.Tile) error {
	key := t.Key()
	req := &protocol.TileRequest{
		DrawableID: key.DrawableID,
		TileNum:    key.Index,
		Shadow:     shadowFlag(key.Shadow),
	}
	if err := protocol.WriteTileReq(p.ch, req); err != nil {
		return fmt.Errorf("failed to send tile request: %w", err)
	}

	msg, err := protocol.Expect(p.ch, protocol.TileData)
	if err != nil {
		return fmt.Errorf("failed to receive tile data: %w", err)
	}
	defer p.ch.DestroyMessage(msg)

	d := msg.Data.(*protocol.TileDataMsg)
	if d.DrawableID != key.DrawableID ||
		d.TileNum != key.Index ||
		d.Shadow != req.Shadow ||
		int(d.BPP) != t.BPP() ||
		int(d.Width) != t.Width() ||
		int(d.Height) != t.Height() {
		return fmt.Errorf("%w: requested %s %dx%dx%d, received %d/%d/%d %dx%dx%d",
			cache.ErrGeometryMismatch,
			key, t.Width(), t.Height(), t.BPP(),
			d.DrawableID, d.TileNum, d.Shadow, d.Width, d.Height, d.BPP,
		)
	}

	if d.UseShm != 0 {
		if p.seg == nil {
			return errors.New("server sent tile through shared memory but no segment is mapped")
		}
		if t.Size() > p.seg.Size() {
			return fmt.Errorf("tile of %d bytes does not fit shared segment of %d bytes", t.Size(), p.seg.Size())
		}
		copy(t.Data(), p.seg.Data()[:t.Size()])
	} else {
		copy(t.Data(), d.Data)
	}

	if err := protocol.WriteTileAck(p.ch); err != nil {
		return fmt.Errorf("failed to acknowledge tile: %w", err)
	}
	return nil
}

// Store uploads t.Data(). The server first answers the put request with an
// empty tile_data telling whether the pixels go through shared memory.
func (p *Peer) Store(t *cache.Tile) error {
	if err := protocol.WriteTileReq(p.ch, &protocol.TileRequest{DrawableID: protocol.PutDrawableID}); err != nil {
		return fmt.Errorf("failed to send tile put request: %w", err)
	}

	msg, err := protocol.Expect(p.ch, protocol.TileData)
	if err != nil {
		return fmt.Errorf("failed to receive put reply: %w", err)
	}
	useShm := msg.Data.(*protocol.TileDataMsg).UseShm != 0 && p.seg != nil && t.Size() <= p.seg.Size()
	p.ch.DestroyMessage(msg)

	key := t.Key()
	out := &protocol.TileDataMsg{
		DrawableID: key.DrawableID,
		TileNum:    key.Index,
		Shadow:     shadowFlag(key.Shadow),
		BPP:        uint32(t.BPP()),
		Width:      uint32(t.Width()),
		Height:     uint32(t.Height()),
	}
	if useShm {
		copy(p.seg.Data(), t.Data())
		out.UseShm = 1
	} else {
		out.Data = t.Data()
	}

	if err := protocol.WriteTileData(p.ch, out); err != nil {
		return fmt.Errorf("failed to send tile data: %w", err)
	}

	ack, err := protocol.Expect(p.ch, protocol.TileAck)
	if err != nil {
		return fmt.Errorf("failed to receive tile ack: %w", err)
	}
	p.ch.DestroyMessage(ack)
	return nil
}

// Quit tells the server the session is over.
func (p *Peer) Quit() error {
	return protocol.WriteQuit(p.ch)
}

func (p *Peer) Close() error {
	var errs []error
	if p.seg != nil {
		errs = append(errs, p.seg.Close())
		p.seg = nil
	}
	if p.closer != nil {
		errs = append(errs, p.closer.Close())
		p.closer = nil
	}
	return errors.Join(errs...)
}

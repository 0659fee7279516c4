// Package protocol defines the messages exchanged between a tile client and
// the image-data server, and registers their codecs with a wire.Registry.
package protocol

import (
	"fmt"

	"tilewire/internal/tile"
	"tilewire/internal/wire"
)

const (
	Quit     uint32 = 0
	Config   uint32 = 1
	TileReq  uint32 = 2
	TileAck  uint32 = 3
	TileData uint32 = 4
	HasInit  uint32 = 12
)

// MaxTileSide bounds the width and height a tile_data header may carry.
const MaxTileSide = 1024

// PutDrawableID in a TileReq announces a client-initiated tile upload
// instead of a fetch.
const PutDrawableID int32 = -1

type TileRequest struct {
	DrawableID int32
	TileNum    uint32
	Shadow     uint32
}

type TileDataMsg struct {
	DrawableID int32
	TileNum    uint32
	Shadow     uint32
	BPP        uint32
	Width      uint32
	Height     uint32
	UseShm     uint32
	Data       []byte
}

// Len is the pixel payload size implied by the geometry. It is only
// meaningful once Validate has accepted the header.
func (d *TileDataMsg) Len() int {
	return int(d.Width) * int(d.Height) * int(d.BPP)
}

// Validate rejects geometry no tile can have, before any payload is sized
// from it.
func (d *TileDataMsg) Validate() error {
	if d.BPP > tile.MaxBPP {
		return fmt.Errorf("tile_data: bpp %d exceeds %d", d.BPP, tile.MaxBPP)
	}
	if d.Width > MaxTileSide || d.Height > MaxTileSide {
		return fmt.Errorf("tile_data: %dx%d exceeds %dx%d", d.Width, d.Height, MaxTileSide, MaxTileSide)
	}
	return nil
}

// ConfigMsg is sent by the server when a session starts.
type ConfigMsg struct {
	TileWidth     uint32
	TileHeight    uint32
	ShmID         int32
	CheckSize     int8
	CheckType     int8
	AppName       string
	TileCacheSize int64
	ShmPath       string
	NumProcessors int32
}

func TypeName(msgType uint32) string {
	switch msgType {
	case Quit:
		return "quit"
	case Config:
		return "config"
	case TileReq:
		return "tile_req"
	case TileAck:
		return "tile_ack"
	case TileData:
		return "tile_data"
	case HasInit:
		return "has_init"
	default:
		return fmt.Sprintf("unknown(%d)", msgType)
	}
}

// NewRegistry returns a registry with every message type registered.
func NewRegistry() *wire.Registry {
	reg := wire.NewRegistry()
	Register(reg)
	return reg
}

func Register(reg *wire.Registry) {
	empty := wire.Handler{
		Read:    func(*wire.Channel) (any, error) { return nil, nil },
		Write:   func(*wire.Channel, any) error { return nil },
		Destroy: func(any) {},
	}
	reg.Register(Quit, empty)
	reg.Register(TileAck, empty)
	reg.Register(HasInit, empty)

	reg.Register(Config, wire.Handler{
		Read:    readConfig,
		Write:   writeConfig,
		Destroy: func(any) {},
	})
	reg.Register(TileReq, wire.Handler{
		Read:    readTileReq,
		Write:   writeTileReq,
		Destroy: func(any) {},
	})
	reg.Register(TileData, wire.Handler{
		Read:    readTileData,
		Write:   writeTileData,
		Destroy: destroyTileData,
	})
}

func readConfig(c *wire.Channel) (any, error) {
	cfg := &ConfigMsg{}
	dims, err := c.ReadUint32s(2)
	if err != nil {
		return nil, err
	}
	cfg.TileWidth, cfg.TileHeight = dims[0], dims[1]
	if cfg.ShmID, err = c.ReadInt32(); err != nil {
		return nil, err
	}
	if cfg.CheckSize, err = c.ReadInt8(); err != nil {
		return nil, err
	}
	if cfg.CheckType, err = c.ReadInt8(); err != nil {
		return nil, err
	}
	if cfg.AppName, err = c.ReadString(); err != nil {
		return nil, err
	}
	if cfg.TileCacheSize, err = c.ReadInt64(); err != nil {
		return nil, err
	}
	if cfg.ShmPath, err = c.ReadString(); err != nil {
		return nil, err
	}
	if cfg.NumProcessors, err = c.ReadInt32(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func writeConfig(c *wire.Channel, data any) error {
	cfg, ok := data.(*ConfigMsg)
	if !ok {
		return fmt.Errorf("config: unexpected payload %T", data)
	}
	if err := c.WriteUint32s(cfg.TileWidth, cfg.TileHeight); err != nil {
		return err
	}
	if err := c.WriteInt32(cfg.ShmID); err != nil {
		return err
	}
	if err := c.WriteInt8(cfg.CheckSize); err != nil {
		return err
	}
	if err := c.WriteInt8(cfg.CheckType); err != nil {
		return err
	}
	if err := c.WriteString(cfg.AppName); err != nil {
		return err
	}
	if err := c.WriteInt64(cfg.TileCacheSize); err != nil {
		return err
	}
	if err := c.WriteString(cfg.ShmPath); err != nil {
		return err
	}
	return c.WriteInt32(cfg.NumProcessors)
}

func readTileReq(c *wire.Channel) (any, error) {
	id, err := c.ReadInt32()
	if err != nil {
		return nil, err
	}
	rest, err := c.ReadUint32s(2)
	if err != nil {
		return nil, err
	}
	return &TileRequest{DrawableID: id, TileNum: rest[0], Shadow: rest[1]}, nil
}

func writeTileReq(c *wire.Channel, data any) error {
	req, ok := data.(*TileRequest)
	if !ok {
		return fmt.Errorf("tile_req: unexpected payload %T", data)
	}
	if err := c.WriteInt32(req.DrawableID); err != nil {
		return err
	}
	return c.WriteUint32s(req.TileNum, req.Shadow)
}

func readTileData(c *wire.Channel) (any, error) {
	id, err := c.ReadInt32()
	if err != nil {
		return nil, err
	}
	f, err := c.ReadUint32s(6)
	if err != nil {
		return nil, err
	}
	d := &TileDataMsg{
		DrawableID: id,
		TileNum:    f[0],
		Shadow:     f[1],
		BPP:        f[2],
		Width:      f[3],
		Height:     f[4],
		UseShm:     f[5],
	}
	if err := d.Validate(); err != nil {
		return nil, c.Fail(err)
	}
	if d.UseShm == 0 && d.Len() > 0 {
		if d.Data, err = c.ReadBytes(d.Len()); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func writeTileData(c *wire.Channel, data any) error {
	d, ok := data.(*TileDataMsg)
	if !ok {
		return fmt.Errorf("tile_data: unexpected payload %T", data)
	}
	if err := d.Validate(); err != nil {
		return err
	}
	if d.UseShm == 0 && len(d.Data) != d.Len() {
		return fmt.Errorf("tile_data: payload is %d bytes, geometry needs %d", len(d.Data), d.Len())
	}
	if err := c.WriteInt32(d.DrawableID); err != nil {
		return err
	}
	if err := c.WriteUint32s(d.TileNum, d.Shadow, d.BPP, d.Width, d.Height, d.UseShm); err != nil {
		return err
	}
	if d.UseShm == 0 {
		return c.WriteBytes(d.Data)
	}
	return nil
}

func destroyTileData(data any) {
	if d, ok := data.(*TileDataMsg); ok {
		d.Data = nil
	}
}

func send(c *wire.Channel, msgType uint32, data any) error {
	if err := c.WriteMessage(&wire.Message{Type: msgType, Data: data}); err != nil {
		return err
	}
	return c.Flush()
}

func WriteQuit(c *wire.Channel) error {
	return send(c, Quit, nil)
}

func WriteConfig(c *wire.Channel, cfg *ConfigMsg) error {
	return send(c, Config, cfg)
}

func WriteTileReq(c *wire.Channel, req *TileRequest) error {
	return send(c, TileReq, req)
}

func WriteTileAck(c *wire.Channel) error {
	return send(c, TileAck, nil)
}

func WriteTileData(c *wire.Channel, d *TileDataMsg) error {
	return send(c, TileData, d)
}

func WriteHasInit(c *wire.Channel) error {
	return send(c, HasInit, nil)
}

// Expect reads the next message and checks its type. A different type
// means the peers have desynchronized.
func Expect(c *wire.Channel, msgType uint32) (*wire.Message, error) {
	msg, err := c.ReadMessage()
	if err != nil {
		return nil, err
	}
	if msg.Type != msgType {
		c.DestroyMessage(msg)
		return nil, &UnexpectedError{Want: msgType, Got: msg.Type}
	}
	return msg, nil
}

type UnexpectedError struct {
	Want uint32
	Got  uint32
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("expected %s message, got %s", TypeName(e.Want), TypeName(e.Got))
}

// Package wire frames typed messages over a byte stream.
//
// Every multi-byte integer travels in network byte order. A frame is a
// u32 type tag followed by a payload whose layout is owned by the handler
// registered for that tag. Strings are a u32 length followed by the raw
// bytes, with a zero length standing for the empty string.
//
// A Channel is not safe for concurrent use; the protocol is strictly
// request/response and has a single caller on each side.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxStringLen bounds the length prefix ReadString accepts.
const MaxStringLen = 1 << 20

// ErrChannelBroken is returned by every operation once the channel has seen
// an I/O failure, until ClearError is called.
var ErrChannelBroken = errors.New("wire: channel broken")

// ProtocolError is raised as a panic when a frame cannot be dispatched. The
// peers no longer agree on the framing and no byte-level recovery exists.
type ProtocolError struct {
	Op   string
	Type uint32
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("wire: %s: no handler registered for message type %d", e.Op, e.Type)
}

// Transport holds the low-level primitives a Channel moves bytes with.
type Transport struct {
	Read  func(p []byte) (int, error)
	Write func(p []byte) (int, error)
	Flush func() error
}

// Channel reads and writes frames through a Transport.
type Channel struct {
	transport Transport
	registry  *Registry
	err       error
}

// NewChannel returns a channel with buffered default hooks over rw.
func NewChannel(rw io.ReadWriter, reg *Registry) *Channel {
	r := bufio.NewReader(rw)
	w := bufio.NewWriter(rw)
	return &Channel{
		transport: Transport{
			Read:  r.Read,
			Write: w.Write,
			Flush: w.Flush,
		},
		registry: reg,
	}
}

// SetTransport overrides the channel's hooks. Nil hooks keep their current value.
func (c *Channel) SetTransport(t Transport) {
	if t.Read != nil {
		c.transport.Read = t.Read
	}
	if t.Write != nil {
		c.transport.Write = t.Write
	}
	if t.Flush != nil {
		c.transport.Flush = t.Flush
	}
}

// Registry returns the handler table the channel dispatches through.
func (c *Channel) Registry() *Registry {
	return c.registry
}

// Err returns the latched failure, or nil if the channel is healthy.
func (c *Channel) Err() error {
	return c.err
}

// ClearError resets the latch. Callers do this after re-establishing the stream.
func (c *Channel) ClearError() {
	c.err = nil
}

func (c *Channel) fail(err error) error {
	c.err = fmt.Errorf("%w: %w", ErrChannelBroken, err)
	return c.err
}

// Fail latches err as a stream failure. Handlers call it when a payload
// header cannot be honoured, since the stream position is then lost.
func (c *Channel) Fail(err error) error {
	if c.err != nil {
		return c.err
	}
	return c.fail(err)
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

func (c *Channel) read(p []byte) error {
	if c.err != nil {
		return c.err
	}
	if len(p) == 0 {
		return nil
	}
	if _, err := io.ReadFull(readerFunc(c.transport.Read), p); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return c.fail(err)
	}
	return nil
}

func (c *Channel) write(p []byte) error {
	if c.err != nil {
		return c.err
	}
	for len(p) > 0 {
		n, err := c.transport.Write(p)
		if err != nil {
			return c.fail(err)
		}
		if n == 0 {
			return c.fail(io.ErrShortWrite)
		}
		p = p[n:]
	}
	return nil
}

// Flush pushes buffered bytes to the peer.
func (c *Channel) Flush() error {
	if c.err != nil {
		return c.err
	}
	if c.transport.Flush == nil {
		return nil
	}
	if err := c.transport.Flush(); err != nil {
		return c.fail(err)
	}
	return nil
}

// ReadUint8s reads n bytes as uint8 values.
func (c *Channel) ReadUint8s(n int) ([]uint8, error) {
	return c.ReadBytes(n)
}

// ReadUint16s reads n big-endian uint16 values.
func (c *Channel) ReadUint16s(n int) ([]uint16, error) {
	buf := make([]byte, 2*n)
	if err := c.read(buf); err != nil {
		return nil, err
	}
	out := make([]uint16, n)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(buf[2*i:])
	}
	return out, nil
}

// ReadUint32s reads n big-endian uint32 values.
func (c *Channel) ReadUint32s(n int) ([]uint32, error) {
	buf := make([]byte, 4*n)
	if err := c.read(buf); err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(buf[4*i:])
	}
	return out, nil
}

// ReadUint64s reads n big-endian uint64 values.
func (c *Channel) ReadUint64s(n int) ([]uint64, error) {
	buf := make([]byte, 8*n)
	if err := c.read(buf); err != nil {
		return nil, err
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = binary.BigEndian.Uint64(buf[8*i:])
	}
	return out, nil
}

// ReadBytes reads exactly n raw bytes.
func (c *Channel) ReadBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := c.read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadBytesInto fills p from the stream without allocating.
func (c *Channel) ReadBytesInto(p []byte) error {
	return c.read(p)
}

// ReadStrings reads n length-prefixed strings.
func (c *Channel) ReadStrings(n int) ([]string, error) {
	out := make([]string, n)
	for i := range out {
		s, err := c.ReadString()
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// ReadUint8 reads one byte.
func (c *Channel) ReadUint8() (uint8, error) {
	var b [1]byte
	if err := c.read(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadInt8 reads one byte as a signed value.
func (c *Channel) ReadInt8() (int8, error) {
	v, err := c.ReadUint8()
	return int8(v), err
}

// ReadUint16 reads a big-endian uint16.
func (c *Channel) ReadUint16() (uint16, error) {
	var b [2]byte
	if err := c.read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

// ReadUint32 reads a big-endian uint32.
func (c *Channel) ReadUint32() (uint32, error) {
	var b [4]byte
	if err := c.read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// ReadInt32 reads a big-endian two's complement int32.
func (c *Channel) ReadInt32() (int32, error) {
	v, err := c.ReadUint32()
	return int32(v), err
}

// ReadUint64 reads a big-endian uint64.
func (c *Channel) ReadUint64() (uint64, error) {
	var b [8]byte
	if err := c.read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// ReadInt64 reads a big-endian two's complement int64.
func (c *Channel) ReadInt64() (int64, error) {
	v, err := c.ReadUint64()
	return int64(v), err
}

// ReadString reads a length-prefixed string. A zero length yields "".
func (c *Channel) ReadString() (string, error) {
	n, err := c.ReadUint32()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if n > MaxStringLen {
		return "", c.fail(fmt.Errorf("string length %d exceeds %d", n, MaxStringLen))
	}
	buf, err := c.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteUint8s writes vals as raw bytes.
func (c *Channel) WriteUint8s(vals ...uint8) error {
	return c.write(vals)
}

// WriteUint16s writes vals in big-endian order.
func (c *Channel) WriteUint16s(vals ...uint16) error {
	buf := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.BigEndian.PutUint16(buf[2*i:], v)
	}
	return c.write(buf)
}

// WriteUint32s writes vals in big-endian order.
func (c *Channel) WriteUint32s(vals ...uint32) error {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.BigEndian.PutUint32(buf[4*i:], v)
	}
	return c.write(buf)
}

// WriteUint64s writes vals in big-endian order.
func (c *Channel) WriteUint64s(vals ...uint64) error {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.BigEndian.PutUint64(buf[8*i:], v)
	}
	return c.write(buf)
}

// WriteBytes writes p with no length prefix.
func (c *Channel) WriteBytes(p []byte) error {
	return c.write(p)
}

// WriteStrings writes each value as a length-prefixed string.
func (c *Channel) WriteStrings(vals ...string) error {
	for _, s := range vals {
		if err := c.WriteString(s); err != nil {
			return err
		}
	}
	return nil
}

// WriteUint8 writes one byte.
func (c *Channel) WriteUint8(v uint8) error {
	return c.write([]byte{v})
}

// WriteInt8 writes v as one byte.
func (c *Channel) WriteInt8(v int8) error {
	return c.WriteUint8(uint8(v))
}

// WriteUint16 writes v big-endian.
func (c *Channel) WriteUint16(v uint16) error {
	return c.WriteUint16s(v)
}

// WriteUint32 writes v big-endian.
func (c *Channel) WriteUint32(v uint32) error {
	return c.WriteUint32s(v)
}

// WriteInt32 writes v big-endian.
func (c *Channel) WriteInt32(v int32) error {
	return c.WriteUint32(uint32(v))
}

// WriteUint64 writes v big-endian.
func (c *Channel) WriteUint64(v uint64) error {
	return c.WriteUint64s(v)
}

// WriteInt64 writes v big-endian.
func (c *Channel) WriteInt64(v int64) error {
	return c.WriteUint64(uint64(v))
}

// WriteString writes a length-prefixed string; "" is sent as a bare zero length.
func (c *Channel) WriteString(s string) error {
	if err := c.WriteUint32(uint32(len(s))); err != nil {
		return err
	}
	if len(s) == 0 {
		return nil
	}
	return c.write([]byte(s))
}

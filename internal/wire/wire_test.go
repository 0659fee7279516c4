package wire

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"
)

func newLoopback() (*Channel, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewChannel(&buf, NewRegistry()), &buf
}

func TestPrimitivesRoundTrip(t *testing.T) {
	ch, _ := newLoopback()

	if err := ch.WriteUint8s(1, 2, 255); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteUint16s(0xBEEF, 7); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteUint32s(0xDEADBEEF, 0); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteInt32(-42); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteInt8(-3); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteInt64(-1 << 40); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteStrings("gimp", "", "tile\x00"); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteBytes(nil); err != nil {
		t.Fatal(err)
	}
	if err := ch.Flush(); err != nil {
		t.Fatal(err)
	}

	u8, err := ch.ReadUint8s(3)
	if err != nil || !bytes.Equal(u8, []byte{1, 2, 255}) {
		t.Fatalf("ReadUint8s = %v, %v", u8, err)
	}
	u16, err := ch.ReadUint16s(2)
	if err != nil || !reflect.DeepEqual(u16, []uint16{0xBEEF, 7}) {
		t.Fatalf("ReadUint16s = %v, %v", u16, err)
	}
	u32, err := ch.ReadUint32s(2)
	if err != nil || !reflect.DeepEqual(u32, []uint32{0xDEADBEEF, 0}) {
		t.Fatalf("ReadUint32s = %v, %v", u32, err)
	}
	i32, err := ch.ReadInt32()
	if err != nil || i32 != -42 {
		t.Fatalf("ReadInt32 = %d, %v", i32, err)
	}
	i8, err := ch.ReadInt8()
	if err != nil || i8 != -3 {
		t.Fatalf("ReadInt8 = %d, %v", i8, err)
	}
	i64, err := ch.ReadInt64()
	if err != nil || i64 != -1<<40 {
		t.Fatalf("ReadInt64 = %d, %v", i64, err)
	}
	strs, err := ch.ReadStrings(3)
	if err != nil || !reflect.DeepEqual(strs, []string{"gimp", "", "tile\x00"}) {
		t.Fatalf("ReadStrings = %q, %v", strs, err)
	}
}

func TestNetworkByteOrder(t *testing.T) {
	ch, buf := newLoopback()
	if err := ch.WriteUint32(0x01020304); err != nil {
		t.Fatal(err)
	}
	if err := ch.WriteString(""); err != nil {
		t.Fatal(err)
	}
	if err := ch.Flush(); err != nil {
		t.Fatal(err)
	}
	want := []byte{1, 2, 3, 4, 0, 0, 0, 0}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("encoded % x; want % x", buf.Bytes(), want)
	}
}

func TestStickyError(t *testing.T) {
	ch, buf := newLoopback()

	if _, err := ch.ReadUint32(); !errors.Is(err, ErrChannelBroken) {
		t.Fatalf("expected ErrChannelBroken on empty stream, got %v", err)
	}
	if !errors.Is(ch.Err(), io.ErrUnexpectedEOF) {
		t.Fatalf("expected latched io.ErrUnexpectedEOF, got %v", ch.Err())
	}

	if err := ch.WriteUint32(1); !errors.Is(err, ErrChannelBroken) {
		t.Fatalf("expected write to short-circuit, got %v", err)
	}
	if err := ch.Flush(); !errors.Is(err, ErrChannelBroken) {
		t.Fatalf("expected flush to short-circuit, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("latched channel wrote %d bytes", buf.Len())
	}

	ch.ClearError()
	if err := ch.WriteUint32(9); err != nil {
		t.Fatal(err)
	}
	if err := ch.Flush(); err != nil {
		t.Fatal(err)
	}
	v, err := ch.ReadUint32()
	if err != nil || v != 9 {
		t.Fatalf("after ClearError got %d, %v", v, err)
	}
}

func TestShortReadLatches(t *testing.T) {
	ch := NewChannel(bytes.NewBuffer([]byte{0, 0}), NewRegistry())
	if _, err := ch.ReadUint32(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}
	if ch.Err() == nil {
		t.Fatal("expected latched error")
	}
}

func TestOversizeStringLatches(t *testing.T) {
	ch, _ := newLoopback()
	if err := ch.WriteUint32(MaxStringLen + 1); err != nil {
		t.Fatal(err)
	}
	if err := ch.Flush(); err != nil {
		t.Fatal(err)
	}
	s, err := ch.ReadString()
	if !errors.Is(err, ErrChannelBroken) || s != "" {
		t.Fatalf("ReadString = %q, %v", s, err)
	}
	if errors.Is(ch.Err(), io.ErrUnexpectedEOF) {
		t.Fatalf("length was not checked before reading: %v", ch.Err())
	}
}

func TestFailKeepsFirstError(t *testing.T) {
	ch, _ := newLoopback()
	first := errors.New("bad header")
	if err := ch.Fail(first); !errors.Is(err, first) || !errors.Is(err, ErrChannelBroken) {
		t.Fatalf("Fail = %v", err)
	}
	if err := ch.Fail(errors.New("later")); !errors.Is(err, first) {
		t.Fatalf("second Fail replaced the latched error: %v", err)
	}
}

func TestTransportHooks(t *testing.T) {
	var out bytes.Buffer
	flushes := 0
	ch := NewChannel(&bytes.Buffer{}, NewRegistry())
	ch.SetTransport(Transport{
		Write: func(p []byte) (int, error) {
			// Accept one byte per call to exercise partial writes.
			out.WriteByte(p[0])
			return 1, nil
		},
		Flush: func() error {
			flushes++
			return nil
		},
	})

	if err := ch.WriteString("abc"); err != nil {
		t.Fatal(err)
	}
	if err := ch.Flush(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out.Bytes(), []byte{0, 0, 0, 3, 'a', 'b', 'c'}) {
		t.Fatalf("hook saw % x", out.Bytes())
	}
	if flushes != 1 {
		t.Fatalf("expected 1 flush, got %d", flushes)
	}

	boom := errors.New("boom")
	ch.SetTransport(Transport{Write: func(p []byte) (int, error) { return 0, boom }})
	if err := ch.WriteUint8(1); !errors.Is(err, boom) {
		t.Fatalf("expected hook error, got %v", err)
	}
}

type pair struct {
	A uint32
	S string
}

func TestMessageDispatch(t *testing.T) {
	ch, _ := newLoopback()
	destroyed := 0
	ch.Registry().Register(7, Handler{
		Read: func(c *Channel) (any, error) {
			a, err := c.ReadUint32()
			if err != nil {
				return nil, err
			}
			s, err := c.ReadString()
			if err != nil {
				return nil, err
			}
			return &pair{A: a, S: s}, nil
		},
		Write: func(c *Channel, data any) error {
			p := data.(*pair)
			if err := c.WriteUint32(p.A); err != nil {
				return err
			}
			return c.WriteString(p.S)
		},
		Destroy: func(any) { destroyed++ },
	})

	in := &Message{Type: 7, Data: &pair{A: 11, S: "x"}}
	if err := ch.WriteMessage(in); err != nil {
		t.Fatal(err)
	}
	if err := ch.Flush(); err != nil {
		t.Fatal(err)
	}

	out, err := ch.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if out.Type != 7 || !reflect.DeepEqual(out.Data, in.Data) {
		t.Fatalf("got %+v; want %+v", out, in)
	}

	ch.DestroyMessage(out)
	if destroyed != 1 || out.Data != nil {
		t.Fatalf("destroy not dispatched: destroyed=%d data=%v", destroyed, out.Data)
	}
}

func expectProtocolPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic")
		}
		if _, ok := r.(*ProtocolError); !ok {
			t.Fatalf("expected *ProtocolError, got %T: %v", r, r)
		}
	}()
	fn()
}

func TestUnregisteredTypePanics(t *testing.T) {
	ch, _ := newLoopback()

	expectProtocolPanic(t, func() {
		ch.WriteMessage(&Message{Type: 99})
	})

	if err := ch.WriteUint32(99); err != nil {
		t.Fatal(err)
	}
	if err := ch.Flush(); err != nil {
		t.Fatal(err)
	}
	expectProtocolPanic(t, func() {
		ch.ReadMessage()
	})
}

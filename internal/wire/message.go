package wire

import "fmt"

// Message is one decoded frame. Data holds the payload produced by the
// type's registered reader.
type Message struct {
	Type uint32
	Data any
}

type (
	ReadFunc    func(c *Channel) (any, error)
	WriteFunc   func(c *Channel, data any) error
	DestroyFunc func(data any)
)

// Handler is the per-type codec triplet.
type Handler struct {
	Read    ReadFunc
	Write   WriteFunc
	Destroy DestroyFunc
}

// Registry maps type tags to handlers. Register every type before any
// channel using the registry exchanges it.
type Registry struct {
	handlers map[uint32]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[uint32]Handler)}
}

// Register associates msgType with h, replacing any previous handler.
func (r *Registry) Register(msgType uint32, h Handler) {
	r.handlers[msgType] = h
}

// Lookup returns the handler registered for msgType.
func (r *Registry) Lookup(msgType uint32) (Handler, bool) {
	h, ok := r.handlers[msgType]
	return h, ok
}

func (c *Channel) handler(op string, msgType uint32) Handler {
	if c.registry != nil {
		if h, ok := c.registry.Lookup(msgType); ok {
			return h
		}
	}
	panic(&ProtocolError{Op: op, Type: msgType})
}

// ReadMessage reads a tag and decodes the payload with the tag's handler.
// It panics with *ProtocolError when the tag has no handler.
func (c *Channel) ReadMessage() (*Message, error) {
	msgType, err := c.ReadUint32()
	if err != nil {
		return nil, err
	}

	h := c.handler("read", msgType)

	var data any
	if h.Read != nil {
		data, err = h.Read(c)
		if err != nil {
			return nil, fmt.Errorf("failed to read message type %d: %w", msgType, err)
		}
	}

	return &Message{Type: msgType, Data: data}, nil
}

// WriteMessage writes the tag followed by the payload. It does not flush.
func (c *Channel) WriteMessage(msg *Message) error {
	h := c.handler("write", msg.Type)

	if err := c.WriteUint32(msg.Type); err != nil {
		return err
	}
	if h.Write != nil {
		if err := h.Write(c, msg.Data); err != nil {
			return fmt.Errorf("failed to write message type %d: %w", msg.Type, err)
		}
	}
	return nil
}

// DestroyMessage releases whatever the payload owns.
func (c *Channel) DestroyMessage(msg *Message) {
	if msg == nil {
		return
	}
	h := c.handler("destroy", msg.Type)
	if h.Destroy != nil {
		h.Destroy(msg.Data)
	}
	msg.Data = nil
}

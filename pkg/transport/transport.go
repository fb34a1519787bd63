// Package transport provides the message-channel layer the client
// session runs on. A Transport establishes one MessageChannel, an
// ordered duplex stream of discrete protocol messages, and owns its
// lifecycle. The concrete kinds are an in-process pipe, a subprocess
// speaking newline-delimited JSON over stdio, a WebSocket connection,
// and the streamable HTTP framing.
//
// Transports are usually built by inference over a source value:
//
//	t, err := transport.Infer("./server.py", transport.DefaultConfig())
package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	mcperrors "github.com/qibin2020/fastmcp/pkg/errors"
	"github.com/qibin2020/fastmcp/pkg/logging"
	"github.com/qibin2020/fastmcp/pkg/protocol"
)

// ErrChannelClosed is returned by Send and Receive after the channel
// has been closed, locally or by the peer.
var ErrChannelClosed = errors.New("message channel closed")

var errAlreadyConnected = errors.New("transport already connected")

// MessageChannel is an ordered, reliable, duplex stream of discrete
// protocol messages. Send and Receive are safe for concurrent use with
// each other; Close is idempotent.
type MessageChannel interface {
	// Send writes one message to the peer.
	Send(ctx context.Context, msg *protocol.Message) error

	// Receive blocks until the next inbound message, the context is
	// done, or the channel closes.
	Receive(ctx context.Context) (*protocol.Message, error)

	// Close tears the channel down. Subsequent Sends and Receives fail
	// with ErrChannelClosed.
	Close() error
}

// Transport establishes a MessageChannel for one connection kind and
// owns its lifecycle.
type Transport interface {
	// Connect establishes the channel. It fails with a connection
	// error if the peer cannot be reached.
	Connect(ctx context.Context) (MessageChannel, error)

	// Disconnect releases the connection and any resources behind it
	// (subprocess, socket). It is idempotent and safe to call on a
	// transport that never connected.
	Disconnect(ctx context.Context) error
}

// InProcessServer is the handle an in-process peer exposes. The
// in-memory transport wires both ends of a message pipe and hands the
// server its end; Serve runs until the context is cancelled or the
// channel closes.
type InProcessServer interface {
	Serve(ctx context.Context, ch MessageChannel) error
}

// Config carries the settings shared by all transport kinds.
type Config struct {
	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration

	// Headers are added to every HTTP and WebSocket request.
	Headers map[string]string

	// Logger receives transport-level diagnostics.
	Logger logging.Logger
}

// DefaultConfig returns a transport configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 30 * time.Second,
		Logger:         logging.Default(),
	}
}

func (c Config) logger() logging.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logging.Default()
}

// ChannelTransport wraps an already-built MessageChannel. Connect
// hands the channel out as-is; Disconnect closes it.
type ChannelTransport struct {
	ch MessageChannel

	mu        sync.Mutex
	connected bool
	closed    bool
}

// NewChannelTransport creates a transport around an existing channel
func NewChannelTransport(ch MessageChannel) *ChannelTransport {
	return &ChannelTransport{ch: ch}
}

// Connect returns the wrapped channel
func (t *ChannelTransport) Connect(ctx context.Context) (MessageChannel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, mcperrors.ConnectionFailed("channel", "", ErrChannelClosed)
	}
	if t.connected {
		return nil, mcperrors.ConnectionFailed("channel", "", errAlreadyConnected)
	}
	t.connected = true
	return t.ch, nil
}

// Disconnect closes the wrapped channel
func (t *ChannelTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	return t.ch.Close()
}

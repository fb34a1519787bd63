package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	mcperrors "github.com/qibin2020/fastmcp/pkg/errors"
	"github.com/qibin2020/fastmcp/pkg/logging"
	"github.com/qibin2020/fastmcp/pkg/protocol"
)

// WebSocketTransport speaks the protocol over a single WebSocket
// connection, one JSON message per text frame.
type WebSocketTransport struct {
	endpoint string
	headers  map[string]string
	timeout  time.Duration
	logger   logging.Logger

	mu      sync.Mutex
	channel *wsChannel
}

// NewWebSocketTransport creates a transport for a ws:// or wss:// endpoint
func NewWebSocketTransport(endpoint string, cfg Config) *WebSocketTransport {
	return &WebSocketTransport{
		endpoint: endpoint,
		headers:  cfg.Headers,
		timeout:  cfg.ConnectTimeout,
		logger:   cfg.logger(),
	}
}

// Connect dials the endpoint and starts the read pump
func (t *WebSocketTransport) Connect(ctx context.Context) (MessageChannel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.channel != nil {
		return nil, mcperrors.ConnectionFailed("websocket", t.endpoint, errAlreadyConnected)
	}

	header := http.Header{}
	for k, v := range t.headers {
		header.Set(k, v)
	}

	dialer := websocket.Dialer{HandshakeTimeout: t.timeout}
	conn, resp, err := dialer.DialContext(ctx, t.endpoint, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, mcperrors.ConnectionFailed("websocket", t.endpoint, err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	t.logger.Debug("websocket connected", logging.String("endpoint", t.endpoint))

	ch := newWSChannel(conn, t.logger)
	t.channel = ch
	return ch, nil
}

// Disconnect closes the connection
func (t *WebSocketTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	ch := t.channel
	t.channel = nil
	t.mu.Unlock()

	if ch == nil {
		return nil
	}
	return ch.Close()
}

// wsChannel adapts a websocket.Conn to the MessageChannel contract.
// gorilla allows one concurrent reader and one concurrent writer, so
// a pump goroutine owns reads and a mutex serializes writes.
type wsChannel struct {
	conn   *websocket.Conn
	logger logging.Logger

	writeMu sync.Mutex

	recv chan *protocol.Message

	done      chan struct{}
	closeOnce sync.Once

	errMu   sync.Mutex
	readErr error
}

func newWSChannel(conn *websocket.Conn, logger logging.Logger) *wsChannel {
	ch := &wsChannel{
		conn:   conn,
		logger: logger,
		recv:   make(chan *protocol.Message, 16),
		done:   make(chan struct{}),
	}
	go ch.readLoop()
	return ch
}

func (c *wsChannel) readLoop() {
	defer close(c.recv)

	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
				// Local close, the read error is expected.
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.setReadErr(mcperrors.ConnectionClosed())
				} else {
					c.setReadErr(mcperrors.ConnectionLost(err))
				}
			}
			return
		}

		select {
		case c.recv <- &msg:
		case <-c.done:
			return
		}
	}
}

func (c *wsChannel) setReadErr(err error) {
	c.errMu.Lock()
	if c.readErr == nil {
		c.readErr = err
	}
	c.errMu.Unlock()
}

func (c *wsChannel) terminalErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr != nil {
		return c.readErr
	}
	return ErrChannelClosed
}

func (c *wsChannel) Send(ctx context.Context, msg *protocol.Message) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return mcperrors.ConnectionLost(err)
	}
	return nil
}

func (c *wsChannel) Receive(ctx context.Context) (*protocol.Message, error) {
	select {
	case msg, ok := <-c.recv:
		if !ok {
			return nil, c.terminalErr()
		}
		return msg, nil
	case <-c.done:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *wsChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		err := c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()
		if err != nil {
			c.logger.Debug("sending websocket close frame", logging.ErrorField(err))
		}

		c.conn.Close()
	})
	return nil
}

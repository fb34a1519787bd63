package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	mcperrors "github.com/qibin2020/fastmcp/pkg/errors"
	"github.com/qibin2020/fastmcp/pkg/logging"
	"github.com/qibin2020/fastmcp/pkg/protocol"
)

const (
	headerSessionID    = "MCP-Session-ID"
	contentTypeJSON    = "application/json"
	contentTypeSSE     = "text/event-stream"
	listenRetryBackoff = time.Second
)

// StreamableHTTPTransport speaks the streamable HTTP framing: every
// outbound message is one POST to the endpoint, responses arrive
// either as a JSON body or as an SSE stream on the POST itself, and a
// long-lived GET stream carries server-initiated traffic once the
// server has assigned a session id.
type StreamableHTTPTransport struct {
	endpoint string
	headers  map[string]string
	client   *http.Client
	logger   logging.Logger

	mu      sync.Mutex
	channel *streamHTTPChannel
}

// NewStreamableHTTPTransport creates a transport for an http(s) endpoint
func NewStreamableHTTPTransport(endpoint string, cfg Config) *StreamableHTTPTransport {
	return &StreamableHTTPTransport{
		endpoint: endpoint,
		headers:  cfg.Headers,
		client:   &http.Client{Timeout: 0},
		logger:   cfg.logger(),
	}
}

// Connect verifies nothing over the wire; the server is first reached
// by the session's initialize POST. It only builds the channel state.
func (t *StreamableHTTPTransport) Connect(ctx context.Context) (MessageChannel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.channel != nil {
		return nil, mcperrors.ConnectionFailed("streamable-http", t.endpoint, errAlreadyConnected)
	}

	ch := &streamHTTPChannel{
		endpoint:  t.endpoint,
		headers:   t.headers,
		client:    t.client,
		logger:    t.logger,
		requestID: uuid.NewString(),
		recv:      make(chan *protocol.Message, 16),
		done:      make(chan struct{}),
	}
	t.channel = ch
	return ch, nil
}

// Disconnect closes the channel and stops the listener stream
func (t *StreamableHTTPTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	ch := t.channel
	t.channel = nil
	t.mu.Unlock()

	if ch == nil {
		return nil
	}
	return ch.Close()
}

// streamHTTPChannel is the MessageChannel behind a streamable HTTP
// connection. Inbound messages, whether parsed from POST response
// bodies or from the listener GET stream, funnel into one recv queue.
type streamHTTPChannel struct {
	endpoint  string
	headers   map[string]string
	client    *http.Client
	logger    logging.Logger
	requestID string

	recv chan *protocol.Message

	done      chan struct{}
	closeOnce sync.Once

	sessionMu  sync.Mutex
	sessionID  string
	listenStop context.CancelFunc
}

func (c *streamHTTPChannel) Send(ctx context.Context, msg *protocol.Message) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return mcperrors.ConnectionLost(err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON+", "+contentTypeSSE)
	req.Header.Set("X-Request-ID", c.requestID)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if sid := c.currentSessionID(); sid != "" {
		req.Header.Set(headerSessionID, sid)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return mcperrors.ConnectionLost(err)
	}

	if sid := resp.Header.Get(headerSessionID); sid != "" {
		c.adoptSessionID(sid)
	}

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return mcperrors.ConnectionLost(
			fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body))))
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, contentTypeSSE):
		// The response to this POST streams back as SSE events.
		go func() {
			defer resp.Body.Close()
			if err := c.pumpEventStream(resp.Body); err != nil {
				c.logger.Debug("post event stream ended", logging.ErrorField(err))
			}
		}()
	case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent:
		resp.Body.Close()
	default:
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return mcperrors.ConnectionLost(err)
		}
		if len(bytes.TrimSpace(body)) > 0 {
			if err := c.deliverJSON(body); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *streamHTTPChannel) Receive(ctx context.Context) (*protocol.Message, error) {
	select {
	case msg := <-c.recv:
		return msg, nil
	case <-c.done:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *streamHTTPChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.sessionMu.Lock()
		if c.listenStop != nil {
			c.listenStop()
		}
		c.sessionMu.Unlock()
	})
	return nil
}

func (c *streamHTTPChannel) currentSessionID() string {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	return c.sessionID
}

// adoptSessionID records the server-assigned session id and, the first
// time one appears, starts the listener stream for server-initiated
// messages.
func (c *streamHTTPChannel) adoptSessionID(sid string) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if c.sessionID == sid {
		return
	}
	c.sessionID = sid
	c.logger.Debug("session id assigned", logging.String("session_id", sid))

	if c.listenStop == nil {
		listenCtx, cancel := context.WithCancel(context.Background())
		c.listenStop = cancel
		go c.listen(listenCtx)
	}
}

// listen holds a GET stream open for server-initiated messages,
// reconnecting with a flat backoff until the channel closes.
func (c *streamHTTPChannel) listen(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		if err := c.listenOnce(ctx); err != nil && ctx.Err() == nil {
			c.logger.Debug("listener stream ended", logging.ErrorField(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-time.After(listenRetryBackoff):
		}
	}
}

func (c *streamHTTPChannel) listenOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", contentTypeSSE)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if sid := c.currentSessionID(); sid != "" {
		req.Header.Set(headerSessionID, sid)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusMethodNotAllowed {
		// Server does not push on GET; nothing to listen to.
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("listener stream rejected: %s", resp.Status)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), contentTypeSSE) {
		return fmt.Errorf("listener stream has content type %q", resp.Header.Get("Content-Type"))
	}

	return c.pumpEventStream(resp.Body)
}

// pumpEventStream parses an SSE body, delivering each data payload as
// a protocol message. Event fields other than data are ignored.
func (c *streamHTTPChannel) pumpEventStream(body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if data.Len() > 0 {
				if err := c.deliverJSON(data.Bytes()); err != nil {
					return err
				}
				data.Reset()
			}
			continue
		}
		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimPrefix(line, "data:")
			payload = strings.TrimPrefix(payload, " ")
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(payload)
		}
	}
	if data.Len() > 0 {
		if err := c.deliverJSON(data.Bytes()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (c *streamHTTPChannel) deliverJSON(data []byte) error {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return mcperrors.MalformedMessage(err)
	}
	select {
	case c.recv <- &msg:
		return nil
	case <-c.done:
		return ErrChannelClosed
	}
}

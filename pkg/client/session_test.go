package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	mcperrors "github.com/qibin2020/fastmcp/pkg/errors"
	"github.com/qibin2020/fastmcp/pkg/logging"
	"github.com/qibin2020/fastmcp/pkg/protocol"
	"github.com/qibin2020/fastmcp/pkg/transport"
)

// scriptServer is an in-process peer for session tests. It answers
// initialize itself; everything else is routed through handlers.
type scriptServer struct {
	handlers map[string]func(ctx context.Context, ch transport.MessageChannel, msg *protocol.Message) error

	// notifications and responses receive inbound traffic that is not
	// a request, for tests that assert on it.
	notifications chan *protocol.Message
	responses     chan *protocol.Message

	// channel delivers the server's end of the pipe once serving, for
	// tests that initiate requests from the server side.
	channel chan transport.MessageChannel
}

func newScriptServer() *scriptServer {
	return &scriptServer{
		handlers:      make(map[string]func(context.Context, transport.MessageChannel, *protocol.Message) error),
		notifications: make(chan *protocol.Message, 16),
		responses:     make(chan *protocol.Message, 16),
		channel:       make(chan transport.MessageChannel, 1),
	}
}

func (s *scriptServer) handle(method string, fn func(context.Context, transport.MessageChannel, *protocol.Message) error) {
	s.handlers[method] = fn
}

// respond registers a handler that answers method with result.
func (s *scriptServer) respond(method string, result interface{}) {
	s.handle(method, func(ctx context.Context, ch transport.MessageChannel, msg *protocol.Message) error {
		resp, err := protocol.NewResponse(msg.ID, result)
		if err != nil {
			return err
		}
		return ch.Send(ctx, resp)
	})
}

func (s *scriptServer) Serve(ctx context.Context, ch transport.MessageChannel) error {
	select {
	case s.channel <- ch:
	default:
	}

	for {
		msg, err := ch.Receive(ctx)
		if err != nil {
			return err
		}

		switch msg.Kind() {
		case protocol.KindRequest:
			if msg.Method == protocol.MethodInitialize {
				result := protocol.InitializeResult{
					ProtocolVersion: protocol.ProtocolRevision,
					ServerInfo:      protocol.Implementation{Name: "script-server", Version: "1.0"},
					Capabilities: protocol.ServerCapabilities{
						Tools: &protocol.ToolsCapability{},
					},
					Instructions: "for testing",
				}
				resp, _ := protocol.NewResponse(msg.ID, result)
				if err := ch.Send(ctx, resp); err != nil {
					return err
				}
				continue
			}
			if h, ok := s.handlers[msg.Method]; ok {
				if err := h(ctx, ch, msg); err != nil {
					return err
				}
				continue
			}
			if msg.Method == protocol.MethodPing {
				resp, _ := protocol.NewResponse(msg.ID, struct{}{})
				if err := ch.Send(ctx, resp); err != nil {
					return err
				}
				continue
			}
			resp, _ := protocol.NewErrorResponse(msg.ID, protocol.MethodNotFound,
				"method not handled by script", nil)
			if err := ch.Send(ctx, resp); err != nil {
				return err
			}

		case protocol.KindNotification:
			select {
			case s.notifications <- msg:
			default:
			}

		case protocol.KindResponse:
			select {
			case s.responses <- msg:
			default:
			}
		}
	}
}

func connectScript(t *testing.T, srv *scriptServer, opts ...Option) *Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	s, err := Connect(ctx, transport.InProcessServer(srv), opts...)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		cctx, ccancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer ccancel()
		s.Close(cctx)
	})
	return s
}

func TestConnectHandshake(t *testing.T) {
	srv := newScriptServer()
	s := connectScript(t, srv)

	if s.State() != StateReady {
		t.Errorf("State() = %v, want ready", s.State())
	}
	if s.ServerInfo().Name != "script-server" {
		t.Errorf("ServerInfo().Name = %q, want script-server", s.ServerInfo().Name)
	}
	if s.ServerCapabilities().Tools == nil {
		t.Error("server tools capability should be recorded")
	}
	if s.Instructions() != "for testing" {
		t.Errorf("Instructions() = %q", s.Instructions())
	}

	// The handshake ends with notifications/initialized.
	select {
	case n := <-srv.notifications:
		if n.Method != protocol.MethodInitialized {
			t.Errorf("first notification = %q, want initialized", n.Method)
		}
	case <-time.After(time.Second):
		t.Fatal("server never saw notifications/initialized")
	}
}

func TestPingRoundTrip(t *testing.T) {
	srv := newScriptServer()
	s := connectScript(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestConcurrentCallsResolveIndependently(t *testing.T) {
	srv := newScriptServer()
	// Echo a caller-chosen nonce back in the result, after a
	// caller-chosen delay, so answers arrive out of order and each
	// caller can verify it got its own response and nobody else's.
	srv.handle("test/echo", func(ctx context.Context, ch transport.MessageChannel, msg *protocol.Message) error {
		go func() {
			var params struct {
				Nonce int `json:"nonce"`
				Delay int `json:"delay"`
			}
			json.Unmarshal(msg.Params, &params)
			time.Sleep(time.Duration(params.Delay) * time.Millisecond)
			resp, _ := protocol.NewResponse(msg.ID, map[string]interface{}{"nonce": params.Nonce})
			ch.Send(ctx, resp)
		}()
		return nil
	})
	s := connectScript(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const callers = 16
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func(nonce int) {
			var out struct {
				Nonce int `json:"nonce"`
			}
			// Earlier callers wait longest, so completion order is the
			// reverse of issue order.
			err := s.Call(ctx, "test/echo", map[string]int{
				"nonce": nonce,
				"delay": (callers - nonce) * 5,
			}, &out)
			if err == nil && out.Nonce != nonce {
				err = fmt.Errorf("caller %d received nonce %d", nonce, out.Nonce)
			}
			errs <- err
		}(i)
	}

	for i := 0; i < callers; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("call: %v", err)
		}
	}
}

func TestCallTimeout(t *testing.T) {
	srv := newScriptServer()
	// Never answer.
	srv.handle("test/slow", func(ctx context.Context, ch transport.MessageChannel, msg *protocol.Message) error {
		return nil
	})
	s := connectScript(t, srv, WithTimeout(50*time.Millisecond))

	err := s.Call(context.Background(), "test/slow", nil, nil)
	if err == nil {
		t.Fatal("call should time out")
	}
	if !mcperrors.IsTimeout(err) {
		t.Errorf("error = %v, want timeout", err)
	}

	// The abandoned call is reported to the server.
	deadline := time.After(time.Second)
	for {
		select {
		case n := <-srv.notifications:
			if n.Method == protocol.MethodCancelled {
				return
			}
		case <-deadline:
			t.Fatal("server never saw notifications/cancelled")
		}
	}
}

func TestCallCancellation(t *testing.T) {
	srv := newScriptServer()
	srv.handle("test/slow", func(ctx context.Context, ch transport.MessageChannel, msg *protocol.Message) error {
		return nil
	})
	s := connectScript(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := s.Call(ctx, "test/slow", nil, nil)
	if !mcperrors.IsCancelled(err) {
		t.Errorf("error = %v, want cancelled", err)
	}

	// The session survives an abandoned call.
	if s.State() != StateReady {
		t.Errorf("State() = %v, want ready", s.State())
	}
}

// stallServer answers the handshake, swallows one request, then stops
// receiving entirely, so any further send on the pipe blocks.
type stallServer struct{}

func (stallServer) Serve(ctx context.Context, ch transport.MessageChannel) error {
	for {
		msg, err := ch.Receive(ctx)
		if err != nil {
			return err
		}
		if msg.Kind() != protocol.KindRequest {
			continue
		}
		if msg.Method == protocol.MethodInitialize {
			result := protocol.InitializeResult{
				ProtocolVersion: protocol.ProtocolRevision,
				ServerInfo:      protocol.Implementation{Name: "stall-server", Version: "1.0"},
			}
			resp, _ := protocol.NewResponse(msg.ID, result)
			if err := ch.Send(ctx, resp); err != nil {
				return err
			}
			continue
		}
		// Leave the request unanswered and go deaf.
		<-ctx.Done()
		return ctx.Err()
	}
}

func TestAbandonedCallReturnsPromptlyOnStalledChannel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := Connect(ctx, transport.InProcessServer(stallServer{}),
		WithLogger(logging.Discard()), WithTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		cctx, ccancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer ccancel()
		s.Close(cctx)
	})

	// The server never receives again after this request, so the
	// cancellation notification cannot be delivered. The caller must
	// still get its timeout error without waiting on that send.
	start := time.Now()
	err = s.Call(context.Background(), "test/slow", nil, nil)
	elapsed := time.Since(start)

	if !mcperrors.IsTimeout(err) {
		t.Errorf("error = %v, want timeout", err)
	}
	if elapsed > time.Second {
		t.Errorf("abandoned call took %v to return", elapsed)
	}
}

func TestServerErrorResponsePassesThrough(t *testing.T) {
	srv := newScriptServer()
	s := connectScript(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := s.Call(ctx, "test/unknown", nil, nil)
	if err == nil {
		t.Fatal("call should fail")
	}
	var rpcErr *protocol.Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("error = %T, want *protocol.Error", err)
	}
	if rpcErr.Code != protocol.MethodNotFound {
		t.Errorf("Code = %d, want %d", rpcErr.Code, protocol.MethodNotFound)
	}
}

func TestStrayResponseTearsSessionDown(t *testing.T) {
	srv := newScriptServer()
	s := connectScript(t, srv)

	ch := <-srv.channel

	// A response with an id nothing is waiting for.
	stray, _ := protocol.NewResponse(int64(9999), nil)
	if err := ch.Send(context.Background(), stray); err != nil {
		t.Fatalf("send stray: %v", err)
	}

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session should shut down on a stray response")
	}

	if !mcperrors.IsProtocolError(s.Err()) {
		t.Errorf("Err() = %v, want protocol error", s.Err())
	}
	if s.State() != StateClosed {
		t.Errorf("State() = %v, want closed", s.State())
	}
}

func TestCloseFailsPendingCalls(t *testing.T) {
	srv := newScriptServer()
	srv.handle("test/slow", func(ctx context.Context, ch transport.MessageChannel, msg *protocol.Message) error {
		return nil
	})
	s := connectScript(t, srv)

	callErr := make(chan error, 1)
	go func() {
		callErr <- s.Call(context.Background(), "test/slow", nil, nil)
	}()

	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case err := <-callErr:
		if !mcperrors.IsConnectionError(err) {
			t.Errorf("pending call error = %v, want connection error", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending call did not resolve on close")
	}

	if s.State() != StateClosed {
		t.Errorf("State() = %v, want closed", s.State())
	}
	// Close again is a no-op.
	if err := s.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}

	// Calls after close fail fast.
	if err := s.Ping(context.Background()); !mcperrors.IsNotConnected(err) {
		t.Errorf("call after close = %v, want not-connected", err)
	}
}

func TestWithSessionCloses(t *testing.T) {
	srv := newScriptServer()

	var captured *Session
	err := WithSession(context.Background(), transport.InProcessServer(srv), func(s *Session) error {
		captured = s
		return s.Ping(context.Background())
	}, WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("WithSession: %v", err)
	}

	select {
	case <-captured.Done():
	case <-time.After(time.Second):
		t.Fatal("session should be closed when WithSession returns")
	}
}

func TestServerPingAutoAnswered(t *testing.T) {
	srv := newScriptServer()
	s := connectScript(t, srv)
	_ = s

	ch := <-srv.channel
	ping, _ := protocol.NewRequest(int64(500), protocol.MethodPing, nil)
	if err := ch.Send(context.Background(), ping); err != nil {
		t.Fatalf("send ping: %v", err)
	}

	select {
	case resp := <-srv.responses:
		if resp.Error != nil {
			t.Errorf("ping answered with error: %v", resp.Error)
		}
	case <-time.After(time.Second):
		t.Fatal("server ping was not answered")
	}
}

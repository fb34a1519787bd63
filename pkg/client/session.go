package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	mcperrors "github.com/qibin2020/fastmcp/pkg/errors"
	"github.com/qibin2020/fastmcp/pkg/logging"
	"github.com/qibin2020/fastmcp/pkg/protocol"
	"github.com/qibin2020/fastmcp/pkg/transport"
)

// State is the lifecycle phase of a session.
type State int

const (
	// StateIdle is a session that has not connected yet
	StateIdle State = iota
	// StateConnecting is establishing the transport channel
	StateConnecting
	// StateInitializing is performing the protocol handshake
	StateInitializing
	// StateReady accepts calls
	StateReady
	// StateClosing is tearing down
	StateClosing
	// StateClosed is fully shut down
	StateClosed
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const disconnectTimeout = 5 * time.Second

// callResult carries the resolution of one pending call. Exactly one
// value is delivered per call, by whichever side removed the call from
// the pending table.
type callResult struct {
	msg *protocol.Message
	err error
}

// Session is a connected protocol session. It multiplexes concurrent
// calls over one message channel, dispatches server-initiated requests
// and notifications, and owns the connection lifecycle.
//
// All methods are safe for concurrent use.
type Session struct {
	opts     sessionOptions
	logger   logging.Logger
	trans    transport.Transport
	dispatch *dispatcher

	channel transport.MessageChannel

	stateMu sync.Mutex
	state   State

	pendingMu sync.Mutex
	pending   map[string]chan callResult

	nextID int64

	readCtx    context.Context
	readCancel context.CancelFunc
	readerDone chan struct{}

	// serverReqs tracks in-flight handlers for server-initiated
	// requests so teardown can let them answer before the channel
	// closes.
	serverReqs sync.WaitGroup

	closeOnce   sync.Once
	closedCh    chan struct{}
	closeReason atomic.Value // error

	serverInfo   protocol.Implementation
	serverCaps   protocol.ServerCapabilities
	instructions string
}

// Connect infers a transport from source, establishes the connection,
// and performs the handshake. On success the session is ready for
// calls. See transport.Infer for the recognized source values.
func Connect(ctx context.Context, source interface{}, opts ...Option) (*Session, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	cfg := transport.DefaultConfig()
	if options.transportCfg != nil {
		cfg = *options.transportCfg
	}
	if cfg.Logger == nil {
		cfg.Logger = options.logger
	}

	t, err := transport.Infer(source, cfg)
	if err != nil {
		return nil, err
	}
	return connect(ctx, t, options)
}

// NewSession connects over an explicit transport, bypassing inference.
func NewSession(ctx context.Context, t transport.Transport, opts ...Option) (*Session, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return connect(ctx, t, options)
}

// WithSession connects, runs fn, and closes the session regardless of
// fn's outcome. The session error wins only if fn succeeded.
func WithSession(ctx context.Context, source interface{}, fn func(*Session) error, opts ...Option) error {
	s, err := Connect(ctx, source, opts...)
	if err != nil {
		return err
	}
	fnErr := fn(s)
	closeErr := s.Close(ctx)
	if fnErr != nil {
		return fnErr
	}
	return closeErr
}

func connect(ctx context.Context, t transport.Transport, options sessionOptions) (*Session, error) {
	readCtx, readCancel := context.WithCancel(context.Background())
	s := &Session{
		opts:       options,
		logger:     options.logger,
		trans:      t,
		state:      StateIdle,
		pending:    make(map[string]chan callResult),
		readCtx:    readCtx,
		readCancel: readCancel,
		readerDone: make(chan struct{}),
		closedCh:   make(chan struct{}),
	}
	s.dispatch = newDispatcher(s, &options)

	s.setState(StateConnecting)
	ch, err := t.Connect(ctx)
	if err != nil {
		s.setState(StateClosed)
		readCancel()
		return nil, err
	}
	s.channel = ch

	s.setState(StateInitializing)
	go s.readLoop()

	if err := s.handshake(ctx); err != nil {
		s.shutdown(err)
		return nil, err
	}

	s.setState(StateReady)
	if options.keepAlive > 0 {
		go s.keepAlive(options.keepAlive)
	}
	return s, nil
}

// handshake performs initialize and notifications/initialized.
func (s *Session) handshake(ctx context.Context) error {
	params := protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolRevision,
		Capabilities:    s.dispatch.capabilities(),
		ClientInfo:      s.opts.clientInfo,
	}

	raw, err := s.call(ctx, protocol.MethodInitialize, params)
	if err != nil {
		if mcpErr, ok := mcperrors.AsMCPError(err); ok && mcperrors.IsConnectionError(mcpErr) {
			return err
		}
		return mcperrors.HandshakeFailed(err)
	}

	var result protocol.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return mcperrors.HandshakeFailed(fmt.Errorf("invalid initialize result: %w", err))
	}

	s.serverInfo = result.ServerInfo
	s.serverCaps = result.Capabilities
	s.instructions = result.Instructions

	if err := s.notify(ctx, protocol.MethodInitialized, nil); err != nil {
		return mcperrors.HandshakeFailed(err)
	}

	s.logger.Info("session initialized",
		logging.String("server", result.ServerInfo.Name),
		logging.String("server_version", result.ServerInfo.Version),
		logging.String("protocol_version", result.ProtocolVersion))
	return nil
}

// State reports the current lifecycle phase.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()

	if s.opts.metrics != nil {
		s.opts.metrics.SetConnectionState(state.String())
	}
}

// ServerInfo returns the server implementation reported during the handshake
func (s *Session) ServerInfo() protocol.Implementation { return s.serverInfo }

// ServerCapabilities returns the capability set reported during the handshake
func (s *Session) ServerCapabilities() protocol.ServerCapabilities { return s.serverCaps }

// Instructions returns the usage instructions reported during the handshake
func (s *Session) Instructions() string { return s.instructions }

// call sends one request and blocks for its response, applying the
// session's default timeout when the caller's context has no deadline.
// It returns the raw result payload, or the response error verbatim.
func (s *Session) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if err := s.checkCallable(method); err != nil {
		return nil, err
	}

	hadDeadline := true
	if _, ok := ctx.Deadline(); !ok && s.opts.callTimeout > 0 {
		hadDeadline = false
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.callTimeout)
		defer cancel()
	}

	var span trace.Span
	if s.opts.tracer != nil {
		ctx, span = s.opts.tracer.Start(ctx, "mcp.client "+method,
			trace.WithSpanKind(trace.SpanKindClient))
		defer span.End()
	}

	start := time.Now()
	raw, err := s.doCall(ctx, method, params, hadDeadline)

	if s.opts.metrics != nil {
		s.opts.metrics.RecordCall(method, time.Since(start), err)
	}
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return raw, err
}

func (s *Session) doCall(ctx context.Context, method string, params interface{}, hadDeadline bool) (json.RawMessage, error) {
	id := atomic.AddInt64(&s.nextID, 1)
	key := fmt.Sprintf("%v", id)

	msg, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	resultCh := make(chan callResult, 1)
	s.pendingMu.Lock()
	s.pending[key] = resultCh
	pendingNow := len(s.pending)
	s.pendingMu.Unlock()
	if s.opts.metrics != nil {
		s.opts.metrics.SetPendingCalls(pendingNow)
	}

	if err := s.channel.Send(ctx, msg); err != nil {
		s.removePending(key)
		return nil, mcperrors.WrapError(err, mcperrors.CodeConnectionLost,
			"failed to send request", mcperrors.CategoryConnection, mcperrors.SeverityError)
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		return s.unpackResponse(method, res.msg)

	case <-ctx.Done():
		if !s.removePending(key) {
			// Lost the race: the call was resolved while we were
			// waking up, so the result is already in flight.
			res := <-resultCh
			if res.err != nil {
				return nil, res.err
			}
			return s.unpackResponse(method, res.msg)
		}

		// Fired in the background so an abandoned caller returns
		// immediately even when the channel has stalled.
		go s.cancelOnServer(id, ctx.Err())

		if ctx.Err() == context.DeadlineExceeded {
			timeout := time.Duration(0)
			if !hadDeadline {
				timeout = s.opts.callTimeout
			}
			return nil, mcperrors.CallTimeout(method, timeout)
		}
		return nil, mcperrors.CallCancelled(method)
	}
}

func (s *Session) checkCallable(method string) error {
	switch s.State() {
	case StateReady:
		return nil
	case StateInitializing:
		if method == protocol.MethodInitialize {
			return nil
		}
	}
	return mcperrors.NotConnected(method)
}

func (s *Session) unpackResponse(method string, msg *protocol.Message) (json.RawMessage, error) {
	if msg.Error != nil {
		return nil, msg.Error
	}
	return msg.Result, nil
}

// cancelOnServer tells the server a request was abandoned. Best
// effort: the session may already be gone.
func (s *Session) cancelOnServer(id int64, cause error) {
	reason := "cancelled"
	if cause == context.DeadlineExceeded {
		reason = "timeout"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.notify(ctx, protocol.MethodCancelled, protocol.CancelledParams{
		RequestID: id,
		Reason:    reason,
	}); err != nil {
		s.logger.Debug("could not notify server of cancellation",
			logging.Int64("request_id", id),
			logging.ErrorField(err))
	}
}

// notify sends a one-way notification.
func (s *Session) notify(ctx context.Context, method string, params interface{}) error {
	msg, err := protocol.NewNotification(method, params)
	if err != nil {
		return err
	}
	if err := s.channel.Send(ctx, msg); err != nil {
		return mcperrors.WrapError(err, mcperrors.CodeConnectionLost,
			"failed to send notification", mcperrors.CategoryConnection, mcperrors.SeverityError)
	}
	if s.opts.metrics != nil {
		s.opts.metrics.RecordNotification(method, "outbound")
	}
	return nil
}

// sendResponse answers a server-initiated request. It uses its own
// deadline so responses can still go out while the session is closing.
func (s *Session) sendResponse(msg *protocol.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.channel.Send(ctx, msg)
}

// removePending removes a call from the pending table, returning
// whether the caller now owns its resolution.
func (s *Session) removePending(key string) bool {
	s.pendingMu.Lock()
	_, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	pendingNow := len(s.pending)
	s.pendingMu.Unlock()

	if ok && s.opts.metrics != nil {
		s.opts.metrics.SetPendingCalls(pendingNow)
	}
	return ok
}

// readLoop is the single reader of the message channel. It resolves
// responses against the pending table and hands requests and
// notifications to the dispatcher. A protocol violation on the wire
// tears the session down.
func (s *Session) readLoop() {
	defer close(s.readerDone)

	for {
		msg, err := s.channel.Receive(s.readCtx)
		if err != nil {
			if s.readCtx.Err() != nil {
				return
			}
			s.logger.Warn("connection lost", logging.ErrorField(err))
			go s.shutdown(asConnectionError(err))
			return
		}

		switch msg.Kind() {
		case protocol.KindResponse:
			if err := s.resolve(msg); err != nil {
				s.logger.Error("fatal protocol error", logging.ErrorField(err))
				go s.shutdown(err)
				return
			}

		case protocol.KindRequest:
			if s.opts.metrics != nil {
				s.opts.metrics.RecordServerRequest(msg.Method)
			}
			s.serverReqs.Add(1)
			go func(m *protocol.Message) {
				defer s.serverReqs.Done()
				s.dispatch.handleRequest(s.readCtx, m)
			}(msg)

		case protocol.KindNotification:
			if s.opts.metrics != nil {
				s.opts.metrics.RecordNotification(msg.Method, "inbound")
			}
			s.dispatch.handleNotification(s.readCtx, msg)

		default:
			err := mcperrors.MalformedMessage(
				fmt.Errorf("message is neither request, response, nor notification"))
			s.logger.Error("fatal protocol error", logging.ErrorField(err))
			go s.shutdown(err)
			return
		}
	}
}

// resolve delivers a response to its pending call. A response whose id
// matches no call in flight is a protocol violation.
func (s *Session) resolve(msg *protocol.Message) error {
	key := fmt.Sprintf("%v", msg.ID)

	s.pendingMu.Lock()
	ch, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	pendingNow := len(s.pending)
	s.pendingMu.Unlock()

	if !ok {
		return mcperrors.UnknownResponseID(msg.ID)
	}
	if s.opts.metrics != nil {
		s.opts.metrics.SetPendingCalls(pendingNow)
	}
	ch <- callResult{msg: msg}
	return nil
}

// failPending resolves every call still in flight with err.
func (s *Session) failPending(err error) {
	s.pendingMu.Lock()
	pending := s.pending
	s.pending = make(map[string]chan callResult)
	s.pendingMu.Unlock()

	for _, ch := range pending {
		ch <- callResult{err: err}
	}
	if len(pending) > 0 {
		s.logger.Debug("failed in-flight calls on close",
			logging.Int("count", len(pending)))
	}
	if s.opts.metrics != nil {
		s.opts.metrics.SetPendingCalls(0)
	}
}

// keepAlive pings the server at a fixed interval, tearing the session
// down when a ping fails.
func (s *Session) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.readCtx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(s.readCtx, interval)
			err := s.Ping(ctx)
			cancel()
			if err != nil && s.readCtx.Err() == nil {
				s.logger.Warn("keepalive ping failed", logging.ErrorField(err))
				go s.shutdown(mcperrors.ConnectionLost(err))
				return
			}
		}
	}
}

// Close shuts the session down. In-flight server request handlers get
// a chance to respond; in-flight calls fail with a connection-closed
// error. Close is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.shutdown(nil)
	select {
	case <-s.closedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed when the session is fully shut down.
func (s *Session) Done() <-chan struct{} { return s.closedCh }

// Err reports why the session shut down. It is nil before shutdown
// and after a clean Close.
func (s *Session) Err() error {
	if v := s.closeReason.Load(); v != nil {
		if err, ok := v.(error); ok {
			return err
		}
	}
	return nil
}

func (s *Session) shutdown(cause error) {
	s.closeOnce.Do(func() {
		if cause != nil {
			s.closeReason.Store(cause)
		}
		s.setState(StateClosing)

		s.readCancel()
		<-s.readerDone

		// Let in-flight server request handlers finish while the
		// channel can still carry their responses.
		s.serverReqs.Wait()

		failErr := cause
		if failErr == nil {
			failErr = mcperrors.ConnectionClosed()
		} else if _, ok := mcperrors.AsMCPError(failErr); !ok {
			failErr = mcperrors.ConnectionClosed().WithDetail(failErr.Error())
		}
		s.failPending(failErr)

		if err := s.channel.Close(); err != nil {
			s.logger.Debug("closing channel", logging.ErrorField(err))
		}

		dctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		if err := s.trans.Disconnect(dctx); err != nil {
			s.logger.Warn("transport disconnect", logging.ErrorField(err))
		}
		cancel()

		s.setState(StateClosed)
		close(s.closedCh)
	})
}

func asConnectionError(err error) error {
	if _, ok := mcperrors.AsMCPError(err); ok {
		return err
	}
	return mcperrors.ConnectionLost(err)
}

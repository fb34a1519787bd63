package client

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/qibin2020/fastmcp/pkg/logging"
	"github.com/qibin2020/fastmcp/pkg/protocol"
)

// RequestContext describes a server-initiated request being dispatched
// to an application handler.
type RequestContext struct {
	Session   *Session
	RequestID interface{}
	Method    string
}

// SamplingHandler answers sampling/createMessage requests from the
// server. Returning an error sends a JSON-RPC error response for the
// request; the session itself is unaffected.
type SamplingHandler interface {
	CreateMessage(ctx context.Context, rc *RequestContext, params *protocol.CreateMessageParams) (*protocol.CreateMessageResult, error)
}

// SamplingFunc adapts a function to the SamplingHandler interface.
type SamplingFunc func(ctx context.Context, rc *RequestContext, params *protocol.CreateMessageParams) (*protocol.CreateMessageResult, error)

// CreateMessage calls f
func (f SamplingFunc) CreateMessage(ctx context.Context, rc *RequestContext, params *protocol.CreateMessageParams) (*protocol.CreateMessageResult, error) {
	return f(ctx, rc, params)
}

// LoggingHandler receives notifications/message payloads from the server.
type LoggingHandler func(ctx context.Context, params *protocol.LoggingMessageParams)

// NotificationHandler receives a raw notification payload. It runs on
// the session read loop.
type NotificationHandler func(ctx context.Context, params json.RawMessage)

// RootsProvider answers roots/list requests from the server.
type RootsProvider interface {
	ListRoots(ctx context.Context) ([]protocol.Root, error)
}

// rootSet is the mutable RootsProvider behind WithRoots and
// Session.SetRoots.
type rootSet struct {
	mu    sync.RWMutex
	roots []protocol.Root
}

func newRootSet(roots []protocol.Root) *rootSet {
	return &rootSet{roots: append([]protocol.Root(nil), roots...)}
}

func (r *rootSet) ListRoots(ctx context.Context) ([]protocol.Root, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]protocol.Root(nil), r.roots...), nil
}

func (r *rootSet) set(roots []protocol.Root) {
	r.mu.Lock()
	r.roots = append([]protocol.Root(nil), roots...)
	r.mu.Unlock()
}

// dispatcher routes server-initiated requests and notifications to the
// handlers the session was configured with.
type dispatcher struct {
	session *Session
	logger  logging.Logger

	sampling       SamplingHandler
	loggingHandler LoggingHandler
	notifHandlers  map[string]NotificationHandler

	rootsMu sync.RWMutex
	roots   RootsProvider
}

func newDispatcher(s *Session, opts *sessionOptions) *dispatcher {
	return &dispatcher{
		session:        s,
		logger:         opts.logger,
		sampling:       opts.sampling,
		loggingHandler: opts.loggingHandler,
		notifHandlers:  opts.notifHandlers,
		roots:          opts.roots,
	}
}

// capabilities derives the capability set advertised during the
// handshake from the handlers that were registered.
func (d *dispatcher) capabilities() protocol.ClientCapabilities {
	caps := protocol.ClientCapabilities{}
	if d.sampling != nil {
		caps.Sampling = &protocol.SamplingCapability{}
	}
	d.rootsMu.RLock()
	if d.roots != nil {
		caps.Roots = &protocol.RootsCapability{ListChanged: true}
	}
	d.rootsMu.RUnlock()
	return caps
}

func (d *dispatcher) rootsProvider() RootsProvider {
	d.rootsMu.RLock()
	defer d.rootsMu.RUnlock()
	return d.roots
}

// handleRequest answers one server-initiated request. Handler panics
// become internal error responses; the session stays up either way.
func (d *dispatcher) handleRequest(ctx context.Context, msg *protocol.Message) {
	rc := &RequestContext{Session: d.session, RequestID: msg.ID, Method: msg.Method}

	result, rpcErr := d.invoke(ctx, rc, msg)

	var resp *protocol.Message
	var err error
	if rpcErr != nil {
		resp, err = protocol.NewErrorResponse(msg.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	} else {
		resp, err = protocol.NewResponse(msg.ID, result)
	}
	if err != nil {
		d.logger.Error("building response for server request",
			logging.String("method", msg.Method),
			logging.ErrorField(err))
		return
	}
	if err := d.session.sendResponse(resp); err != nil {
		d.logger.Warn("sending response for server request",
			logging.String("method", msg.Method),
			logging.ErrorField(err))
	}
}

func (d *dispatcher) invoke(ctx context.Context, rc *RequestContext, msg *protocol.Message) (result interface{}, rpcErr *protocol.Error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic",
				logging.String("method", msg.Method),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())))
			result = nil
			rpcErr = &protocol.Error{
				Code:    protocol.InternalError,
				Message: fmt.Sprintf("handler panic: %v", r),
			}
		}
	}()

	switch msg.Method {
	case protocol.MethodPing:
		return struct{}{}, nil

	case protocol.MethodCreateMessage:
		if d.sampling == nil {
			return nil, methodNotSupported(msg.Method)
		}
		var params protocol.CreateMessageParams
		if err := unmarshalParams(msg.Params, &params); err != nil {
			return nil, &protocol.Error{Code: protocol.InvalidParams, Message: err.Error()}
		}
		res, err := d.sampling.CreateMessage(ctx, rc, &params)
		if err != nil {
			return nil, &protocol.Error{Code: protocol.InternalError, Message: err.Error()}
		}
		return res, nil

	case protocol.MethodListRoots:
		provider := d.rootsProvider()
		if provider == nil {
			return nil, methodNotSupported(msg.Method)
		}
		roots, err := provider.ListRoots(ctx)
		if err != nil {
			return nil, &protocol.Error{Code: protocol.InternalError, Message: err.Error()}
		}
		if roots == nil {
			roots = []protocol.Root{}
		}
		return &protocol.ListRootsResult{Roots: roots}, nil

	default:
		return nil, methodNotSupported(msg.Method)
	}
}

// handleNotification routes one inbound notification. Handler panics
// are recovered and logged; notifications never produce responses.
func (d *dispatcher) handleNotification(ctx context.Context, msg *protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notification handler panic",
				logging.String("method", msg.Method),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())))
		}
	}()

	switch msg.Method {
	case protocol.MethodLoggingMessage:
		if d.loggingHandler != nil {
			var params protocol.LoggingMessageParams
			if err := unmarshalParams(msg.Params, &params); err != nil {
				d.logger.Warn("malformed log notification", logging.ErrorField(err))
				return
			}
			d.loggingHandler(ctx, &params)
			return
		}

	case protocol.MethodCancelled:
		var params protocol.CancelledParams
		if err := unmarshalParams(msg.Params, &params); err == nil {
			d.logger.Debug("server cancelled request",
				logging.Any("request_id", params.RequestID),
				logging.String("reason", params.Reason))
		}
		return
	}

	if handler, ok := d.notifHandlers[msg.Method]; ok {
		handler(ctx, msg.Params)
		return
	}
	d.logger.Debug("ignoring notification with no handler",
		logging.String("method", msg.Method))
}

func methodNotSupported(method string) *protocol.Error {
	return &protocol.Error{
		Code:    protocol.MethodNotFound,
		Message: fmt.Sprintf("method %q not supported by this client", method),
	}
}

func unmarshalParams(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

package client

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/qibin2020/fastmcp/pkg/logging"
	"github.com/qibin2020/fastmcp/pkg/observability"
	"github.com/qibin2020/fastmcp/pkg/protocol"
	"github.com/qibin2020/fastmcp/pkg/transport"
)

const (
	defaultClientName    = "fastmcp"
	defaultClientVersion = "0.1.0"
	defaultCallTimeout   = 30 * time.Second
)

// Option configures a Session.
type Option func(*sessionOptions)

type sessionOptions struct {
	clientInfo protocol.Implementation

	sampling       SamplingHandler
	loggingHandler LoggingHandler
	roots          RootsProvider
	notifHandlers  map[string]NotificationHandler

	callTimeout time.Duration
	keepAlive   time.Duration

	logger       logging.Logger
	metrics      *observability.SessionMetrics
	tracer       trace.Tracer
	transportCfg *transport.Config
}

func defaultOptions() sessionOptions {
	return sessionOptions{
		clientInfo: protocol.Implementation{
			Name:    defaultClientName,
			Version: defaultClientVersion,
		},
		notifHandlers: make(map[string]NotificationHandler),
		callTimeout:   defaultCallTimeout,
		logger:        logging.Default(),
	}
}

// WithClientInfo sets the name and version reported during the handshake
func WithClientInfo(name, version string) Option {
	return func(o *sessionOptions) {
		o.clientInfo = protocol.Implementation{Name: name, Version: version}
	}
}

// WithSamplingHandler enables the sampling capability and routes
// sampling/createMessage requests to handler.
func WithSamplingHandler(handler SamplingHandler) Option {
	return func(o *sessionOptions) { o.sampling = handler }
}

// WithLoggingHandler routes notifications/message to handler
func WithLoggingHandler(handler LoggingHandler) Option {
	return func(o *sessionOptions) { o.loggingHandler = handler }
}

// WithRoots enables the roots capability with a fixed initial set.
// The set can be changed later with Session.SetRoots.
func WithRoots(roots ...protocol.Root) Option {
	return func(o *sessionOptions) { o.roots = newRootSet(roots) }
}

// WithRootsProvider enables the roots capability with a custom provider
func WithRootsProvider(provider RootsProvider) Option {
	return func(o *sessionOptions) { o.roots = provider }
}

// WithNotificationHandler routes notifications with the given method
// to handler. Handlers set this way run on the read loop, so they
// should return quickly.
func WithNotificationHandler(method string, handler NotificationHandler) Option {
	return func(o *sessionOptions) { o.notifHandlers[method] = handler }
}

// WithTimeout sets the default per-call timeout applied when the
// caller's context has no deadline. Zero disables the default.
func WithTimeout(timeout time.Duration) Option {
	return func(o *sessionOptions) { o.callTimeout = timeout }
}

// WithKeepAlive pings the server at the given interval once the
// session is ready, tearing the session down if a ping fails.
func WithKeepAlive(interval time.Duration) Option {
	return func(o *sessionOptions) { o.keepAlive = interval }
}

// WithLogger sets the session logger
func WithLogger(logger logging.Logger) Option {
	return func(o *sessionOptions) { o.logger = logger }
}

// WithMetrics records session activity into the given metrics set
func WithMetrics(metrics *observability.SessionMetrics) Option {
	return func(o *sessionOptions) { o.metrics = metrics }
}

// WithTracer creates a span per outbound call with the given tracer
func WithTracer(tracer trace.Tracer) Option {
	return func(o *sessionOptions) { o.tracer = tracer }
}

// WithTransportConfig overrides the transport configuration used when
// the transport is inferred from a source value.
func WithTransportConfig(cfg transport.Config) Option {
	return func(o *sessionOptions) { o.transportCfg = &cfg }
}

package fastmcp

import (
	"github.com/qibin2020/fastmcp/pkg/client"
	"github.com/qibin2020/fastmcp/pkg/transport"
)

// Version is the current version of the library
const Version = "0.1.0"

// Session is a connected protocol session.
type Session = client.Session

// State is a session lifecycle phase.
type State = client.State

// Option configures a session.
type Option = client.Option

// RequestContext describes a server-initiated request handed to an
// application handler.
type RequestContext = client.RequestContext

// SamplingHandler answers sampling requests from the server.
type SamplingHandler = client.SamplingHandler

// SamplingFunc adapts a function to SamplingHandler.
type SamplingFunc = client.SamplingFunc

// RootsProvider answers roots/list requests from the server.
type RootsProvider = client.RootsProvider

// Transport establishes message channels.
type Transport = transport.Transport

// MessageChannel is one duplex stream of protocol messages.
type MessageChannel = transport.MessageChannel

// InProcessServer is the handle an in-process peer exposes.
type InProcessServer = transport.InProcessServer

// Core entry points
var (
	// Connect infers a transport from a source value, connects, and
	// performs the handshake
	Connect = client.Connect

	// NewSession connects over an explicit transport
	NewSession = client.NewSession

	// WithSession connects, runs a function, and closes the session
	WithSession = client.WithSession

	// MessagePipe creates both ends of an in-memory message pipe
	MessagePipe = transport.MessagePipe
)

// Session options
var (
	WithClientInfo          = client.WithClientInfo
	WithSamplingHandler     = client.WithSamplingHandler
	WithLoggingHandler      = client.WithLoggingHandler
	WithRoots               = client.WithRoots
	WithRootsProvider       = client.WithRootsProvider
	WithNotificationHandler = client.WithNotificationHandler
	WithTimeout             = client.WithTimeout
	WithKeepAlive           = client.WithKeepAlive
	WithLogger              = client.WithLogger
	WithMetrics             = client.WithMetrics
	WithTracer              = client.WithTracer
	WithTransportConfig     = client.WithTransportConfig
)

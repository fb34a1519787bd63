package errors

import (
	"fmt"
	"time"
)

// ConnectionErrorData contains structured data for connection-related errors
type ConnectionErrorData struct {
	Transport string        `json:"transport,omitempty"`
	Endpoint  string        `json:"endpoint,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

// ToolErrorData carries the server-supplied failure text of a tool call
type ToolErrorData struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
}

// Configuration Errors

// ConfigurationError creates an error for a transport source that could
// not be recognized. It is raised before any connection attempt.
func ConfigurationError(source interface{}) MCPError {
	return NewError(
		CodeConfigurationError,
		fmt.Sprintf("unrecognized transport source %#v (type %T)", source, source),
		CategoryConfiguration,
		SeverityCritical,
	)
}

// Connection Errors

// ConnectionFailed creates an error for connection establishment failures
func ConnectionFailed(transport, endpoint string, cause error) MCPError {
	message := fmt.Sprintf("failed to connect via %s", transport)
	if endpoint != "" {
		message = fmt.Sprintf("%s to %s", message, endpoint)
	}
	return WrapError(cause, CodeConnectionFailed, message, CategoryConnection, SeverityError).
		WithContext(&Context{
			Component: transport,
			Endpoint:  endpoint,
			Operation: "connect",
			Timestamp: time.Now(),
		})
}

// ConnectionLost creates an error for a connection that died mid-session
func ConnectionLost(cause error) MCPError {
	return WrapError(cause, CodeConnectionLost, "connection lost", CategoryConnection, SeverityError)
}

// ConnectionClosed creates the error delivered to calls still pending
// when the session shuts down.
func ConnectionClosed() MCPError {
	return NewError(CodeConnectionClosed, "connection closed", CategoryConnection, SeverityWarning)
}

// State Errors

// NotConnected creates an error for operations attempted outside the
// Ready state. The caller may retry after reconnecting.
func NotConnected(operation string) MCPError {
	return NewError(
		CodeNotConnected,
		fmt.Sprintf("not connected: %s requires an active session", operation),
		CategoryState,
		SeverityWarning,
	).WithContext(&Context{
		Operation: operation,
		Timestamp: time.Now(),
	})
}

// Protocol Errors

// ProtocolViolation creates a generic protocol error. Protocol errors
// are fatal to the session.
func ProtocolViolation(reason string) MCPError {
	return NewError(
		CodeProtocolError,
		fmt.Sprintf("protocol violation: %s", reason),
		CategoryProtocol,
		SeverityCritical,
	)
}

// UnknownResponseID creates an error for a response whose ID matches no
// in-flight request.
func UnknownResponseID(id interface{}) MCPError {
	return NewError(
		CodeUnknownResponseID,
		fmt.Sprintf("received response for unknown request id %v", id),
		CategoryProtocol,
		SeverityCritical,
	)
}

// HandshakeFailed creates an error for initialize handshake failures
func HandshakeFailed(cause error) MCPError {
	return WrapError(cause, CodeHandshakeFailed, "initialize handshake failed", CategoryProtocol, SeverityCritical)
}

// MalformedMessage creates an error for messages that fit none of the
// three JSON-RPC shapes.
func MalformedMessage(cause error) MCPError {
	return WrapError(cause, CodeProtocolError, "malformed protocol message", CategoryProtocol, SeverityCritical)
}

// Call-Site Errors

// ToolExecution creates an error for a tool that ran on the server and
// failed. It is recoverable at the call site and does not affect
// session health.
func ToolExecution(tool, serverMessage string) MCPError {
	return NewError(
		CodeToolExecutionError,
		fmt.Sprintf("tool %q failed: %s", tool, serverMessage),
		CategoryTool,
		SeverityWarning,
	)
}

// CallTimeout creates an error for a call whose deadline expired. The
// call is abandoned but the session remains usable.
func CallTimeout(method string, timeout time.Duration) MCPError {
	return NewError(
		CodeOperationTimeout,
		fmt.Sprintf("call %s timed out after %s", method, timeout),
		CategoryTimeout,
		SeverityWarning,
	).WithContext(&Context{
		Method:    method,
		Timestamp: time.Now(),
	})
}

// CallCancelled creates an error for a call abandoned by its caller
func CallCancelled(method string) MCPError {
	return NewError(
		CodeOperationCancelled,
		fmt.Sprintf("call %s cancelled", method),
		CategoryCancelled,
		SeverityWarning,
	)
}

// Predicates

// IsConfigurationError reports whether err is a configuration error
func IsConfigurationError(err error) bool {
	return IsCategory(err, CategoryConfiguration)
}

// IsConnectionError reports whether err is a connection error
func IsConnectionError(err error) bool {
	return IsCategory(err, CategoryConnection)
}

// IsProtocolError reports whether err is a protocol error
func IsProtocolError(err error) bool {
	return IsCategory(err, CategoryProtocol)
}

// IsNotConnected reports whether err is a not-connected error
func IsNotConnected(err error) bool {
	return IsCode(err, CodeNotConnected)
}

// IsToolExecutionError reports whether err is a server-side tool failure
func IsToolExecutionError(err error) bool {
	return IsCategory(err, CategoryTool)
}

// IsTimeout reports whether err is a per-call timeout
func IsTimeout(err error) bool {
	return IsCategory(err, CategoryTimeout)
}

// IsCancelled reports whether err is a caller cancellation
func IsCancelled(err error) bool {
	return IsCategory(err, CategoryCancelled)
}

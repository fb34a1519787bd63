package errors

// JSON-RPC 2.0 Standard Error Codes
const (
	// CodeParseError indicates invalid JSON was received
	CodeParseError int = -32700

	// CodeInvalidRequest indicates the JSON sent is not a valid Request object
	CodeInvalidRequest int = -32600

	// CodeMethodNotFound indicates the method does not exist / is not available
	CodeMethodNotFound int = -32601

	// CodeInvalidParams indicates invalid method parameter(s)
	CodeInvalidParams int = -32602

	// CodeInternalError indicates internal JSON-RPC error
	CodeInternalError int = -32603
)

// Client-Specific Error Codes
const (
	// Configuration Errors (-32000 to -32099)
	CodeConfigurationError int = -32000 // Transport source not recognized

	// Operation Errors (-32300 to -32399)
	CodeOperationCancelled int = -32300 // Call cancelled by the caller
	CodeOperationTimeout   int = -32301 // Per-call deadline exceeded
	CodeToolExecutionError int = -32302 // Tool ran on the server and failed

	// Connection Errors (-32500 to -32599)
	CodeConnectionFailed int = -32501 // Failed to establish connection
	CodeConnectionLost   int = -32502 // Connection died mid-session
	CodeConnectionClosed int = -32503 // Session was closed
	CodeNotConnected     int = -32504 // Operation attempted outside Ready state

	// Protocol Errors (-32900 to -32999)
	CodeProtocolError     int = -32900 // Generic protocol violation
	CodeHandshakeFailed   int = -32901 // Initialize handshake failed
	CodeUnknownResponseID int = -32902 // Response for an ID not in flight
)

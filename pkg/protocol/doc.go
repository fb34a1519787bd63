// Package protocol defines the wire types for the MCP protocol: the
// JSON-RPC 2.0 message envelope as a closed tagged variant, the method
// name constants, and the typed parameter/result structures for each
// operation.
//
// The Message type carries all three JSON-RPC shapes; Kind reports
// whether a decoded message is a request, response, or notification so
// readers can dispatch exhaustively rather than probing fields.
package protocol

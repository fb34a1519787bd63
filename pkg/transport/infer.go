package transport

import (
	"strings"

	mcperrors "github.com/qibin2020/fastmcp/pkg/errors"
)

// inferenceRule maps a source predicate to a transport constructor.
// Rules are tried in order; the first match wins.
type inferenceRule struct {
	name    string
	matches func(source interface{}) bool
	build   func(source interface{}, cfg Config) (Transport, error)
}

var inferenceRules = []inferenceRule{
	{
		name: "channel",
		matches: func(source interface{}) bool {
			_, ok := source.(MessageChannel)
			return ok
		},
		build: func(source interface{}, cfg Config) (Transport, error) {
			return NewChannelTransport(source.(MessageChannel)), nil
		},
	},
	{
		name: "inmemory",
		matches: func(source interface{}) bool {
			_, ok := source.(InProcessServer)
			return ok
		},
		build: func(source interface{}, cfg Config) (Transport, error) {
			return NewInMemoryTransport(source.(InProcessServer), cfg), nil
		},
	},
	{
		name: "stdio-python",
		matches: func(source interface{}) bool {
			s, ok := source.(string)
			return ok && strings.HasSuffix(s, ".py")
		},
		build: func(source interface{}, cfg Config) (Transport, error) {
			return NewStdioTransport("python", []string{source.(string)}, cfg), nil
		},
	},
	{
		name: "stdio-node",
		matches: func(source interface{}) bool {
			s, ok := source.(string)
			return ok && strings.HasSuffix(s, ".js")
		},
		build: func(source interface{}, cfg Config) (Transport, error) {
			return NewStdioTransport("node", []string{source.(string)}, cfg), nil
		},
	},
	{
		name: "streamable-http",
		matches: func(source interface{}) bool {
			s, ok := source.(string)
			return ok && (strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://"))
		},
		build: func(source interface{}, cfg Config) (Transport, error) {
			return NewStreamableHTTPTransport(source.(string), cfg), nil
		},
	},
	{
		name: "websocket",
		matches: func(source interface{}) bool {
			s, ok := source.(string)
			return ok && (strings.HasPrefix(s, "ws://") || strings.HasPrefix(s, "wss://"))
		},
		build: func(source interface{}, cfg Config) (Transport, error) {
			return NewWebSocketTransport(source.(string), cfg), nil
		},
	},
}

// Infer builds the transport implied by source. A MessageChannel is
// wrapped directly, an InProcessServer gets an in-memory pipe, a path
// ending in .py or .js launches the matching interpreter over stdio,
// an http(s) URL uses streamable HTTP, and a ws(s) URL uses WebSocket.
// Anything else is a configuration error.
func Infer(source interface{}, cfg Config) (Transport, error) {
	for _, rule := range inferenceRules {
		if rule.matches(source) {
			return rule.build(source, cfg)
		}
	}
	return nil, mcperrors.ConfigurationError(source)
}

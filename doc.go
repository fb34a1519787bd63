// Package fastmcp connects Go programs to Model Context Protocol
// servers over stdio subprocesses, streamable HTTP, WebSocket, or an
// in-process pipe.
//
// # Sub-packages
//
//   - pkg/client: session lifecycle, request correlation, callbacks
//   - pkg/transport: message channels and transport inference
//   - pkg/protocol: wire types for JSON-RPC and the MCP methods
//   - pkg/errors: the error taxonomy shared by all layers
//   - pkg/logging: structured logging used throughout
//   - pkg/observability: Prometheus metrics and OpenTelemetry tracing
//
// # Connecting
//
// The transport is inferred from the source value: a path ending in
// .py or .js launches the matching interpreter as a subprocess, an
// http(s) URL speaks streamable HTTP, a ws(s) URL opens a WebSocket,
// and an InProcessServer is wired up over an in-memory pipe.
//
//	session, err := fastmcp.Connect(ctx, "./server.py")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer session.Close(ctx)
//
//	tools, err := session.ListTools(ctx)
//
// For scoped use, WithSession closes the session when the function
// returns:
//
//	err := fastmcp.WithSession(ctx, "https://example.com/mcp", func(s *fastmcp.Session) error {
//		result, err := s.CallTool(ctx, "search", map[string]interface{}{"query": "go"})
//		if err != nil {
//			return err
//		}
//		fmt.Println(result.TextContent())
//		return nil
//	})
//
// # Server-initiated traffic
//
// Servers can call back into the client. Register handlers when
// connecting; the advertised capability set is derived from what was
// registered:
//
//	session, err := fastmcp.Connect(ctx, source,
//		fastmcp.WithSamplingHandler(fastmcp.SamplingFunc(createMessage)),
//		fastmcp.WithRoots(protocol.Root{URI: "file:///work", Name: "work"}),
//	)
package fastmcp

// Package client implements the protocol client: session lifecycle,
// request correlation, and dispatch of server-initiated traffic.
//
// A session is usually opened by inferring the transport from a
// source value:
//
//	s, err := client.Connect(ctx, "https://example.com/mcp",
//		client.WithClientInfo("my-app", "1.0.0"),
//		client.WithSamplingHandler(handler),
//	)
//	if err != nil {
//		return err
//	}
//	defer s.Close(ctx)
//
//	tools, err := s.ListTools(ctx)
//
// Every operation comes in two flavors: a typed convenience method
// (ListTools, CallTool) that paginates and converts tool failures to
// errors, and a raw method with the MCP suffix (ListToolsMCP,
// CallToolMCP) that exposes one wire exchange verbatim.
package client

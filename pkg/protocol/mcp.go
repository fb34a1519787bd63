package protocol

const (
	// ProtocolRevision is the protocol revision this client speaks
	ProtocolRevision = "2025-03-26"

	// Methods for lifecycle management
	MethodInitialize = "initialize"
	MethodPing       = "ping"

	// Methods for server features
	MethodListTools             = "tools/list"
	MethodCallTool              = "tools/call"
	MethodListResources         = "resources/list"
	MethodListResourceTemplates = "resources/templates/list"
	MethodReadResource          = "resources/read"
	MethodListPrompts           = "prompts/list"
	MethodGetPrompt             = "prompts/get"
	MethodComplete              = "completion/complete"

	// Methods the server may invoke on the client
	MethodCreateMessage = "sampling/createMessage"
	MethodListRoots     = "roots/list"

	// Notification methods
	MethodInitialized          = "notifications/initialized"
	MethodCancelled            = "notifications/cancelled"
	MethodRootsListChanged     = "notifications/roots/list_changed"
	MethodLoggingMessage       = "notifications/message"
	MethodToolsListChanged     = "notifications/tools/list_changed"
	MethodResourcesListChanged = "notifications/resources/list_changed"
	MethodPromptsListChanged   = "notifications/prompts/list_changed"
)

// Implementation identifies one end of a connection
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities declares what the client can service
type ClientCapabilities struct {
	Sampling     *SamplingCapability    `json:"sampling,omitempty"`
	Roots        *RootsCapability       `json:"roots,omitempty"`
	Experimental map[string]interface{} `json:"experimental,omitempty"`
}

// SamplingCapability is present when the client can answer
// sampling/createMessage requests. It carries no options.
type SamplingCapability struct{}

// RootsCapability is present when the client exposes roots
type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerCapabilities declares what the server offers
type ServerCapabilities struct {
	Tools        *ToolsCapability       `json:"tools,omitempty"`
	Resources    *ResourcesCapability   `json:"resources,omitempty"`
	Prompts      *PromptsCapability     `json:"prompts,omitempty"`
	Completions  *CompletionsCapability `json:"completions,omitempty"`
	Logging      *LoggingCapability     `json:"logging,omitempty"`
	Experimental map[string]interface{} `json:"experimental,omitempty"`
}

// ToolsCapability describes the server's tool support
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability describes the server's resource support
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// PromptsCapability describes the server's prompt support
type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// CompletionsCapability is present when the server supports
// completion/complete.
type CompletionsCapability struct{}

// LoggingCapability is present when the server emits
// notifications/message.
type LoggingCapability struct{}

// InitializeParams defines the parameters for the initialize request
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// InitializeResult defines the response for the initialize request
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// CancelledParams defines parameters for the cancelled notification
type CancelledParams struct {
	RequestID interface{} `json:"requestId"`
	Reason    string      `json:"reason,omitempty"`
}

// PaginatedParams is embedded by list requests that accept a cursor
type PaginatedParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// PaginatedResult is embedded by list results that may continue
type PaginatedResult struct {
	NextCursor string `json:"nextCursor,omitempty"`
}

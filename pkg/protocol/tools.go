package protocol

import "encoding/json"

// Tool represents a tool in the MCP protocol
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Annotations json.RawMessage `json:"annotations,omitempty"`
}

// ListToolsParams defines parameters for listing tools
type ListToolsParams struct {
	PaginatedParams
}

// ListToolsResult defines the response for listing tools
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
	PaginatedResult
}

// CallToolParams defines parameters for calling a tool
type CallToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// CallToolResult defines the response for tool calls. IsError marks a
// failure of the tool itself, not of the call that delivered it.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// TextContent joins the text items of the result, which is where
// servers put the human-readable message of a failed tool run.
func (r *CallToolResult) TextContent() string {
	var out string
	for _, c := range r.Content {
		if c.Type != "text" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += c.Text
	}
	return out
}

// Content is one item of tool or prompt output
type Content struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	Data     string            `json:"data,omitempty"`
	MimeType string            `json:"mimeType,omitempty"`
	Resource *ResourceContents `json:"resource,omitempty"`
}

// TextContent creates a text content item
func TextContent(text string) Content {
	return Content{Type: "text", Text: text}
}

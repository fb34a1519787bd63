package protocol

// Resource represents a resource in the MCP protocol
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// ResourceTemplate defines a template for dynamically generated resources
type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceContents contains the content of a resource. Exactly one of
// Text and Blob is set; Blob is base64-encoded.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ListResourcesParams defines parameters for listing resources
type ListResourcesParams struct {
	PaginatedParams
}

// ListResourcesResult defines the response for listing resources
type ListResourcesResult struct {
	Resources []Resource `json:"resources"`
	PaginatedResult
}

// ListResourceTemplatesParams defines parameters for listing resource templates
type ListResourceTemplatesParams struct {
	PaginatedParams
}

// ListResourceTemplatesResult defines the response for listing resource templates
type ListResourceTemplatesResult struct {
	ResourceTemplates []ResourceTemplate `json:"resourceTemplates"`
	PaginatedResult
}

// ReadResourceParams defines parameters for reading a resource
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// ReadResourceResult defines the response for reading a resource
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

package client

import (
	"context"
	"encoding/json"
	"fmt"

	mcperrors "github.com/qibin2020/fastmcp/pkg/errors"
	"github.com/qibin2020/fastmcp/pkg/protocol"
)

// callInto sends a request and unmarshals the result payload into out.
func (s *Session) callInto(ctx context.Context, method string, params, out interface{}) error {
	raw, err := s.call(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return mcperrors.MalformedMessage(
			fmt.Errorf("invalid %s result: %w", method, err))
	}
	return nil
}

// Call sends a raw request with an arbitrary method, unmarshalling the
// result into out when out is non-nil. It is the escape hatch for
// methods the typed surface does not cover.
func (s *Session) Call(ctx context.Context, method string, params, out interface{}) error {
	return s.callInto(ctx, method, params, out)
}

// Notify sends a raw one-way notification.
func (s *Session) Notify(ctx context.Context, method string, params interface{}) error {
	if state := s.State(); state != StateReady {
		return mcperrors.NotConnected(method)
	}
	return s.notify(ctx, method, params)
}

// Ping checks that the server is responsive.
func (s *Session) Ping(ctx context.Context) error {
	return s.callInto(ctx, protocol.MethodPing, nil, nil)
}

// ListToolsMCP fetches one page of tools.
func (s *Session) ListToolsMCP(ctx context.Context, params *protocol.ListToolsParams) (*protocol.ListToolsResult, error) {
	if params == nil {
		params = &protocol.ListToolsParams{}
	}
	var result protocol.ListToolsResult
	if err := s.callInto(ctx, protocol.MethodListTools, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListTools fetches the server's tools, following pagination cursors
// until the listing is complete.
func (s *Session) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	var tools []protocol.Tool
	var cursor string
	for {
		page, err := s.ListToolsMCP(ctx, &protocol.ListToolsParams{
			PaginatedParams: protocol.PaginatedParams{Cursor: cursor},
		})
		if err != nil {
			return nil, err
		}
		tools = append(tools, page.Tools...)
		if page.NextCursor == "" {
			return tools, nil
		}
		cursor = page.NextCursor
	}
}

// CallToolMCP invokes a tool and returns the raw result, including
// results whose IsError flag is set.
func (s *Session) CallToolMCP(ctx context.Context, params *protocol.CallToolParams) (*protocol.CallToolResult, error) {
	var result protocol.CallToolResult
	if err := s.callInto(ctx, protocol.MethodCallTool, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CallTool invokes a tool. A result flagged IsError becomes a tool
// execution error carrying the server's message, so callers that do
// not inspect results still see tool failures as errors.
func (s *Session) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (*protocol.CallToolResult, error) {
	result, err := s.CallToolMCP(ctx, &protocol.CallToolParams{
		Name:      name,
		Arguments: arguments,
	})
	if err != nil {
		return nil, err
	}
	if result.IsError {
		return nil, mcperrors.ToolExecution(name, result.TextContent())
	}
	return result, nil
}

// ListResourcesMCP fetches one page of resources.
func (s *Session) ListResourcesMCP(ctx context.Context, params *protocol.ListResourcesParams) (*protocol.ListResourcesResult, error) {
	if params == nil {
		params = &protocol.ListResourcesParams{}
	}
	var result protocol.ListResourcesResult
	if err := s.callInto(ctx, protocol.MethodListResources, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListResources fetches all resources, following pagination cursors.
func (s *Session) ListResources(ctx context.Context) ([]protocol.Resource, error) {
	var resources []protocol.Resource
	var cursor string
	for {
		page, err := s.ListResourcesMCP(ctx, &protocol.ListResourcesParams{
			PaginatedParams: protocol.PaginatedParams{Cursor: cursor},
		})
		if err != nil {
			return nil, err
		}
		resources = append(resources, page.Resources...)
		if page.NextCursor == "" {
			return resources, nil
		}
		cursor = page.NextCursor
	}
}

// ListResourceTemplatesMCP fetches one page of resource templates.
func (s *Session) ListResourceTemplatesMCP(ctx context.Context, params *protocol.ListResourceTemplatesParams) (*protocol.ListResourceTemplatesResult, error) {
	if params == nil {
		params = &protocol.ListResourceTemplatesParams{}
	}
	var result protocol.ListResourceTemplatesResult
	if err := s.callInto(ctx, protocol.MethodListResourceTemplates, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListResourceTemplates fetches all resource templates, following
// pagination cursors.
func (s *Session) ListResourceTemplates(ctx context.Context) ([]protocol.ResourceTemplate, error) {
	var templates []protocol.ResourceTemplate
	var cursor string
	for {
		page, err := s.ListResourceTemplatesMCP(ctx, &protocol.ListResourceTemplatesParams{
			PaginatedParams: protocol.PaginatedParams{Cursor: cursor},
		})
		if err != nil {
			return nil, err
		}
		templates = append(templates, page.ResourceTemplates...)
		if page.NextCursor == "" {
			return templates, nil
		}
		cursor = page.NextCursor
	}
}

// ReadResourceMCP reads a resource and returns the raw result.
func (s *Session) ReadResourceMCP(ctx context.Context, params *protocol.ReadResourceParams) (*protocol.ReadResourceResult, error) {
	var result protocol.ReadResourceResult
	if err := s.callInto(ctx, protocol.MethodReadResource, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ReadResource reads the resource at uri.
func (s *Session) ReadResource(ctx context.Context, uri string) ([]protocol.ResourceContents, error) {
	result, err := s.ReadResourceMCP(ctx, &protocol.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, err
	}
	return result.Contents, nil
}

// ListPromptsMCP fetches one page of prompts.
func (s *Session) ListPromptsMCP(ctx context.Context, params *protocol.ListPromptsParams) (*protocol.ListPromptsResult, error) {
	if params == nil {
		params = &protocol.ListPromptsParams{}
	}
	var result protocol.ListPromptsResult
	if err := s.callInto(ctx, protocol.MethodListPrompts, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListPrompts fetches all prompts, following pagination cursors.
func (s *Session) ListPrompts(ctx context.Context) ([]protocol.Prompt, error) {
	var prompts []protocol.Prompt
	var cursor string
	for {
		page, err := s.ListPromptsMCP(ctx, &protocol.ListPromptsParams{
			PaginatedParams: protocol.PaginatedParams{Cursor: cursor},
		})
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, page.Prompts...)
		if page.NextCursor == "" {
			return prompts, nil
		}
		cursor = page.NextCursor
	}
}

// GetPromptMCP fetches a prompt and returns the raw result.
func (s *Session) GetPromptMCP(ctx context.Context, params *protocol.GetPromptParams) (*protocol.GetPromptResult, error) {
	var result protocol.GetPromptResult
	if err := s.callInto(ctx, protocol.MethodGetPrompt, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetPrompt fetches the prompt with the given name and arguments.
func (s *Session) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*protocol.GetPromptResult, error) {
	return s.GetPromptMCP(ctx, &protocol.GetPromptParams{
		Name:      name,
		Arguments: arguments,
	})
}

// CompleteMCP requests completions and returns the raw result.
func (s *Session) CompleteMCP(ctx context.Context, params *protocol.CompleteParams) (*protocol.CompleteResult, error) {
	var result protocol.CompleteResult
	if err := s.callInto(ctx, protocol.MethodComplete, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Complete requests completion values for one argument of a prompt or
// resource template reference.
func (s *Session) Complete(ctx context.Context, ref protocol.CompletionReference, argName, argValue string) (*protocol.CompletionValues, error) {
	result, err := s.CompleteMCP(ctx, &protocol.CompleteParams{
		Ref:      ref,
		Argument: protocol.CompletionArgument{Name: argName, Value: argValue},
	})
	if err != nil {
		return nil, err
	}
	return &result.Completion, nil
}

// SetRoots replaces the advertised root set and notifies the server
// that it changed. The session must have been created with WithRoots.
func (s *Session) SetRoots(ctx context.Context, roots []protocol.Root) error {
	set, ok := s.dispatch.rootsProvider().(*rootSet)
	if !ok {
		return mcperrors.NewError(mcperrors.CodeConfigurationError,
			"roots are managed by a custom provider",
			mcperrors.CategoryConfiguration, mcperrors.SeverityError)
	}
	set.set(roots)
	return s.Notify(ctx, protocol.MethodRootsListChanged, nil)
}

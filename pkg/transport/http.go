package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpgate/mcpgate/pkg/config"
	"github.com/mcpgate/mcpgate/pkg/logger"
	"github.com/mcpgate/mcpgate/pkg/template"
)

// HTTPTransport executes tool calls as templated REST requests against an
// HTTPServer backend. There is no persistent connection; every call renders
// the tool's templates and issues one HTTP request.
type HTTPTransport struct {
	server   *config.HTTPServer
	tools    map[string]*config.Tool
	order    []string
	renderer *template.Renderer
	client   *http.Client

	mu      sync.Mutex
	running bool
}

// NewHTTPTransport creates the executor for one HTTPServer. tools holds the
// server's resolved tool definitions; order preserves the declaration order
// of HTTPServer.Tools for schema listing.
func NewHTTPTransport(server *config.HTTPServer, tools map[string]*config.Tool, order []string, renderer *template.Renderer) *HTTPTransport {
	return &HTTPTransport{
		server:   server,
		tools:    tools,
		order:    order,
		renderer: renderer,
		client:   &http.Client{Timeout: httpTimeout},
	}
}

func (t *HTTPTransport) Start(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = true
	return nil
}

func (t *HTTPTransport) Stop(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	return nil
}

func (t *HTTPTransport) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// FetchTools builds the MCP tool descriptors from the tool configs, in the
// server's declaration order.
func (t *HTTPTransport) FetchTools(_ context.Context) ([]mcp.Tool, error) {
	out := make([]mcp.Tool, 0, len(t.order))
	for _, name := range t.order {
		tool, ok := t.tools[name]
		if !ok {
			continue
		}
		descriptor := mcp.Tool{
			Name:        tool.Name,
			Description: tool.Description,
		}
		if len(tool.InputSchema) > 0 {
			schema, err := json.Marshal(tool.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("invalid input schema for tool %s: %w", tool.Name, err)
			}
			descriptor.RawInputSchema = schema
		}
		out = append(out, descriptor)
	}
	return out, nil
}

func (t *HTTPTransport) CallTool(ctx context.Context, params CallParams) (*mcp.CallToolResult, error) {
	tool, ok := t.tools[params.Name]
	if !ok {
		return notFoundResult(params.Name, t.server.Name), nil
	}

	args := normalizeArgs(tool, params.Arguments)

	req := params.Request
	req.Body = args
	tctx := &template.Context{
		Args: args,
		Config: map[string]string{
			"url":         t.server.URL,
			"tool_name":   tool.Name,
			"method":      tool.Method,
			"path":        tool.Path,
			"description": tool.Description,
		},
		Request: req,
	}

	httpReq, err := t.buildRequest(ctx, tool, args, tctx)
	if err != nil {
		logger.Errorw("failed to build request", "server", t.server.Name, "tool", tool.Name, "error", err)
		return callErrorResult(params.Name, err), nil
	}

	logger.Infow("executing tool request",
		"server", t.server.Name, "tool", tool.Name,
		"method", httpReq.Method, "url", httpReq.URL.String())

	resp, err := t.client.Do(httpReq)
	if err != nil {
		logger.Errorw("tool request failed", "server", t.server.Name, "tool", tool.Name, "error", err)
		return callErrorResult(params.Name, err), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return callErrorResult(params.Name, err), nil
	}

	if resp.StatusCode >= http.StatusBadRequest {
		logger.Errorw("tool returned error status",
			"server", t.server.Name, "tool", tool.Name,
			"status", resp.StatusCode, "body", string(body))
		return mcp.NewToolResultError(fmt.Sprintf("tool %s returned status %d: %s",
			tool.Name, resp.StatusCode, truncate(string(body), maxDiagnosticLen))), nil
	}

	text, err := t.renderResponse(tool, tctx, body)
	if err != nil {
		return callErrorResult(params.Name, err), nil
	}
	return mcp.NewToolResultText(text), nil
}

// buildRequest renders the tool's templates and assembles the outbound HTTP
// request, placing declared arguments by their position.
func (t *HTTPTransport) buildRequest(ctx context.Context, tool *config.Tool, args map[string]any, tctx *template.Context) (*http.Request, error) {
	renderedPath, err := t.renderer.Render(tool.Path, tctx)
	if err != nil {
		return nil, err
	}
	fullURL := renderedPath
	if !strings.HasPrefix(fullURL, "http://") && !strings.HasPrefix(fullURL, "https://") {
		fullURL = strings.TrimSuffix(t.server.URL, "/") + "/" + strings.TrimPrefix(renderedPath, "/")
	}

	method := strings.ToUpper(tool.Method)
	hasBody := method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch

	// Tool-declared headers win over inbound request headers.
	headers := make(map[string]string, len(tool.Headers))
	for k, v := range tool.Headers {
		rendered, err := t.renderer.Render(v, tctx)
		if err != nil {
			return nil, err
		}
		headers[k] = rendered
	}
	for k, v := range tctx.Request.Headers {
		if !hasHeader(headers, k) {
			headers[k] = v
		}
	}

	query := url.Values{}
	bodyArgs := make(map[string]any)
	if len(tool.Args) == 0 {
		// No declared positions: every argument travels in the body.
		bodyArgs = args
	}
	for _, arg := range tool.Args {
		val, present := args[arg.Name]
		if !present {
			continue
		}
		switch config.ArgPosition(arg.Position) {
		case config.ArgPositionQuery:
			query.Set(arg.Name, argString(val))
		case config.ArgPositionHeader:
			headers[arg.Name] = argString(val)
		case config.ArgPositionBody:
			bodyArgs[arg.Name] = val
		case config.ArgPositionPath:
			// Inlined by the path template.
		}
	}

	var bodyReader io.Reader
	if hasBody {
		var payload any
		switch {
		case tool.RequestBody != "":
			payload, err = t.renderer.RenderJSON(tool.RequestBody, tctx)
			if err != nil {
				return nil, err
			}
		case len(bodyArgs) > 0:
			payload = bodyArgs
		}
		if payload != nil {
			data, err := json.Marshal(payload)
			if err != nil {
				return nil, err
			}
			bodyReader = bytes.NewReader(data)
			if !hasHeader(headers, "Content-Type") {
				headers["Content-Type"] = "application/json"
			}
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	if len(query) > 0 {
		q := httpReq.URL.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		httpReq.URL.RawQuery = q.Encode()
	}
	return httpReq, nil
}

// renderResponse shapes the upstream body with the response_body template
// when one is declared; otherwise the raw body passes through.
func (t *HTTPTransport) renderResponse(tool *config.Tool, tctx *template.Context, body []byte) (string, error) {
	if tool.ResponseBody == "" {
		return string(body), nil
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		// Non-JSON upstream body: expose it under "body" as a string.
		parsed = map[string]any{"body": string(body)}
	}
	tctx.Response = template.ResponseContext{Data: parsed, Body: parsed}
	return t.renderer.Render(tool.ResponseBody, tctx)
}

// normalizeArgs applies declared defaults and parses JSON-string values for
// object/array-typed arguments.
func normalizeArgs(tool *config.Tool, in map[string]any) map[string]any {
	args := make(map[string]any, len(in))
	for k, v := range in {
		args[k] = v
	}

	for _, arg := range tool.Args {
		val, present := args[arg.Name]
		if !present {
			if arg.Default != "" {
				args[arg.Name] = parseDefault(arg)
			}
			continue
		}

		// Clients sometimes pass structured arguments as JSON strings.
		if arg.Type == "object" || arg.Type == "array" {
			if s, ok := val.(string); ok {
				var parsed any
				if err := json.Unmarshal([]byte(s), &parsed); err == nil {
					args[arg.Name] = parsed
				} else {
					logger.Warnw("argument is not valid JSON",
						"tool", tool.Name, "arg", arg.Name, "error", err)
				}
			}
		}
	}
	return args
}

func parseDefault(arg config.ToolArg) any {
	switch arg.Type {
	case "number", "integer":
		if f, err := strconv.ParseFloat(arg.Default, 64); err == nil {
			return f
		}
	case "boolean":
		if b, err := strconv.ParseBool(arg.Default); err == nil {
			return b
		}
	case "object", "array":
		var parsed any
		if err := json.Unmarshal([]byte(arg.Default), &parsed); err == nil {
			return parsed
		}
	}
	return arg.Default
}

func argString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	}
}

// maxDiagnosticLen caps client-visible error text; full detail stays in logs.
const maxDiagnosticLen = 200

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

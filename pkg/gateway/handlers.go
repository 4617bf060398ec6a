package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpgate/mcpgate/pkg/logger"
	"github.com/mcpgate/mcpgate/pkg/session"
	"github.com/mcpgate/mcpgate/pkg/state"
	"github.com/mcpgate/mcpgate/pkg/template"
	"github.com/mcpgate/mcpgate/pkg/transport"
)

const (
	serverName    = "mcpgate"
	serverVersion = "0.1.0"
)

// handleRPC runs the JSON-RPC method table. sendViaSSE selects delivery:
// the response goes out on the session's SSE stream (and the HTTP exchange
// returns 202), or in-band as a single event-stream frame.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request, rt *state.Runtime, conn session.Connection, req *rpcRequest, sendViaSSE bool) {
	switch req.Method {
	case "initialize":
		s.sendResult(w, r, conn, req, initializeResult(), sendViaSSE)

	case "notifications/initialized":
		writeAccepted(w)

	case "ping":
		s.sendResult(w, r, conn, req, struct{}{}, sendViaSSE)

	case "tools/list":
		tools, err := s.listTools(r.Context(), rt)
		if err != nil {
			logger.Errorw("tools/list failed", "prefix", conn.Meta().Prefix, "error", err)
			writeProtocolError(w, req.ID, codeInternalError, "failed to list tools", http.StatusInternalServerError)
			return
		}
		s.sendResult(w, r, conn, req, map[string]any{"tools": tools}, sendViaSSE)

	case "tools/call":
		var params struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
			writeProtocolError(w, req.ID, codeInvalidParams, "invalid tools/call params", http.StatusBadRequest)
			return
		}
		if rt.Transport == nil {
			// A backend whose transport failed to build still routes; calls fail.
			s.sendResult(w, r, conn, req, mcp.NewToolResultError("backend unavailable"), sendViaSSE)
			return
		}

		result, err := rt.Transport.CallTool(r.Context(), transport.CallParams{
			Name:      params.Name,
			Arguments: params.Arguments,
			Request:   mergedRequestContext(conn.Meta(), r),
		})
		if err != nil {
			logger.Errorw("tool call failed", "tool", params.Name, "error", err)
			result = mcp.NewToolResultError(fmt.Sprintf("Tool execution failed: %v", err))
		}
		s.sendResult(w, r, conn, req, result, sendViaSSE)

	default:
		writeProtocolError(w, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), http.StatusNotFound)
	}
}

func initializeResult() map[string]any {
	return map[string]any{
		"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
		"serverInfo": map[string]any{
			"name":    serverName,
			"version": serverVersion,
		},
		"capabilities": map[string]any{
			"tools": map[string]any{"listChanged": true},
		},
	}
}

// listTools answers from the prebuilt schemas for templated HTTP backends
// and asks the transport live for MCP backends.
func (s *Server) listTools(ctx context.Context, rt *state.Runtime) ([]mcp.Tool, error) {
	if rt.BackendProto == state.ProtoHTTP {
		if rt.ToolSchemas == nil {
			return []mcp.Tool{}, nil
		}
		return rt.ToolSchemas, nil
	}
	if rt.Transport == nil {
		return []mcp.Tool{}, nil
	}
	tools, err := rt.Transport.FetchTools(ctx)
	if err != nil {
		return nil, err
	}
	if tools == nil {
		tools = []mcp.Tool{}
	}
	return tools, nil
}

// mergedRequestContext combines the request snapshot captured when the
// session was created with the current request, current values winning.
// Tools can thus bind to auth headers sent only at session establishment.
func mergedRequestContext(meta *session.Meta, r *http.Request) template.RequestContext {
	var snapshot template.RequestContext
	if meta.Request != nil {
		snapshot = template.RequestContext{
			Headers: meta.Request.Headers,
			Query:   meta.Request.Query,
			Cookies: meta.Request.Cookies,
		}
	}
	info := captureRequest(r)
	current := template.RequestContext{
		Headers: info.Headers,
		Query:   info.Query,
		Cookies: info.Cookies,
	}
	return template.MergeRequest(snapshot, current)
}

// sendResult delivers a successful JSON-RPC response over the channel the
// session type dictates.
func (s *Server) sendResult(w http.ResponseWriter, r *http.Request, conn session.Connection, req *rpcRequest, result any, sendViaSSE bool) {
	payload, err := json.Marshal(newResponse(req.ID, result))
	if err != nil {
		writeProtocolError(w, req.ID, codeInternalError, "failed to serialize response", http.StatusInternalServerError)
		return
	}

	if sendViaSSE {
		msg := &session.Message{Event: "message", Data: string(payload)}
		if err := conn.Send(r.Context(), msg); err != nil {
			logger.Errorw("failed to deliver response over sse", "session_id", conn.Meta().ID, "error", err)
			switch {
			case errors.Is(err, session.ErrQueueFull):
				writeProtocolError(w, req.ID, codeRequestTimeout, "session queue is full", http.StatusServiceUnavailable)
			case errors.Is(err, session.ErrConnectionClosed):
				writeProtocolError(w, req.ID, codeConnectionClosed, "session is closed", http.StatusNotFound)
			default:
				writeProtocolError(w, req.ID, codeInternalError, "failed to send response via SSE", http.StatusInternalServerError)
			}
			return
		}
		writeAccepted(w)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set(sessionHeader, conn.Meta().ID)
	w.WriteHeader(http.StatusOK)
	writeEvent(w, "message", string(payload))
}

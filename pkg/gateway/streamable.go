package gateway

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mcpgate/mcpgate/pkg/session"
	"github.com/mcpgate/mcpgate/pkg/state"
)

// sessionHeader carries the Streamable-HTTP session id.
const sessionHeader = "Mcp-Session-Id"

// handleStreamable serves {prefix}/mcp, the Streamable-HTTP endpoint. POST
// carries JSON-RPC with in-band responses, GET opens a server-to-client
// stream, DELETE ends the session.
func (s *Server) handleStreamable(w http.ResponseWriter, r *http.Request, prefix string, rt *state.Runtime) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		s.streamableGet(w, r)
	case http.MethodPost:
		s.streamablePost(w, r, prefix, rt)
	case http.MethodDelete:
		s.streamableDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		writeProtocolError(w, nil, codeInvalidRequest, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// streamableGet opens the server-to-client event stream for an existing
// session. Same pump as the sse endpoint, minus the endpoint announcement.
func (s *Server) streamableGet(w http.ResponseWriter, r *http.Request) {
	if !acceptsEventStream(r) {
		writeProtocolError(w, nil, codeInvalidRequest, "Accept must include text/event-stream", http.StatusNotAcceptable)
		return
	}
	id := r.Header.Get(sessionHeader)
	if id == "" {
		writeProtocolError(w, nil, codeInvalidRequest, "missing Mcp-Session-Id header", http.StatusBadRequest)
		return
	}
	conn, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		writeProtocolError(w, nil, codeRequestTimeout, "session not found", http.StatusNotFound)
		return
	}
	s.streamEvents(w, r, conn, nil)
}

func (s *Server) streamablePost(w http.ResponseWriter, r *http.Request, prefix string, rt *state.Runtime) {
	accept := r.Header.Get("Accept")
	if !strings.Contains(accept, "application/json") || !strings.Contains(accept, "text/event-stream") {
		writeProtocolError(w, nil, codeInvalidRequest,
			"Accept must include application/json and text/event-stream", http.StatusNotAcceptable)
		return
	}
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		writeProtocolError(w, nil, codeInvalidRequest, "unsupported content type", http.StatusUnsupportedMediaType)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeProtocolError(w, nil, codeParseError, "failed to read request body", http.StatusBadRequest)
		return
	}
	req, err := decodeRequest(body)
	if err != nil {
		writeProtocolError(w, nil, codeParseError, err.Error(), http.StatusBadRequest)
		return
	}

	id := r.Header.Get(sessionHeader)

	var conn session.Connection
	if req.Method == "initialize" {
		if id != "" {
			if _, err := s.sessions.Get(r.Context(), id); err == nil {
				writeProtocolError(w, req.ID, codeInvalidRequest, "session already initialized", http.StatusBadRequest)
				return
			}
			writeProtocolError(w, req.ID, codeRequestTimeout, "session not found", http.StatusNotFound)
			return
		}
		meta := &session.Meta{
			ID:        uuid.NewString(),
			CreatedAt: time.Now(),
			Prefix:    prefix,
			Type:      session.TypeStreamable,
			Request:   captureRequest(r),
		}
		conn, err = s.sessions.Register(r.Context(), meta)
		if err != nil {
			writeProtocolError(w, req.ID, codeInternalError, "failed to create session", http.StatusInternalServerError)
			return
		}
		w.Header().Set(sessionHeader, meta.ID)
	} else {
		if id == "" {
			writeProtocolError(w, req.ID, codeInvalidRequest, "missing Mcp-Session-Id header", http.StatusBadRequest)
			return
		}
		conn, err = s.sessions.Get(r.Context(), id)
		if err != nil {
			writeProtocolError(w, req.ID, codeRequestTimeout, "session not found", http.StatusNotFound)
			return
		}
	}

	s.handleRPC(w, r, rt, conn, req, false)
}

func (s *Server) streamableDelete(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(sessionHeader)
	if id == "" {
		writeProtocolError(w, nil, codeInvalidRequest, "missing Mcp-Session-Id header", http.StatusBadRequest)
		return
	}
	if err := s.sessions.Unregister(r.Context(), id); err != nil {
		writeProtocolError(w, nil, codeInternalError, "failed to end session", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func acceptsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

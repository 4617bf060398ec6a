// Package gateway is the client-facing front door. One catch-all HTTP
// handler parses the URL into a routing prefix and an endpoint (sse,
// message, or mcp), resolves the prefix against the current runtime state,
// and drives the JSON-RPC exchange with the backend's transport. Sessions
// created here live in a session.Store so SSE streams and their companion
// POSTs can find each other.
package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcpgate/mcpgate/pkg/logger"
	"github.com/mcpgate/mcpgate/pkg/session"
	"github.com/mcpgate/mcpgate/pkg/state"
)

// StateProvider hands the dispatcher the current runtime state. The loader
// swaps states atomically, so every request sees one consistent snapshot.
type StateProvider interface {
	Current() *state.State
}

// Server dispatches gateway traffic.
type Server struct {
	states   StateProvider
	sessions session.Store
}

// NewServer creates the dispatcher.
func NewServer(states StateProvider, sessions session.Store) *Server {
	return &Server{states: states, sessions: sessions}
}

// Handler builds the HTTP routing table: Prometheus metrics on /metrics,
// everything else through the prefix dispatcher.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/*", s.dispatch)
	return r
}

// dispatch parses /{tenant}/.../{endpoint}, resolves the runtime for the
// prefix, and hands off to the endpoint handler.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" {
		writeProtocolError(w, nil, codeInvalidRequest, "invalid path", http.StatusBadRequest)
		return
	}
	prefix := "/" + strings.Join(parts[:len(parts)-1], "/")
	endpoint := parts[len(parts)-1]

	rt, ok := s.states.Current().Runtime(prefix)
	if !ok {
		writeProtocolError(w, nil, codeInvalidRequest, "invalid prefix", http.StatusNotFound)
		return
	}

	if rt.Router != nil && rt.Router.CORS != nil {
		if applyCORS(w, r, rt.Router.CORS) {
			return
		}
	}

	switch endpoint {
	case "sse":
		s.handleSSE(w, r, prefix, rt)
	case "message":
		s.handleMessage(w, r, rt)
	case "mcp":
		s.handleStreamable(w, r, prefix, rt)
	default:
		writeProtocolError(w, nil, codeInvalidRequest, "unknown endpoint", http.StatusNotFound)
	}
}

// captureRequest snapshots the parts of the inbound request that templates
// can bind to. Multi-valued headers and query params keep their first value.
func captureRequest(r *http.Request) *session.RequestInfo {
	headers := make(map[string]string, len(r.Header))
	for name := range r.Header {
		headers[name] = r.Header.Get(name)
	}
	query := make(map[string]string)
	for name, values := range r.URL.Query() {
		if len(values) > 0 {
			query[name] = values[0]
		}
	}
	cookies := make(map[string]string)
	for _, c := range r.Cookies() {
		cookies[c.Name] = c.Value
	}
	return &session.RequestInfo{Headers: headers, Query: query, Cookies: cookies}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warnw("failed to write response", "error", err)
	}
}

// writeProtocolError reports a framing-level failure as a JSON-RPC error
// envelope with a matching HTTP status.
func writeProtocolError(w http.ResponseWriter, id any, code int, message string, status int) {
	writeJSON(w, status, newError(id, code, message))
}

func writeAccepted(w http.ResponseWriter) {
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("Accepted"))
}

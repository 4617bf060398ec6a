package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mcpgate/mcpgate/pkg/logger"
	"github.com/mcpgate/mcpgate/pkg/session"
	"github.com/mcpgate/mcpgate/pkg/state"
)

// heartbeatInterval keeps idle SSE streams alive through reverse proxies
// with 30 s idle timeouts.
const heartbeatInterval = 25 * time.Second

// handleSSE serves GET {prefix}/sse: registers a session, announces the
// companion message endpoint, then pumps the session queue to the client.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request, prefix string, rt *state.Runtime) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeProtocolError(w, nil, codeInvalidRequest, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	meta := &session.Meta{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		Prefix:    prefix,
		Type:      session.TypeSSE,
		Request:   captureRequest(r),
	}
	conn, err := s.sessions.Register(r.Context(), meta)
	if err != nil {
		writeProtocolError(w, nil, codeInternalError, "failed to create session", http.StatusInternalServerError)
		return
	}

	endpoint := prefix + "/message?sessionId=" + meta.ID
	if rt.Router != nil && rt.Router.SSEPrefix != "" {
		endpoint = strings.TrimSuffix(rt.Router.SSEPrefix, "/") + endpoint
	}

	s.streamEvents(w, r, conn, &initialEvent{name: "endpoint", data: endpoint})
}

// initialEvent is a frame emitted before the queue pump starts.
type initialEvent struct {
	name string
	data string
}

// streamEvents owns the SSE response for one session: writes headers, the
// optional initial frame, then queue messages, with heartbeats on idle. It
// returns when the client disconnects or the session closes, unregistering
// the session either way.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, conn session.Connection, initial *initialEvent) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProtocolError(w, nil, codeInternalError, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	id := conn.Meta().ID
	defer func() {
		// The request context is already canceled on disconnect; cleanup
		// needs its own.
		if err := s.sessions.Unregister(context.Background(), id); err != nil {
			logger.Warnw("failed to unregister session", "session_id", id, "error", err)
		}
	}()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if initial != nil {
		writeEvent(w, initial.name, initial.data)
		flusher.Flush()
	}

	heartbeat := time.NewTimer(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, open := <-conn.Messages():
			if !open {
				return
			}
			event := msg.Event
			if event == "" {
				event = "message"
			}
			writeEvent(w, event, msg.Data)
			flusher.Flush()
			resetTimer(heartbeat, heartbeatInterval)
		case <-heartbeat.C:
			writeEvent(w, "heartbeat", "ping")
			flusher.Flush()
			heartbeat.Reset(heartbeatInterval)
		}
	}
}

func writeEvent(w io.Writer, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// handleMessage serves POST {prefix}/message?sessionId=: the companion
// request channel for an SSE stream. The JSON-RPC response travels back over
// the stream; the POST itself only acknowledges.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request, rt *state.Runtime) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeProtocolError(w, nil, codeInvalidRequest, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("sessionId")
	if id == "" {
		writeProtocolError(w, nil, codeInvalidRequest, "missing sessionId", http.StatusBadRequest)
		return
	}
	conn, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		writeProtocolError(w, nil, codeRequestTimeout, "session not found", http.StatusNotFound)
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

	s.handleRPC(w, r, rt, conn, req, true)
}

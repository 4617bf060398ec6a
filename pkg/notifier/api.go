package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mcpgate/mcpgate/pkg/config"
	"github.com/mcpgate/mcpgate/pkg/logger"
)

// reloadPath is the well-known endpoint peers POST updates to.
const reloadPath = "/_reload"

// APIConfig configures the HTTP notifier backend.
type APIConfig struct {
	// Port is where the receiver side listens (bound to 127.0.0.1).
	Port int
	// TargetURL is the base URL the sender side POSTs to.
	TargetURL string
}

// APINotifier exchanges updates over HTTP. The receiver runs a loopback
// server exposing POST /_reload; a request with an empty body is the reload
// signal, a JSON body carries a full Config.
type APINotifier struct {
	cfg  APIConfig
	role Role

	watchers watcherSet
	client   *http.Client

	mu      sync.Mutex
	server  *http.Server
	running bool
}

// NewAPINotifier creates the notifier. The receiver's HTTP server starts
// lazily on the first Watch.
func NewAPINotifier(cfg APIConfig, role Role) *APINotifier {
	return &APINotifier{
		cfg:    cfg,
		role:   role,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Watch implements Notifier.
func (n *APINotifier) Watch(_ context.Context) (<-chan *config.Config, error) {
	if !n.CanReceive() {
		return nil, ErrCannotReceive
	}

	ch, err := n.watchers.add()
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.running {
		if err := n.startServer(); err != nil {
			return nil, err
		}
		n.running = true
	}
	return ch, nil
}

func (n *APINotifier) startServer() error {
	r := chi.NewRouter()
	r.Post(reloadPath, n.handleReload)

	addr := fmt.Sprintf("127.0.0.1:%d", n.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	n.server = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := n.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Errorw("api notifier server failed", "error", err)
		}
	}()

	logger.Infow("api notifier listening", "addr", addr)
	return nil
}

func (n *APINotifier) handleReload(w http.ResponseWriter, r *http.Request) {
	var cfg *config.Config

	// Content-length zero is the payloadless reload signal.
	if r.ContentLength > 0 {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		var parsed config.Config
		if err := json.Unmarshal(body, &parsed); err != nil {
			logger.Errorw("invalid reload payload", "error", err)
			http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
			return
		}
		cfg = &parsed
		logger.Infow("received config update", "config", cfg.Key())
	} else {
		logger.Info("received reload signal")
	}

	n.watchers.broadcast(cfg)

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"success","message":"Reload triggered"}`))
}

// Notify implements Notifier.
func (n *APINotifier) Notify(ctx context.Context, updated *config.Config) error {
	if !n.CanSend() {
		return ErrCannotSend
	}
	if n.cfg.TargetURL == "" {
		return fmt.Errorf("notifier target URL is not configured")
	}

	reloadURL := strings.TrimSuffix(n.cfg.TargetURL, "/")
	if !strings.HasSuffix(reloadURL, reloadPath) {
		reloadURL += reloadPath
	}

	var body io.Reader
	contentType := ""
	if updated != nil {
		data, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reloadURL, body)
	if err != nil {
		return fmt.Errorf("failed to build reload request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send reload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d from %s: %s", resp.StatusCode, reloadURL, string(respBody))
	}

	logger.Infow("sent config update", "config", configName(updated), "target", reloadURL)
	return nil
}

// CanSend implements Notifier.
func (n *APINotifier) CanSend() bool { return n.role.CanSend() }

// CanReceive implements Notifier.
func (n *APINotifier) CanReceive() bool { return n.role.CanReceive() }

// Close implements Notifier.
func (n *APINotifier) Close() error {
	n.mu.Lock()
	server := n.server
	n.server = nil
	n.running = false
	n.mu.Unlock()

	n.watchers.closeAll()

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	}
	return nil
}

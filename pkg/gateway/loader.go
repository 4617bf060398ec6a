package gateway

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mcpgate/mcpgate/pkg/config"
	"github.com/mcpgate/mcpgate/pkg/logger"
	"github.com/mcpgate/mcpgate/pkg/notifier"
	"github.com/mcpgate/mcpgate/pkg/state"
	"github.com/mcpgate/mcpgate/pkg/template"
)

// StateLoader owns the current runtime state. It loads configurations from
// a Store, builds a State, and swaps it in atomically; reload requests from
// a Notifier trigger a rebuild. Load failures keep the previous state so the
// gateway stays up on bad config pushes.
type StateLoader struct {
	store    config.Store
	renderer *template.Renderer

	current atomic.Pointer[state.State]
	mu      sync.Mutex
}

// NewStateLoader creates a loader starting from the empty state.
func NewStateLoader(store config.Store, renderer *template.Renderer) *StateLoader {
	l := &StateLoader{store: store, renderer: renderer}
	l.current.Store(state.Empty())
	return l
}

// Current implements StateProvider.
func (l *StateLoader) Current() *state.State {
	return l.current.Load()
}

// Reload rebuilds the state from the configuration source. The old state
// donates transports for unchanged backends. Reloads serialize; readers are
// never blocked.
func (l *StateLoader) Reload(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	configs, err := l.store.List(ctx)
	if err != nil {
		logger.Errorw("failed to load configurations, keeping current state", "error", err)
		return err
	}

	old := l.current.Load()
	next, err := state.BuildFrom(ctx, configs, old, l.renderer)
	if err != nil {
		logger.Errorw("failed to build state, keeping current state", "error", err)
		return err
	}

	l.current.Store(next)
	next.Metrics().Publish()
	logger.Infow("state reloaded", "configs", len(configs), "prefixes", len(next.Prefixes()))
	return nil
}

// WatchNotifier consumes reload requests until ctx is cancelled or the
// notifier's channel closes. Updates carry either a full config, which still
// triggers a reload from source so the store stays authoritative, or nil,
// the plain reload signal.
func (l *StateLoader) WatchNotifier(ctx context.Context, n notifier.Notifier) error {
	updates, err := n.Watch(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cfg, open := <-updates:
			if !open {
				return nil
			}
			if cfg != nil {
				logger.Infow("received config update", "config", cfg.Key())
			} else {
				logger.Info("received reload signal")
			}
			if err := l.Reload(ctx); err != nil {
				logger.Errorw("reload failed", "error", err)
			}
		}
	}
}

// Close stops the transports owned by the current state.
func (l *StateLoader) Close(ctx context.Context) {
	l.current.Load().Close(ctx)
}

// Package notifier propagates configuration updates between gateway
// replicas. A Notifier carries either a full Config payload or nil, which
// means "reload from source". Backends: Redis pub/sub, an HTTP reload
// endpoint, and OS signals; a composite merges several into one.
package notifier

import (
	"context"
	"errors"
	"sync"

	"github.com/mcpgate/mcpgate/pkg/config"
	"github.com/mcpgate/mcpgate/pkg/logger"
)

// Role gates which verbs a notifier may use.
type Role string

const (
	// RoleSender may only Notify.
	RoleSender Role = "sender"
	// RoleReceiver may only Watch.
	RoleReceiver Role = "receiver"
	// RoleBoth may do either.
	RoleBoth Role = "both"
)

// CanSend reports whether the role permits Notify.
func (r Role) CanSend() bool {
	return r == RoleSender || r == RoleBoth
}

// CanReceive reports whether the role permits Watch.
func (r Role) CanReceive() bool {
	return r == RoleReceiver || r == RoleBoth
}

// Notifier errors.
var (
	// ErrCannotSend is returned when Notify is called on a receive-only notifier.
	ErrCannotSend = errors.New("notifier is not configured to send updates")

	// ErrCannotReceive is returned when Watch is called on a send-only notifier.
	ErrCannotReceive = errors.New("notifier is not configured to receive updates")

	// ErrClosed is returned when using a closed notifier.
	ErrClosed = errors.New("notifier is closed")
)

// Notifier fans configuration updates out across replicas. A nil Config on
// either verb is the payloadless reload signal.
type Notifier interface {
	// Watch returns a channel of updates. Multiple calls return
	// independent channels that all receive every update.
	Watch(ctx context.Context) (<-chan *config.Config, error)

	// Notify broadcasts an update to the peer replicas.
	Notify(ctx context.Context, updated *config.Config) error

	// CanSend reports whether Notify is permitted.
	CanSend() bool

	// CanReceive reports whether Watch is permitted.
	CanReceive() bool

	// Close releases the notifier's resources and closes all watcher
	// channels.
	Close() error
}

// watcherQueueCapacity bounds each watcher channel. A stalled consumer
// drops updates instead of blocking the broadcast.
const watcherQueueCapacity = 10

// watcherSet is the shared fan-out used by every backend: watcher channels
// under a mutex, non-blocking broadcast, close-once semantics.
type watcherSet struct {
	mu       sync.Mutex
	watchers []chan *config.Config
	closed   bool
}

func (w *watcherSet) add() (chan *config.Config, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}
	ch := make(chan *config.Config, watcherQueueCapacity)
	w.watchers = append(w.watchers, ch)
	return ch, nil
}

func (w *watcherSet) broadcast(cfg *config.Config) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	for _, ch := range w.watchers {
		select {
		case ch <- cfg:
		default:
			logger.Warnw("watcher queue full, dropping update")
		}
	}
}

func (w *watcherSet) closeAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	for _, ch := range w.watchers {
		close(ch)
	}
	w.watchers = nil
}

func configName(cfg *config.Config) string {
	if cfg == nil {
		return "reload_signal"
	}
	return cfg.Key()
}

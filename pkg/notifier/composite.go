package notifier

import (
	"context"
	"fmt"
	"sync"

	"github.com/mcpgate/mcpgate/pkg/config"
	"github.com/mcpgate/mcpgate/pkg/logger"
)

// CompositeNotifier multiplexes several backends. Watch merges every
// child's updates into one stream; Notify fans out to every child that can
// send and succeeds as long as at least one delivery succeeded.
type CompositeNotifier struct {
	children []Notifier

	watchers watcherSet

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	reading bool
}

// NewCompositeNotifier wraps children. It requires at least one.
func NewCompositeNotifier(children ...Notifier) (*CompositeNotifier, error) {
	if len(children) == 0 {
		return nil, fmt.Errorf("composite notifier requires at least one child")
	}
	return &CompositeNotifier{children: children}, nil
}

// Watch implements Notifier.
func (n *CompositeNotifier) Watch(ctx context.Context) (<-chan *config.Config, error) {
	if !n.CanReceive() {
		return nil, ErrCannotReceive
	}

	ch, err := n.watchers.add()
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.reading {
		readCtx, cancel := context.WithCancel(context.Background())
		n.cancel = cancel
		for _, child := range n.children {
			if !child.CanReceive() {
				continue
			}
			src, err := child.Watch(ctx)
			if err != nil {
				cancel()
				n.wg.Wait()
				return nil, fmt.Errorf("failed to watch child notifier: %w", err)
			}
			n.wg.Add(1)
			go n.forward(readCtx, src)
		}
		n.reading = true
	}
	return ch, nil
}

func (n *CompositeNotifier) forward(ctx context.Context, src <-chan *config.Config) {
	defer n.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-src:
			if !ok {
				return
			}
			n.watchers.broadcast(cfg)
		}
	}
}

// Notify implements Notifier. Delivery counts as successful if any sending
// child succeeds; the last child error is returned when all fail.
func (n *CompositeNotifier) Notify(ctx context.Context, updated *config.Config) error {
	if !n.CanSend() {
		return ErrCannotSend
	}

	var lastErr error
	delivered := false
	for _, child := range n.children {
		if !child.CanSend() {
			continue
		}
		if err := child.Notify(ctx, updated); err != nil {
			logger.Warnw("child notifier failed to send", "error", err)
			lastErr = err
			continue
		}
		delivered = true
	}
	if !delivered {
		return fmt.Errorf("all notifiers failed to send update: %w", lastErr)
	}
	return nil
}

// CanSend implements Notifier.
func (n *CompositeNotifier) CanSend() bool {
	for _, child := range n.children {
		if child.CanSend() {
			return true
		}
	}
	return false
}

// CanReceive implements Notifier.
func (n *CompositeNotifier) CanReceive() bool {
	for _, child := range n.children {
		if child.CanReceive() {
			return true
		}
	}
	return false
}

// Close implements Notifier. Child close errors are collected; the first
// one is returned.
func (n *CompositeNotifier) Close() error {
	n.mu.Lock()
	if n.reading {
		n.cancel()
		n.mu.Unlock()
		n.wg.Wait()
		n.mu.Lock()
		n.reading = false
	}
	n.mu.Unlock()

	n.watchers.closeAll()

	var firstErr error
	for _, child := range n.children {
		if err := child.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

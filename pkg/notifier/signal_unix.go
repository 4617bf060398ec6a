//go:build !windows

package notifier

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mcpgate/mcpgate/pkg/config"
	"github.com/mcpgate/mcpgate/pkg/logger"
)

// SignalConfig configures the signal notifier backend.
type SignalConfig struct {
	// PIDFile locates the peer process the sender delivers SIGHUP to.
	PIDFile string
}

// SignalNotifier exchanges reload signals via SIGHUP. Signals carry no
// payload, so watchers only ever see nil; Notify ignores any Config it is
// handed and just raises the signal.
type SignalNotifier struct {
	cfg  SignalConfig
	role Role

	watchers watcherSet

	mu      sync.Mutex
	sigCh   chan os.Signal
	done    chan struct{}
	running bool
}

// NewSignalNotifier creates the notifier. The SIGHUP handler installs
// lazily on the first Watch.
func NewSignalNotifier(cfg SignalConfig, role Role) (*SignalNotifier, error) {
	if cfg.PIDFile == "" {
		return nil, fmt.Errorf("signal notifier requires a pid file path")
	}
	return &SignalNotifier{cfg: cfg, role: role}, nil
}

// Watch implements Notifier.
func (n *SignalNotifier) Watch(_ context.Context) (<-chan *config.Config, error) {
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
		n.sigCh = make(chan os.Signal, 1)
		n.done = make(chan struct{})
		signal.Notify(n.sigCh, syscall.SIGHUP)
		n.running = true
		go n.listen()
		logger.Infow("signal handler installed", "signal", "SIGHUP")
	}
	return ch, nil
}

func (n *SignalNotifier) listen() {
	defer close(n.done)
	for range n.sigCh {
		logger.Info("received reload signal")
		n.watchers.broadcast(nil)
	}
}

// Notify implements Notifier. The Config payload cannot travel over a
// signal and is discarded.
func (n *SignalNotifier) Notify(_ context.Context, _ *config.Config) error {
	if !n.CanSend() {
		return ErrCannotSend
	}

	pid, err := readPID(n.cfg.PIDFile)
	if err != nil {
		return err
	}

	// Signal 0 probes for process existence.
	if err := syscall.Kill(pid, 0); err != nil {
		return fmt.Errorf("process with pid %d not found: %w", pid, err)
	}
	if err := syscall.Kill(pid, syscall.SIGHUP); err != nil {
		return fmt.Errorf("failed to send SIGHUP to pid %d: %w", pid, err)
	}

	logger.Infow("sent reload signal", "pid", pid, "pid_file", n.cfg.PIDFile)
	return nil
}

// CanSend implements Notifier.
func (n *SignalNotifier) CanSend() bool { return n.role.CanSend() }

// CanReceive implements Notifier.
func (n *SignalNotifier) CanReceive() bool { return n.role.CanReceive() }

// Close implements Notifier.
func (n *SignalNotifier) Close() error {
	n.mu.Lock()
	if n.running {
		signal.Stop(n.sigCh)
		close(n.sigCh)
		<-n.done
		n.running = false
	}
	n.mu.Unlock()

	n.watchers.closeAll()
	return nil
}

//go:build windows

package notifier

import "fmt"

// SignalConfig configures the signal notifier backend.
type SignalConfig struct {
	// PIDFile locates the peer process the sender delivers SIGHUP to.
	PIDFile string
}

// SignalNotifier is unavailable on Windows, which has no SIGHUP.
type SignalNotifier struct{}

// NewSignalNotifier always fails on Windows.
func NewSignalNotifier(_ SignalConfig, _ Role) (*SignalNotifier, error) {
	return nil, fmt.Errorf("signal notifier is not supported on windows")
}

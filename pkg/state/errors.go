package state

import "fmt"

// BuildStateError reports a per-prefix failure during a state build. Builds
// keep going past these: one broken backend must not take down the rest of
// the gateway.
type BuildStateError struct {
	Tenant string
	Server string
	Prefix string
	Kind   string
	Err    error
}

func (e *BuildStateError) Error() string {
	msg := fmt.Sprintf("state build failed (%s)", e.Kind)
	if e.Tenant != "" {
		msg += ", tenant: " + e.Tenant
	}
	if e.Server != "" {
		msg += ", server: " + e.Server
	}
	if e.Prefix != "" {
		msg += ", prefix: " + e.Prefix
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BuildStateError) Unwrap() error {
	return e.Err
}

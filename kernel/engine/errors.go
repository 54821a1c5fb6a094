package engine

import (
	"errors"
	"fmt"
)

// StopReason reports why a session run terminated. Every terminal event
// carries exactly one.
type StopReason string

const (
	StopNormal              StopReason = "normal"
	StopTurnLimitExceeded   StopReason = "turn_limit_exceeded"
	StopBudgetExceeded      StopReason = "budget_exceeded"
	StopCancelled           StopReason = "cancelled"
	StopPermissionInterrupt StopReason = "permission_interrupt"
	StopProviderError       StopReason = "provider_error"
	StopHook                StopReason = "hook_stop"
)

// Err reports whether the reason indicates a failure rather than an
// orderly or limit-triggered stop.
func (r StopReason) Err() bool {
	return r == StopProviderError || r == StopPermissionInterrupt
}

// SessionBusyError indicates one session already has an in-flight run.
type SessionBusyError struct {
	SessionID string
}

func (e *SessionBusyError) Error() string {
	return fmt.Sprintf("engine: session %q is busy", e.SessionID)
}

func IsSessionBusy(err error) bool {
	var target *SessionBusyError
	return errors.As(err, &target)
}

// ProviderError wraps a model adapter failure that survived the adapter's
// own retries. It terminates the session.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("engine: provider %q failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func IsProviderError(err error) bool {
	var target *ProviderError
	return errors.As(err, &target)
}

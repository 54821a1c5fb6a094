// Package permission implements the single authoritative allow/deny
// decision point for tool invocations.
package permission

import (
	"context"
	"sync"
)

// Request describes one tool invocation awaiting a decision. Input is the
// post-hook input; callbacks must treat it as read-only and express
// changes via the decision's UpdatedInput.
type Request struct {
	SessionID  string
	ToolCallID string
	ToolName   string
	Input      map[string]any
}

// Decision is the gate's verdict for one invocation.
type Decision struct {
	Allowed bool
	// UpdatedInput, when non-nil on an allow, replaces the input the
	// executor sees.
	UpdatedInput map[string]any
	// Message carries the denial reason shown to the model.
	Message string
	// Interrupt escalates a denial to session termination instead of an
	// in-band tool-result error.
	Interrupt bool
}

func Allow() Decision {
	return Decision{Allowed: true}
}

func AllowWith(input map[string]any) Decision {
	return Decision{Allowed: true, UpdatedInput: input}
}

func Deny(message string) Decision {
	return Decision{Message: message}
}

func DenyInterrupt(message string) Decision {
	return Decision{Message: message, Interrupt: true}
}

// Callback decides one tool invocation. At most one callback exists per
// session.
type Callback func(context.Context, *Request) Decision

// Gate wraps the session's callback plus its pre-authorized tool set.
// A nil callback means implicit allow. Pre-authorized tools bypass the
// callback entirely; the set only ever grows.
type Gate struct {
	callback Callback

	mu      sync.RWMutex
	preauth map[string]bool
}

func NewGate(callback Callback) *Gate {
	return &Gate{callback: callback, preauth: make(map[string]bool)}
}

// Preauthorize unions names into the pre-authorized set.
func (g *Gate) Preauthorize(names []string) {
	if len(names) == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, name := range names {
		if name != "" {
			g.preauth[name] = true
		}
	}
}

// Preauthorized reports whether a tool bypasses the callback.
func (g *Gate) Preauthorized(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.preauth[name]
}

// PreauthorizedCount reports the size of the pre-authorized set.
func (g *Gate) PreauthorizedCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.preauth)
}

// Evaluate decides one invocation.
func (g *Gate) Evaluate(ctx context.Context, req *Request) Decision {
	if g.Preauthorized(req.ToolName) {
		return Allow()
	}
	if g.callback == nil {
		return Allow()
	}
	return g.callback(ctx, req)
}

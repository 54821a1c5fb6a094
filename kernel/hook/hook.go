// Package hook implements the lifecycle interception pipeline. Hooks
// observe and rewrite in-flight state at named lifecycle points without
// being able to deadlock or corrupt the turn loop.
package hook

import (
	"context"
	"fmt"
	"time"

	"github.com/mb0/glob"

	"github.com/chalkline/agentkit/kernel/model"
)

// Event names a lifecycle point hooks can attach to.
type Event string

const (
	SessionStart   Event = "session_start"
	PreToolUse     Event = "pre_tool_use"
	PostToolUse    Event = "post_tool_use"
	PreCompletion  Event = "pre_completion"
	PostCompletion Event = "post_completion"
	OnError        Event = "on_error"
)

// Payload is the explicit context passed to each hook. Fields are set
// according to the event; hooks must treat everything as read-only and
// express changes through the Result.
type Payload struct {
	SessionID string
	Event     Event

	// Tool fields, set for PreToolUse and PostToolUse.
	ToolCallID string
	ToolName   string
	ToolInput  map[string]any
	// ToolOutput is set for PostToolUse.
	ToolOutput map[string]any
	// ToolIsError is set for PostToolUse.
	ToolIsError bool

	// Err is set for OnError.
	Err error
}

// Result is a hook's verdict. The zero value means continue unchanged.
type Result struct {
	// Stop halts the chain and the triggering flow; for PreToolUse the
	// tool is not executed and Reason becomes the tool-result error.
	Stop   bool
	Reason string
	// UpdatedInput, when non-nil on PreToolUse, replaces the tool input
	// for later hooks in the chain and for the executor.
	UpdatedInput map[string]any
	// UpdatedOutput, when non-nil on PostToolUse, replaces the tool
	// output for later hooks and for the result fed back to the model.
	UpdatedOutput map[string]any
	// ExtraMessage, when non-nil, is appended to session history after
	// the triggering flow completes.
	ExtraMessage *model.Message
}

// Func is a hook callback. Returning an error never halts the flow: the
// error is routed to OnError observers and the chain continues, unless
// the result already asked to stop.
type Func func(context.Context, *Payload) (Result, error)

// Registration binds a callback to an event with an optional tool-name
// glob matcher and a per-invocation timeout.
type Registration struct {
	Event Event
	// Matcher is a glob over tool name; empty matches every tool. It is
	// only consulted for tool events.
	Matcher string
	// Timeout bounds one invocation; zero uses the pipeline default.
	Timeout time.Duration
	Fn      Func
}

// Registry holds hook registrations in strict registration order. It must
// be fully populated before the session starts; the pipeline never
// mutates it.
type Registry struct {
	regs []Registration
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a registration. The matcher glob is validated here so
// a bad pattern fails at composition time, not mid-session.
func (r *Registry) Register(reg Registration) error {
	if reg.Event == "" {
		return fmt.Errorf("hook: event is required")
	}
	if reg.Fn == nil {
		return fmt.Errorf("hook: callback is nil")
	}
	if reg.Matcher != "" {
		if _, err := glob.Match(reg.Matcher, ""); err != nil {
			return fmt.Errorf("hook: invalid matcher %q: %w", reg.Matcher, err)
		}
	}
	r.regs = append(r.regs, reg)
	return nil
}

// On is Register for the common no-matcher case.
func (r *Registry) On(event Event, fn Func) error {
	return r.Register(Registration{Event: event, Fn: fn})
}

// OnTool registers a callback for tool events matching the glob pattern.
func (r *Registry) OnTool(event Event, matcher string, fn Func) error {
	return r.Register(Registration{Event: event, Matcher: matcher, Fn: fn})
}

func (r *Registry) forEvent(event Event, toolName string) []Registration {
	if r == nil {
		return nil
	}
	var out []Registration
	for _, reg := range r.regs {
		if reg.Event != event {
			continue
		}
		if reg.Matcher != "" {
			ok, err := glob.Match(reg.Matcher, toolName)
			if err != nil || !ok {
				continue
			}
		}
		out = append(out, reg)
	}
	return out
}

package hook

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chalkline/agentkit/kernel/model"
)

// DefaultTimeout bounds one hook invocation unless the registration
// overrides it.
const DefaultTimeout = 30 * time.Second

// Config configures a Pipeline.
type Config struct {
	Registry *Registry
	Logger   zerolog.Logger
	// DefaultTimeout applies to registrations without their own timeout.
	DefaultTimeout time.Duration
	// FailClosed turns a hook timeout into a stop verdict instead of the
	// default warn-and-continue.
	FailClosed bool
}

// Pipeline runs hook chains for lifecycle events.
type Pipeline struct {
	registry   *Registry
	log        zerolog.Logger
	timeout    time.Duration
	failClosed bool
}

func NewPipeline(cfg Config) *Pipeline {
	p := &Pipeline{
		registry:   cfg.Registry,
		log:        cfg.Logger,
		timeout:    cfg.DefaultTimeout,
		failClosed: cfg.FailClosed,
	}
	if p.registry == nil {
		p.registry = NewRegistry()
	}
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	return p
}

// Outcome is the merged verdict of one hook chain.
type Outcome struct {
	Stop   bool
	Reason string
	// Input is the final tool input after any rewrites; nil when the
	// event carries no tool input.
	Input map[string]any
	// Output is the final tool output after any rewrites; only set for
	// PostToolUse.
	Output map[string]any
	// ExtraMessages collects hook-contributed messages in chain order.
	ExtraMessages []model.Message
}

// Run executes the chain registered for the payload's event in strict
// registration order. Rewritten input replaces the original for later
// hooks; the chain short-circuits at the first stop verdict. Hook errors
// and timeouts never halt the flow unless FailClosed is set.
func (p *Pipeline) Run(ctx context.Context, payload *Payload) *Outcome {
	out := &Outcome{Input: payload.ToolInput, Output: payload.ToolOutput}
	for _, reg := range p.registry.forEvent(payload.Event, payload.ToolName) {
		if ctx.Err() != nil {
			out.Stop = true
			out.Reason = "cancelled"
			return out
		}
		payload.ToolInput = out.Input
		payload.ToolOutput = out.Output
		res, err, timedOut := p.invoke(ctx, reg, payload)
		if timedOut {
			p.log.Warn().
				Str("event", string(payload.Event)).
				Str("tool", payload.ToolName).
				Dur("timeout", p.timeoutFor(reg)).
				Msg("hook timed out")
			if p.failClosed {
				out.Stop = true
				out.Reason = "hook timed out"
				return out
			}
			continue
		}
		if err != nil {
			p.log.Error().
				Str("event", string(payload.Event)).
				Str("tool", payload.ToolName).
				Err(err).
				Msg("hook failed")
			p.reportError(ctx, payload, err)
			if !res.Stop {
				continue
			}
		}
		if res.UpdatedInput != nil {
			out.Input = res.UpdatedInput
		}
		if res.UpdatedOutput != nil {
			out.Output = res.UpdatedOutput
		}
		if res.ExtraMessage != nil {
			out.ExtraMessages = append(out.ExtraMessages, *res.ExtraMessage)
		}
		if res.Stop {
			out.Stop = true
			out.Reason = res.Reason
			return out
		}
	}
	return out
}

func (p *Pipeline) invoke(ctx context.Context, reg Registration, payload *Payload) (res Result, err error, timedOut bool) {
	timeout := p.timeoutFor(reg)
	hookCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type verdict struct {
		res Result
		err error
	}
	done := make(chan verdict, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- verdict{err: fmt.Errorf("hook panic: %v", r)}
			}
		}()
		r, e := reg.Fn(hookCtx, payload)
		done <- verdict{res: r, err: e}
	}()

	select {
	case v := <-done:
		return v.res, v.err, false
	case <-hookCtx.Done():
		if ctx.Err() != nil {
			return Result{}, ctx.Err(), false
		}
		return Result{}, nil, true
	}
}

func (p *Pipeline) timeoutFor(reg Registration) time.Duration {
	if reg.Timeout > 0 {
		return reg.Timeout
	}
	return p.timeout
}

// reportError dispatches a failed hook to OnError observers. Failures
// inside OnError hooks are only logged, never re-dispatched.
func (p *Pipeline) reportError(ctx context.Context, payload *Payload, hookErr error) {
	if payload.Event == OnError {
		return
	}
	p.Run(ctx, &Payload{
		SessionID:  payload.SessionID,
		Event:      OnError,
		ToolCallID: payload.ToolCallID,
		ToolName:   payload.ToolName,
		Err:        hookErr,
	})
}

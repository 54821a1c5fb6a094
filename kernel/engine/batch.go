package engine

import (
	"context"
	"fmt"

	"github.com/chalkline/agentkit/kernel/hook"
	"github.com/chalkline/agentkit/kernel/model"
	"github.com/chalkline/agentkit/kernel/permission"
	"github.com/chalkline/agentkit/kernel/skills"
	"github.com/chalkline/agentkit/kernel/tool"
)

type callOutcome struct {
	result       model.ToolResult
	patch        *skills.ContextPatch
	extras       []model.Message
	interrupt    bool
	interruptMsg string
	completed    bool
}

type batchOutcome struct {
	// results holds completed tool results in original call order. When a
	// sibling interrupts the batch, results of calls still pending are
	// absent; completed ones are kept.
	results         []model.ToolResult
	patches         []*skills.ContextPatch
	extraMessages   []model.Message
	interrupted     bool
	interruptDetail string
}

// executeBatch runs one assistant message's tool calls, concurrently up
// to the configured cap, and reassembles outcomes in call order. An
// interrupting denial cancels the rest of the batch but still drains it,
// so completed siblings are kept. Session cancellation abandons the
// batch outright: executions still running are not awaited, their
// results are discarded when they eventually return.
func (s *Session) executeBatch(ctx context.Context, st *turnState, calls []model.ToolCall) *batchOutcome {
	batchCtx, cancelBatch := context.WithCancel(ctx)
	defer cancelBatch()

	type indexedOutcome struct {
		i   int
		out callOutcome
	}
	// Buffered so abandoned workers can still send and exit.
	outcomes := make(chan indexedOutcome, len(calls))
	sem := make(chan struct{}, s.engine.cfg.ToolConcurrency)
	for i := range calls {
		go func(i int, call model.ToolCall) {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-batchCtx.Done():
				outcomes <- indexedOutcome{i: i}
				return
			}
			out := s.runToolCall(batchCtx, call)
			if out.interrupt {
				cancelBatch()
			}
			outcomes <- indexedOutcome{i: i, out: out}
		}(i, calls[i])
	}

	slots := make([]callOutcome, len(calls))
	received := 0
drain:
	for received < len(calls) {
		select {
		case res := <-outcomes:
			slots[res.i] = res.out
			received++
		case <-ctx.Done():
			break drain
		}
	}

	out := &batchOutcome{}
	for i, slot := range slots {
		if slot.completed {
			st.settle(calls[i].ID)
			out.results = append(out.results, slot.result)
			out.extraMessages = append(out.extraMessages, slot.extras...)
			if slot.patch != nil {
				out.patches = append(out.patches, slot.patch)
			}
		}
		if slot.interrupt && !out.interrupted {
			out.interrupted = true
			out.interruptDetail = slot.interruptMsg
		}
	}
	return out
}

// runToolCall drives one call through the interception pipeline:
// pre-tool-use hooks, the permission gate, then either the skill
// dispatcher or the tool executor, then post-tool-use hooks. Everything
// short of an interrupting denial settles as an in-band tool result.
func (s *Session) runToolCall(ctx context.Context, call model.ToolCall) callOutcome {
	e := s.engine
	out := callOutcome{completed: true}
	out.result = model.ToolResult{ID: call.ID, Name: call.Name}

	fail := func(format string, args ...any) callOutcome {
		out.result.IsError = true
		out.result.Output = map[string]any{"error": fmt.Sprintf(format, args...)}
		return out
	}

	if call.Malformed {
		return fail("malformed tool input: %s", call.RawInput)
	}

	pre := e.pipeline.Run(ctx, &hook.Payload{
		SessionID:  s.id,
		Event:      hook.PreToolUse,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		ToolInput:  call.Input,
	})
	out.extras = pre.ExtraMessages
	if pre.Stop {
		reason := pre.Reason
		if reason == "" {
			reason = "blocked by hook"
		}
		return fail("tool %q denied: %s", call.Name, reason)
	}
	input := pre.Input

	decision := s.gate.Evaluate(ctx, &permission.Request{
		SessionID:  s.id,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Input:      input,
	})
	if !decision.Allowed {
		if decision.Interrupt {
			out.completed = false
			out.interrupt = true
			out.interruptMsg = decision.Message
			return out
		}
		message := decision.Message
		if message == "" {
			message = "permission denied"
		}
		return fail("tool %q denied: %s", call.Name, message)
	}
	if decision.UpdatedInput != nil {
		input = decision.UpdatedInput
	}

	switch {
	case e.dispatcher != nil && call.Name == skills.MetaToolName:
		patch, result, err := e.dispatcher.Dispatch(ctx, input)
		if err != nil {
			out = fail("%v", err)
		} else {
			out.patch = patch
			out.result.Output = result
		}
	default:
		t, ok := e.cfg.Tools.Lookup(call.Name)
		if !ok {
			out = fail("unknown tool %q", call.Name)
			break
		}
		result, err := t.Run(ctx, input)
		if err != nil {
			if ctx.Err() != nil {
				out.completed = false
				return out
			}
			out = fail("%v", err)
			break
		}
		result, _ = tool.TruncateMap(result, e.cfg.ToolTruncation)
		out.result.Output = result
	}

	post := e.pipeline.Run(ctx, &hook.Payload{
		SessionID:   s.id,
		Event:       hook.PostToolUse,
		ToolCallID:  call.ID,
		ToolName:    call.Name,
		ToolInput:   input,
		ToolOutput:  out.result.Output,
		ToolIsError: out.result.IsError,
	})
	out.extras = append(out.extras, post.ExtraMessages...)
	if post.Output != nil {
		out.result.Output = post.Output
	}
	return out
}

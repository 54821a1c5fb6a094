package engine

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/chalkline/agentkit/kernel/hook"
	"github.com/chalkline/agentkit/kernel/model"
	"github.com/chalkline/agentkit/kernel/permission"
	"github.com/chalkline/agentkit/kernel/session"
	"github.com/chalkline/agentkit/kernel/stream"
)

type runLease struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newRunLease() *runLease {
	return &runLease{active: make(map[string]struct{})}
}

func (l *runLease) acquire(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.active[id]; exists {
		return false
	}
	l.active[id] = struct{}{}
	return true
}

func (l *runLease) release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, id)
}

// Session is the control surface one conversation exposes to a driving
// application. At most one send is in flight per session.
type Session struct {
	engine *Engine
	id     string
	gate   *permission.Gate

	mu            sync.Mutex
	modelOverride string
	cancelRun     context.CancelFunc
}

func (s *Session) ID() string {
	return s.id
}

// Cancel aborts the in-flight send, if any. The run terminates with the
// cancelled stop reason; running tools get their context cancelled and
// are not awaited for results.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancelRun
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) setCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancelRun = cancel
	s.mu.Unlock()
}

func (s *Session) setModelOverride(name string) {
	s.mu.Lock()
	s.modelOverride = name
	s.mu.Unlock()
}

func (s *Session) currentModelOverride() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelOverride
}

// History returns all session messages in order, including the visible
// skill banners observers see and the hidden prompts they do not; callers
// rendering a transcript should skip Hidden messages.
func (s *Session) History(ctx context.Context) ([]model.Message, error) {
	events, err := s.engine.cfg.Store.ListEvents(ctx, s.id)
	if err != nil {
		return nil, err
	}
	return session.Messages(events), nil
}

// ClearHistory drops the session's messages, preserving system messages
// so a configured system prompt survives the wipe.
func (s *Session) ClearHistory(ctx context.Context) error {
	return s.engine.cfg.Store.ClearEvents(ctx, s.id, func(ev *session.Event) bool {
		return ev.Message.Role == model.RoleSystem
	})
}

// SendText is Send for a plain-text user message.
func (s *Session) SendText(ctx context.Context, text string) iter.Seq2[*Event, error] {
	return s.Send(ctx, model.UserText(text))
}

// Send appends the user message and drives the turn loop, yielding
// session events as they happen: completed messages, stream deltas when
// enabled, and exactly one terminal event. The returned sequence is
// single-use.
func (s *Session) Send(ctx context.Context, msg model.Message) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		if ctx == nil {
			ctx = context.Background()
		}
		if !s.engine.lease.acquire(s.id) {
			yield(nil, &SessionBusyError{SessionID: s.id})
			return
		}
		defer s.engine.lease.release(s.id)

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		s.setCancel(cancel)
		defer s.setCancel(nil)

		s.run(runCtx, msg, yield)
	}
}

// Query sends a plain-text message and blocks until the run terminates,
// returning the final assistant text.
func (s *Session) Query(ctx context.Context, text string) (string, error) {
	var lastText string
	var terminal *Event
	for ev, err := range s.SendText(ctx, text) {
		if err != nil {
			return "", err
		}
		switch ev.Kind {
		case EventMessage:
			if ev.Message.Role == model.RoleAssistant {
				if t := ev.Message.Text(); t != "" {
					lastText = t
				}
			}
		case EventTerminal:
			terminal = ev
		}
	}
	if terminal == nil {
		return "", fmt.Errorf("engine: send ended without terminal event")
	}
	if terminal.StopReason.Err() {
		return lastText, fmt.Errorf("engine: session stopped: %s: %s", terminal.StopReason, terminal.Detail)
	}
	return lastText, nil
}

func (s *Session) run(ctx context.Context, msg model.Message, yield func(*Event, error) bool) {
	e := s.engine
	sess, err := e.cfg.Store.GetOrCreate(ctx, s.id)
	if err != nil {
		yield(nil, err)
		return
	}
	existing, err := e.cfg.Store.ListEvents(ctx, sess.ID)
	if err != nil {
		yield(nil, err)
		return
	}

	st := newTurnState()
	if len(existing) == 0 {
		out := e.pipeline.Run(ctx, &hook.Payload{SessionID: s.id, Event: hook.SessionStart})
		if !s.appendMessages(ctx, out.ExtraMessages, yield) {
			return
		}
		if out.Stop {
			s.emitTerminal(st, StopHook, out.Reason, yield)
			return
		}
		if e.cfg.SystemPrompt != "" {
			sys := model.Message{Role: model.RoleSystem, Segments: []model.Segment{model.TextSegment(e.cfg.SystemPrompt)}}
			if !s.appendMessage(ctx, sys, yield) {
				return
			}
		}
	}
	if !s.appendMessage(ctx, msg, yield) {
		return
	}

	for {
		if reason, detail, stop := s.checkTermination(ctx, st); stop {
			s.emitTerminal(st, reason, detail, yield)
			return
		}
		st.transition(StateAwaitingModel)

		pre := e.pipeline.Run(ctx, &hook.Payload{SessionID: s.id, Event: hook.PreCompletion})
		if !s.appendMessages(ctx, pre.ExtraMessages, yield) {
			return
		}
		if pre.Stop {
			s.emitTerminal(st, StopHook, pre.Reason, yield)
			return
		}

		req, err := s.buildRequest(ctx)
		if err != nil {
			yield(nil, err)
			return
		}

		st.transition(StateAccumulating)
		result, runErr := s.streamOne(ctx, req, yield)
		if runErr != nil {
			if ctx.Err() != nil {
				s.emitTerminal(st, StopCancelled, "send cancelled", yield)
				return
			}
			perr := &ProviderError{Provider: e.cfg.Model.Name(), Err: runErr}
			e.log.Error().Str("session", s.id).Err(runErr).Msg("provider stream failed")
			s.emitTerminal(st, StopProviderError, perr.Error(), yield)
			return
		}
		if result == nil {
			// Downstream stopped consuming mid-stream.
			return
		}
		for _, v := range result.Violations {
			e.log.Warn().Str("session", s.id).Str("violation", v.String()).Msg("stream contract violation")
		}
		st.turns++
		st.usage.Add(result.Usage)

		if !s.appendMessage(ctx, result.Message, yield) {
			return
		}

		post := e.pipeline.Run(ctx, &hook.Payload{SessionID: s.id, Event: hook.PostCompletion})
		if !s.appendMessages(ctx, post.ExtraMessages, yield) {
			return
		}
		if post.Stop {
			s.emitTerminal(st, StopHook, post.Reason, yield)
			return
		}

		st.transition(StateInspectingToolCalls)
		calls := result.Message.ToolCalls()
		if len(calls) == 0 {
			if result.StopReason.Terminal() {
				s.emitTerminal(st, StopNormal, string(result.StopReason), yield)
				return
			}
			// Tool-use stop with no calls: nothing to execute, ask again.
			continue
		}

		st.transition(StateExecutingTools)
		st.beginBatch(calls)
		batch := s.executeBatch(ctx, st, calls)
		if ctx.Err() != nil {
			s.emitTerminal(st, StopCancelled, "send cancelled", yield)
			return
		}

		if len(batch.results) > 0 {
			resultMsg := model.Message{Role: model.RoleTool}
			for _, res := range batch.results {
				resultMsg.Segments = append(resultMsg.Segments, model.ToolResultSegment(res))
			}
			if !s.appendMessage(ctx, resultMsg, yield) {
				return
			}
		}
		if !s.appendMessages(ctx, batch.extraMessages, yield) {
			return
		}

		if batch.interrupted {
			s.emitTerminal(st, StopPermissionInterrupt, batch.interruptDetail, yield)
			return
		}

		for _, patch := range batch.patches {
			if !s.appendMessages(ctx, patch.Messages, yield) {
				return
			}
			s.gate.Preauthorize(patch.PreauthorizeTools)
			if patch.ModelOverride != "" {
				s.setModelOverride(patch.ModelOverride)
			}
		}
	}
}

// checkTermination evaluates terminal conditions before each model
// request.
func (s *Session) checkTermination(ctx context.Context, st *turnState) (StopReason, string, bool) {
	if ctx.Err() != nil {
		return StopCancelled, "send cancelled", true
	}
	if max := s.engine.cfg.MaxTurns; max > 0 && st.turns >= max {
		return StopTurnLimitExceeded, fmt.Sprintf("turn limit %d reached", max), true
	}
	if budget := s.engine.cfg.TokenBudget; budget > 0 && st.usage.TotalTokens >= budget {
		return StopBudgetExceeded, fmt.Sprintf("token budget %d reached after %d tokens", budget, st.usage.TotalTokens), true
	}
	return "", "", false
}

// buildRequest assembles model input from history. Visible skill banners
// are observer-only and excluded; hidden skill prompts go to the model as
// user messages.
func (s *Session) buildRequest(ctx context.Context) (*model.Request, error) {
	events, err := s.engine.cfg.Store.ListEvents(ctx, s.id)
	if err != nil {
		return nil, err
	}
	messages := make([]model.Message, 0, len(events))
	for _, ev := range events {
		m := ev.Message
		if m.Role == model.RoleSkill {
			if !m.Hidden {
				continue
			}
			m = model.Message{Role: model.RoleUser, Segments: m.Segments}
		}
		messages = append(messages, m)
	}

	decls := s.engine.cfg.Tools.Declarations()
	if s.engine.dispatcher != nil {
		decls = append(decls, s.engine.dispatcher.Declaration())
	}
	return &model.Request{
		Messages:  messages,
		Tools:     decls,
		Model:     s.currentModelOverride(),
		Reasoning: s.engine.cfg.Reasoning,
	}, nil
}

// streamOne consumes one provider stream into a message. A nil result
// with nil error means the downstream observer stopped consuming.
func (s *Session) streamOne(ctx context.Context, req *model.Request, yield func(*Event, error) bool) (*stream.Result, error) {
	acc := stream.NewAccumulator()
	for ev, err := range s.engine.cfg.Model.Stream(ctx, req) {
		if err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if s.engine.cfg.EmitDeltas {
			if !yield(&Event{Kind: EventDelta, SessionID: s.id, Delta: ev}, nil) {
				return nil, nil
			}
		}
		acc.Add(ev)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return acc.Finalize()
}

func (s *Session) appendMessage(ctx context.Context, msg model.Message, yield func(*Event, error) bool) bool {
	ev := session.NewEvent(s.id, msg)
	if err := s.engine.cfg.Store.AppendEvent(ctx, s.id, ev); err != nil {
		yield(nil, err)
		return false
	}
	return yield(&Event{Kind: EventMessage, SessionID: s.id, Message: &ev.Message}, nil)
}

func (s *Session) appendMessages(ctx context.Context, msgs []model.Message, yield func(*Event, error) bool) bool {
	for _, msg := range msgs {
		if !s.appendMessage(ctx, msg, yield) {
			return false
		}
	}
	return true
}

func (s *Session) emitTerminal(st *turnState, reason StopReason, detail string, yield func(*Event, error) bool) {
	st.terminate(reason, detail)
	yield(&Event{
		Kind:       EventTerminal,
		SessionID:  s.id,
		StopReason: reason,
		Detail:     strings.TrimSpace(detail),
		Usage:      st.usage,
		Snapshot:   st.snapshot(),
	}, nil)
}

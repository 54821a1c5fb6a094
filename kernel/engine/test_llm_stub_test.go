package engine

import (
	"fmt"
	"iter"
	"sync"

	"context"

	"github.com/chalkline/agentkit/kernel/model"
)

// scriptedLLM replays one event script per request and records every
// request it sees.
type scriptedLLM struct {
	name    string
	scripts [][]model.StreamEvent

	mu       sync.Mutex
	requests []*model.Request
}

func newScriptedLLM(scripts ...[]model.StreamEvent) *scriptedLLM {
	return &scriptedLLM{name: "scripted", scripts: scripts}
}

func (l *scriptedLLM) Name() string { return l.name }

func (l *scriptedLLM) Stream(ctx context.Context, req *model.Request) iter.Seq2[*model.StreamEvent, error] {
	l.mu.Lock()
	l.requests = append(l.requests, req)
	n := len(l.requests) - 1
	l.mu.Unlock()
	return func(yield func(*model.StreamEvent, error) bool) {
		if n >= len(l.scripts) {
			yield(nil, fmt.Errorf("scripted llm: unexpected request %d", n+1))
			return
		}
		for i := range l.scripts[n] {
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			if !yield(&l.scripts[n][i], nil) {
				return
			}
		}
	}
}

func (l *scriptedLLM) requestCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}

func (l *scriptedLLM) request(i int) *model.Request {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.requests[i]
}

func textTurn(text string) []model.StreamEvent {
	return []model.StreamEvent{
		{Kind: model.EventTextDelta, Delta: text},
		{Kind: model.EventMessageEnd, StopReason: model.StopEndTurn, Usage: model.Usage{TotalTokens: 10}},
	}
}

func toolCallTurn(text string, calls ...scriptedCall) []model.StreamEvent {
	var evs []model.StreamEvent
	if text != "" {
		evs = append(evs, model.StreamEvent{Kind: model.EventTextDelta, Delta: text})
	}
	for _, call := range calls {
		evs = append(evs,
			model.StreamEvent{Kind: model.EventToolCallStart, CallID: call.id, ToolName: call.name},
			model.StreamEvent{Kind: model.EventToolCallDelta, CallID: call.id, Delta: call.inputJSON},
			model.StreamEvent{Kind: model.EventToolCallEnd, CallID: call.id},
		)
	}
	evs = append(evs, model.StreamEvent{Kind: model.EventMessageEnd, StopReason: model.StopToolUse, Usage: model.Usage{TotalTokens: 10}})
	return evs
}

type scriptedCall struct {
	id        string
	name      string
	inputJSON string
}

// blockingLLM signals its first request and holds the stream open until
// released. It expects exactly one request.
type blockingLLM struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingLLM() *blockingLLM {
	return &blockingLLM{started: make(chan struct{}), release: make(chan struct{})}
}

func (l *blockingLLM) Name() string { return "blocking" }

func (l *blockingLLM) Stream(ctx context.Context, _ *model.Request) iter.Seq2[*model.StreamEvent, error] {
	return func(yield func(*model.StreamEvent, error) bool) {
		close(l.started)
		select {
		case <-l.release:
		case <-ctx.Done():
			yield(nil, ctx.Err())
			return
		}
		if !yield(&model.StreamEvent{Kind: model.EventTextDelta, Delta: "ok"}, nil) {
			return
		}
		yield(&model.StreamEvent{Kind: model.EventMessageEnd, StopReason: model.StopEndTurn}, nil)
	}
}

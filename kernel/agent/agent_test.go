package agent

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/chalkline/agentkit/kernel/engine"
	"github.com/chalkline/agentkit/kernel/model"
	"github.com/chalkline/agentkit/kernel/tool"
)

// scriptedLLM replays one event script per request and records every
// request it sees.
type scriptedLLM struct {
	scripts [][]model.StreamEvent

	mu       sync.Mutex
	requests []*model.Request
}

func newScriptedLLM(scripts ...[]model.StreamEvent) *scriptedLLM {
	return &scriptedLLM{scripts: scripts}
}

func (l *scriptedLLM) Name() string { return "scripted" }

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

func callTurn(callID, name, inputJSON string) []model.StreamEvent {
	return []model.StreamEvent{
		{Kind: model.EventToolCallStart, CallID: callID, ToolName: name},
		{Kind: model.EventToolCallDelta, CallID: callID, Delta: inputJSON},
		{Kind: model.EventToolCallEnd, CallID: callID},
		{Kind: model.EventMessageEnd, StopReason: model.StopToolUse, Usage: model.Usage{TotalTokens: 10}},
	}
}

type echoArgs struct {
	Text string `json:"text"`
}

func testTools(t *testing.T) *tool.Set {
	t.Helper()
	echo := tool.MustFunc("echo", "echoes text", func(_ context.Context, args echoArgs) (map[string]any, error) {
		return map[string]any{"text": args.Text}, nil
	})
	shout := tool.MustFunc("shout", "uppercases text", func(_ context.Context, args echoArgs) (map[string]any, error) {
		return map[string]any{"text": strings.ToUpper(args.Text)}, nil
	})
	set, err := tool.NewSet(echo, shout)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	return set
}

func TestRunReturnsFinalText(t *testing.T) {
	llm := newScriptedLLM(textTurn("the capital is Paris"))
	a, err := New(Config{
		Definition: Definition{
			Name:         "geographer",
			SystemPrompt: "You answer geography questions.",
		},
		Model: llm,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := a.Definition().MaxTurns; got != DefaultMaxTurns {
		t.Fatalf("default MaxTurns = %d, want %d", got, DefaultMaxTurns)
	}

	out, err := a.Run(context.Background(), "capital of France?")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "the capital is Paris" {
		t.Fatalf("Run = %q", out)
	}

	req := llm.request(0)
	if req.Messages[0].Role != model.RoleSystem {
		t.Fatalf("first message role = %q, want system", req.Messages[0].Role)
	}
}

func TestAllowedToolsRestrictDeclarations(t *testing.T) {
	llm := newScriptedLLM(textTurn("ok"))
	a, err := New(Config{
		Definition: Definition{Name: "echoer", AllowedTools: []string{"echo"}},
		Model:      llm,
		Tools:      testTools(t),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := a.Run(context.Background(), "hi"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	req := llm.request(0)
	if len(req.Tools) != 1 || req.Tools[0].Name != "echo" {
		names := make([]string, len(req.Tools))
		for i, d := range req.Tools {
			names[i] = d.Name
		}
		t.Fatalf("declared tools = %v, want [echo]", names)
	}
}

func TestRunReportCollectsOutcome(t *testing.T) {
	llm := newScriptedLLM(
		callTurn("c1", "echo", `{"text":"ping"}`),
		textTurn("echoed ping"),
	)
	a, err := New(Config{
		Definition: Definition{Name: "echoer"},
		Model:      llm,
		Tools:      testTools(t),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rep, err := a.RunReport(context.Background(), "echo ping")
	if err != nil {
		t.Fatalf("RunReport: %v", err)
	}
	if rep.Result != "echoed ping" {
		t.Fatalf("Result = %q", rep.Result)
	}
	if rep.Stop != engine.StopNormal {
		t.Fatalf("Stop = %q (%s)", rep.Stop, rep.Detail)
	}
	if rep.Turns != 2 {
		t.Fatalf("Turns = %d, want 2", rep.Turns)
	}
	if rep.SessionID != a.SessionID() {
		t.Fatalf("SessionID = %q, want %q", rep.SessionID, a.SessionID())
	}
}

func TestResetKeepsSystemPrompt(t *testing.T) {
	llm := newScriptedLLM(textTurn("first"), textTurn("second"))
	a, err := New(Config{
		Definition: Definition{Name: "amnesiac", SystemPrompt: "Be brief."},
		Model:      llm,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := a.Run(context.Background(), "one"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := a.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := a.Run(context.Background(), "two"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	req := llm.request(1)
	for _, msg := range req.Messages {
		if msg.Role == model.RoleUser && msg.Text() == "one" {
			t.Fatal("pre-reset user message survived the wipe")
		}
	}
	if req.Messages[0].Role != model.RoleSystem {
		t.Fatalf("first message role after reset = %q, want system", req.Messages[0].Role)
	}
}

func TestSpawnInheritsModelAndTools(t *testing.T) {
	llm := newScriptedLLM(textTurn("done"))
	parent, err := New(Config{
		Definition: Definition{Name: "lead", Model: "claude", AllowedTools: []string{"echo"}},
		Model:      llm,
		Tools:      testTools(t),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sub, err := parent.Spawn(Definition{
		Name:         "drafter",
		Description:  "writes drafts",
		AllowedTools: []string{"shout"},
	}, SpawnOptions{InheritTools: true})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	def := sub.Definition()
	if def.MaxTurns != defaultSubagentMaxTurns {
		t.Fatalf("subagent MaxTurns = %d, want %d", def.MaxTurns, defaultSubagentMaxTurns)
	}
	if def.Model != "claude" {
		t.Fatalf("subagent model alias = %q, want inherited claude", def.Model)
	}
	names := sub.tools.SortedNames()
	if len(names) != 2 || names[0] != "echo" || names[1] != "shout" {
		t.Fatalf("subagent tools = %v, want [echo shout]", names)
	}
	if sub.SessionID() == parent.SessionID() {
		t.Fatal("subagent shares parent session")
	}

	out, err := sub.Run(context.Background(), "draft it")
	if err != nil {
		t.Fatalf("sub Run: %v", err)
	}
	if out != "done" {
		t.Fatalf("sub Run = %q", out)
	}
}

func TestRegistryLookup(t *testing.T) {
	llm := newScriptedLLM()
	reg := NewRegistry()
	for _, name := range []string{"writer", "reviewer"} {
		a, err := New(Config{Definition: Definition{Name: name}, Model: llm})
		if err != nil {
			t.Fatalf("New %q: %v", name, err)
		}
		reg.Register(a)
	}

	if got := reg.Names(); len(got) != 2 || got[0] != "reviewer" || got[1] != "writer" {
		t.Fatalf("Names = %v", got)
	}
	if !reg.Has("writer") {
		t.Fatal("Has(writer) = false")
	}
	if _, err := reg.Get("editor"); !IsUnknownAgent(err) {
		t.Fatalf("Get(editor) err = %v, want UnknownAgentError", err)
	}
	reg.Unregister("writer")
	if reg.Len() != 1 {
		t.Fatalf("Len after unregister = %d", reg.Len())
	}
}

func TestRegistryLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.yaml")
	content := `agents:
  researcher:
    description: digs up sources
    system_prompt: You research claims.
    model: claude
    max_turns: 3
  summarizer:
    description: condenses text
    model: gpt
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	var resolved []string
	reg := NewRegistry()
	err := reg.LoadFile(path, LoadOptions{
		ResolveModel: func(alias string) (model.LLM, error) {
			resolved = append(resolved, alias)
			return newScriptedLLM(), nil
		},
	})
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if got := reg.Names(); len(got) != 2 || got[0] != "researcher" || got[1] != "summarizer" {
		t.Fatalf("Names = %v", got)
	}
	a, err := reg.Get("researcher")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	def := a.Definition()
	if def.Description != "digs up sources" || def.MaxTurns != 3 || def.Model != "claude" {
		t.Fatalf("definition = %+v", def)
	}
	if len(resolved) != 2 {
		t.Fatalf("resolver called %d times, want 2", len(resolved))
	}
}

func TestDelegateToolRunsNamedAgent(t *testing.T) {
	solver, err := New(Config{
		Definition: Definition{Name: "solver"},
		Model:      newScriptedLLM(textTurn("42")),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	reg := NewRegistry()
	reg.Register(solver)

	delegate := DelegateTool(reg)
	out, err := delegate.Run(context.Background(), map[string]any{
		"agent": "solver",
		"task":  "meaning of life?",
	})
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	if out["result"] != "42" || out["agent"] != "solver" {
		t.Fatalf("delegate result = %v", out)
	}
	if out["stopped"] != string(engine.StopNormal) {
		t.Fatalf("stopped = %v", out["stopped"])
	}

	if _, err := delegate.Run(context.Background(), map[string]any{
		"agent": "nobody",
		"task":  "anything",
	}); !IsUnknownAgent(err) {
		t.Fatalf("unknown agent err = %v, want UnknownAgentError", err)
	}
}

func TestDelegateViaEngineLoop(t *testing.T) {
	solver, err := New(Config{
		Definition: Definition{Name: "solver"},
		Model:      newScriptedLLM(textTurn("42")),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	reg := NewRegistry()
	reg.Register(solver)

	set, err := tool.NewSet(DelegateTool(reg))
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	outer, err := New(Config{
		Definition: Definition{Name: "coordinator"},
		Model: newScriptedLLM(
			callTurn("c1", "delegate", `{"agent":"solver","task":"meaning of life?"}`),
			textTurn("the solver says 42"),
		),
		Tools: set,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := outer.Run(context.Background(), "ask the solver")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "the solver says 42" {
		t.Fatalf("Run = %q", out)
	}
}

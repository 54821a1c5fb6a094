package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/chalkline/agentkit/kernel/hook"
	"github.com/chalkline/agentkit/kernel/model"
	"github.com/chalkline/agentkit/kernel/permission"
	"github.com/chalkline/agentkit/kernel/session/inmemory"
	"github.com/chalkline/agentkit/kernel/skills"
	"github.com/chalkline/agentkit/kernel/tool"
)

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

func addTool(t *testing.T) tool.Tool {
	t.Helper()
	return tool.MustFunc("add", "adds two integers", func(_ context.Context, args addArgs) (map[string]any, error) {
		return map[string]any{"sum": args.A + args.B}, nil
	})
}

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.Store == nil {
		cfg.Store = inmemory.New()
	}
	cfg.Logger = zerolog.Nop()
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

// drain collects every event of a send, failing the test on infra errors.
func drain(t *testing.T, s *Session, ctx context.Context, text string) ([]*Event, *Event) {
	t.Helper()
	var events []*Event
	var terminal *Event
	for ev, err := range s.SendText(ctx, text) {
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		events = append(events, ev)
		if ev.Kind == EventTerminal {
			terminal = ev
		}
	}
	if terminal == nil {
		t.Fatal("send ended without terminal event")
	}
	return events, terminal
}

func TestAddToolEndToEnd(t *testing.T) {
	llm := newScriptedLLM(
		toolCallTurn("", scriptedCall{id: "c1", name: "add", inputJSON: `{"a":2,"b":3}`}),
		textTurn("2 plus 3 is 5."),
	)
	set, _ := tool.NewSet(addTool(t))
	e := newEngine(t, Config{Model: llm, Tools: set})
	s := e.NewSession(SessionConfig{ID: "s1"})

	_, terminal := drain(t, s, context.Background(), "Add 2 and 3")
	if terminal.StopReason != StopNormal {
		t.Fatalf("stop reason = %q (%s)", terminal.StopReason, terminal.Detail)
	}

	history, err := s.History(context.Background())
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	var toolMsg *model.Message
	for i := range history {
		if history[i].Role == model.RoleTool {
			toolMsg = &history[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool-result message in history")
	}
	results := toolMsg.ToolResults()
	if len(results) != 1 || results[0].ID != "c1" || results[0].IsError {
		t.Fatalf("results = %+v", results)
	}
	if sum, ok := results[0].Output["sum"].(int); !ok || sum != 5 {
		// json round-trips integers to float64 inside the function tool.
		if sumF, okF := results[0].Output["sum"].(float64); !okF || sumF != 5 {
			t.Errorf("sum = %v", results[0].Output["sum"])
		}
	}
	final := history[len(history)-1]
	if final.Role != model.RoleAssistant || !strings.Contains(final.Text(), "5") {
		t.Errorf("final message = %+v", final)
	}
	if llm.requestCount() != 2 {
		t.Errorf("model requests = %d", llm.requestCount())
	}
}

func TestDenyContinueKeepsSessionGoing(t *testing.T) {
	llm := newScriptedLLM(
		toolCallTurn("", scriptedCall{id: "c1", name: "add", inputJSON: `{"a":1,"b":1}`}),
		textTurn("I was not allowed to use the add tool."),
	)
	set, _ := tool.NewSet(addTool(t))
	e := newEngine(t, Config{
		Model: llm,
		Tools: set,
		Permission: func(_ context.Context, req *permission.Request) permission.Decision {
			return permission.Deny("arithmetic is disabled")
		},
	})
	s := e.NewSession(SessionConfig{ID: "s1"})

	_, terminal := drain(t, s, context.Background(), "Add 1 and 1")
	if terminal.StopReason != StopNormal {
		t.Fatalf("stop reason = %q", terminal.StopReason)
	}
	history, _ := s.History(context.Background())
	var found bool
	for _, msg := range history {
		for _, res := range msg.ToolResults() {
			if res.IsError && strings.Contains(res.Output["error"].(string), "arithmetic is disabled") {
				found = true
			}
		}
	}
	if !found {
		t.Error("denial not surfaced as tool-result error")
	}
	if llm.requestCount() != 2 {
		t.Errorf("model requests = %d, loop must continue after denial", llm.requestCount())
	}
}

func TestDenyInterruptTerminatesSession(t *testing.T) {
	llm := newScriptedLLM(
		toolCallTurn("", scriptedCall{id: "c1", name: "add", inputJSON: `{"a":1,"b":1}`}),
	)
	set, _ := tool.NewSet(addTool(t))
	e := newEngine(t, Config{
		Model: llm,
		Tools: set,
		Permission: func(context.Context, *permission.Request) permission.Decision {
			return permission.DenyInterrupt("operator abort")
		},
	})
	s := e.NewSession(SessionConfig{ID: "s1"})

	_, terminal := drain(t, s, context.Background(), "Add 1 and 1")
	if terminal.StopReason != StopPermissionInterrupt {
		t.Fatalf("stop reason = %q", terminal.StopReason)
	}
	if !strings.Contains(terminal.Detail, "operator abort") {
		t.Errorf("detail = %q", terminal.Detail)
	}
	if llm.requestCount() != 1 {
		t.Errorf("model requests = %d, interrupt must prevent further requests", llm.requestCount())
	}
}

func TestTurnLimit(t *testing.T) {
	loop := toolCallTurn("", scriptedCall{id: "c1", name: "add", inputJSON: `{"a":1,"b":1}`})
	loop2 := toolCallTurn("", scriptedCall{id: "c2", name: "add", inputJSON: `{"a":1,"b":1}`})
	loop3 := toolCallTurn("", scriptedCall{id: "c3", name: "add", inputJSON: `{"a":1,"b":1}`})
	llm := newScriptedLLM(loop, loop2, loop3)
	set, _ := tool.NewSet(addTool(t))
	e := newEngine(t, Config{Model: llm, Tools: set, MaxTurns: 2})
	s := e.NewSession(SessionConfig{ID: "s1"})

	_, terminal := drain(t, s, context.Background(), "loop forever")
	if terminal.StopReason != StopTurnLimitExceeded {
		t.Fatalf("stop reason = %q", terminal.StopReason)
	}
	if llm.requestCount() != 2 {
		t.Errorf("model requests = %d, want exactly 2", llm.requestCount())
	}
}

func TestTokenBudget(t *testing.T) {
	llm := newScriptedLLM(
		toolCallTurn("", scriptedCall{id: "c1", name: "add", inputJSON: `{"a":1,"b":1}`}),
	)
	set, _ := tool.NewSet(addTool(t))
	// Each scripted turn reports 10 tokens.
	e := newEngine(t, Config{Model: llm, Tools: set, TokenBudget: 5})
	s := e.NewSession(SessionConfig{ID: "s1"})

	_, terminal := drain(t, s, context.Background(), "spend tokens")
	if terminal.StopReason != StopBudgetExceeded {
		t.Fatalf("stop reason = %q", terminal.StopReason)
	}
	if terminal.Usage.TotalTokens != 10 {
		t.Errorf("usage = %+v", terminal.Usage)
	}
	if llm.requestCount() != 1 {
		t.Errorf("model requests = %d", llm.requestCount())
	}
}

func TestMalformedToolInputSurfacesInBand(t *testing.T) {
	llm := newScriptedLLM(
		toolCallTurn("", scriptedCall{id: "c1", name: "add", inputJSON: `{"a": 1,`}),
		textTurn("The tool input was invalid."),
	)
	set, _ := tool.NewSet(addTool(t))
	e := newEngine(t, Config{Model: llm, Tools: set})
	s := e.NewSession(SessionConfig{ID: "s1"})

	_, terminal := drain(t, s, context.Background(), "go")
	if terminal.StopReason != StopNormal {
		t.Fatalf("stop reason = %q", terminal.StopReason)
	}
	history, _ := s.History(context.Background())
	var errText string
	for _, msg := range history {
		for _, res := range msg.ToolResults() {
			if res.IsError {
				errText, _ = res.Output["error"].(string)
			}
		}
	}
	if !strings.Contains(errText, "malformed tool input") {
		t.Errorf("error = %q", errText)
	}
}

func TestHookRewritesToolInput(t *testing.T) {
	llm := newScriptedLLM(
		toolCallTurn("", scriptedCall{id: "c1", name: "add", inputJSON: `{"a":1,"b":1}`}),
		textTurn("done"),
	)
	set, _ := tool.NewSet(addTool(t))
	hooks := hook.NewRegistry()
	if err := hooks.OnTool(hook.PreToolUse, "add", func(_ context.Context, p *hook.Payload) (hook.Result, error) {
		return hook.Result{UpdatedInput: map[string]any{"a": 40, "b": 2}}, nil
	}); err != nil {
		t.Fatal(err)
	}
	e := newEngine(t, Config{Model: llm, Tools: set, Hooks: hooks})
	s := e.NewSession(SessionConfig{ID: "s1"})

	drain(t, s, context.Background(), "add")
	history, _ := s.History(context.Background())
	var sum any
	for _, msg := range history {
		for _, res := range msg.ToolResults() {
			sum = res.Output["sum"]
		}
	}
	if f, ok := sum.(float64); !ok || f != 42 {
		if i, ok := sum.(int); !ok || i != 42 {
			t.Errorf("sum = %v, executor must see rewritten input", sum)
		}
	}
}

func TestSkillDispatchAppliesPatch(t *testing.T) {
	llm := newScriptedLLM(
		toolCallTurn("", scriptedCall{id: "c1", name: skills.MetaToolName, inputJSON: `{"skill":"pdf"}`}),
		toolCallTurn("", scriptedCall{id: "c2", name: "add", inputJSON: `{"a":2,"b":2}`}),
		textTurn("done"),
	)
	set, _ := tool.NewSet(addTool(t))
	reg := skills.NewRegistry()
	reg.RegisterBundled(&skills.Skill{
		Name:         "pdf",
		Prompt:       "You work with PDFs.",
		AllowedTools: []string{"add"},
		Model:        "fast-small",
	})
	denyAll := func(context.Context, *permission.Request) permission.Decision {
		return permission.Deny("nothing is allowed")
	}
	e := newEngine(t, Config{Model: llm, Tools: set, Skills: reg})
	s := e.NewSession(SessionConfig{ID: "s1", Permission: denyAll, PreauthorizedTools: []string{skills.MetaToolName}})

	_, terminal := drain(t, s, context.Background(), "work on the pdf")
	if terminal.StopReason != StopNormal {
		t.Fatalf("stop reason = %q (%s)", terminal.StopReason, terminal.Detail)
	}

	history, _ := s.History(context.Background())
	var banner, hidden *model.Message
	for i := range history {
		if history[i].Role == model.RoleSkill {
			if history[i].Hidden {
				hidden = &history[i]
			} else {
				banner = &history[i]
			}
		}
	}
	if banner == nil || hidden == nil {
		t.Fatal("skill patch messages missing from history")
	}
	if !strings.Contains(hidden.Text(), "You work with PDFs.") {
		t.Errorf("hidden prompt = %q", hidden.Text())
	}

	// The add call on turn two succeeded despite the deny-all callback,
	// so the skill's allowed tools were preauthorized.
	var sawSum bool
	for _, msg := range history {
		for _, res := range msg.ToolResults() {
			if res.Name == "add" && !res.IsError {
				sawSum = true
			}
		}
	}
	if !sawSum {
		t.Error("skill-authorized tool still denied")
	}

	// Model override applies from the next turn on, not retroactively.
	if got := llm.request(0).Model; got != "" {
		t.Errorf("turn 1 model = %q", got)
	}
	if got := llm.request(1).Model; got != "fast-small" {
		t.Errorf("turn 2 model = %q", got)
	}

	// Hidden prompt reaches the model as user input; the banner does not.
	var hiddenSeen, bannerSeen bool
	for _, m := range llm.request(1).Messages {
		if strings.Contains(m.Text(), "You work with PDFs.") {
			hiddenSeen = true
		}
		if strings.Contains(m.Text(), "<command-name>") {
			bannerSeen = true
		}
		if m.Role == model.RoleSkill {
			t.Errorf("skill role leaked into model request: %+v", m)
		}
	}
	if !hiddenSeen {
		t.Error("hidden skill prompt absent from model input")
	}
	if bannerSeen {
		t.Error("visible banner leaked into model input")
	}
}

func TestSkillPreauthorizationUnions(t *testing.T) {
	llm := newScriptedLLM(
		toolCallTurn("", scriptedCall{id: "c1", name: skills.MetaToolName, inputJSON: `{"skill":"a"}`}),
		toolCallTurn("", scriptedCall{id: "c2", name: skills.MetaToolName, inputJSON: `{"skill":"b"}`}),
		textTurn("done"),
	)
	reg := skills.NewRegistry()
	reg.RegisterBundled(&skills.Skill{Name: "a", Prompt: "a", AllowedTools: []string{"read", "grep"}})
	reg.RegisterBundled(&skills.Skill{Name: "b", Prompt: "b", AllowedTools: []string{"grep", "glob"}})
	e := newEngine(t, Config{Model: llm, Skills: reg})
	s := e.NewSession(SessionConfig{ID: "s1"})

	drain(t, s, context.Background(), "load both")
	// Union of both applications plus nothing else.
	for _, name := range []string{"read", "grep", "glob"} {
		if !s.gate.Preauthorized(name) {
			t.Errorf("%s not preauthorized", name)
		}
	}
	if s.gate.PreauthorizedCount() != 3 {
		t.Errorf("preauthorized count = %d", s.gate.PreauthorizedCount())
	}
}

func TestSkillNotFoundStaysInBand(t *testing.T) {
	llm := newScriptedLLM(
		toolCallTurn("", scriptedCall{id: "c1", name: skills.MetaToolName, inputJSON: `{"skill":"ghost"}`}),
		textTurn("That skill does not exist."),
	)
	e := newEngine(t, Config{Model: llm, Skills: skills.NewRegistry()})
	s := e.NewSession(SessionConfig{ID: "s1"})

	_, terminal := drain(t, s, context.Background(), "use ghost")
	if terminal.StopReason != StopNormal {
		t.Fatalf("stop reason = %q", terminal.StopReason)
	}
	history, _ := s.History(context.Background())
	var errText string
	for _, msg := range history {
		for _, res := range msg.ToolResults() {
			if res.IsError {
				errText, _ = res.Output["error"].(string)
			}
		}
	}
	if !strings.Contains(errText, `"ghost" not found`) {
		t.Errorf("error = %q", errText)
	}
}

func TestConcurrentToolResultsKeepCallOrder(t *testing.T) {
	llm := newScriptedLLM(
		toolCallTurn("",
			scriptedCall{id: "c1", name: "slow", inputJSON: `{}`},
			scriptedCall{id: "c2", name: "fast", inputJSON: `{}`},
			scriptedCall{id: "c3", name: "fast", inputJSON: `{}`},
		),
		textTurn("done"),
	)
	slow := tool.MustFunc("slow", "", func(ctx context.Context, _ struct{}) (map[string]any, error) {
		time.Sleep(50 * time.Millisecond)
		return map[string]any{"which": "slow"}, nil
	})
	fast := tool.MustFunc("fast", "", func(context.Context, struct{}) (map[string]any, error) {
		return map[string]any{"which": "fast"}, nil
	})
	set, _ := tool.NewSet(slow, fast)
	e := newEngine(t, Config{Model: llm, Tools: set, ToolConcurrency: 3})
	s := e.NewSession(SessionConfig{ID: "s1"})

	drain(t, s, context.Background(), "run all")
	history, _ := s.History(context.Background())
	var ids []string
	for _, msg := range history {
		for _, res := range msg.ToolResults() {
			ids = append(ids, res.ID)
		}
	}
	want := []string{"c1", "c2", "c3"}
	if len(ids) != 3 {
		t.Fatalf("results = %v", ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("result order = %v, want %v", ids, want)
		}
	}
}

func TestInterruptMidBatchKeepsCompletedSiblings(t *testing.T) {
	llm := newScriptedLLM(
		toolCallTurn("",
			scriptedCall{id: "c1", name: "add", inputJSON: `{"a":1,"b":1}`},
			scriptedCall{id: "c2", name: "forbidden", inputJSON: `{}`},
		),
	)
	addDone := make(chan struct{})
	add := tool.MustFunc("add", "adds two integers", func(_ context.Context, args addArgs) (map[string]any, error) {
		defer close(addDone)
		return map[string]any{"sum": args.A + args.B}, nil
	})
	forbidden := tool.MustFunc("forbidden", "", func(context.Context, struct{}) (map[string]any, error) {
		return map[string]any{}, nil
	})
	set, _ := tool.NewSet(add, forbidden)
	e := newEngine(t, Config{
		Model: llm,
		Tools: set,
		Permission: func(_ context.Context, req *permission.Request) permission.Decision {
			if req.ToolName == "forbidden" {
				// Interrupt only after the sibling has finished, so its
				// completed result is deterministically kept.
				<-addDone
				return permission.DenyInterrupt("forbidden tool requested")
			}
			return permission.Allow()
		},
	})
	s := e.NewSession(SessionConfig{ID: "s1"})

	_, terminal := drain(t, s, context.Background(), "run both")
	if terminal.StopReason != StopPermissionInterrupt {
		t.Fatalf("stop reason = %q", terminal.StopReason)
	}
	history, _ := s.History(context.Background())
	var ids []string
	for _, msg := range history {
		for _, res := range msg.ToolResults() {
			ids = append(ids, res.ID)
		}
	}
	if len(ids) != 1 || ids[0] != "c1" {
		t.Errorf("kept results = %v, completed sibling must survive", ids)
	}
}

func TestCancelMidStream(t *testing.T) {
	llm := newScriptedLLM(textTurn("a long answer"))
	e := newEngine(t, Config{Model: llm, EmitDeltas: true})
	s := e.NewSession(SessionConfig{ID: "s1"})

	ctx, cancel := context.WithCancel(context.Background())
	var terminal *Event
	for ev, err := range s.SendText(ctx, "hello") {
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		if ev.Kind == EventDelta {
			cancel()
		}
		if ev.Kind == EventTerminal {
			terminal = ev
		}
	}
	cancel()
	if terminal == nil || terminal.StopReason != StopCancelled {
		t.Fatalf("terminal = %+v", terminal)
	}
}

func TestCancelAbandonsRunningTool(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	stubborn := tool.MustFunc("stubborn", "blocks until released, ignoring cancellation",
		func(_ context.Context, _ struct{}) (map[string]any, error) {
			close(started)
			<-release
			return map[string]any{"ok": true}, nil
		})
	llm := newScriptedLLM(
		toolCallTurn("", scriptedCall{id: "c1", name: "stubborn", inputJSON: `{}`}),
		textTurn("never reached"),
	)
	set, _ := tool.NewSet(stubborn)
	e := newEngine(t, Config{Model: llm, Tools: set})
	s := e.NewSession(SessionConfig{ID: "s1"})

	go func() {
		<-started
		s.Cancel()
	}()

	// The send must reach its terminal event while the tool is still
	// blocked; release only happens in cleanup.
	var terminal *Event
	for ev, err := range s.SendText(context.Background(), "go") {
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		if ev.Kind == EventTerminal {
			terminal = ev
		}
	}
	if terminal == nil || terminal.StopReason != StopCancelled {
		t.Fatalf("terminal = %+v", terminal)
	}
	history, err := s.History(context.Background())
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	for _, msg := range history {
		if msg.Role == model.RoleTool {
			t.Fatalf("abandoned tool produced a result message: %+v", msg)
		}
	}
}

func TestSessionBusy(t *testing.T) {
	llm := newBlockingLLM()
	e := newEngine(t, Config{Model: llm})
	s := e.NewSession(SessionConfig{ID: "s1"})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, err := range s.SendText(context.Background(), "first") {
			if err != nil {
				t.Errorf("first send: %v", err)
			}
		}
	}()
	<-llm.started

	var busy error
	for _, err := range s.SendText(context.Background(), "second") {
		busy = err
	}
	close(llm.release)
	wg.Wait()
	if !IsSessionBusy(busy) {
		t.Errorf("second send error = %v", busy)
	}
}

func TestClearHistoryPreservesSystemMessages(t *testing.T) {
	llm := newScriptedLLM(textTurn("hi there"))
	e := newEngine(t, Config{Model: llm, SystemPrompt: "be brief"})
	s := e.NewSession(SessionConfig{ID: "s1"})

	drain(t, s, context.Background(), "hello")
	if err := s.ClearHistory(context.Background()); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	history, _ := s.History(context.Background())
	if len(history) != 1 || history[0].Role != model.RoleSystem {
		t.Errorf("history after clear = %+v", history)
	}
}

func TestQueryReturnsFinalText(t *testing.T) {
	llm := newScriptedLLM(textTurn("final answer"))
	e := newEngine(t, Config{Model: llm})
	s := e.NewSession(SessionConfig{})

	out, err := s.Query(context.Background(), "question")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if out != "final answer" {
		t.Errorf("out = %q", out)
	}
	if s.ID() == "" {
		t.Error("session id not generated")
	}
}

func TestHookStopTerminatesBeforeModel(t *testing.T) {
	llm := newScriptedLLM(textTurn("never sent"))
	hooks := hook.NewRegistry()
	if err := hooks.On(hook.PreCompletion, func(context.Context, *hook.Payload) (hook.Result, error) {
		return hook.Result{Stop: true, Reason: "halted by policy"}, nil
	}); err != nil {
		t.Fatal(err)
	}
	e := newEngine(t, Config{Model: llm, Hooks: hooks})
	s := e.NewSession(SessionConfig{ID: "s1"})

	_, terminal := drain(t, s, context.Background(), "hello")
	if terminal.StopReason != StopHook {
		t.Fatalf("stop reason = %q", terminal.StopReason)
	}
	if llm.requestCount() != 0 {
		t.Errorf("model requests = %d, hook stop must prevent dispatch", llm.requestCount())
	}
}

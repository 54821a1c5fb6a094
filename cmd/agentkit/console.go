package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chalkline/agentkit/internal/version"
	"github.com/chalkline/agentkit/kernel/engine"
	"github.com/chalkline/agentkit/kernel/model"
	modelproviders "github.com/chalkline/agentkit/kernel/model/providers"
	"github.com/chalkline/agentkit/kernel/permission"
	"github.com/chalkline/agentkit/kernel/preset"
	"github.com/chalkline/agentkit/kernel/session"
	"github.com/chalkline/agentkit/kernel/skills"
	"github.com/chalkline/agentkit/kernel/tool"
)

const interruptExitWindow = 2 * time.Second

type consoleConfig struct {
	BaseContext    context.Context
	Factory        *modelproviders.Factory
	ModelAlias     string
	Presets        map[string]*preset.Preset
	PresetID       string
	PromptDir      string
	Skills         *skills.Registry
	SystemPrompt   string
	MaxTurns       int
	TokenBudget    int
	ThinkingMode   string
	ThinkingBudget int
	Effort         string
	PermissionMode string
	ShowReasoning  bool
	Tools          *tool.Set
	Store          session.Store
	Logger         zerolog.Logger

	// Editor overrides the interactive input source, used by tests.
	Editor lineEditor
}

type slashCommand struct {
	Usage       string
	Description string
	Handle      func(*console, []string) (bool, error)
}

type console struct {
	cfg    consoleConfig
	editor lineEditor
	out    io.Writer
	logger zerolog.Logger

	modelAlias    string
	presetID      string
	showReasoning bool

	eng        *engine.Engine
	sess       *engine.Session
	sessionSeq int

	commands map[string]slashCommand

	interruptMu     sync.Mutex
	lastInterruptAt time.Time
}

func newConsole(cfg consoleConfig) *console {
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	c := &console{
		cfg:           cfg,
		logger:        cfg.Logger,
		modelAlias:    cfg.ModelAlias,
		presetID:      cfg.PresetID,
		showReasoning: cfg.ShowReasoning,
	}
	c.commands = map[string]slashCommand{
		"help":      {Usage: "/help", Description: "Show command help", Handle: handleHelp},
		"version":   {Usage: "/version", Description: "Show version", Handle: handleVersion},
		"exit":      {Usage: "/exit", Description: "Quit the console", Handle: handleExit},
		"new":       {Usage: "/new", Description: "Start a fresh session", Handle: handleNew},
		"clear":     {Usage: "/clear", Description: "Clear session history, keeping system messages", Handle: handleClear},
		"status":    {Usage: "/status", Description: "Show session status", Handle: handleStatus},
		"models":    {Usage: "/models", Description: "List model aliases", Handle: handleModels},
		"model":     {Usage: "/model <alias>", Description: "Switch model alias", Handle: handleModel},
		"presets":   {Usage: "/presets", Description: "List agent presets", Handle: handlePresets},
		"preset":    {Usage: "/preset <id>", Description: "Activate a preset in a fresh session", Handle: handlePreset},
		"tools":     {Usage: "/tools", Description: "List available tools", Handle: handleTools},
		"skills":    {Usage: "/skills", Description: "List discovered skills", Handle: handleSkills},
		"reasoning": {Usage: "/reasoning", Description: "Toggle reasoning output", Handle: handleReasoning},
	}

	c.editor = cfg.Editor
	if c.editor == nil {
		names := make([]string, 0, len(c.commands))
		for name := range c.commands {
			names = append(names, name)
		}
		sort.Strings(names)
		c.editor = newLineEditor(names)
	}
	c.out = c.editor.Output()
	return c
}

func (c *console) Close() error {
	return c.editor.Close()
}

// attach builds the engine for the current model alias and preset and
// opens a session against it. The session store survives rebuilds, so
// switching models keeps the conversation.
func (c *console) attach() error {
	if c.presetID != "" {
		p, ok := c.cfg.Presets[c.presetID]
		if !ok {
			return fmt.Errorf("unknown preset %q", c.presetID)
		}
		if p.Model != "" {
			c.modelAlias = p.Model
		}
	}
	if err := c.rebuild(); err != nil {
		return err
	}
	if c.sess == nil {
		c.newSession()
	}
	return nil
}

func (c *console) rebuild() error {
	llm, err := c.cfg.Factory.NewByAlias(c.modelAlias)
	if err != nil {
		return err
	}
	base := engine.Config{
		Model:        llm,
		Tools:        c.cfg.Tools,
		Store:        c.cfg.Store,
		SystemPrompt: c.cfg.SystemPrompt,
		Skills:       c.cfg.Skills,
		Permission:   c.defaultPermission(),
		MaxTurns:     c.cfg.MaxTurns,
		TokenBudget:  c.cfg.TokenBudget,
		EmitDeltas:   true,
		Reasoning:    c.reasoningConfig(),
		Logger:       c.logger,
	}
	if c.presetID != "" {
		p, ok := c.cfg.Presets[c.presetID]
		if !ok {
			return fmt.Errorf("unknown preset %q", c.presetID)
		}
		base, err = p.Apply(base, preset.ResolveOptions{
			PromptResolver: c.resolvePrompt,
			Ask:            c.approve,
		})
		if err != nil {
			return err
		}
	}
	eng, err := engine.New(base)
	if err != nil {
		return err
	}
	c.eng = eng
	if c.sess != nil {
		c.sess = eng.NewSession(engine.SessionConfig{ID: c.sess.ID()})
	}
	return nil
}

func (c *console) newSession() {
	c.sessionSeq++
	c.sess = c.eng.NewSession(engine.SessionConfig{ID: fmt.Sprintf("console-%d", c.sessionSeq)})
}

func (c *console) defaultPermission() permission.Callback {
	switch strings.ToLower(strings.TrimSpace(c.cfg.PermissionMode)) {
	case "", "auto":
		return nil
	case "deny":
		return func(ctx context.Context, req *permission.Request) permission.Decision {
			return permission.Deny(fmt.Sprintf("tool %q blocked by console policy", req.ToolName))
		}
	default:
		return c.approve
	}
}

func (c *console) reasoningConfig() model.ReasoningConfig {
	cfg := model.ReasoningConfig{Effort: c.cfg.Effort}
	switch strings.ToLower(strings.TrimSpace(c.cfg.ThinkingMode)) {
	case "on":
		enabled := true
		cfg.Enabled = &enabled
		cfg.BudgetTokens = c.cfg.ThinkingBudget
	case "off":
		enabled := false
		cfg.Enabled = &enabled
	}
	return cfg
}

// approve asks the operator before a tool runs. Answering "a" aborts the
// whole run instead of skipping one call.
func (c *console) approve(ctx context.Context, req *permission.Request) permission.Decision {
	fmt.Fprintf(c.out, "? %s %s\n", req.ToolName, summarizeJSON(req.Input))
	answer, err := c.editor.ReadLine("allow? [y/N/a] ")
	if err != nil {
		return permission.DenyInterrupt("input closed during approval")
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return permission.Allow()
	case "a", "abort":
		return permission.DenyInterrupt("operator abort")
	default:
		return permission.Deny("operator declined")
	}
}

func (c *console) resolvePrompt(name string) (string, error) {
	if c.cfg.PromptDir == "" {
		return "", fmt.Errorf("preset references system prompt %q but no -prompt-dir is set", name)
	}
	raw, err := os.ReadFile(filepath.Join(c.cfg.PromptDir, name+".md"))
	if err != nil {
		return "", fmt.Errorf("load system prompt %q: %w", name, err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func (c *console) loop() error {
	fmt.Fprintf(c.out, "agentkit %s on %s (/help for commands)\n", version.Version, c.modelAlias)
	for {
		line, err := c.editor.ReadLine("> ")
		switch {
		case errors.Is(err, errInputInterrupt):
			if c.interruptedTwice() {
				return nil
			}
			fmt.Fprintln(c.out, "press ^C again to exit")
			continue
		case errors.Is(err, errInputEOF):
			return nil
		case err != nil:
			return err
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := c.dispatch(line)
			if err != nil {
				fmt.Fprintln(c.out, "error:", err)
			}
			if quit {
				return nil
			}
			continue
		}
		c.send(c.cfg.BaseContext, line)
	}
}

func (c *console) interruptedTwice() bool {
	c.interruptMu.Lock()
	defer c.interruptMu.Unlock()
	now := time.Now()
	twice := now.Sub(c.lastInterruptAt) <= interruptExitWindow
	c.lastInterruptAt = now
	return twice
}

func (c *console) dispatch(line string) (bool, error) {
	fields := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(fields) == 0 {
		return false, nil
	}
	cmd, ok := c.commands[strings.ToLower(fields[0])]
	if !ok {
		return false, fmt.Errorf("unknown command /%s, try /help", fields[0])
	}
	return cmd.Handle(c, fields[1:])
}

// runOnce drives a single send to completion, used by the -input flag.
func (c *console) runOnce(ctx context.Context, text string) error {
	c.send(ctx, text)
	return nil
}

func (c *console) send(parent context.Context, text string) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	render := newRenderState(c.out, c.showReasoning)
	for ev, err := range c.sess.SendText(ctx, text) {
		if err != nil {
			if engine.IsSessionBusy(err) {
				fmt.Fprintln(c.out, "! a run is already in flight")
				return
			}
			fmt.Fprintln(c.out, "error:", err)
			return
		}
		render.printEvent(ev)
	}
	render.closePartial()
}

func handleHelp(c *console, _ []string) (bool, error) {
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd := c.commands[name]
		fmt.Fprintf(c.out, "%-18s %s\n", cmd.Usage, cmd.Description)
	}
	return false, nil
}

func handleVersion(c *console, _ []string) (bool, error) {
	fmt.Fprintln(c.out, version.String())
	return false, nil
}

func handleExit(_ *console, _ []string) (bool, error) {
	return true, nil
}

func handleNew(c *console, _ []string) (bool, error) {
	c.newSession()
	fmt.Fprintf(c.out, "session %s\n", c.sess.ID())
	return false, nil
}

func handleClear(c *console, _ []string) (bool, error) {
	if err := c.sess.ClearHistory(c.cfg.BaseContext); err != nil {
		return false, err
	}
	fmt.Fprintln(c.out, "history cleared")
	return false, nil
}

func handleStatus(c *console, _ []string) (bool, error) {
	history, err := c.sess.History(c.cfg.BaseContext)
	if err != nil {
		return false, err
	}
	fmt.Fprintf(c.out, "session    %s\n", c.sess.ID())
	fmt.Fprintf(c.out, "model      %s\n", c.modelAlias)
	if c.presetID != "" {
		fmt.Fprintf(c.out, "preset     %s\n", c.presetID)
	}
	fmt.Fprintf(c.out, "messages   %d\n", len(history))
	fmt.Fprintf(c.out, "tools      %d\n", c.cfg.Tools.Len())
	if c.cfg.Skills != nil {
		fmt.Fprintf(c.out, "skills     %d\n", len(c.cfg.Skills.Names()))
	}
	return false, nil
}

func handleModels(c *console, _ []string) (bool, error) {
	for _, alias := range c.cfg.Factory.ListModels() {
		marker := " "
		if alias == c.modelAlias {
			marker = "*"
		}
		fmt.Fprintf(c.out, "%s %s\n", marker, alias)
	}
	return false, nil
}

func handleModel(c *console, args []string) (bool, error) {
	if len(args) != 1 {
		return false, fmt.Errorf("usage: /model <alias>")
	}
	previous := c.modelAlias
	c.modelAlias = args[0]
	if err := c.rebuild(); err != nil {
		c.modelAlias = previous
		return false, err
	}
	fmt.Fprintf(c.out, "model %s\n", c.modelAlias)
	return false, nil
}

func handlePresets(c *console, _ []string) (bool, error) {
	if len(c.cfg.Presets) == 0 {
		fmt.Fprintln(c.out, "no presets discovered")
		return false, nil
	}
	ids := make([]string, 0, len(c.cfg.Presets))
	for id := range c.cfg.Presets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := c.cfg.Presets[id]
		marker := " "
		if id == c.presetID {
			marker = "*"
		}
		fmt.Fprintf(c.out, "%s %-20s %s\n", marker, id, p.Description)
	}
	return false, nil
}

func handlePreset(c *console, args []string) (bool, error) {
	if len(args) != 1 {
		return false, fmt.Errorf("usage: /preset <id>")
	}
	p, ok := c.cfg.Presets[args[0]]
	if !ok {
		return false, fmt.Errorf("unknown preset %q", args[0])
	}
	previousPreset, previousAlias := c.presetID, c.modelAlias
	c.presetID = args[0]
	if p.Model != "" {
		c.modelAlias = p.Model
	}
	if err := c.rebuild(); err != nil {
		c.presetID, c.modelAlias = previousPreset, previousAlias
		return false, err
	}
	// A preset swaps the system prompt, which only seeds an empty
	// history.
	c.newSession()
	fmt.Fprintf(c.out, "preset %s, session %s\n", c.presetID, c.sess.ID())
	return false, nil
}

func handleTools(c *console, _ []string) (bool, error) {
	for _, name := range c.cfg.Tools.SortedNames() {
		fmt.Fprintln(c.out, name)
	}
	if c.cfg.Skills != nil && len(c.cfg.Skills.Names()) > 0 {
		fmt.Fprintln(c.out, "Skill")
	}
	return false, nil
}

func handleSkills(c *console, _ []string) (bool, error) {
	if c.cfg.Skills == nil || len(c.cfg.Skills.Names()) == 0 {
		fmt.Fprintln(c.out, "no skills discovered")
		return false, nil
	}
	for _, name := range c.cfg.Skills.Names() {
		fmt.Fprintln(c.out, name)
	}
	return false, nil
}

func handleReasoning(c *console, _ []string) (bool, error) {
	c.showReasoning = !c.showReasoning
	fmt.Fprintf(c.out, "reasoning output %v\n", c.showReasoning)
	return false, nil
}

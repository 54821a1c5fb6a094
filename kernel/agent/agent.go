// Package agent layers named, reusable agent configurations over the
// engine. A Definition says what an agent is; an Agent binds that
// definition to a concrete model and a persistent session, so callers
// can run tasks by name instead of assembling engine configs inline.
package agent

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/rs/zerolog"

	"github.com/chalkline/agentkit/kernel/engine"
	"github.com/chalkline/agentkit/kernel/model"
	"github.com/chalkline/agentkit/kernel/permission"
	"github.com/chalkline/agentkit/kernel/session"
	"github.com/chalkline/agentkit/kernel/session/inmemory"
	"github.com/chalkline/agentkit/kernel/tool"
)

// DefaultMaxTurns bounds an agent's turn loop when the definition does
// not set its own limit.
const DefaultMaxTurns = 10

// defaultSubagentMaxTurns is the tighter bound for spawned subagents.
const defaultSubagentMaxTurns = 5

// Definition is the declarative identity of an agent. Model is a
// provider alias resolved at construction time; AllowedTools restricts
// the shared tool set, with an empty list meaning unrestricted.
type Definition struct {
	Name         string   `yaml:"name" json:"name"`
	Description  string   `yaml:"description" json:"description"`
	SystemPrompt string   `yaml:"system_prompt" json:"system_prompt"`
	Model        string   `yaml:"model" json:"model"`
	AllowedTools []string `yaml:"allowed_tools" json:"allowed_tools"`
	MaxTurns     int      `yaml:"max_turns" json:"max_turns"`
}

// Config binds a Definition to runtime collaborators.
type Config struct {
	Definition Definition

	// Model is the concrete LLM the agent runs against. Required.
	Model model.LLM

	// Tools is the base tool set; the definition's AllowedTools
	// restricts it per agent.
	Tools *tool.Set

	// Store holds the agent's session history; nil gets a private
	// in-memory store.
	Store session.Store

	Permission permission.Callback
	Logger     zerolog.Logger
}

// Agent is a Definition bound to an engine and one long-lived session.
// Repeated Run calls share conversation history until Reset.
type Agent struct {
	def   Definition
	llm   model.LLM
	base  *tool.Set
	tools *tool.Set
	sess  *engine.Session
}

func New(cfg Config) (*Agent, error) {
	def := cfg.Definition
	if strings.TrimSpace(def.Name) == "" {
		return nil, fmt.Errorf("agent: name is required")
	}
	if cfg.Model == nil {
		return nil, fmt.Errorf("agent: model is nil")
	}
	if def.MaxTurns <= 0 {
		def.MaxTurns = DefaultMaxTurns
	}
	base := cfg.Tools
	if base == nil {
		base = &tool.Set{}
	}
	tools := base.Restrict(def.AllowedTools)
	store := cfg.Store
	if store == nil {
		store = inmemory.New()
	}
	eng, err := engine.New(engine.Config{
		Model:        cfg.Model,
		Tools:        tools,
		Store:        store,
		SystemPrompt: def.SystemPrompt,
		Permission:   cfg.Permission,
		MaxTurns:     def.MaxTurns,
		Logger:       cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", def.Name, err)
	}
	a := &Agent{def: def, llm: cfg.Model, base: base, tools: tools}
	a.sess = eng.NewSession(engine.SessionConfig{})
	return a, nil
}

// Definition returns the agent's effective definition, defaults applied.
func (a *Agent) Definition() Definition { return a.def }

func (a *Agent) Name() string { return a.def.Name }

// SessionID identifies the agent's conversation in its store.
func (a *Agent) SessionID() string { return a.sess.ID() }

// Run sends a task and blocks until the run terminates, returning the
// final assistant text.
func (a *Agent) Run(ctx context.Context, task string) (string, error) {
	return a.sess.Query(ctx, task)
}

// Stream sends a task and yields session events as they happen.
func (a *Agent) Stream(ctx context.Context, task string) iter.Seq2[*engine.Event, error] {
	return a.sess.SendText(ctx, task)
}

// Reset wipes the agent's conversation history. The configured system
// prompt survives.
func (a *Agent) Reset(ctx context.Context) error {
	return a.sess.ClearHistory(ctx)
}

// Report is the structured outcome of one delegated run.
type Report struct {
	Agent     string
	Task      string
	Result    string
	Turns     int
	Usage     model.Usage
	Stop      engine.StopReason
	Detail    string
	SessionID string
}

// RunReport runs a task and gathers the outcome into a Report: the last
// assistant text plus the terminal stop reason and usage.
func (a *Agent) RunReport(ctx context.Context, task string) (Report, error) {
	rep := Report{Agent: a.def.Name, Task: task, SessionID: a.sess.ID()}
	sawTerminal := false
	for ev, err := range a.Stream(ctx, task) {
		if err != nil {
			return rep, err
		}
		switch ev.Kind {
		case engine.EventMessage:
			if ev.Message.Role == model.RoleAssistant {
				if t := ev.Message.Text(); t != "" {
					rep.Result = t
				}
			}
		case engine.EventTerminal:
			sawTerminal = true
			rep.Stop = ev.StopReason
			rep.Detail = ev.Detail
			rep.Turns = ev.Snapshot.Turns
			rep.Usage = ev.Snapshot.Usage
		}
	}
	if !sawTerminal {
		return rep, fmt.Errorf("agent %q: run ended without terminal event", a.def.Name)
	}
	return rep, nil
}

// SpawnOptions tunes what a subagent inherits from its parent.
type SpawnOptions struct {
	// InheritTools extends the subagent's allowed tools with the
	// parent's effective tools.
	InheritTools bool

	Permission permission.Callback
	Logger     zerolog.Logger
}

// Spawn creates a subagent that shares the parent's model and base tool
// set but runs in its own session with a fresh in-memory history. An
// unset MaxTurns defaults tighter than for top-level agents.
func (a *Agent) Spawn(def Definition, opts SpawnOptions) (*Agent, error) {
	if def.MaxTurns <= 0 {
		def.MaxTurns = defaultSubagentMaxTurns
	}
	if opts.InheritTools {
		def.AllowedTools = append(def.AllowedTools, a.tools.Names()...)
	}
	if def.Model == "" {
		def.Model = a.def.Model
	}
	return New(Config{
		Definition: def,
		Model:      a.llm,
		Tools:      a.base,
		Permission: opts.Permission,
		Logger:     opts.Logger,
	})
}

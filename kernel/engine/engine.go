// Package engine implements the turn loop that drives multi-turn,
// tool-using conversations against a provider-agnostic model interface.
package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chalkline/agentkit/kernel/hook"
	"github.com/chalkline/agentkit/kernel/model"
	"github.com/chalkline/agentkit/kernel/permission"
	"github.com/chalkline/agentkit/kernel/session"
	"github.com/chalkline/agentkit/kernel/skills"
	"github.com/chalkline/agentkit/kernel/tool"
)

const defaultToolConcurrency = 4

// Config configures an Engine.
type Config struct {
	Model model.LLM
	Tools *tool.Set
	Store session.Store

	// SystemPrompt is appended to history as a system message when a
	// session first sends.
	SystemPrompt string

	// Skills, when non-nil, registers the skill meta-tool.
	Skills *skills.Registry

	Hooks *hook.Registry
	// HookTimeout bounds one hook invocation; zero uses hook.DefaultTimeout.
	HookTimeout time.Duration
	// HookFailClosed treats a hook timeout as a stop verdict instead of
	// warn-and-continue.
	HookFailClosed bool

	// Permission is the session-default permission callback; nil means
	// implicit allow.
	Permission permission.Callback

	// MaxTurns bounds model requests per send; zero means unlimited.
	MaxTurns int
	// TokenBudget bounds cumulative total tokens per send; zero means
	// unlimited.
	TokenBudget int

	// ToolConcurrency caps concurrent tool executions within one batch.
	ToolConcurrency int
	ToolTruncation  tool.TruncationPolicy

	// EmitDeltas forwards raw stream events to session observers.
	EmitDeltas bool

	Reasoning model.ReasoningConfig
	Logger    zerolog.Logger
}

// Engine composes the model, tools, stores, and interception pipeline; it
// creates sessions.
type Engine struct {
	cfg        Config
	log        zerolog.Logger
	pipeline   *hook.Pipeline
	dispatcher *skills.Dispatcher
	lease      *runLease
}

func New(cfg Config) (*Engine, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("engine: model is nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine: store is nil")
	}
	if cfg.Tools == nil {
		cfg.Tools = &tool.Set{}
	}
	if _, reserved := cfg.Tools.Lookup(skills.MetaToolName); reserved && cfg.Skills != nil {
		return nil, fmt.Errorf("engine: tool name %q is reserved for the skill dispatcher", skills.MetaToolName)
	}
	if cfg.ToolConcurrency <= 0 {
		cfg.ToolConcurrency = defaultToolConcurrency
	}
	if cfg.ToolTruncation.MaxTokens <= 0 && cfg.ToolTruncation.MaxBytes <= 0 {
		cfg.ToolTruncation = tool.DefaultTruncationPolicy()
	}
	e := &Engine{
		cfg: cfg,
		log: cfg.Logger,
		pipeline: hook.NewPipeline(hook.Config{
			Registry:       cfg.Hooks,
			Logger:         cfg.Logger,
			DefaultTimeout: cfg.HookTimeout,
			FailClosed:     cfg.HookFailClosed,
		}),
		lease: newRunLease(),
	}
	if cfg.Skills != nil {
		e.dispatcher = skills.NewDispatcher(cfg.Skills)
	}
	return e, nil
}

// SessionConfig configures one session.
type SessionConfig struct {
	// ID is generated when empty.
	ID string
	// Permission overrides the engine-default callback for this session.
	Permission permission.Callback
	// PreauthorizedTools bypass the permission callback from the start.
	PreauthorizedTools []string
}

// NewSession creates a session handle. History materializes in the store
// on first send.
func (e *Engine) NewSession(cfg SessionConfig) *Session {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	callback := cfg.Permission
	if callback == nil {
		callback = e.cfg.Permission
	}
	gate := permission.NewGate(callback)
	gate.Preauthorize(cfg.PreauthorizedTools)
	return &Session{
		engine: e,
		id:     cfg.ID,
		gate:   gate,
	}
}

// EventKind tags one session event variant.
type EventKind string

const (
	// EventMessage carries a completed message appended to history.
	EventMessage EventKind = "message"
	// EventDelta forwards one raw provider stream event.
	EventDelta EventKind = "delta"
	// EventTerminal closes a send with a machine-readable stop reason.
	EventTerminal EventKind = "terminal"
)

// Event is one unit of a session's observable stream.
type Event struct {
	Kind      EventKind
	SessionID string

	// Message is set for EventMessage.
	Message *model.Message

	// Delta is set for EventDelta.
	Delta *model.StreamEvent

	// Terminal fields, set for EventTerminal. Detail is human-readable;
	// StopReason is the machine-readable contract.
	StopReason StopReason
	Detail     string
	Usage      model.Usage
	Snapshot   Snapshot
}

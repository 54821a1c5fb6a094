package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/rs/zerolog"

	"github.com/chalkline/agentkit/kernel/model"
	"github.com/chalkline/agentkit/kernel/permission"
	"github.com/chalkline/agentkit/kernel/tool"
)

// UnknownAgentError indicates a lookup for a name nobody registered.
type UnknownAgentError struct {
	Name string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("agent: unknown agent %q", e.Name)
}

func IsUnknownAgent(err error) bool {
	var target *UnknownAgentError
	return errors.As(err, &target)
}

// Registry holds named agents for lookup and delegation. Safe for
// concurrent use.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

func NewRegistry() *Registry {
	return &Registry{agents: map[string]*Agent{}}
}

// Register adds an agent under its name, replacing any previous holder.
func (r *Registry) Register(a *Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.Name()] = a
}

func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, name)
}

func (r *Registry) Get(name string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil, &UnknownAgentError{Name: name}
	}
	return a, nil
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[name]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Names returns registered agent names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.agents))
	for name := range r.agents {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// All returns the registered agents in name order.
func (r *Registry) All() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*Agent, 0, len(names))
	for _, name := range names {
		out = append(out, r.agents[name])
	}
	return out
}

// Definitions returns the effective definitions of all registered
// agents, in name order.
func (r *Registry) Definitions() []Definition {
	all := r.All()
	out := make([]Definition, 0, len(all))
	for _, a := range all {
		out = append(out, a.Definition())
	}
	return out
}

func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.agents)
}

// LoadOptions supplies the collaborators a definition file cannot carry.
type LoadOptions struct {
	// ResolveModel maps a definition's model alias to a concrete LLM.
	// Required.
	ResolveModel func(alias string) (model.LLM, error)

	// Tools is the base tool set shared by loaded agents; each
	// definition's allowed_tools restricts it.
	Tools *tool.Set

	Permission permission.Callback
	Logger     zerolog.Logger
}

// Definition files hold a map of name to definition, either under a
// top-level "agents" key or as the whole document.
type definitionFile struct {
	Agents map[string]Definition `yaml:"agents" json:"agents"`
}

// LoadFile reads agent definitions from a .yaml, .yml, or .json file
// and registers one agent per entry.
func (r *Registry) LoadFile(path string, opts LoadOptions) error {
	if opts.ResolveModel == nil {
		return fmt.Errorf("agent: load %q: ResolveModel is required", path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("agent: read %q: %w", path, err)
	}
	defs, err := parseDefinitions(raw, filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("agent: load %q: %w", path, err)
	}
	for name, def := range defs {
		def.Name = name
		llm, err := opts.ResolveModel(def.Model)
		if err != nil {
			return fmt.Errorf("agent: load %q: agent %q: %w", path, name, err)
		}
		a, err := New(Config{
			Definition: def,
			Model:      llm,
			Tools:      opts.Tools,
			Permission: opts.Permission,
			Logger:     opts.Logger,
		})
		if err != nil {
			return fmt.Errorf("agent: load %q: %w", path, err)
		}
		r.Register(a)
	}
	return nil
}

func parseDefinitions(raw []byte, ext string) (map[string]Definition, error) {
	unmarshal := yaml.Unmarshal
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
	case ".json":
		unmarshal = json.Unmarshal
	default:
		return nil, fmt.Errorf("unsupported file format %q", ext)
	}
	var doc definitionFile
	if err := unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if len(doc.Agents) > 0 {
		return doc.Agents, nil
	}
	// No "agents" key: treat the whole document as the map.
	var defs map[string]Definition
	if err := unmarshal(raw, &defs); err != nil {
		return nil, err
	}
	return defs, nil
}

// LoadDir loads every definition file in a directory. A missing
// directory is not an error.
func (r *Registry) LoadDir(dir string, opts LoadOptions) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("agent: read dir %q: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		if err := r.LoadFile(filepath.Join(dir, entry.Name()), opts); err != nil {
			return err
		}
	}
	return nil
}

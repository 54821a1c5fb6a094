// Package preset loads declarative agent configurations from YAML or
// JSON files and resolves them into engine options.
package preset

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chalkline/agentkit/kernel/engine"
	"github.com/chalkline/agentkit/kernel/permission"
)

// PermissionMode names a canned permission policy.
type PermissionMode string

const (
	// PermissionAsk routes every non-preauthorized call to the session's
	// callback.
	PermissionAsk PermissionMode = "ask"
	// PermissionAutoAllow allows every call without consulting a callback.
	PermissionAutoAllow PermissionMode = "auto_allow"
	// PermissionDenyAll denies every non-preauthorized call in-band.
	PermissionDenyAll PermissionMode = "deny_all"
)

// SystemPrompt is either inline text or a named prompt preset with an
// optional appended suffix.
type SystemPrompt struct {
	Text   string
	Preset string
	Append string
}

// UnmarshalYAML accepts a scalar string or a {type: preset, ...} mapping.
func (s *SystemPrompt) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Decode(&s.Text)
	case yaml.MappingNode:
		var raw struct {
			Type   string `yaml:"type"`
			Preset string `yaml:"preset"`
			Append string `yaml:"append"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		if raw.Type != "preset" {
			return fmt.Errorf("preset: invalid system_prompt type %q", raw.Type)
		}
		s.Preset = raw.Preset
		if s.Preset == "" {
			s.Preset = "assistant"
		}
		s.Append = raw.Append
		return nil
	default:
		return fmt.Errorf("preset: system_prompt must be a string or mapping")
	}
}

// Preset is one declarative agent configuration.
type Preset struct {
	ID           string            `yaml:"id" json:"id"`
	Name         string            `yaml:"name" json:"name"`
	Description  string            `yaml:"description" json:"description"`
	Version      string            `yaml:"version" json:"version"`
	SystemPrompt SystemPrompt      `yaml:"system_prompt" json:"-"`
	AllowedTools []string          `yaml:"allowed_tools" json:"allowed_tools"`
	Skills       []string          `yaml:"skills" json:"skills"`
	Permission   PermissionMode    `yaml:"permission_mode" json:"permission_mode"`
	Model        string            `yaml:"model" json:"model"`
	Provider     string            `yaml:"provider" json:"provider"`
	MaxTurns     int               `yaml:"max_turns" json:"max_turns"`
	TokenBudget  int               `yaml:"token_budget" json:"token_budget"`
	Env          map[string]string `yaml:"env" json:"env"`
}

// Parse decodes YAML preset content and validates it. Env values support
// ${VAR} expansion from the process environment.
func Parse(raw []byte) (*Preset, error) {
	var p Preset
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("preset: parse yaml: %w", err)
	}
	return validate(&p)
}

// ParseJSON decodes a JSON preset. The system_prompt field is only
// supported in YAML presets.
func ParseJSON(raw []byte) (*Preset, error) {
	var p Preset
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("preset: parse json: %w", err)
	}
	return validate(&p)
}

func validate(p *Preset) (*Preset, error) {
	if strings.TrimSpace(p.ID) == "" {
		return nil, fmt.Errorf("preset: id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("preset: name is required")
	}
	switch p.Permission {
	case "", PermissionAsk, PermissionAutoAllow, PermissionDenyAll:
	default:
		return nil, fmt.Errorf("preset: invalid permission_mode %q", p.Permission)
	}
	for k, v := range p.Env {
		p.Env[k] = expandEnv(v)
	}
	return p, nil
}

// Load reads a preset from a .yaml, .yml, or .json file.
func Load(path string) (*Preset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("preset: read %q: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return Parse(raw)
	case ".json":
		return ParseJSON(raw)
	default:
		return nil, fmt.Errorf("preset: unsupported file format %q", filepath.Ext(path))
	}
}

// DiscoverResult includes discovered presets and non-fatal warnings.
type DiscoverResult struct {
	Presets  map[string]*Preset
	Warnings []error
}

// Discover loads every preset file from the given directories, keyed by
// preset id. Missing roots are skipped silently; unreadable or invalid
// files become warnings, never failures. Later directories win on id
// collisions.
func Discover(dirs []string) DiscoverResult {
	out := DiscoverResult{Presets: map[string]*Preset{}}
	for _, dir := range dirs {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			out.Warnings = append(out.Warnings, fmt.Errorf("preset: read dir %q: %w", dir, err))
			continue
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
			p, err := Load(filepath.Join(dir, entry.Name()))
			if err != nil {
				out.Warnings = append(out.Warnings, err)
				continue
			}
			out.Presets[p.ID] = p
		}
	}
	return out
}

// Names returns discovered preset ids, sorted.
func (r DiscoverResult) Names() []string {
	out := make([]string, 0, len(r.Presets))
	for id := range r.Presets {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ResolveOptions supplies the collaborators a preset cannot carry in a
// file: named system-prompt resolution and the interactive asker.
type ResolveOptions struct {
	// PromptResolver resolves a named system-prompt preset to its text.
	// Required when the preset references one.
	PromptResolver func(name string) (string, error)
	// Ask is the callback used for PermissionAsk mode.
	Ask permission.Callback
}

// Apply merges the preset into an engine config: system prompt,
// turn/budget limits, tool restriction, and permission policy. The base
// config supplies everything a preset file cannot, model and store above
// all.
func (p *Preset) Apply(base engine.Config, opts ResolveOptions) (engine.Config, error) {
	prompt, err := p.resolvePrompt(opts.PromptResolver)
	if err != nil {
		return base, err
	}
	if prompt != "" {
		base.SystemPrompt = prompt
	}
	if p.MaxTurns > 0 {
		base.MaxTurns = p.MaxTurns
	}
	if p.TokenBudget > 0 {
		base.TokenBudget = p.TokenBudget
	}
	if len(p.AllowedTools) > 0 && base.Tools != nil {
		base.Tools = base.Tools.Restrict(p.AllowedTools)
	}
	callback, err := p.permissionCallback(opts.Ask)
	if err != nil {
		return base, err
	}
	base.Permission = callback
	return base, nil
}

func (p *Preset) resolvePrompt(resolver func(string) (string, error)) (string, error) {
	if p.SystemPrompt.Preset == "" {
		return p.SystemPrompt.Text, nil
	}
	if resolver == nil {
		return "", fmt.Errorf("preset: %q references system-prompt preset %q but no resolver is configured", p.ID, p.SystemPrompt.Preset)
	}
	text, err := resolver(p.SystemPrompt.Preset)
	if err != nil {
		return "", fmt.Errorf("preset: resolve system prompt %q: %w", p.SystemPrompt.Preset, err)
	}
	if p.SystemPrompt.Append != "" {
		text = text + "\n\n" + p.SystemPrompt.Append
	}
	return text, nil
}

func (p *Preset) permissionCallback(ask permission.Callback) (permission.Callback, error) {
	switch p.Permission {
	case "", PermissionAutoAllow:
		return nil, nil
	case PermissionDenyAll:
		return func(_ context.Context, req *permission.Request) permission.Decision {
			return permission.Deny(fmt.Sprintf("tool %q blocked by preset %q", req.ToolName, p.ID))
		}, nil
	case PermissionAsk:
		if ask == nil {
			return nil, fmt.Errorf("preset: %q uses permission_mode ask but no asker is configured", p.ID)
		}
		return ask, nil
	default:
		return nil, fmt.Errorf("preset: invalid permission_mode %q", p.Permission)
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv substitutes ${VAR} references from the process environment;
// unset variables expand to the empty string.
func expandEnv(value string) string {
	if !strings.Contains(value, "${") {
		return value
	}
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		name := match[2 : len(match)-1]
		return os.Getenv(name)
	})
}

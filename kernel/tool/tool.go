// Package tool defines the executable tool contract and registries.
package tool

import (
	"context"
	"fmt"
	"sort"

	"github.com/chalkline/agentkit/kernel/model"
)

// Tool is the executable tool contract. Run receives decoded structured
// input and returns a structured output map; an error return is reported
// to the model as an in-band tool failure, never raised to the caller.
type Tool interface {
	Name() string
	Description() string
	Declaration() model.ToolDefinition
	Run(context.Context, map[string]any) (map[string]any, error)
}

// Set is an immutable name-indexed tool collection preserving registration
// order for declarations.
type Set struct {
	order  []string
	byName map[string]Tool
}

// NewSet builds a set from tools, rejecting empty and duplicate names.
// Nil entries are skipped.
func NewSet(tools ...Tool) (*Set, error) {
	s := &Set{byName: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if t == nil {
			continue
		}
		name := t.Name()
		if name == "" {
			return nil, fmt.Errorf("tool: empty name")
		}
		if _, exists := s.byName[name]; exists {
			return nil, fmt.Errorf("tool: duplicate tool %q", name)
		}
		s.order = append(s.order, name)
		s.byName[name] = t
	}
	return s, nil
}

// Lookup returns the named tool.
func (s *Set) Lookup(name string) (Tool, bool) {
	if s == nil {
		return nil, false
	}
	t, ok := s.byName[name]
	return t, ok
}

// Len returns the number of tools in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Names returns tool names in registration order.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Declarations returns model-visible declarations in registration order.
func (s *Set) Declarations() []model.ToolDefinition {
	if s == nil {
		return nil
	}
	decls := make([]model.ToolDefinition, 0, len(s.order))
	for _, name := range s.order {
		decls = append(decls, s.byName[name].Declaration())
	}
	return decls
}

// Restrict returns the subset whose names appear in allowed. An empty
// allowed list means no restriction and returns the receiver.
func (s *Set) Restrict(allowed []string) *Set {
	if s == nil || len(allowed) == 0 {
		return s
	}
	permit := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		permit[name] = true
	}
	out := &Set{byName: make(map[string]Tool)}
	for _, name := range s.order {
		if permit[name] {
			out.order = append(out.order, name)
			out.byName[name] = s.byName[name]
		}
	}
	return out
}

// Merge returns a set containing the receiver's tools plus any tools from
// other not already present. Registration order is receiver-first.
func (s *Set) Merge(other *Set) *Set {
	if other == nil || other.Len() == 0 {
		return s
	}
	if s == nil || s.Len() == 0 {
		return other
	}
	out := &Set{byName: make(map[string]Tool, len(s.order)+len(other.order))}
	for _, name := range s.order {
		out.order = append(out.order, name)
		out.byName[name] = s.byName[name]
	}
	for _, name := range other.order {
		if _, exists := out.byName[name]; exists {
			continue
		}
		out.order = append(out.order, name)
		out.byName[name] = other.byName[name]
	}
	return out
}

// SortedNames returns tool names sorted lexically, for stable diagnostics.
func (s *Set) SortedNames() []string {
	names := s.Names()
	sort.Strings(names)
	return names
}

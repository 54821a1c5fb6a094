package skills

import "sort"

// Registry resolves skills across three tiers: explicitly registered
// skills win over project-scoped ones, which win over bundled defaults.
// Within a tier, first registration wins.
type Registry struct {
	explicit []*Skill
	project  []*Skill
	bundled  []*Skill
}

func NewRegistry() *Registry {
	return &Registry{}
}

// RegisterExplicit adds caller-supplied skills to the highest tier.
func (r *Registry) RegisterExplicit(skills ...*Skill) {
	r.explicit = append(r.explicit, skills...)
}

// RegisterProject adds project-scoped skills to the middle tier.
func (r *Registry) RegisterProject(skills ...*Skill) {
	r.project = append(r.project, skills...)
}

// RegisterBundled adds default skills to the lowest tier.
func (r *Registry) RegisterBundled(skills ...*Skill) {
	r.bundled = append(r.bundled, skills...)
}

// Resolve returns the first skill matching name in tier order. A miss
// returns *NotFoundError.
func (r *Registry) Resolve(name string) (*Skill, error) {
	for _, tier := range [][]*Skill{r.explicit, r.project, r.bundled} {
		for _, s := range tier {
			if s != nil && s.Name == name {
				return s, nil
			}
		}
	}
	return nil, &NotFoundError{Name: name, Available: r.Names()}
}

// Names returns the resolvable skill names, deduplicated and sorted.
func (r *Registry) Names() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, tier := range [][]*Skill{r.explicit, r.project, r.bundled} {
		for _, s := range tier {
			if s == nil {
				continue
			}
			if _, dup := seen[s.Name]; dup {
				continue
			}
			seen[s.Name] = struct{}{}
			names = append(names, s.Name)
		}
	}
	sort.Strings(names)
	return names
}

// All returns every resolvable skill (tier winners only), sorted by name.
func (r *Registry) All() []*Skill {
	out := make([]*Skill, 0, len(r.Names()))
	for _, name := range r.Names() {
		if s, err := r.Resolve(name); err == nil {
			out = append(out, s)
		}
	}
	return out
}

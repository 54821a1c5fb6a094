package skills

import (
	"context"
	"fmt"
	"strings"

	"github.com/chalkline/agentkit/kernel/model"
)

// MetaToolName is the reserved tool name the dispatcher registers under.
const MetaToolName = "Skill"

// Dispatcher is the skill meta-tool. It satisfies the executable tool
// contract so it can be declared to the model like any other tool, but
// the turn engine short-circuits its execution: instead of running an
// executor, a successful dispatch yields a ContextPatch the engine
// applies between turns.
type Dispatcher struct {
	registry *Registry
}

func NewDispatcher(registry *Registry) *Dispatcher {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Dispatcher{registry: registry}
}

func (d *Dispatcher) Name() string { return MetaToolName }

func (d *Dispatcher) Description() string {
	var b strings.Builder
	b.WriteString("Execute a skill within the conversation.\n\n")
	b.WriteString("Skills are specialized capability bundles. When the user's request matches a skill's description, invoke this tool.\n\n")
	skills := d.registry.All()
	if len(skills) == 0 {
		b.WriteString("No skills currently available.\n")
	} else {
		b.WriteString("<available_skills>\n")
		for _, s := range skills {
			desc := s.Description
			if desc == "" {
				desc = "No description"
			}
			fmt.Fprintf(&b, "%q: %s\n", s.Name, desc)
		}
		b.WriteString("</available_skills>\n")
	}
	b.WriteString("\nOnly invoke skills listed above, with the name exactly as shown.")
	return b.String()
}

func (d *Dispatcher) Declaration() model.ToolDefinition {
	skillProp := map[string]any{
		"type":        "string",
		"description": "The skill name, exactly as listed in the tool description",
	}
	if names := d.registry.Names(); len(names) > 0 {
		enum := make([]any, len(names))
		for i, n := range names {
			enum[i] = n
		}
		skillProp["enum"] = enum
	}
	return model.ToolDefinition{
		Name:        MetaToolName,
		Description: d.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"skill": skillProp,
				"args": map[string]any{
					"type":        "string",
					"description": "Optional arguments for the skill",
				},
			},
			"required": []string{"skill"},
		},
	}
}

// Dispatch resolves the requested skill and renders its context patch. A
// lookup miss returns *NotFoundError, which the engine surfaces as an
// in-band tool-result error.
func (d *Dispatcher) Dispatch(_ context.Context, input map[string]any) (*ContextPatch, map[string]any, error) {
	name, _ := input["skill"].(string)
	if name == "" {
		return nil, nil, fmt.Errorf("skills: missing skill name")
	}
	args, _ := input["args"].(string)

	skill, err := d.registry.Resolve(name)
	if err != nil {
		return nil, nil, err
	}
	patch := skill.Patch(args)
	result := map[string]any{
		"success": true,
		"skill":   skill.Name,
	}
	if len(patch.PreauthorizeTools) > 0 {
		result["allowed_tools"] = patch.PreauthorizeTools
	}
	if patch.ModelOverride != "" {
		result["model"] = patch.ModelOverride
	}
	return patch, result, nil
}

// Run satisfies the tool contract for callers that execute the dispatcher
// without patch handling; the context patch is discarded.
func (d *Dispatcher) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	_, result, err := d.Dispatch(ctx, input)
	return result, err
}

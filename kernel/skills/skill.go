// Package skills implements reusable prompt+tool bundles and the meta-tool
// that dispatches them into a running session.
package skills

import (
	"fmt"
	"strings"

	"github.com/chalkline/agentkit/kernel/model"
)

// BaseDirPlaceholder is substituted in skill prompts with the skill's
// resolved base directory.
const BaseDirPlaceholder = "{baseDir}"

// Skill is a named bundle of prompt text, tools to pre-authorize, and an
// optional model override.
type Skill struct {
	Name        string
	Description string
	// Prompt is the full instruction text injected when the skill is
	// invoked. It may reference {baseDir}.
	Prompt string
	// AllowedTools are pre-authorized for the rest of the session once
	// the skill loads.
	AllowedTools []string
	// Model, when set, replaces the active model from the next turn on.
	Model string
	// BaseDir is the directory the skill was loaded from; empty for
	// programmatically registered skills.
	BaseDir string
	Version string
	Tags    []string
}

// ContextPatch is the set of mutations one skill invocation applies to a
// session. The engine applies it atomically between turns.
type ContextPatch struct {
	SkillName string
	// Messages to append to history in order: a visible banner for
	// observers, then the hidden full prompt the model sees.
	Messages []model.Message
	// PreauthorizeTools is unioned into the session's pre-authorized set.
	PreauthorizeTools []string
	// ModelOverride replaces the active model for subsequent turns.
	ModelOverride string
}

// Patch renders the skill into a context patch. args, when non-empty, is
// appended to the prompt as invocation arguments.
func (s *Skill) Patch(args string) *ContextPatch {
	prompt := s.Prompt
	if s.BaseDir != "" {
		prompt = strings.ReplaceAll(prompt, BaseDirPlaceholder, s.BaseDir)
	}
	if args != "" {
		prompt += fmt.Sprintf("\n\n## Skill Arguments\n\n%s", args)
	}

	banner := fmt.Sprintf("<command-message>The %q skill is loading</command-message>\n<command-name>%s</command-name>", s.Name, s.Name)
	if args != "" {
		banner += fmt.Sprintf("\n<command-args>%s</command-args>", args)
	}

	return &ContextPatch{
		SkillName: s.Name,
		Messages: []model.Message{
			{Role: model.RoleSkill, Segments: []model.Segment{model.TextSegment(banner)}},
			{Role: model.RoleSkill, Segments: []model.Segment{model.TextSegment(prompt)}, Hidden: true},
		},
		PreauthorizeTools: append([]string(nil), s.AllowedTools...),
		ModelOverride:     s.Model,
	}
}

// NotFoundError reports a skill lookup miss. It stays in-band as a
// tool-result error, never terminating the session.
type NotFoundError struct {
	Name      string
	Available []string
}

func (e *NotFoundError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("skill %q not found (no skills registered)", e.Name)
	}
	return fmt.Sprintf("skill %q not found, available: %s", e.Name, strings.Join(e.Available, ", "))
}

package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// frontMatter is the YAML header of a SKILL.md file.
type frontMatter struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	AllowedTools []string `yaml:"allowed-tools"`
	Model        string   `yaml:"model"`
	Version      string   `yaml:"version"`
	Tags         []string `yaml:"tags"`
}

// ParseSkillMD parses SKILL.md content. The frontmatter is optional; the
// remaining markdown becomes the skill prompt. defaultName is used when
// the frontmatter names nothing, conventionally the directory name.
func ParseSkillMD(content, defaultName string) (*Skill, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	body := content
	var fm frontMatter

	trimmed := strings.TrimLeft(content, "\n\t ")
	if strings.HasPrefix(trimmed, "---\n") {
		rest := strings.TrimPrefix(trimmed, "---\n")
		if idx := strings.Index(rest, "\n---"); idx >= 0 {
			if err := yaml.Unmarshal([]byte(rest[:idx]), &fm); err != nil {
				return nil, fmt.Errorf("skills: invalid frontmatter: %w", err)
			}
			body = rest[idx+len("\n---"):]
			body = strings.TrimPrefix(body, "\n")
		}
	}

	name := strings.TrimSpace(fm.Name)
	if name == "" {
		name = defaultName
	}
	if name == "" {
		return nil, fmt.Errorf("skills: skill has no name")
	}
	return &Skill{
		Name:         name,
		Description:  strings.TrimSpace(fm.Description),
		Prompt:       strings.TrimSpace(body),
		AllowedTools: fm.AllowedTools,
		Model:        strings.TrimSpace(fm.Model),
		Version:      strings.TrimSpace(fm.Version),
		Tags:         fm.Tags,
	}, nil
}

// LoadDir loads a skill from a directory containing SKILL.md.
func LoadDir(dir string) (*Skill, error) {
	path := filepath.Join(dir, "SKILL.md")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("skills: read %q: %w", path, err)
	}
	skill, err := ParseSkillMD(string(raw), filepath.Base(filepath.Clean(dir)))
	if err != nil {
		return nil, err
	}
	skill.BaseDir = filepath.Clean(dir)
	return skill, nil
}

// DiscoverResult includes discovered skills and non-fatal warnings.
type DiscoverResult struct {
	Skills   []*Skill
	Warnings []error
}

// Discover scans directories for skill subdirectories holding a SKILL.md.
// Missing roots are skipped silently; unreadable or invalid skills become
// warnings, never failures.
func Discover(dirs []string) DiscoverResult {
	var out DiscoverResult
	seen := make(map[string]struct{})

	for _, dir := range dirs {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		resolved, err := resolveDir(dir)
		if err != nil {
			out.Warnings = append(out.Warnings, fmt.Errorf("skills: resolve %q: %w", dir, err))
			continue
		}
		entries, err := os.ReadDir(resolved)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			out.Warnings = append(out.Warnings, fmt.Errorf("skills: read dir %q: %w", resolved, err))
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			skillDir := filepath.Join(resolved, entry.Name())
			if _, err := os.Stat(filepath.Join(skillDir, "SKILL.md")); err != nil {
				continue
			}
			skill, err := LoadDir(skillDir)
			if err != nil {
				out.Warnings = append(out.Warnings, err)
				continue
			}
			if _, exists := seen[skill.Name]; exists {
				continue
			}
			seen[skill.Name] = struct{}{}
			out.Skills = append(out.Skills, skill)
		}
	}

	sort.Slice(out.Skills, func(i, j int) bool {
		return out.Skills[i].Name < out.Skills[j].Name
	})
	return out
}

func resolveDir(dir string) (string, error) {
	if strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~/"))
	}
	if !filepath.IsAbs(dir) {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(wd, dir)
	}
	return filepath.Clean(dir), nil
}

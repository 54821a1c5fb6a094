package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/chalkline/agentkit/internal/envload"
	"github.com/chalkline/agentkit/internal/version"
	modelproviders "github.com/chalkline/agentkit/kernel/model/providers"
	"github.com/chalkline/agentkit/kernel/preset"
	"github.com/chalkline/agentkit/kernel/session/inmemory"
	"github.com/chalkline/agentkit/kernel/skills"
	skillsbuiltin "github.com/chalkline/agentkit/kernel/skills/builtin"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	envload.LoadNearest()

	fs := flag.NewFlagSet("agentkit", flag.ContinueOnError)
	var (
		modelAlias     = fs.String("model", "claude", "Model alias")
		modelsFile     = fs.String("models", "", "Model config YAML path (adds to built-in aliases)")
		presetID       = fs.String("preset", "", "Agent preset id")
		presetDirs     = fs.String("preset-dirs", "~/.agentkit/presets,.agentkit/presets", "Comma-separated preset directories")
		skillsDirs     = fs.String("skills-dirs", "~/.agentkit/skills,.agentkit/skills", "Comma-separated skill directories")
		promptDir      = fs.String("prompt-dir", "", "Directory holding named system prompt files")
		systemPrompt   = fs.String("system-prompt", "You are a helpful assistant.", "Base system prompt")
		input          = fs.String("input", "", "One-shot input text; empty starts the console")
		maxTurns       = fs.Int("max-turns", 0, "Model request limit per send (0 = unlimited)")
		tokenBudget    = fs.Int("token-budget", 0, "Cumulative token budget per send (0 = unlimited)")
		thinkingMode   = fs.String("thinking", "auto", "Thinking mode: auto|on|off")
		thinkingBudget = fs.Int("thinking-budget", 0, "Thinking token budget when thinking=on")
		effort         = fs.String("effort", "", "Reasoning effort hint: low|medium|high")
		permissionFlag = fs.String("permission", "ask", "Permission mode: ask|auto|deny")
		showReasoning  = fs.Bool("reasoning", false, "Render reasoning deltas")
		logLevel       = fs.String("log-level", "warn", "Log level: trace|debug|info|warn|error")
		showVersion    = fs.Bool("version", false, "Show version and exit")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Println(version.String())
		return nil
	}
	if rest := fs.Args(); len(rest) > 0 {
		return fmt.Errorf("unknown arguments: %v", rest)
	}

	logger, err := newLogger(*logLevel)
	if err != nil {
		return err
	}

	factory := modelproviders.NewFactory()
	if err := registerBuiltinModels(factory); err != nil {
		return err
	}
	if *modelsFile != "" {
		if err := registerModelsFile(factory, *modelsFile); err != nil {
			return err
		}
	}

	skillResult := skills.Discover(splitList(*skillsDirs))
	for _, warn := range skillResult.Warnings {
		logger.Warn().Err(warn).Msg("skill skipped")
	}
	registry := skills.NewRegistry()
	registry.RegisterBundled(skillsbuiltin.Skills()...)
	registry.RegisterProject(skillResult.Skills...)

	presetResult := preset.Discover(splitList(*presetDirs))
	for _, warn := range presetResult.Warnings {
		logger.Warn().Err(warn).Msg("preset skipped")
	}

	console := newConsole(consoleConfig{
		BaseContext:    ctx,
		Factory:        factory,
		ModelAlias:     *modelAlias,
		Presets:        presetResult.Presets,
		PresetID:       *presetID,
		PromptDir:      *promptDir,
		Skills:         registry,
		SystemPrompt:   *systemPrompt,
		MaxTurns:       *maxTurns,
		TokenBudget:    *tokenBudget,
		ThinkingMode:   *thinkingMode,
		ThinkingBudget: *thinkingBudget,
		Effort:         *effort,
		PermissionMode: *permissionFlag,
		ShowReasoning:  *showReasoning,
		Tools:          localTools(),
		Store:          inmemory.New(),
		Logger:         logger,
	})
	defer console.Close()

	if err := console.attach(); err != nil {
		return err
	}
	if *input != "" {
		return console.runOnce(ctx, *input)
	}
	return console.loop()
}

func newLogger(level string) (zerolog.Logger, error) {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q", level)
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr}
	return zerolog.New(writer).Level(parsed).With().Timestamp().Logger(), nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

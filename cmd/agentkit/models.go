package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	modelproviders "github.com/chalkline/agentkit/kernel/model/providers"
)

// Built-in aliases cover the stock providers; tokens come from the
// conventional environment variables so a bare invocation works once a
// key is exported.
func registerBuiltinModels(factory *modelproviders.Factory) error {
	builtin := []modelproviders.Config{
		{
			Alias:    "claude",
			Provider: "anthropic",
			API:      modelproviders.APIAnthropic,
			Model:    "claude-sonnet-4-20250514",
			Auth:     modelproviders.AuthConfig{TokenEnv: "ANTHROPIC_API_KEY"},
		},
		{
			Alias:    "gpt",
			Provider: "openai",
			API:      modelproviders.APIOpenAI,
			Model:    "gpt-4o",
			Auth:     modelproviders.AuthConfig{TokenEnv: "OPENAI_API_KEY"},
		},
		{
			Alias:    "gemini",
			Provider: "google",
			API:      modelproviders.APIGemini,
			Model:    "gemini-2.5-flash",
			Auth:     modelproviders.AuthConfig{TokenEnv: "GEMINI_API_KEY"},
		},
		{
			Alias:    "deepseek",
			Provider: "deepseek",
			API:      modelproviders.APIDeepSeek,
			Model:    "deepseek-chat",
			Auth:     modelproviders.AuthConfig{TokenEnv: "DEEPSEEK_API_KEY"},
		},
	}
	for _, cfg := range builtin {
		if err := factory.Register(cfg); err != nil {
			return err
		}
	}
	return nil
}

type modelsFile struct {
	Models []modelFileEntry `yaml:"models"`
}

type modelFileEntry struct {
	Alias        string `yaml:"alias"`
	Provider     string `yaml:"provider"`
	API          string `yaml:"api"`
	Model        string `yaml:"model"`
	BaseURL      string `yaml:"base_url"`
	TimeoutSec   int    `yaml:"timeout_seconds"`
	MaxOutputTok int    `yaml:"max_output_tokens"`
	MaxRetries   int    `yaml:"max_retries"`
	Token        string `yaml:"token"`
	TokenEnv     string `yaml:"token_env"`
}

// registerModelsFile loads extra aliases from a YAML file. File entries
// may shadow built-in aliases.
func registerModelsFile(factory *modelproviders.Factory, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read models file: %w", err)
	}
	var file modelsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse models file %s: %w", path, err)
	}
	for i, entry := range file.Models {
		cfg := modelproviders.Config{
			Alias:        entry.Alias,
			Provider:     entry.Provider,
			API:          modelproviders.APIType(entry.API),
			Model:        entry.Model,
			BaseURL:      entry.BaseURL,
			Timeout:      time.Duration(entry.TimeoutSec) * time.Second,
			MaxOutputTok: entry.MaxOutputTok,
			MaxRetries:   entry.MaxRetries,
			Auth: modelproviders.AuthConfig{
				Token:    entry.Token,
				TokenEnv: entry.TokenEnv,
			},
		}
		if err := factory.Register(cfg); err != nil {
			return fmt.Errorf("models file %s entry %d: %w", path, i, err)
		}
	}
	return nil
}

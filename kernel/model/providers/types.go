package providers

import "time"

// APIType defines protocol dialect used by a model provider.
type APIType string

const (
	APIOpenAI           APIType = "openai"
	APIOpenAICompatible APIType = "openai_compatible"
	APIAnthropic        APIType = "anthropic"
	APIGemini           APIType = "gemini"
	APIDeepSeek         APIType = "deepseek"
)

// AuthConfig is provider-agnostic auth configuration. Token wins over
// TokenEnv when both are set.
type AuthConfig struct {
	Token    string
	TokenEnv string
}

// Config is a provider-agnostic model alias definition.
type Config struct {
	Alias        string
	Provider     string
	API          APIType
	Model        string
	BaseURL      string
	Timeout      time.Duration
	MaxOutputTok int
	// MaxRetries bounds adapter-side retries of a failed request before
	// the first stream event is delivered; zero uses the default.
	MaxRetries int
	Auth       AuthConfig
}

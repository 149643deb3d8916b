package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

const (
	AuthModeGoogle = "google"
	AuthModeDev    = "dev"

	CompletionBackendOpenAI    = "openai"
	CompletionBackendLangChain = "langchain"
)

type Config struct {
	Port           string   `env:"PORT" envDefault:"3001"`
	DatabaseURL    string   `env:"DATABASE_URL" envDefault:"sqlite://./aurora/db/aurora.db"`
	RabbitMQURL    string   `env:"RABBITMQ_URL"` // empty keeps change events in process
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	AuthMode       string `env:"AUTH_MODE" envDefault:"google"`
	GoogleClientId string `env:"GOOGLE_CLIENT_ID"`

	CompletionBackend  string `env:"COMPLETION_BACKEND" envDefault:"openai"`
	CompletionProvider string `env:"COMPLETION_PROVIDER" envDefault:"openai"`
	CompletionAPIKey   string `env:"COMPLETION_API_KEY,notEmpty,required"`
	CompletionBaseURL  string `env:"COMPLETION_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta/openai/"`
	CompletionModel    string `env:"COMPLETION_MODEL" envDefault:"gemini-2.5-flash"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing config: %w", err)
	}

	switch cfg.AuthMode {
	case AuthModeGoogle, AuthModeDev:
	default:
		return Config{}, fmt.Errorf("invalid AUTH_MODE '%s', expected '%s' or '%s'", cfg.AuthMode, AuthModeGoogle, AuthModeDev)
	}

	switch cfg.CompletionBackend {
	case CompletionBackendOpenAI, CompletionBackendLangChain:
	default:
		return Config{}, fmt.Errorf("invalid COMPLETION_BACKEND '%s', expected '%s' or '%s'", cfg.CompletionBackend, CompletionBackendOpenAI, CompletionBackendLangChain)
	}

	return cfg, nil
}

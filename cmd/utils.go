package cmd

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"

	"aurora-backend/internal/completion"
	"aurora-backend/internal/config"
	"aurora-backend/internal/identity"
	"aurora-backend/internal/messaging"

	"github.com/joho/godotenv"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

func CreateIdentityProvider(cfg config.Config) identity.Provider {
	if cfg.AuthMode == config.AuthModeDev {
		slog.Warn("development sign-in is enabled, any 'dev:' credential will be accepted")
		return identity.DevProvider{}
	}

	if cfg.GoogleClientId == "" {
		slog.Warn("GOOGLE_CLIENT_ID not set, id tokens issued to any client will be accepted")
	}
	return identity.NewGoogleProvider(cfg.GoogleClientId)
}

func CreateCompletionClient(ctx context.Context, cfg config.Config) (completion.Client, error) {
	switch cfg.CompletionBackend {
	case config.CompletionBackendLangChain:
		client, err := completion.NewLangChainClient(ctx, cfg.CompletionProvider, cfg.CompletionAPIKey, cfg.CompletionModel)
		if err != nil {
			return nil, fmt.Errorf("error creating langchain completion client: %w", err)
		}
		return client, nil
	default:
		return completion.NewOpenAIClient(cfg.CompletionAPIKey, cfg.CompletionBaseURL, cfg.CompletionModel), nil
	}
}

func CreateChangeBus(cfg config.Config) (messaging.Bus, error) {
	if cfg.RabbitMQURL == "" {
		slog.Info("RABBITMQ_URL not set, change events will not reach other replicas")
		return messaging.NewInMemoryQueue(), nil
	}

	bus, err := messaging.NewRabbitMQBus(cfg.RabbitMQURL)
	if err != nil {
		return nil, fmt.Errorf("error connecting to rabbitmq: %w", err)
	}
	return bus, nil
}

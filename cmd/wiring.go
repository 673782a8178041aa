package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"psych-agent/handler"
	"psych-agent/internal/config"
	"psych-agent/internal/integrations/anthropic"
	"psych-agent/internal/integrations/openai"
	"psych-agent/internal/integrations/paramstore"
	"psych-agent/internal/observe"
	"psych-agent/internal/repository"
	"psych-agent/internal/repository/postgres"
	"psych-agent/internal/repository/sqlite"
	"psych-agent/internal/usecase"
)

type app struct {
	handler *handler.Handler
	close   func()
}

func setupLogger(cfg *config.Config, asJSON bool) {
	opts := &slog.HandlerOptions{Level: cfg.Server.LogLevel.SlogLevel()}
	var h slog.Handler
	if asJSON {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

// buildApp wires stores, generation backend, services, and the handler.
func buildApp(ctx context.Context, cfg *config.Config, metrics *observe.Metrics) (*app, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, fmt.Errorf("create SSM client: %w", err)
	}
	if err := config.ApplyParams(ctx, cfg, ssmClient); err != nil {
		return nil, err
	}

	store, closeStore, err := openStore(ctx, cfg, func() (repository.Store, error) {
		return repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.Store.Table)
	})
	if err != nil {
		return nil, err
	}

	gen, err := newGenerator(cfg, ssmClient)
	if err != nil {
		closeStore()
		return nil, err
	}

	h, err := newHandler(cfg, store, gen, metrics)
	if err != nil {
		closeStore()
		return nil, err
	}
	slog.Info("psych-agent ready",
		"store", cfg.Store.Backend,
		"provider", cfg.Generation.Provider,
		"model", cfg.EffectiveModel(),
		"serialize_turns", cfg.SerializeTurns,
	)
	return &app{handler: h, close: closeStore}, nil
}

// openStore opens the configured backend. dynamo is only called for the
// dynamodb backend.
func openStore(ctx context.Context, cfg *config.Config, dynamo func() (repository.Store, error)) (repository.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		s, closeFn, err := postgres.Open(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return s, closeFn, nil
	case config.BackendSQLite:
		s, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	case config.BackendDynamoDB:
		s, err := dynamo()
		if err != nil {
			return nil, nil, fmt.Errorf("create dynamodb store: %w", err)
		}
		return s, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func newGenerator(cfg *config.Config, ps paramstore.Getter) (usecase.Generator, error) {
	switch cfg.Generation.Provider {
	case config.ProviderAnthropic:
		c, err := anthropic.NewClient(ps, cfg.ParamPrefix)
		if err != nil {
			return nil, fmt.Errorf("create Anthropic client: %w", err)
		}
		return c, nil
	default:
		c, err := openai.NewClient(ps, cfg.ParamPrefix)
		if err != nil {
			return nil, fmt.Errorf("create OpenAI client: %w", err)
		}
		return c, nil
	}
}

func newHandler(cfg *config.Config, store repository.Store, gen usecase.Generator, metrics *observe.Metrics) (*handler.Handler, error) {
	identity, err := usecase.NewIdentityResolver(store)
	if err != nil {
		return nil, err
	}
	personas, err := usecase.NewPersonaResolver(store, cfg.Persona.Default)
	if err != nil {
		return nil, err
	}
	users, err := usecase.NewUserService(identity, personas, store)
	if err != nil {
		return nil, err
	}
	chat, err := usecase.NewChatService(identity, personas, store, gen, cfg.EffectiveModel(),
		usecase.WithMetrics(metrics),
		usecase.WithTurnSerialization(cfg.SerializeTurns),
	)
	if err != nil {
		return nil, err
	}
	return handler.NewHandler(chat, users)
}

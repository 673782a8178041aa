// Package config holds runtime settings for psych-agent. Values come from
// built-in defaults, an optional YAML file, environment variables, and SSM
// Parameter Store, applied in that order.
package config

import (
	"log/slog"
)

type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to a slog level. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Store backends.
const (
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Generation providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

type Config struct {
	// ParamPrefix is the SSM path under which tokens and overrides live,
	// e.g. "/psych-agent".
	ParamPrefix string `yaml:"param_prefix"`

	Store      StoreConfig      `yaml:"store"`
	Generation GenerationConfig `yaml:"generation"`
	Persona    PersonaConfig    `yaml:"persona"`
	Server     ServerConfig     `yaml:"server"`

	// SerializeTurns serializes turns of the same user within one process.
	SerializeTurns bool `yaml:"serialize_turns"`
}

type StoreConfig struct {
	Backend     string `yaml:"backend"`
	Table       string `yaml:"table"`
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`
}

type GenerationConfig struct {
	Provider string `yaml:"provider"`
	// Model defaults per provider when empty.
	Model string `yaml:"model"`
}

type PersonaConfig struct {
	// Default is assigned to new users and used whenever a user's own persona
	// is unset or blank.
	Default string `yaml:"default"`
}

type ServerConfig struct {
	Addr     string   `yaml:"addr"`
	LogLevel LogLevel `yaml:"log_level"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:    BackendDynamoDB,
			SQLitePath: "psych-agent.db",
		},
		Generation: GenerationConfig{
			Provider: ProviderOpenAI,
		},
		Persona: PersonaConfig{
			Default: DefaultPersona,
		},
		Server: ServerConfig{
			Addr:     ":8080",
			LogLevel: LogInfo,
		},
		SerializeTurns: true,
	}
}

// DefaultModel returns the model used by provider when none is configured.
func DefaultModel(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return "claude-sonnet-4-5"
	default:
		return "gpt-4o"
	}
}

// EffectiveModel returns the configured model or the provider default.
func (c *Config) EffectiveModel() string {
	if c.Generation.Model != "" {
		return c.Generation.Model
	}
	return DefaultModel(c.Generation.Provider)
}

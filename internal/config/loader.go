package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"psych-agent/internal/integrations/paramstore"
)

// Load builds a Config from defaults, the YAML file at path (skipped when path
// is empty), and the environment. SSM overrides are applied separately with
// ApplyParams once an SSM client exists.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decodeYAML(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r on top of the defaults and validates the
// result. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Defaults()
	if err := decodeYAML(r, cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg with any of the recognised environment variables
// that are set and non-empty.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("PARAM_PREFIX", &cfg.ParamPrefix)
	str("STORE_BACKEND", &cfg.Store.Backend)
	str("STATE_TABLE", &cfg.Store.Table)
	str("DATABASE_URL", &cfg.Store.DatabaseURL)
	str("SQLITE_PATH", &cfg.Store.SQLitePath)
	str("GENERATION_PROVIDER", &cfg.Generation.Provider)
	str("MODEL", &cfg.Generation.Model)
	str("LISTEN_ADDR", &cfg.Server.Addr)

	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(strings.TrimSpace(v)))
	}
	if v, ok := lookup("SERIALIZE_TURNS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: SERIALIZE_TURNS %q: %w", v, err)
		}
		cfg.SerializeTurns = b
	}
	return nil
}

// ApplyParams reads optional overrides from SSM under cfg.ParamPrefix:
// "<prefix>/model" and "<prefix>/default_persona". Missing parameters leave
// the current values untouched.
func ApplyParams(ctx context.Context, cfg *Config, g paramstore.Getter) error {
	if g == nil || cfg.ParamPrefix == "" {
		return nil
	}
	prefix := strings.TrimRight(cfg.ParamPrefix, "/")

	model, ok, err := paramstore.Lookup(ctx, g, prefix+"/model")
	if err != nil {
		return fmt.Errorf("config: model parameter: %w", err)
	}
	if ok && strings.TrimSpace(model) != "" {
		cfg.Generation.Model = strings.TrimSpace(model)
	}

	persona, ok, err := paramstore.Lookup(ctx, g, prefix+"/default_persona")
	if err != nil {
		return fmt.Errorf("config: default persona parameter: %w", err)
	}
	if ok && strings.TrimSpace(persona) != "" {
		cfg.Persona.Default = persona
	}
	return nil
}

// Validate checks cfg for a coherent set of values and returns all problems
// joined.
func Validate(cfg *Config) error {
	var errs []error

	if strings.TrimSpace(strings.Trim(cfg.ParamPrefix, "/")) == "" {
		errs = append(errs, errors.New("param_prefix (PARAM_PREFIX) is required"))
	}

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	switch cfg.Store.Backend {
	case BackendDynamoDB:
		if cfg.Store.Table == "" {
			errs = append(errs, errors.New("store.table (STATE_TABLE) is required for the dynamodb backend"))
		}
	case BackendPostgres:
		if cfg.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("store.database_url (DATABASE_URL) is required for the postgres backend"))
		}
	case BackendSQLite:
		if cfg.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path (SQLITE_PATH) is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: dynamodb, postgres, sqlite", cfg.Store.Backend))
	}

	switch cfg.Generation.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		errs = append(errs, fmt.Errorf("generation.provider %q is invalid; valid values: openai, anthropic", cfg.Generation.Provider))
	}

	if strings.TrimSpace(cfg.Persona.Default) == "" {
		errs = append(errs, errors.New("persona.default must not be empty"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

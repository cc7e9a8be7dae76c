// Package config loads runtime settings from environment variables and owns
// process-wide logging setup. Binaries call Load and SetupLogging once from
// main; packages never read the environment or construct slog handlers
// themselves.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/zcox/messagedb-agent-sub000/pkg/engine"
	"github.com/zcox/messagedb-agent-sub000/pkg/llm"
	"github.com/zcox/messagedb-agent-sub000/pkg/messagedb"
)

// Defaults for optional environment variables.
const (
	DefaultModelName = "claude-sonnet-4-5"
	DefaultLogLevel  = "INFO"
	DefaultLogFormat = "json"
	DefaultHTTPPort  = 8080
)

// ModelConfig names the models used by the two model-backed phases. Both
// fall back to ModelName when their own variable is unset, so a single
// MODEL_NAME configures the whole system.
type ModelConfig struct {
	ModelName   string
	AgentModel  string
	RenderModel string
}

// ProcessingConfig tunes the processing loop.
type ProcessingConfig struct {
	MaxIterations int
	MaxRetries    int
}

// LoggingConfig selects the slog handler installed by SetupLogging.
type LoggingConfig struct {
	Level  string // DEBUG, INFO, WARN/WARNING, ERROR, CRITICAL
	Format string // json or text
}

// Config aggregates every runtime setting the binaries need.
type Config struct {
	MessageDB  messagedb.Config
	Model      ModelConfig
	Processing ProcessingConfig
	Logging    LoggingConfig
	HTTPPort   int
}

// Load reads configuration from the environment, optionally seeding it from
// a dotenv file first. An explicitly named envFile that cannot be read is an
// error; the implicit ./.env is loaded only when present. Variables already
// set in the environment always win over the file.
//
// Environment variables:
//
//	DB_HOST, DB_PORT, DB_NAME, DB_USER (required), DB_PASSWORD (required),
//	DB_SSLMODE, DB_MIN_CONNS, DB_MAX_CONNS
//	MODEL_NAME, AGENT_MODEL, RENDER_MODEL
//	MAX_ITERATIONS, MAX_RETRIES
//	LOG_LEVEL, LOG_FORMAT
//	HTTP_PORT
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("loading env file %s: %w", envFile, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}

	db, err := messagedb.LoadConfigFromEnv()
	if err != nil {
		return Config{}, err
	}

	modelName := getEnvOrDefault("MODEL_NAME", DefaultModelName)
	model := ModelConfig{
		ModelName:   modelName,
		AgentModel:  getEnvOrDefault("AGENT_MODEL", modelName),
		RenderModel: getEnvOrDefault("RENDER_MODEL", modelName),
	}

	maxIterations, err := intEnv("MAX_ITERATIONS", engine.DefaultMaxIterations)
	if err != nil {
		return Config{}, err
	}
	if maxIterations <= 0 {
		return Config{}, fmt.Errorf("MAX_ITERATIONS must be > 0, got %d", maxIterations)
	}

	maxRetries, err := intEnv("MAX_RETRIES", engine.DefaultMaxRetries)
	if err != nil {
		return Config{}, err
	}
	if maxRetries < 0 {
		return Config{}, fmt.Errorf("MAX_RETRIES must be >= 0, got %d", maxRetries)
	}

	logging := LoggingConfig{
		Level:  strings.ToUpper(getEnvOrDefault("LOG_LEVEL", DefaultLogLevel)),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", DefaultLogFormat)),
	}
	if _, ok := slogLevels[logging.Level]; !ok {
		return Config{}, fmt.Errorf("LOG_LEVEL must be one of DEBUG, INFO, WARNING, ERROR, CRITICAL, got %q", logging.Level)
	}
	if logging.Format != "json" && logging.Format != "text" {
		return Config{}, fmt.Errorf("LOG_FORMAT must be json or text, got %q", logging.Format)
	}

	httpPort, err := intEnv("HTTP_PORT", DefaultHTTPPort)
	if err != nil {
		return Config{}, err
	}
	if httpPort < 1 || httpPort > 65535 {
		return Config{}, fmt.Errorf("HTTP_PORT must be 1-65535, got %d", httpPort)
	}

	return Config{
		MessageDB: db,
		Model:     model,
		Processing: ProcessingConfig{
			MaxIterations: maxIterations,
			MaxRetries:    maxRetries,
		},
		Logging:  logging,
		HTTPPort: httpPort,
	}, nil
}

// EngineOptions maps the processing settings onto engine defaults.
func (c Config) EngineOptions() engine.Options {
	opts := engine.DefaultOptions()
	opts.MaxIterations = c.Processing.MaxIterations
	opts.MaxRetries = c.Processing.MaxRetries
	return opts
}

// AgentModelConfig is the factory config for the tool-calling model.
// Provider API keys come from the provider adapters' own environment
// variables.
func (c Config) AgentModelConfig() llm.ModelConfig {
	return llm.ModelConfig{ModelName: c.Model.AgentModel}
}

// RenderModelConfig is the factory config for the HTML rendering model.
func (c Config) RenderModelConfig() llm.ModelConfig {
	return llm.ModelConfig{ModelName: c.Model.RenderModel}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func intEnv(key string, defaultVal int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

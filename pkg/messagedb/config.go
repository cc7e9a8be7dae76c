package messagedb

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds event store connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool bounds
	MinConns int32
	MaxConns int32

	// SkipMigrations leaves the message-store schema alone, for databases
	// provisioned out of band.
	SkipMigrations bool
}

// LoadConfigFromEnv loads event store configuration from environment
// variables. DB_USER and DB_PASSWORD are required.
func LoadConfigFromEnv() (Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("DB_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	user := os.Getenv("DB_USER")
	if user == "" {
		return Config{}, fmt.Errorf("DB_USER environment variable is required")
	}
	password := os.Getenv("DB_PASSWORD")
	if password == "" {
		return Config{}, fmt.Errorf("DB_PASSWORD environment variable is required")
	}

	minConns, err := strconv.Atoi(getEnvOrDefault("DB_MIN_CONNS", "2"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}
	maxConns, err := strconv.Atoi(getEnvOrDefault("DB_MAX_CONNS", "10"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	return Config{
		Host:     getEnvOrDefault("DB_HOST", "localhost"),
		Port:     port,
		User:     user,
		Password: password,
		Database: getEnvOrDefault("DB_NAME", "message_store"),
		SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
		MinConns: int32(minConns),
		MaxConns: int32(maxConns),
	}, nil
}

// DSN renders the keyword/value connection string pgx and golang-migrate
// both accept.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

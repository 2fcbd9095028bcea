package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	defaultDatabaseURL    = "sqlite:article-service.db"
	defaultEventsTopic    = "article-service.events"
	defaultBackupMaxBytes = 256 << 20
)

type CasdoorConfig struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
	Cert         string
	Organization string
	Application  string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type Config struct {
	Environment string
	LogLevel    slog.Level
	LogFile     string

	DatabaseURL string
	RedisURL    string

	// Exactly one of the two must be set
	EncryptionKey     string
	EncryptionKeyFile string

	Kafka KafkaConfig

	IdentityProvider string
	Casdoor          CasdoorConfig

	BackupMaxBytes int64
}

// LoadConfig reads .env when present and then the process environment
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	level, err := parseLogLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	maxBytes, err := strconv.ParseInt(getEnv("BACKUP_MAX_BYTES", strconv.Itoa(defaultBackupMaxBytes)), 10, 64)
	if err != nil || maxBytes <= 0 {
		return nil, fmt.Errorf("invalid BACKUP_MAX_BYTES %q", os.Getenv("BACKUP_MAX_BYTES"))
	}

	cfg := &Config{
		Environment:       getEnv("ENVIRONMENT", "development"),
		LogLevel:          level,
		LogFile:           os.Getenv("LOG_FILE"),
		DatabaseURL:       getEnv("DATABASE_URL", defaultDatabaseURL),
		RedisURL:          os.Getenv("REDIS_URL"),
		EncryptionKey:     os.Getenv("ARTICLE_ENCRYPTION_KEY"),
		EncryptionKeyFile: os.Getenv("ARTICLE_ENCRYPTION_KEY_FILE"),
		Kafka: KafkaConfig{
			Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   getEnv("EVENTS_TOPIC", defaultEventsTopic),
		},
		IdentityProvider: strings.ToLower(getEnv("IDENTITY_PROVIDER", "database")),
		Casdoor: CasdoorConfig{
			Endpoint:     os.Getenv("CASDOOR_ENDPOINT"),
			ClientID:     os.Getenv("CASDOOR_CLIENT_ID"),
			ClientSecret: os.Getenv("CASDOOR_CLIENT_SECRET"),
			Cert:         os.Getenv("CASDOOR_CERT"),
			Organization: os.Getenv("CASDOOR_ORGANIZATION"),
			Application:  os.Getenv("CASDOOR_APPLICATION"),
		},
		BackupMaxBytes: maxBytes,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports missing or conflicting settings
func (c *Config) Validate() error {
	var problems []string

	switch {
	case c.EncryptionKey == "" && c.EncryptionKeyFile == "":
		problems = append(problems, "one of ARTICLE_ENCRYPTION_KEY or ARTICLE_ENCRYPTION_KEY_FILE is required")
	case c.EncryptionKey != "" && c.EncryptionKeyFile != "":
		problems = append(problems, "ARTICLE_ENCRYPTION_KEY and ARTICLE_ENCRYPTION_KEY_FILE are mutually exclusive")
	}

	if c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL is required")
	}

	switch c.IdentityProvider {
	case "database":
	case "casdoor":
		if c.Casdoor.Endpoint == "" || c.Casdoor.ClientID == "" || c.Casdoor.Organization == "" {
			problems = append(problems, "CASDOOR_ENDPOINT, CASDOOR_CLIENT_ID and CASDOOR_ORGANIZATION are required for the casdoor identity provider")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown IDENTITY_PROVIDER %q", c.IdentityProvider))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

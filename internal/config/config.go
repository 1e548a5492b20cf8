package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/emilythestrangee/wapoll-forum/backend/internal/wire"
)

const (
	TransportMemory   = "memory"
	TransportPostgres = "postgres"
)

var (
	ErrUnknownTransport = errors.New("unknown transport")
	ErrMissingDatabase  = errors.New("postgres transport requires DB_HOST and DB_NAME")
)

// Config is the process configuration, read from the environment (and a
// .env file when present).
type Config struct {
	Port      string
	Transport string
	Topic     string

	// HistoryTimeout bounds the history replay on join. When it expires the
	// node goes live with whatever history it got.
	HistoryTimeout   time.Duration
	HistoryPageSize  int
	SubscriberBuffer int

	LogLevel  string
	LogFormat string

	DB DBConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN returns the libpq connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.Host, c.User, c.Password, c.Name, c.Port, c.SSLMode,
	)
}

// Load reads and validates the configuration.
func Load() (Config, error) {
	cfg, err := Read()
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Read parses the environment without validating the result, for callers
// that override fields before calling Validate.
func Read() (Config, error) {
	historyTimeout, err := envDuration("WAPOLL_HISTORY_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	pageSize, err := envInt("WAPOLL_HISTORY_PAGE_SIZE", 500)
	if err != nil {
		return Config{}, err
	}
	buffer, err := envInt("WAPOLL_SUBSCRIBER_BUFFER", 256)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:             envString("PORT", "8080"),
		Transport:        strings.ToLower(envString("WAPOLL_TRANSPORT", TransportMemory)),
		Topic:            envString("WAPOLL_TOPIC", wire.ContentTopic),
		HistoryTimeout:   historyTimeout,
		HistoryPageSize:  pageSize,
		SubscriberBuffer: buffer,
		LogLevel:         envString("LOG_LEVEL", "info"),
		LogFormat:        envString("LOG_FORMAT", "json"),
		DB: DBConfig{
			Host:     os.Getenv("DB_HOST"),
			Port:     envString("DB_PORT", "5432"),
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     os.Getenv("DB_NAME"),
			SSLMode:  envString("DB_SSLMODE", "disable"),
		},
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Transport {
	case TransportMemory:
	case TransportPostgres:
		if c.DB.Host == "" || c.DB.Name == "" {
			return ErrMissingDatabase
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, c.Transport)
	}
	if c.Topic == "" {
		return errors.New("topic must not be empty")
	}
	if c.HistoryTimeout < 0 {
		return errors.New("history timeout must not be negative")
	}
	if c.HistoryPageSize <= 0 {
		return errors.New("history page size must be positive")
	}
	if c.SubscriberBuffer <= 0 {
		return errors.New("subscriber buffer must be positive")
	}
	return nil
}

func envString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

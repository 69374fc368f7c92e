package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Defaults for unset environment variables.
const (
	DefaultBrokerURL    = "ws://localhost:8085"
	DefaultEchoAddr     = ":8085"
	DefaultReconnectMin = 500 * time.Millisecond
	DefaultReconnectMax = 30 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	BrokerURL string `validate:"required,wsurl"`
	// Mock connects BrokerURL through the scripted transport.
	Mock bool
	// ConnectionsFile optionally lists further connections, in YAML.
	ConnectionsFile string
	// Reconnect turns on automatic reconnection with exponential backoff.
	Reconnect    bool
	ReconnectMin time.Duration `validate:"gt=0"`
	ReconnectMax time.Duration `validate:"gtefield=ReconnectMin"`
	EchoAddr     string        `validate:"required,hostname_port"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("wsurl", validateWebSocketURL)
	return v
}

// validateWebSocketURL accepts absolute ws:// and wss:// URLs.
func validateWebSocketURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}
	return (u.Scheme == "ws" || u.Scheme == "wss") && u.Host != ""
}

// Validate checks v against its validate tags, including the wsurl tag.
func Validate(v any) error {
	return validate.Struct(v)
}

// Load reads configuration from a .env file, when present, and the
// environment, then validates it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		BrokerURL:       getenv("BROKER_URL", DefaultBrokerURL),
		ConnectionsFile: os.Getenv("BROKER_CONNECTIONS_FILE"),
		EchoAddr:        getenv("ECHO_BROKER_ADDR", DefaultEchoAddr),
	}

	var errs []error
	var err error
	if cfg.Mock, err = getBool("BROKER_MOCK"); err != nil {
		errs = append(errs, err)
	}
	if cfg.Reconnect, err = getBool("BROKER_RECONNECT"); err != nil {
		errs = append(errs, err)
	}
	if cfg.ReconnectMin, err = getDuration("BROKER_RECONNECT_MIN", DefaultReconnectMin); err != nil {
		errs = append(errs, err)
	}
	if cfg.ReconnectMax, err = getDuration("BROKER_RECONNECT_MAX", DefaultReconnectMax); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mcdev12/matchday/go/internal/dispatch"
	"gopkg.in/yaml.v3"
)

// Config holds the companion's settings. Values come from an optional YAML
// file and are then overridden by MATCHDAY_* environment variables.
type Config struct {
	APIBaseURL  string   `yaml:"api_base_url"`
	PushURL     string   `yaml:"push_url"`
	LogLevel    string   `yaml:"log_level"`
	MetricsAddr string   `yaml:"metrics_addr"`
	EventIDs    []string `yaml:"event_ids"`

	Session  SessionConfig  `yaml:"session"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Relay    RelayConfig    `yaml:"relay"`
}

// SessionConfig bootstraps credentials obtained by an external sign-in.
type SessionConfig struct {
	AccessToken  string `yaml:"access_token"`
	RefreshToken string `yaml:"refresh_token"`
	UserID       string `yaml:"user_id"`
}

type RealtimeConfig struct {
	MaxReconnectAttempts  int           `yaml:"max_reconnect_attempts"`
	InitialReconnectDelay time.Duration `yaml:"initial_reconnect_delay"`
	MaxReconnectDelay     time.Duration `yaml:"max_reconnect_delay"`
	DebounceDelay         time.Duration `yaml:"debounce_delay"`
	RefCountedRooms       bool          `yaml:"ref_counted_rooms"`
}

// RelayConfig enables republishing events on NATS when URL is set.
type RelayConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		APIBaseURL:  "http://localhost:8080",
		PushURL:     "ws://localhost:8081/ws",
		LogLevel:    "info",
		MetricsAddr: "",
		Realtime: RealtimeConfig{
			MaxReconnectAttempts:  5,
			InitialReconnectDelay: 1 * time.Second,
			MaxReconnectDelay:     5 * time.Second,
			DebounceDelay:         dispatch.DefaultDelay,
		},
		Relay: RelayConfig{
			SubjectPrefix: "matchday.events",
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.applyEnv()
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c *Config) applyEnv() {
	c.APIBaseURL = getEnv("MATCHDAY_API_URL", c.APIBaseURL)
	c.PushURL = getEnv("MATCHDAY_PUSH_URL", c.PushURL)
	c.LogLevel = getEnv("MATCHDAY_LOG_LEVEL", c.LogLevel)
	c.MetricsAddr = getEnv("MATCHDAY_METRICS_ADDR", c.MetricsAddr)
	c.EventIDs = getEnvAsList("MATCHDAY_EVENT_IDS", c.EventIDs)

	c.Session.AccessToken = getEnv("MATCHDAY_ACCESS_TOKEN", c.Session.AccessToken)
	c.Session.RefreshToken = getEnv("MATCHDAY_REFRESH_TOKEN", c.Session.RefreshToken)
	c.Session.UserID = getEnv("MATCHDAY_USER_ID", c.Session.UserID)

	c.Realtime.MaxReconnectAttempts = getEnvAsInt("MATCHDAY_RECONNECT_ATTEMPTS", c.Realtime.MaxReconnectAttempts)
	c.Realtime.InitialReconnectDelay = getEnvAsDuration("MATCHDAY_RECONNECT_INITIAL_DELAY", c.Realtime.InitialReconnectDelay)
	c.Realtime.MaxReconnectDelay = getEnvAsDuration("MATCHDAY_RECONNECT_MAX_DELAY", c.Realtime.MaxReconnectDelay)
	c.Realtime.DebounceDelay = getEnvAsDuration("MATCHDAY_DEBOUNCE_DELAY", c.Realtime.DebounceDelay)
	c.Realtime.RefCountedRooms = getEnvAsBool("MATCHDAY_REFCOUNT_ROOMS", c.Realtime.RefCountedRooms)

	c.Relay.NATSURL = getEnv("NATS_URL", c.Relay.NATSURL)
	c.Relay.SubjectPrefix = getEnv("MATCHDAY_RELAY_SUBJECT_PREFIX", c.Relay.SubjectPrefix)
}

// Validate reports every setting that cannot work.
func (c Config) Validate() error {
	var errs []error
	if c.APIBaseURL == "" {
		errs = append(errs, errors.New("api_base_url is required"))
	}
	if c.PushURL == "" {
		errs = append(errs, errors.New("push_url is required"))
	}
	if c.Realtime.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("realtime.max_reconnect_attempts must not be negative"))
	}
	if c.Realtime.InitialReconnectDelay <= 0 {
		errs = append(errs, errors.New("realtime.initial_reconnect_delay must be positive"))
	}
	if c.Realtime.MaxReconnectDelay < c.Realtime.InitialReconnectDelay {
		errs = append(errs, errors.New("realtime.max_reconnect_delay must be at least the initial delay"))
	}
	if c.Realtime.DebounceDelay < 0 {
		errs = append(errs, errors.New("realtime.debounce_delay must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

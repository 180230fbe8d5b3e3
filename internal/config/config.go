package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

type Config struct {
	ProjectID       string
	EngineID        string
	Location        string
	Collection      string
	Assistant       string
	CredentialsPath string
	// AccessToken is a pre-issued bearer token, read only from the
	// environment. It takes precedence over CredentialsPath.
	AccessToken string

	API  APIConfig
	Poll PollConfig
	Log  LogConfig
}

type APIConfig struct {
	// BaseURL overrides the endpoint derived from project, location,
	// collection and engine.
	BaseURL        string
	MaxAttempts    int
	RequestTimeout time.Duration
}

type PollConfig struct {
	Timeout          time.Duration
	InstanceTimeout  time.Duration
	Interval         time.Duration
	InstanceInterval time.Duration
	MinIdeas         int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Location:   "global",
		Collection: "default_collection",
		Assistant:  "default_assistant",
		API: APIConfig{
			MaxAttempts:    3,
			RequestTimeout: 60 * time.Second,
		},
		Poll: PollConfig{
			Timeout:          300 * time.Second,
			InstanceTimeout:  60 * time.Second,
			Interval:         5 * time.Second,
			InstanceInterval: 2 * time.Second,
			MinIdeas:         1,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads configuration from the YAML file at
// $XDG_CONFIG_HOME/cosci/config.yaml, then applies COSCI_* environment
// overrides. A missing file is not an error.
//
// When no credentials path is configured, GOOGLE_APPLICATION_CREDENTIALS is
// used.
func Load() (Config, error) {
	return LoadFrom(configFilePath())
}

// LoadFrom is Load with an explicit config file path.
func LoadFrom(path string) (Config, error) {
	b, err := openFileBackend(path)
	if err != nil {
		return Config{}, err
	}
	return loadWith(b)
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.CredentialsPath == "" {
		cfg.CredentialsPath = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
	return cfg, nil
}

// Validate reports every setting that would prevent a client from being
// built.
func (c Config) Validate() error {
	var errs []error
	if c.API.BaseURL == "" {
		if c.ProjectID == "" {
			errs = append(errs, errors.New("project_id is required (set COSCI_PROJECT_ID)"))
		}
		if c.EngineID == "" {
			errs = append(errs, errors.New("engine_id is required (set COSCI_ENGINE_ID)"))
		}
	}
	if c.API.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("api.max_attempts must be at least 1, got %d", c.API.MaxAttempts))
	}
	for _, d := range []struct {
		key string
		val time.Duration
	}{
		{"api.request_timeout", c.API.RequestTimeout},
		{"poll.timeout", c.Poll.Timeout},
		{"poll.instance_timeout", c.Poll.InstanceTimeout},
		{"poll.interval", c.Poll.Interval},
		{"poll.instance_interval", c.Poll.InstanceInterval},
	} {
		if d.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.key, d.val))
		}
	}
	if c.Poll.MinIdeas < 1 {
		errs = append(errs, fmt.Errorf("poll.min_ideas must be at least 1, got %d", c.Poll.MinIdeas))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLevel maps a log.level value onto a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level %q must be one of debug, info, warn, error", s)
}

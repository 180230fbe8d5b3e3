package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "project_id", typ: kString, env: "COSCI_PROJECT_ID",
		apply:   func(cfg *Config, v any) { cfg.ProjectID = v.(string) },
		extract: func(cfg Config) any { return cfg.ProjectID },
	},
	{
		key: "engine_id", typ: kString, env: "COSCI_ENGINE_ID",
		apply:   func(cfg *Config, v any) { cfg.EngineID = v.(string) },
		extract: func(cfg Config) any { return cfg.EngineID },
	},
	{
		key: "location", typ: kString, env: "COSCI_LOCATION",
		apply:   func(cfg *Config, v any) { cfg.Location = v.(string) },
		extract: func(cfg Config) any { return cfg.Location },
	},
	{
		key: "collection", typ: kString, env: "COSCI_COLLECTION",
		apply:   func(cfg *Config, v any) { cfg.Collection = v.(string) },
		extract: func(cfg Config) any { return cfg.Collection },
	},
	{
		key: "assistant", typ: kString, env: "COSCI_ASSISTANT",
		apply:   func(cfg *Config, v any) { cfg.Assistant = v.(string) },
		extract: func(cfg Config) any { return cfg.Assistant },
	},
	{
		key: "credentials_path", typ: kString, env: "COSCI_CREDENTIALS_PATH",
		apply:   func(cfg *Config, v any) { cfg.CredentialsPath = v.(string) },
		extract: func(cfg Config) any { return cfg.CredentialsPath },
	},
	{
		key: "access_token", typ: kString, env: "COSCI_ACCESS_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.AccessToken = v.(string) },
		extract: func(cfg Config) any { return cfg.AccessToken },
	},
	{
		key: "api.base_url", typ: kString, env: "COSCI_API_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.API.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.API.BaseURL },
	},
	{
		key: "api.max_attempts", typ: kInt, env: "COSCI_API_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.API.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.API.MaxAttempts },
	},
	{
		key: "api.request_timeout", typ: kDuration, env: "COSCI_API_REQUEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.API.RequestTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.API.RequestTimeout },
	},
	{
		key: "poll.timeout", typ: kDuration, env: "COSCI_POLL_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Poll.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Poll.Timeout },
	},
	{
		key: "poll.instance_timeout", typ: kDuration, env: "COSCI_POLL_INSTANCE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Poll.InstanceTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Poll.InstanceTimeout },
	},
	{
		key: "poll.interval", typ: kDuration, env: "COSCI_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Poll.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Poll.Interval },
	},
	{
		key: "poll.instance_interval", typ: kDuration, env: "COSCI_POLL_INSTANCE_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Poll.InstanceInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Poll.InstanceInterval },
	},
	{
		key: "poll.min_ideas", typ: kInt, env: "COSCI_POLL_MIN_IDEAS",
		apply:   func(cfg *Config, v any) { cfg.Poll.MinIdeas = v.(int) },
		extract: func(cfg Config) any { return cfg.Poll.MinIdeas },
	},
	{
		key: "log.level", typ: kString, env: "COSCI_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parseDuration accepts Go duration strings and bare numbers of seconds.
func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || v == "" {
				continue
			}
			d, err := parseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid duration for %s: %w", s.key, err)
			}
			s.apply(cfg, d)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				slog.Warn("ignoring invalid integer in environment", "env", s.env, "value", raw, "error", err)
			}
		case kDuration:
			if d, err := parseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				slog.Warn("ignoring invalid duration in environment", "env", s.env, "value", raw, "error", err)
			}
		}
	}
}

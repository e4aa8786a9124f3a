// Package config manages scout-agent configuration using koanf/v2.
//
// Supports YAML files and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete scout-agent configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Loader    LoaderConfig    `koanf:"loader"`
	Rules     RulesConfig     `koanf:"rules"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`
	Intervals IntervalsConfig `koanf:"intervals"`
}

// ServerConfig holds the Spearhead command-server connection settings.
type ServerConfig struct {
	// Addr is the Spearhead server address ("host:port").
	Addr string `koanf:"addr"`
}

// LoaderConfig holds the eBPF loader subprocess settings.
type LoaderConfig struct {
	// Enabled controls whether the agent supervises a loader subprocess.
	// When false the agent expects the loader to be started externally.
	Enabled bool `koanf:"enabled"`
	// Path is the loader executable path.
	Path string `koanf:"path"`
	// ShmName is validated as non-empty but not otherwise read: internal/shm
	// opens its two regions under fixed names.
	ShmName string `koanf:"shm_name"`
}

// RulesConfig holds the rule-model settings.
type RulesConfig struct {
	// Path is the rules JSON file loaded at startup and on reload.
	Path string `koanf:"path"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// IntervalsConfig holds the agent's control-loop timers.
type IntervalsConfig struct {
	// Tick is the shm-poll interval used by the control loop.
	Tick time.Duration `koanf:"tick"`
	// Heartbeat is how often identity/telemetry is sent to Spearhead.
	Heartbeat time.Duration `koanf:"heartbeat"`
	// RuleRequest is how often the agent re-requests the active rule set.
	RuleRequest time.Duration `koanf:"rule_request"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: "127.0.0.1:9443",
		},
		Loader: LoaderConfig{
			Enabled: true,
			Path:    "/opt/scout/bin/scout-loader",
			ShmName: "/scout_comms",
		},
		Rules: RulesConfig{
			Path: "/etc/scout/rules.json",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Intervals: IntervalsConfig{
			Tick:        200 * time.Millisecond,
			Heartbeat:   30 * time.Second,
			RuleRequest: 60 * time.Second,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for scout-agent configuration.
// Variables are named SCOUT_<section>_<key>, e.g., SCOUT_SERVER_ADDR.
const envPrefix = "SCOUT_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (SCOUT_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	SCOUT_SERVER_ADDR     -> server.addr
//	SCOUT_LOADER_PATH     -> loader.path
//	SCOUT_RULES_PATH      -> rules.path
//	SCOUT_METRICS_ADDR    -> metrics.addr
//	SCOUT_LOG_LEVEL       -> log.level
//
// Uses koanf/v2 with file + env providers and a YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms SCOUT_SERVER_ADDR -> server.addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"server.addr":          defaults.Server.Addr,
		"loader.enabled":       defaults.Loader.Enabled,
		"loader.path":          defaults.Loader.Path,
		"loader.shm_name":      defaults.Loader.ShmName,
		"rules.path":           defaults.Rules.Path,
		"metrics.addr":         defaults.Metrics.Addr,
		"metrics.path":         defaults.Metrics.Path,
		"log.level":            defaults.Log.Level,
		"log.format":           defaults.Log.Format,
		"intervals.tick":       defaults.Intervals.Tick.String(),
		"intervals.heartbeat":  defaults.Intervals.Heartbeat.String(),
		"intervals.rule_request": defaults.Intervals.RuleRequest.String(),
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyServerAddr indicates the Spearhead server address is empty.
	ErrEmptyServerAddr = errors.New("server.addr must not be empty")

	// ErrEmptyShmName indicates the shared-memory object name is empty.
	ErrEmptyShmName = errors.New("loader.shm_name must not be empty")

	// ErrEmptyLoaderPath indicates loader.enabled is true but no path is set.
	ErrEmptyLoaderPath = errors.New("loader.path must not be empty when loader.enabled is true")

	// ErrInvalidTick indicates the control loop tick interval is non-positive.
	ErrInvalidTick = errors.New("intervals.tick must be > 0")

	// ErrInvalidHeartbeat indicates the heartbeat interval is non-positive.
	ErrInvalidHeartbeat = errors.New("intervals.heartbeat must be > 0")

	// ErrInvalidRuleRequest indicates the rule-request interval is non-positive.
	ErrInvalidRuleRequest = errors.New("intervals.rule_request must be > 0")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Server.Addr == "" {
		return ErrEmptyServerAddr
	}

	if cfg.Loader.ShmName == "" {
		return ErrEmptyShmName
	}

	if cfg.Loader.Enabled && cfg.Loader.Path == "" {
		return ErrEmptyLoaderPath
	}

	if cfg.Intervals.Tick <= 0 {
		return ErrInvalidTick
	}

	if cfg.Intervals.Heartbeat <= 0 {
		return ErrInvalidHeartbeat
	}

	if cfg.Intervals.RuleRequest <= 0 {
		return ErrInvalidRuleRequest
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

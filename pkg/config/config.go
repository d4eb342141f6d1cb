// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the nhook host.
type Config struct {
	LogLevel   string           `yaml:"log_level" env:"NHOOK_LOG_LEVEL"`
	Engine     EngineConfig     `yaml:"engine"`
	Activation ActivationConfig `yaml:"activation"`
	Signer     SignerConfig     `yaml:"signer"`
	Host       HostConfig       `yaml:"host"`
	Health     HealthConfig     `yaml:"health"`
	Settings   SettingsConfig   `yaml:"settings"`
}

type EngineConfig struct {
	LibraryPath      string        `yaml:"library_path"`      // empty = search install locations
	EntrySymbol      string        `yaml:"entry_symbol"`      // must be exported by the library
	SocketPath       string        `yaml:"socket_path"`       // control page lives next to it
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"` // target counts as stale after this
	VerifyMappings   *bool         `yaml:"verify_mappings"`   // require library in target maps (default: true)
	RedactTraces     *bool         `yaml:"redact_traces"`     // scrub credentials from trace lines (default: true)
	VerifySender     *bool         `yaml:"verify_sender"`     // match report pid against socket credentials (default: true)
}

// VerifyMappingsEnabled returns whether targets must have the engine library
// mapped to count as intercepting. Defaults to true when not explicitly set.
func (e *EngineConfig) VerifyMappingsEnabled() bool {
	if e.VerifyMappings == nil {
		return true
	}
	return *e.VerifyMappings
}

// RedactTracesEnabled returns whether trace lines are scrubbed before they
// are written. Defaults to true when not explicitly set.
func (e *EngineConfig) RedactTracesEnabled() bool {
	if e.RedactTraces == nil {
		return true
	}
	return *e.RedactTraces
}

// VerifySenderEnabled returns whether engine reports must come from the
// process they name. Defaults to true when not explicitly set.
func (e *EngineConfig) VerifySenderEnabled() bool {
	if e.VerifySender == nil {
		return true
	}
	return *e.VerifySender
}

// ActivationConfig configures the activation monitor.
type ActivationConfig struct {
	// CacheTTL bounds how long one probe answer is reused. Consecutive
	// queries inside the window return the same status.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type SignerConfig struct {
	KeyFile string `yaml:"key_file"` // master secret; empty = random per process
	Label   string `yaml:"label"`
}

type HostConfig struct {
	DataDir string `yaml:"data_dir" env:"NHOOK_DATA_DIR"`
}

// HealthConfig configures the health HTTP server.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port" env:"NHOOK_HEALTH_PORT"` // e.g. ":8687"
}

// SettingsConfig configures the settings screen.
type SettingsConfig struct {
	Locale     string `yaml:"locale"` // "en" or "zh"
	ProbeToken string `yaml:"probe_token"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Engine: EngineConfig{
			EntrySymbol:      "nhook_init",
			SocketPath:       "/var/run/nhook/hook.sock",
			HeartbeatTimeout: 10 * time.Second,
		},
		Activation: ActivationConfig{
			CacheTTL: time.Second,
		},
		Signer: SignerConfig{
			Label: "diag",
		},
		Health: HealthConfig{
			Enabled: true,
			Port:    ":8687",
		},
		Settings: SettingsConfig{
			Locale:     "en",
			ProbeToken: "probe",
		},
	}
}

// LoadDir loads YAML files from a directory and merges them into a single
// Config. Expected files:
//   - base.yaml   → log_level, health, settings
//   - engine.yaml → engine, activation, signer
//   - host.yaml   → host
//
// Missing files are silently ignored (defaults apply).
func LoadDir(dir string) (*Config, error) {
	cfg := DefaultConfig()

	for _, f := range []string{"base.yaml", "engine.yaml", "host.yaml"} {
		if err := loadFileInto(filepath.Join(dir, f), cfg); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// loadFileInto reads a YAML file and unmarshals it into an existing Config,
// overwriting only the fields present in the file.
func loadFileInto(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// ApplyEnvOverrides reads NHOOK_* environment variables and applies them
// to the config, overriding YAML values.
func (c *Config) ApplyEnvOverrides() {
	envOverrides := map[string]func(string){
		"NHOOK_LOG_LEVEL":           func(v string) { c.LogLevel = v },
		"NHOOK_HEALTH_PORT":         func(v string) { c.Health.Port = v },
		"NHOOK_DATA_DIR":            func(v string) { c.Host.DataDir = v },
		"NHOOK_ENGINE_LIBRARY_PATH": func(v string) { c.Engine.LibraryPath = v },
		"NHOOK_ENGINE_SOCKET_PATH":  func(v string) { c.Engine.SocketPath = v },
		"NHOOK_SIGNER_KEY_FILE":     func(v string) { c.Signer.KeyFile = v },
		"NHOOK_LOCALE":              func(v string) { c.Settings.Locale = v },
	}

	boolOverrides := map[string]*bool{
		"NHOOK_HEALTH_ENABLED": &c.Health.Enabled,
	}

	durationOverrides := map[string]*time.Duration{
		"NHOOK_ENGINE_HEARTBEAT_TIMEOUT": &c.Engine.HeartbeatTimeout,
		"NHOOK_ACTIVATION_CACHE_TTL":     &c.Activation.CacheTTL,
	}

	for envKey, setter := range envOverrides {
		if val := os.Getenv(envKey); val != "" {
			setter(val)
		}
	}

	for envKey, target := range boolOverrides {
		if val := os.Getenv(envKey); val != "" {
			*target = parseBool(val)
		}
	}

	for envKey, target := range durationOverrides {
		if val := os.Getenv(envKey); val != "" {
			if d, err := time.ParseDuration(strings.TrimSpace(val)); err == nil {
				*target = d
			}
		}
	}

	optionalBools := map[string]**bool{
		"NHOOK_ENGINE_VERIFY_MAPPINGS": &c.Engine.VerifyMappings,
		"NHOOK_ENGINE_REDACT_TRACES":   &c.Engine.RedactTraces,
		"NHOOK_ENGINE_VERIFY_SENDER":   &c.Engine.VerifySender,
	}
	for envKey, target := range optionalBools {
		if val := os.Getenv(envKey); val != "" {
			v := parseBool(val)
			*target = &v
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}

	if c.Engine.SocketPath == "" {
		return fmt.Errorf("engine.socket_path is required")
	}

	if c.Engine.HeartbeatTimeout < 100*time.Millisecond {
		return fmt.Errorf("engine.heartbeat_timeout must be at least 100ms")
	}

	if c.Activation.CacheTTL <= 0 {
		return fmt.Errorf("activation.cache_ttl must be positive")
	}

	if c.Signer.Label == "" {
		return fmt.Errorf("signer.label is required")
	}

	if c.Health.Enabled && c.Health.Port == "" {
		return fmt.Errorf("health.port is required when health is enabled")
	}

	if c.Settings.Locale != "en" && c.Settings.Locale != "zh" {
		return fmt.Errorf("settings.locale must be 'en' or 'zh'")
	}

	return nil
}

// Package config loads and validates server configuration.
//
// Configuration comes from a YAML file plus environment-variable overrides
// for credentials. The loaded Config is immutable: it is built once at
// startup, validated, and passed by value into constructors. Missing or
// invalid required settings are a startup error; the process refuses to
// serve rather than failing per-request.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Sandbox runtime selection
const (
	SandboxRuntimeRemote = "remote"
	SandboxRuntimeDocker = "docker"
)

// Defaults applied when the config file omits a value
const (
	DefaultAddress               = ":8000"
	DefaultSandboxTimeoutSeconds = 60
	DefaultSandboxImage          = "python:3.12-slim"
	DefaultMaxActive             = 10
	DefaultIdleTimeoutMinutes    = 30
	DefaultEventBufferSize       = 1000
	DefaultMaxSteps              = 8
	DefaultRequestsPerSec        = 10
	DefaultBurst                 = 20
	DefaultMaxMessageBytes       = 32 * 1024
	DefaultModelTemperature      = 0.2
)

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address     string `yaml:"address"`
	LogDir      string `yaml:"log_dir"`
	DataDir     string `yaml:"data_dir"`
	AuthEnabled bool   `yaml:"auth_enabled"`
}

// ModelConfig holds reasoning-engine settings
type ModelConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Name        string  `yaml:"name"`
	Temperature float64 `yaml:"temperature"`
}

// SandboxConfig holds code-execution backend settings
type SandboxConfig struct {
	Runtime        string `yaml:"runtime"` // remote or docker
	URL            string `yaml:"url"`
	AuthKey        string `yaml:"auth_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Image          string `yaml:"image"` // docker runtime only
}

// Timeout returns the per-call execution timeout
func (c SandboxConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SessionConfig holds session lifecycle settings
type SessionConfig struct {
	MaxActive          int `yaml:"max_active"`
	IdleTimeoutMinutes int `yaml:"idle_timeout_minutes"`
	EventBufferSize    int `yaml:"event_buffer_size"`
	MaxSteps           int `yaml:"max_steps"`
}

// IdleTimeout returns how long a session may sit idle before cleanup
func (c SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMinutes) * time.Minute
}

// LimitsConfig holds request throttling settings
type LimitsConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	MaxMessageBytes   int     `yaml:"max_message_bytes"`
}

// Config is the full server configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Model   ModelConfig   `yaml:"model"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Session SessionConfig `yaml:"session"`
	Limits  LimitsConfig  `yaml:"limits"`
}

// Default returns a Config populated with default values
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:     DefaultAddress,
			LogDir:      "logs",
			DataDir:     "data",
			AuthEnabled: true,
		},
		Model: ModelConfig{
			Temperature: DefaultModelTemperature,
		},
		Sandbox: SandboxConfig{
			Runtime:        SandboxRuntimeRemote,
			TimeoutSeconds: DefaultSandboxTimeoutSeconds,
			Image:          DefaultSandboxImage,
		},
		Session: SessionConfig{
			MaxActive:          DefaultMaxActive,
			IdleTimeoutMinutes: DefaultIdleTimeoutMinutes,
			EventBufferSize:    DefaultEventBufferSize,
			MaxSteps:           DefaultMaxSteps,
		},
		Limits: LimitsConfig{
			RequestsPerSecond: DefaultRequestsPerSec,
			Burst:             DefaultBurst,
			MaxMessageBytes:   DefaultMaxMessageBytes,
		},
	}
}

// Load reads configuration from a YAML file, applies environment overrides,
// and fills in defaults. A missing file is not an error when path is empty;
// configuration then comes entirely from defaults and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

// applyEnvOverrides lets credentials and endpoints come from the environment
// so they never need to live in the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CODEACT_MODEL_BASE_URL"); v != "" {
		cfg.Model.BaseURL = v
	}
	if v := os.Getenv("CODEACT_MODEL_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("CODEACT_MODEL_NAME"); v != "" {
		cfg.Model.Name = v
	}
	if v := os.Getenv("CODEACT_SANDBOX_URL"); v != "" {
		cfg.Sandbox.URL = v
	}
	if v := os.Getenv("CODEACT_SANDBOX_KEY"); v != "" {
		cfg.Sandbox.AuthKey = v
	}
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.Address == "" {
		cfg.Server.Address = def.Server.Address
	}
	if cfg.Server.LogDir == "" {
		cfg.Server.LogDir = def.Server.LogDir
	}
	if cfg.Server.DataDir == "" {
		cfg.Server.DataDir = def.Server.DataDir
	}
	if cfg.Sandbox.Runtime == "" {
		cfg.Sandbox.Runtime = def.Sandbox.Runtime
	}
	if cfg.Sandbox.TimeoutSeconds <= 0 {
		cfg.Sandbox.TimeoutSeconds = def.Sandbox.TimeoutSeconds
	}
	if cfg.Sandbox.Image == "" {
		cfg.Sandbox.Image = def.Sandbox.Image
	}
	if cfg.Model.Temperature == 0 {
		cfg.Model.Temperature = def.Model.Temperature
	}
	if cfg.Session.MaxActive <= 0 {
		cfg.Session.MaxActive = def.Session.MaxActive
	}
	if cfg.Session.IdleTimeoutMinutes <= 0 {
		cfg.Session.IdleTimeoutMinutes = def.Session.IdleTimeoutMinutes
	}
	if cfg.Session.EventBufferSize <= 0 {
		cfg.Session.EventBufferSize = def.Session.EventBufferSize
	}
	if cfg.Session.MaxSteps <= 0 {
		cfg.Session.MaxSteps = def.Session.MaxSteps
	}
	if cfg.Limits.RequestsPerSecond <= 0 {
		cfg.Limits.RequestsPerSecond = def.Limits.RequestsPerSecond
	}
	if cfg.Limits.Burst <= 0 {
		cfg.Limits.Burst = def.Limits.Burst
	}
	if cfg.Limits.MaxMessageBytes <= 0 {
		cfg.Limits.MaxMessageBytes = def.Limits.MaxMessageBytes
	}
}

// Validate checks that required configuration is present
func (c Config) Validate() error {
	if c.Model.BaseURL == "" {
		return errors.New("model base URL is required: set model.base_url or CODEACT_MODEL_BASE_URL")
	}
	if c.Model.APIKey == "" {
		return errors.New("model API key is required: set model.api_key or CODEACT_MODEL_API_KEY")
	}
	if c.Model.Name == "" {
		return errors.New("model name is required: set model.name or CODEACT_MODEL_NAME")
	}

	switch c.Sandbox.Runtime {
	case SandboxRuntimeRemote:
		if c.Sandbox.URL == "" {
			return errors.New("sandbox URL is required: set sandbox.url or CODEACT_SANDBOX_URL")
		}
		if c.Sandbox.AuthKey == "" {
			return errors.New("sandbox auth key is required: set sandbox.auth_key or CODEACT_SANDBOX_KEY")
		}
	case SandboxRuntimeDocker:
		if c.Sandbox.Image == "" {
			return errors.New("sandbox image is required for the docker runtime")
		}
	default:
		return fmt.Errorf("unknown sandbox runtime: %s", c.Sandbox.Runtime)
	}

	return nil
}

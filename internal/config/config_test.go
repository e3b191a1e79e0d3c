package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codeact.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Address != DefaultAddress {
		t.Errorf("Address = %v, want %v", cfg.Server.Address, DefaultAddress)
	}
	if cfg.Sandbox.Timeout() != time.Duration(DefaultSandboxTimeoutSeconds)*time.Second {
		t.Errorf("Sandbox.Timeout() = %v, want %vs", cfg.Sandbox.Timeout(), DefaultSandboxTimeoutSeconds)
	}
	if cfg.Session.MaxSteps != DefaultMaxSteps {
		t.Errorf("Session.MaxSteps = %v, want %v", cfg.Session.MaxSteps, DefaultMaxSteps)
	}
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfigFile(t, `
server:
  address: ":9000"
model:
  base_url: "https://api.example.com/v1"
  api_key: "test-key"
  name: "test-model"
sandbox:
  runtime: remote
  url: "https://sandbox.example.com"
  auth_key: "sb-key"
  timeout_seconds: 30
session:
  max_steps: 4
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Address != ":9000" {
		t.Errorf("Address = %v, want :9000", cfg.Server.Address)
	}
	if cfg.Sandbox.Timeout() != 30*time.Second {
		t.Errorf("Sandbox.Timeout() = %v, want 30s", cfg.Sandbox.Timeout())
	}
	if cfg.Session.MaxSteps != 4 {
		t.Errorf("Session.MaxSteps = %v, want 4", cfg.Session.MaxSteps)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CODEACT_MODEL_API_KEY", "env-key")
	t.Setenv("CODEACT_SANDBOX_URL", "https://env-sandbox.example.com")

	path := writeConfigFile(t, `
model:
  base_url: "https://api.example.com/v1"
  api_key: "file-key"
  name: "test-model"
sandbox:
  url: "https://file-sandbox.example.com"
  auth_key: "sb-key"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Model.APIKey != "env-key" {
		t.Errorf("Model.APIKey = %v, want env-key", cfg.Model.APIKey)
	}
	if cfg.Sandbox.URL != "https://env-sandbox.example.com" {
		t.Errorf("Sandbox.URL = %v, want env override", cfg.Sandbox.URL)
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Model.BaseURL = "https://api.example.com/v1"
	valid.Model.APIKey = "key"
	valid.Model.Name = "model"
	valid.Sandbox.URL = "https://sandbox.example.com"
	valid.Sandbox.AuthKey = "sb-key"

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid remote", func(c *Config) {}, false},
		{"missing model base URL", func(c *Config) { c.Model.BaseURL = "" }, true},
		{"missing model API key", func(c *Config) { c.Model.APIKey = "" }, true},
		{"missing model name", func(c *Config) { c.Model.Name = "" }, true},
		{"missing sandbox URL", func(c *Config) { c.Sandbox.URL = "" }, true},
		{"missing sandbox auth key", func(c *Config) { c.Sandbox.AuthKey = "" }, true},
		{"unknown runtime", func(c *Config) { c.Sandbox.Runtime = "firecracker" }, true},
		{"docker runtime without URL", func(c *Config) {
			c.Sandbox.Runtime = SandboxRuntimeDocker
			c.Sandbox.URL = ""
			c.Sandbox.AuthKey = ""
		}, false},
		{"docker runtime without image", func(c *Config) {
			c.Sandbox.Runtime = SandboxRuntimeDocker
			c.Sandbox.Image = ""
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

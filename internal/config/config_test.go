package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL: "https://api.example.com",
			Timeout: 30,
		},
		Pairing: PairingConfig{
			ListenAddr:     "127.0.0.1:9384",
			RequestTimeout: 10,
		},
		Capture: CaptureConfig{
			SamplingInterval: 0.1,
			SafetyCeiling:    60,
			WaveformSize:     40,
			Command:          "arecord",
			CommandArgs:      []string{"-f", "S16_LE", "-r", "16000"},
			ArtifactDir:      "/tmp",
		},
		Realtime: RealtimeConfig{
			Mode:                   "voice",
			KeepaliveInterval:      20,
			MalformedWarnThreshold: 10,
			ChunkSize:              4096,
			AudioSampleRate:        24000,
			AudioChannels:          1,
		},
		Budget: BudgetConfig{
			RefreshInterval: 900,
		},
		Storage: StorageConfig{
			Path: "/var/lib/companion/companion.db",
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{
			name:        "valid configuration",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "empty backend base URL",
			mutate:      func(c *Config) { c.Backend.BaseURL = "" },
			expectError: true,
		},
		{
			name:        "zero backend timeout",
			mutate:      func(c *Config) { c.Backend.Timeout = 0 },
			expectError: true,
		},
		{
			name:        "empty pairing listen address",
			mutate:      func(c *Config) { c.Pairing.ListenAddr = "" },
			expectError: true,
		},
		{
			name:        "negative sampling interval",
			mutate:      func(c *Config) { c.Capture.SamplingInterval = -0.5 },
			expectError: true,
		},
		{
			name:        "zero safety ceiling",
			mutate:      func(c *Config) { c.Capture.SafetyCeiling = 0 },
			expectError: true,
		},
		{
			name:        "empty capture command",
			mutate:      func(c *Config) { c.Capture.Command = "" },
			expectError: true,
		},
		{
			name:        "unknown realtime mode",
			mutate:      func(c *Config) { c.Realtime.Mode = "video" },
			expectError: true,
		},
		{
			name:        "chunk size too small",
			mutate:      func(c *Config) { c.Realtime.ChunkSize = 16 },
			expectError: true,
		},
		{
			name:        "three audio channels",
			mutate:      func(c *Config) { c.Realtime.AudioChannels = 3 },
			expectError: true,
		},
		{
			name:        "zero budget refresh interval",
			mutate:      func(c *Config) { c.Budget.RefreshInterval = 0 },
			expectError: true,
		},
		{
			name:        "empty storage path",
			mutate:      func(c *Config) { c.Storage.Path = "" },
			expectError: true,
		},
		{
			name:        "http port too high",
			mutate:      func(c *Config) { c.HTTP.Port = 70000 },
			expectError: true,
		},
		{
			name:        "http disabled ignores port",
			mutate:      func(c *Config) { c.HTTP.Enabled = false; c.HTTP.Port = 0 },
			expectError: false,
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.Logging.Level = "verbose" },
			expectError: true,
		},
		{
			name:        "invalid log format",
			mutate:      func(c *Config) { c.Logging.Format = "xml" },
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(&config)

			err := config.Validate()
			if tt.expectError && err == nil {
				t.Errorf("Expected validation error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected valid config but got error: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	content := `
backend:
  base_url: "https://api.example.com"
  timeout: 30

pairing:
  listen_addr: "127.0.0.1:9384"
  request_timeout: 10

capture:
  sampling_interval: 0.1
  safety_ceiling: 60
  waveform_size: 40
  command: "arecord"
  command_args: ["-f", "S16_LE", "-r", "16000"]
  artifact_dir: "/tmp"

realtime:
  mode: "voice"
  keepalive_interval: 20
  malformed_warn_threshold: 10
  chunk_size: 4096
  audio_sample_rate: 24000
  audio_channels: 1

budget:
  refresh_interval: 900

storage:
  path: "/var/lib/companion/companion.db"

http:
  port: 8080
  address: "0.0.0.0"
  enabled: true

logging:
  level: "debug"
  format: "text"
  output: "stdout"
`

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	config, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Backend.BaseURL != "https://api.example.com" {
		t.Errorf("Expected base_url https://api.example.com, got %s", config.Backend.BaseURL)
	}

	if config.Capture.SafetyCeiling != 60 {
		t.Errorf("Expected safety_ceiling 60, got %d", config.Capture.SafetyCeiling)
	}

	if len(config.Capture.CommandArgs) != 4 {
		t.Errorf("Expected 4 command args, got %d", len(config.Capture.CommandArgs))
	}

	if config.Realtime.Mode != "voice" {
		t.Errorf("Expected mode voice, got %s", config.Realtime.Mode)
	}

	if config.Logging.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", config.Logging.Level)
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Expected error loading nonexistent file")
	}
}

func TestConfigLoadInvalidValues(t *testing.T) {
	content := `
backend:
  base_url: ""
  timeout: 30
`

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Expected validation error for empty base_url")
	}
}

func TestDurationHelpers(t *testing.T) {
	backend := BackendConfig{Timeout: 30}
	if backend.GetTimeoutDuration() != 30*time.Second {
		t.Errorf("Expected 30 seconds, got %v", backend.GetTimeoutDuration())
	}

	pairing := PairingConfig{RequestTimeout: 10}
	if pairing.GetRequestTimeoutDuration() != 10*time.Second {
		t.Errorf("Expected 10 seconds, got %v", pairing.GetRequestTimeoutDuration())
	}

	capture := CaptureConfig{SamplingInterval: 0.1, SafetyCeiling: 60}
	if capture.GetSamplingIntervalDuration() != 100*time.Millisecond {
		t.Errorf("Expected 100ms, got %v", capture.GetSamplingIntervalDuration())
	}
	if capture.GetSafetyCeilingDuration() != time.Minute {
		t.Errorf("Expected 1 minute, got %v", capture.GetSafetyCeilingDuration())
	}

	realtime := RealtimeConfig{KeepaliveInterval: 20}
	if realtime.GetKeepaliveIntervalDuration() != 20*time.Second {
		t.Errorf("Expected 20 seconds, got %v", realtime.GetKeepaliveIntervalDuration())
	}

	budget := BudgetConfig{RefreshInterval: 900}
	if budget.GetRefreshIntervalDuration() != 15*time.Minute {
		t.Errorf("Expected 15 minutes, got %v", budget.GetRefreshIntervalDuration())
	}
}

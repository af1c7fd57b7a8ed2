package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete companion daemon configuration
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Pairing  PairingConfig  `yaml:"pairing"`
	Capture  CaptureConfig  `yaml:"capture"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Budget   BudgetConfig   `yaml:"budget"`
	Storage  StorageConfig  `yaml:"storage"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BackendConfig contains backend API configuration
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout int    `yaml:"timeout"` // seconds
}

// PairingConfig contains the pairing-channel listener configuration
type PairingConfig struct {
	ListenAddr     string `yaml:"listen_addr"`
	RequestTimeout int    `yaml:"request_timeout"` // seconds
}

// CaptureConfig contains capture state machine parameters
type CaptureConfig struct {
	SamplingInterval float64  `yaml:"sampling_interval"` // seconds
	SafetyCeiling    int      `yaml:"safety_ceiling"`    // seconds
	WaveformSize     int      `yaml:"waveform_size"`
	Command          string   `yaml:"command"`
	CommandArgs      []string `yaml:"command_args"`
	ArtifactDir      string   `yaml:"artifact_dir"`
}

// RealtimeConfig contains realtime session configuration
type RealtimeConfig struct {
	Mode                   string `yaml:"mode"`
	KeepaliveInterval      int    `yaml:"keepalive_interval"` // seconds
	MalformedWarnThreshold int    `yaml:"malformed_warn_threshold"`
	ChunkSize              int    `yaml:"chunk_size"` // bytes
	AudioSampleRate        int    `yaml:"audio_sample_rate"`
	AudioChannels          int    `yaml:"audio_channels"`
}

// BudgetConfig contains the budget cache refresher configuration
type BudgetConfig struct {
	RefreshInterval int `yaml:"refresh_interval"` // seconds
}

// StorageConfig contains local durable storage configuration
type StorageConfig struct {
	Path string `yaml:"path"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}

	if err := c.Pairing.Validate(); err != nil {
		return fmt.Errorf("pairing config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Realtime.Validate(); err != nil {
		return fmt.Errorf("realtime config: %w", err)
	}

	if err := c.Budget.Validate(); err != nil {
		return fmt.Errorf("budget config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates backend configuration
func (b *BackendConfig) Validate() error {
	if b.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}

	if b.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", b.Timeout)
	}

	return nil
}

// Validate validates pairing configuration
func (p *PairingConfig) Validate() error {
	if p.ListenAddr == "" {
		return fmt.Errorf("listen_addr cannot be empty")
	}

	if p.RequestTimeout < 1 {
		return fmt.Errorf("request_timeout must be at least 1 second, got %d", p.RequestTimeout)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if c.SamplingInterval <= 0 {
		return fmt.Errorf("sampling_interval must be positive, got %f", c.SamplingInterval)
	}

	if c.SafetyCeiling < 1 {
		return fmt.Errorf("safety_ceiling must be at least 1 second, got %d", c.SafetyCeiling)
	}

	if c.WaveformSize < 1 {
		return fmt.Errorf("waveform_size must be at least 1, got %d", c.WaveformSize)
	}

	if c.Command == "" {
		return fmt.Errorf("command cannot be empty")
	}

	return nil
}

// Validate validates realtime configuration
func (r *RealtimeConfig) Validate() error {
	validModes := map[string]bool{"voice": true, "text": true}
	if !validModes[r.Mode] {
		return fmt.Errorf("mode must be 'voice' or 'text', got '%s'", r.Mode)
	}

	if r.KeepaliveInterval < 1 {
		return fmt.Errorf("keepalive_interval must be at least 1 second, got %d", r.KeepaliveInterval)
	}

	if r.MalformedWarnThreshold < 0 {
		return fmt.Errorf("malformed_warn_threshold cannot be negative, got %d", r.MalformedWarnThreshold)
	}

	if r.ChunkSize < 256 {
		return fmt.Errorf("chunk_size must be at least 256 bytes, got %d", r.ChunkSize)
	}

	if r.AudioSampleRate < 8000 {
		return fmt.Errorf("audio_sample_rate must be at least 8000 Hz, got %d", r.AudioSampleRate)
	}

	if r.AudioChannels != 1 && r.AudioChannels != 2 {
		return fmt.Errorf("audio_channels must be 1 or 2, got %d", r.AudioChannels)
	}

	return nil
}

// Validate validates budget configuration
func (b *BudgetConfig) Validate() error {
	if b.RefreshInterval < 1 {
		return fmt.Errorf("refresh_interval must be at least 1 second, got %d", b.RefreshInterval)
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if s.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetTimeoutDuration returns the backend timeout as a time.Duration
func (b *BackendConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(b.Timeout) * time.Second
}

// GetRequestTimeoutDuration returns the pairing request timeout as a time.Duration
func (p *PairingConfig) GetRequestTimeoutDuration() time.Duration {
	return time.Duration(p.RequestTimeout) * time.Second
}

// GetSamplingIntervalDuration returns the sampling interval as a time.Duration
func (c *CaptureConfig) GetSamplingIntervalDuration() time.Duration {
	return time.Duration(c.SamplingInterval * float64(time.Second))
}

// GetSafetyCeilingDuration returns the safety ceiling as a time.Duration
func (c *CaptureConfig) GetSafetyCeilingDuration() time.Duration {
	return time.Duration(c.SafetyCeiling) * time.Second
}

// GetKeepaliveIntervalDuration returns the keepalive interval as a time.Duration
func (r *RealtimeConfig) GetKeepaliveIntervalDuration() time.Duration {
	return time.Duration(r.KeepaliveInterval) * time.Second
}

// GetRefreshIntervalDuration returns the budget refresh interval as a time.Duration
func (b *BudgetConfig) GetRefreshIntervalDuration() time.Duration {
	return time.Duration(b.RefreshInterval) * time.Second
}

package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete client configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Recorder    RecorderConfig    `yaml:"recorder"`
	Report      ReportConfig      `yaml:"report"`
	Status      StatusConfig      `yaml:"status"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig points at the quiz server exposing the instruction, judge and merge endpoints
type ServerConfig struct {
	BaseURL    string `yaml:"base_url"`
	Timeout    int    `yaml:"timeout"` // seconds
	MaxRetries int    `yaml:"max_retries"`
}

// RecognitionConfig contains speech engine and supervisor parameters
type RecognitionConfig struct {
	Engine             string      `yaml:"engine"`
	Language           string      `yaml:"language"`
	Continuous         bool        `yaml:"continuous"`
	InterimResults     bool        `yaml:"interim_results"`
	SoftResetThreshold int         `yaml:"soft_reset_threshold"`
	FatalThreshold     int         `yaml:"fatal_threshold"`
	HealthCheckMs      int         `yaml:"health_check_interval_ms"`
	WatchdogTimeoutMs  int         `yaml:"watchdog_timeout_ms"`
	Azure              AzureConfig `yaml:"azure"`
}

// AzureConfig holds the Azure Speech subscription used by the azure engine
type AzureConfig struct {
	SubscriptionKey string `yaml:"subscription_key"`
	Region          string `yaml:"region"`
}

// RecorderConfig contains audio capture parameters
type RecorderConfig struct {
	Source          string `yaml:"source"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	FramesPerBuffer int    `yaml:"frames_per_buffer"`
}

// ReportConfig controls report generation
type ReportConfig struct {
	Format           string `yaml:"format"`
	MergeConcurrency int    `yaml:"merge_concurrency"`
}

// StatusConfig contains the local status HTTP server configuration
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`

	// Rotation of file output
	MaxSizeMB  int `yaml:"max_size_mb"`
	MaxBackups int `yaml:"max_backups"`
	MaxAgeDays int `yaml:"max_age_days"`
}

// Default returns the reference configuration. Values from a config file are
// layered on top of it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:    "http://localhost:8000",
			Timeout:    60,
			MaxRetries: 3,
		},
		Recognition: RecognitionConfig{
			Engine:             "text",
			Language:           "en-US",
			Continuous:         true,
			InterimResults:     true,
			SoftResetThreshold: 4,
			FatalThreshold:     15,
			HealthCheckMs:      3000,
			WatchdogTimeoutMs:  15000,
		},
		Recorder: RecorderConfig{
			Source:          "silence",
			SampleRate:      16000,
			Channels:        1,
			FramesPerBuffer: 1024,
		},
		Report: ReportConfig{
			Format:           "text",
			MergeConcurrency: 4,
		},
		Status: StatusConfig{
			Enabled: false,
			Address: "127.0.0.1",
			Port:    9090,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs validation of every section
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Recognition.Validate(); err != nil {
		return fmt.Errorf("recognition config: %w", err)
	}

	if err := c.Recorder.Validate(); err != nil {
		return fmt.Errorf("recorder config: %w", err)
	}

	if err := c.Report.Validate(); err != nil {
		return fmt.Errorf("report config: %w", err)
	}

	if err := c.Status.Validate(); err != nil {
		return fmt.Errorf("status config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}

	u, err := url.Parse(s.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute http(s) URL, got '%s'", s.BaseURL)
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", s.MaxRetries)
	}

	return nil
}

// Validate validates recognition configuration
func (r *RecognitionConfig) Validate() error {
	switch r.Engine {
	case "text":
	case "azure":
		if r.Azure.SubscriptionKey == "" || r.Azure.Region == "" {
			return fmt.Errorf("azure engine requires subscription_key and region")
		}
	default:
		return fmt.Errorf("engine must be 'azure' or 'text', got '%s'", r.Engine)
	}

	if r.Language == "" {
		return fmt.Errorf("language cannot be empty")
	}

	if r.SoftResetThreshold < 0 {
		return fmt.Errorf("soft_reset_threshold cannot be negative, got %d", r.SoftResetThreshold)
	}

	if r.FatalThreshold < 1 {
		return fmt.Errorf("fatal_threshold must be at least 1, got %d", r.FatalThreshold)
	}

	if r.HealthCheckMs < 100 {
		return fmt.Errorf("health_check_interval_ms must be at least 100, got %d", r.HealthCheckMs)
	}

	if r.WatchdogTimeoutMs <= r.HealthCheckMs {
		return fmt.Errorf("watchdog_timeout_ms (%d) must be greater than health_check_interval_ms (%d)",
			r.WatchdogTimeoutMs, r.HealthCheckMs)
	}

	return nil
}

// Validate validates recorder configuration
func (r *RecorderConfig) Validate() error {
	if r.Source != "microphone" && r.Source != "silence" {
		return fmt.Errorf("source must be 'microphone' or 'silence', got '%s'", r.Source)
	}

	if r.SampleRate < 8000 || r.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", r.SampleRate)
	}

	if r.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", r.Channels)
	}

	if r.FramesPerBuffer < 64 {
		return fmt.Errorf("frames_per_buffer must be at least 64, got %d", r.FramesPerBuffer)
	}

	return nil
}

// Validate validates report configuration
func (r *ReportConfig) Validate() error {
	if r.Format != "text" && r.Format != "json" {
		return fmt.Errorf("format must be 'text' or 'json', got '%s'", r.Format)
	}

	if r.MergeConcurrency < 1 {
		return fmt.Errorf("merge_concurrency must be at least 1, got %d", r.MergeConcurrency)
	}

	return nil
}

// Validate validates status server configuration
func (s *StatusConfig) Validate() error {
	if s.Enabled {
		if s.Port < 1 || s.Port > 65535 {
			return fmt.Errorf("status port must be between 1 and 65535, got %d", s.Port)
		}

		if s.Address == "" {
			return fmt.Errorf("status address cannot be empty when the status server is enabled")
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

	// Output may be stdout, stderr or a file path.
	if l.MaxSizeMB < 0 || l.MaxBackups < 0 || l.MaxAgeDays < 0 {
		return fmt.Errorf("log rotation limits cannot be negative")
	}

	return nil
}

// GetTimeoutDuration returns the HTTP timeout as a time.Duration
func (s *ServerConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// GetHealthCheckInterval returns the watchdog tick interval as a time.Duration
func (r *RecognitionConfig) GetHealthCheckInterval() time.Duration {
	return time.Duration(r.HealthCheckMs) * time.Millisecond
}

// GetWatchdogTimeout returns the inactivity window as a time.Duration
func (r *RecognitionConfig) GetWatchdogTimeout() time.Duration {
	return time.Duration(r.WatchdogTimeoutMs) * time.Millisecond
}

// ListenAddress returns the host:port the status server listens on
func (s *StatusConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}

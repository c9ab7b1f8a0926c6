package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override values from the YAML file
const (
	EnvGatewayAPIKey  = "GATEWAY_API_KEY"
	EnvGatewayBaseURL = "GATEWAY_BASE_URL"
	EnvLogLevel       = "LOG_LEVEL"
)

// Config represents the complete service configuration
type Config struct {
	HTTP         HTTPConfig         `yaml:"http"`
	Media        MediaConfig        `yaml:"media"`
	Audio        AudioConfig        `yaml:"audio"`
	VAD          VADConfig          `yaml:"vad"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	Conversation ConversationConfig `yaml:"conversation"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
}

// MediaConfig contains the UDP media endpoint configuration
type MediaConfig struct {
	Enabled         bool   `yaml:"enabled"`
	BindAddress     string `yaml:"bind_address"`
	UDPPort         int    `yaml:"udp_port"`
	BufferSize      int    `yaml:"buffer_size"`
	RemoteAddress   string `yaml:"remote_address"` // empty: reply to the last peer
	StreamID        uint32 `yaml:"stream_id"`
	CaptureEnabled  bool   `yaml:"capture_enabled"`
	FrameDurationMs int    `yaml:"frame_duration_ms"`
}

// AudioConfig contains audio processing parameters
type AudioConfig struct {
	SampleRate      int     `yaml:"sample_rate"`
	MaxClipDuration float64 `yaml:"max_clip_duration"` // seconds
}

// VADConfig contains voice activity analysis configuration
type VADConfig struct {
	Threshold  float32 `yaml:"threshold"`
	WindowSize int     `yaml:"window_size"` // samples
}

// GatewayConfig contains the conversational backend configuration
type GatewayConfig struct {
	BaseURL       string `yaml:"base_url"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxConcurrent int    `yaml:"max_concurrent"`
	Language      string `yaml:"language"`
	Voice         string `yaml:"voice"`
}

// ConversationConfig contains session behaviour
type ConversationConfig struct {
	SeedMessage         string `yaml:"seed_message"`
	StepTimeout         int    `yaml:"step_timeout"` // seconds
	NotificationBacklog int    `yaml:"notification_backlog"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// LoadEnv loads variables from a dotenv file into the process environment.
// A missing file is not an error; variables already set are kept.
func LoadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load reads and parses the configuration file, applies environment overrides
// and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Default returns the configuration used for keys missing from the file
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{Port: 8080, Address: "0.0.0.0"},
		Media: MediaConfig{
			BindAddress:     "0.0.0.0",
			UDPPort:         4444,
			BufferSize:      65536,
			StreamID:        1,
			CaptureEnabled:  true,
			FrameDurationMs: 20,
		},
		Audio: AudioConfig{SampleRate: 8000, MaxClipDuration: 30},
		VAD:   VADConfig{Threshold: 0.5, WindowSize: 512},
		Gateway: GatewayConfig{
			Timeout:       30,
			MaxConcurrent: 4,
			Language:      "en",
		},
		Conversation: ConversationConfig{
			SeedMessage:         "Hello",
			StepTimeout:         45,
			NotificationBacklog: 32,
		},
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
	}
}

// ApplyEnv overrides secrets and deployment values from the environment
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvGatewayAPIKey); v != "" {
		c.Gateway.APIKey = v
	}
	if v := os.Getenv(EnvGatewayBaseURL); v != "" {
		c.Gateway.BaseURL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Media.Validate(); err != nil {
		return fmt.Errorf("media config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Gateway.Validate(); err != nil {
		return fmt.Errorf("gateway config: %w", err)
	}

	if err := c.Conversation.Validate(); err != nil {
		return fmt.Errorf("conversation config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("http address cannot be empty")
	}

	return nil
}

// Validate validates media endpoint configuration. A disabled endpoint is not checked.
func (m *MediaConfig) Validate() error {
	if !m.Enabled {
		return nil
	}

	if m.UDPPort < 1 || m.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", m.UDPPort)
	}

	if m.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if m.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", m.BufferSize)
	}

	if m.RemoteAddress != "" {
		if _, _, err := net.SplitHostPort(m.RemoteAddress); err != nil {
			return fmt.Errorf("remote_address must be host:port, got '%s'", m.RemoteAddress)
		}
	}

	if m.FrameDurationMs < 10 || m.FrameDurationMs > 100 {
		return fmt.Errorf("frame_duration_ms must be between 10 and 100, got %d", m.FrameDurationMs)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 8000 {
		return fmt.Errorf("sample_rate must be 8000 Hz for TLV protocol, got %d", a.SampleRate)
	}

	if a.MaxClipDuration <= 0 || a.MaxClipDuration > 300 {
		return fmt.Errorf("max_clip_duration must be between 0 and 300 seconds, got %f", a.MaxClipDuration)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.Threshold < 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", v.Threshold)
	}

	if v.WindowSize < 256 || v.WindowSize > 2048 {
		return fmt.Errorf("window_size must be between 256 and 2048 samples, got %d", v.WindowSize)
	}

	return nil
}

// Validate validates gateway configuration
func (g *GatewayConfig) Validate() error {
	if g.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}

	u, err := url.Parse(g.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute http(s) URL, got '%s'", g.BaseURL)
	}

	if g.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", g.Timeout)
	}

	if g.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", g.MaxConcurrent)
	}

	return nil
}

// Validate validates conversation configuration
func (c *ConversationConfig) Validate() error {
	if strings.TrimSpace(c.SeedMessage) == "" {
		return fmt.Errorf("seed_message cannot be empty")
	}

	if c.StepTimeout < 1 {
		return fmt.Errorf("step_timeout must be at least 1 second, got %d", c.StepTimeout)
	}

	if c.NotificationBacklog < 1 {
		return fmt.Errorf("notification_backlog must be at least 1, got %d", c.NotificationBacklog)
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

	// output is stdout, stderr, or a file path
	return nil
}

// GetMaxClipDuration returns the capture limit as a time.Duration
func (a *AudioConfig) GetMaxClipDuration() time.Duration {
	return time.Duration(a.MaxClipDuration * float64(time.Second))
}

// GetFrameDuration returns the outbound media frame length as a time.Duration
func (m *MediaConfig) GetFrameDuration() time.Duration {
	return time.Duration(m.FrameDurationMs) * time.Millisecond
}

// GetTimeoutDuration returns the gateway request timeout as a time.Duration
func (g *GatewayConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(g.Timeout) * time.Second
}

// GetStepTimeoutDuration returns the per-step timeout as a time.Duration
func (c *ConversationConfig) GetStepTimeoutDuration() time.Duration {
	return time.Duration(c.StepTimeout) * time.Second
}

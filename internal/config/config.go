package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Agent   AgentConfig   `yaml:"agent"`
	Audio   AudioConfig   `yaml:"audio"`
	Session SessionConfig `yaml:"session"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains HTTP/WebSocket server configuration
type ServerConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`

	// PublicHost is the externally reachable host used in the TwiML answer's
	// media-stream URL (e.g. "bridge.example.com").
	PublicHost string `yaml:"public_host"`
}

// AgentConfig contains ElevenLabs Conversational AI configuration
type AgentConfig struct {
	APIURL      string `yaml:"api_url"`
	AgentID     string `yaml:"agent_id"`
	APIKey      string `yaml:"api_key"`
	DialTimeout int    `yaml:"dial_timeout"` // seconds
}

// AudioConfig contains audio relay parameters
type AudioConfig struct {
	SampleRate     int `yaml:"sample_rate"`
	Channels       int `yaml:"channels"`
	MaxQueueFrames int `yaml:"max_queue_frames"`
}

// SessionConfig contains per-call session parameters
type SessionConfig struct {
	ReadyFallbackMs int `yaml:"ready_fallback_ms"`
	IdleTimeout     int `yaml:"idle_timeout"` // seconds
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

	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides lets credentials come from the environment so they stay
// out of the config file.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("ELEVENLABS_API_KEY"); key != "" {
		c.Agent.APIKey = key
	}
	if id := os.Getenv("ELEVENLABS_AGENT_ID"); id != "" {
		c.Agent.AgentID = id
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if s.PublicHost == "" {
		return fmt.Errorf("public_host cannot be empty")
	}

	if strings.Contains(s.PublicHost, "://") {
		return fmt.Errorf("public_host must be a bare host, got URL '%s'", s.PublicHost)
	}

	return nil
}

// Validate validates agent provider configuration
func (a *AgentConfig) Validate() error {
	if a.APIURL == "" {
		return fmt.Errorf("api_url cannot be empty")
	}

	if _, err := url.Parse(a.APIURL); err != nil {
		return fmt.Errorf("api_url is not a valid URL: %w", err)
	}

	if a.AgentID == "" {
		return fmt.Errorf("agent_id cannot be empty")
	}

	if a.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if a.DialTimeout < 1 {
		return fmt.Errorf("dial_timeout must be at least 1 second, got %d", a.DialTimeout)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 8000 {
		return fmt.Errorf("sample_rate must be 8000 Hz for Twilio media streams, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono) for Twilio media streams, got %d", a.Channels)
	}

	if a.MaxQueueFrames < 1 {
		return fmt.Errorf("max_queue_frames must be at least 1, got %d", a.MaxQueueFrames)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.ReadyFallbackMs < 1 {
		return fmt.Errorf("ready_fallback_ms must be at least 1, got %d", s.ReadyFallbackMs)
	}

	if s.IdleTimeout < 1 {
		return fmt.Errorf("idle_timeout must be at least 1 second, got %d", s.IdleTimeout)
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

// GetDialTimeout returns the agent dial timeout as a time.Duration
func (a *AgentConfig) GetDialTimeout() time.Duration {
	return time.Duration(a.DialTimeout) * time.Second
}

// GetReadyFallback returns the readiness fallback as a time.Duration
func (s *SessionConfig) GetReadyFallback() time.Duration {
	return time.Duration(s.ReadyFallbackMs) * time.Millisecond
}

// GetIdleTimeout returns the session idle timeout as a time.Duration
func (s *SessionConfig) GetIdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}

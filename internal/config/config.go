// ABOUTME: Configuration loading and parsing for lantern-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete lantern-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// GatewayConfig holds realtime-channel limits and timing
type GatewayConfig struct {
	MaxClients         int `yaml:"max_clients"`
	QueueSize          int `yaml:"queue_size"`
	TokenTableSize     int `yaml:"token_table_size"`
	AudioBufferInitial int `yaml:"audio_buffer_initial"`
	AudioBufferMax     int `yaml:"audio_buffer_max"`
	MaxTextFrame       int `yaml:"max_text_frame"`

	PollInterval time.Duration `yaml:"-"`
	ResumeTTL    time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	PollIntervalRaw string `yaml:"poll_interval"`
	ResumeTTLRaw    string `yaml:"resume_ttl"`
}

// PipelineConfig holds the speech/LLM pipeline configuration
type PipelineConfig struct {
	Provider      string  `yaml:"provider"`
	Model         string  `yaml:"model"`
	APIKey        string  `yaml:"api_key"`
	BaseURL       string  `yaml:"base_url"`
	ASRModel      string  `yaml:"asr_model"`
	Voice         string  `yaml:"voice"`
	SystemPrompt  string  `yaml:"system_prompt"`
	ContextWindow int     `yaml:"context_window"`
	ContextAlert  float64 `yaml:"context_alert"`
	MaxToolRounds int     `yaml:"max_tool_rounds"`
	TTSEnabled    bool    `yaml:"tts_enabled"`
}

// DatabaseConfig holds transcript store configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with every limit at its default value.
// Callers still need to fill in the pipeline credentials.
func Default() *Config {
	return &Config{
		Server: ServerConfig{HTTPAddr: ":3000"},
		Gateway: GatewayConfig{
			MaxClients:         4,
			QueueSize:          512,
			TokenTableSize:     16,
			AudioBufferInitial: 32 * 1024,
			AudioBufferMax:     960000,
			MaxTextFrame:       8 * 1024 * 1024,
			PollInterval:       50 * time.Millisecond,
			ResumeTTL:          30 * time.Minute,
		},
		Pipeline: PipelineConfig{
			Provider:      "openai",
			Model:         "gpt-4o-mini",
			ASRModel:      "whisper-1",
			Voice:         "alloy",
			ContextWindow: 128000,
			ContextAlert:  0.8,
			MaxToolRounds: 5,
			TTSEnabled:    true,
		},
		Database: DatabaseConfig{Path: "lantern.db"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
// Fields left unset keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Gateway.MaxClients <= 0 {
		return fmt.Errorf("gateway.max_clients must be positive")
	}
	if c.Gateway.QueueSize <= 0 {
		return fmt.Errorf("gateway.queue_size must be positive")
	}
	if c.Gateway.AudioBufferInitial <= 0 || c.Gateway.AudioBufferMax < c.Gateway.AudioBufferInitial {
		return fmt.Errorf("gateway audio buffer limits are invalid")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Pipeline.Provider != "openai" {
		return fmt.Errorf("pipeline.provider %q is not supported", c.Pipeline.Provider)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Gateway.PollIntervalRaw != "" {
		cfg.Gateway.PollInterval, err = time.ParseDuration(cfg.Gateway.PollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing poll_interval %q: %w", cfg.Gateway.PollIntervalRaw, err)
		}
	}

	if cfg.Gateway.ResumeTTLRaw != "" {
		cfg.Gateway.ResumeTTL, err = time.ParseDuration(cfg.Gateway.ResumeTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing resume_ttl %q: %w", cfg.Gateway.ResumeTTLRaw, err)
		}
	}

	return nil
}

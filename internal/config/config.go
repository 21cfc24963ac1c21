package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/harun/agentrelay/pkg/agent"
	"github.com/harun/agentrelay/pkg/session"
)

// Config represents the complete agentrelay configuration
type Config struct {
	Server      ServerConfig                      `mapstructure:"server" json:"server"`
	Storage     StorageConfig                     `mapstructure:"storage" json:"storage"`
	Credentials map[string]agent.CredentialSource `mapstructure:"credentials" json:"credentials"`
	Defaults    session.Options                   `mapstructure:"defaults" json:"defaults"`
	Agent       AgentConfig                       `mapstructure:"agent" json:"agent"`
	Logging     LoggingConfig                     `mapstructure:"logging" json:"logging"`
	Telemetry   TelemetryConfig                   `mapstructure:"telemetry" json:"telemetry"`
}

// ServerConfig holds the HTTP and WebSocket listener settings
type ServerConfig struct {
	Host           string        `mapstructure:"host" json:"host"`
	Port           int           `mapstructure:"port" json:"port"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" json:"allowed_origins"`
	PingInterval   time.Duration `mapstructure:"ping_interval" json:"ping_interval"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
	// SubscriberBuffer bounds each WebSocket's outbound queue
	SubscriberBuffer int           `mapstructure:"subscriber_buffer" json:"subscriber_buffer"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
	VNCURL           string        `mapstructure:"vnc_url" json:"vnc_url"`
}

// StorageConfig says where the SQLite file lives. PreferredDir is used when
// writable, FallbackDir otherwise.
type StorageConfig struct {
	PreferredDir string `mapstructure:"preferred_dir" json:"preferred_dir"`
	FallbackDir  string `mapstructure:"fallback_dir" json:"fallback_dir"`
	FileName     string `mapstructure:"file_name" json:"file_name"`
}

// AgentConfig tunes the provider loops
type AgentConfig struct {
	AnthropicBaseURL string        `mapstructure:"anthropic_base_url" json:"anthropic_base_url,omitempty"`
	OpenAIBaseURL    string        `mapstructure:"openai_base_url" json:"openai_base_url,omitempty"`
	MaxTurns         int           `mapstructure:"max_turns" json:"max_turns"`
	MaxRetries       int           `mapstructure:"max_retries" json:"max_retries"`
	Timeout          time.Duration `mapstructure:"timeout" json:"timeout"`
	// WorkspaceRoot enables the file tools when set
	WorkspaceRoot string `mapstructure:"workspace_root" json:"workspace_root,omitempty"`
	MaxReadBytes  int64  `mapstructure:"max_read_bytes" json:"max_read_bytes"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level     string `mapstructure:"level" json:"level"`
	File      string `mapstructure:"file" json:"file,omitempty"`
	Console   bool   `mapstructure:"console" json:"console"`
	Pretty    bool   `mapstructure:"pretty" json:"pretty"`
	Redaction bool   `mapstructure:"redaction" json:"redaction"`
	MaxSize   int    `mapstructure:"max_size" json:"max_size"`
	MaxAge    int    `mapstructure:"max_age" json:"max_age"`
	Compress  bool   `mapstructure:"compress" json:"compress"`
}

// TelemetryConfig controls tracing and the audit trail
type TelemetryConfig struct {
	ServiceName    string  `mapstructure:"service_name" json:"service_name"`
	TracingEnabled bool    `mapstructure:"tracing_enabled" json:"tracing_enabled"`
	SampleRatio    float64 `mapstructure:"sample_ratio" json:"sample_ratio"`
	AuditFile      string  `mapstructure:"audit_file" json:"audit_file,omitempty"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
			AllowedOrigins: []string{
				"http://localhost:8080",
				"http://127.0.0.1:8080",
				"http://0.0.0.0:8080",
			},
			PingInterval:     30 * time.Second,
			WriteTimeout:     10 * time.Second,
			SubscriberBuffer: 256,
			ShutdownTimeout:  15 * time.Second,
			VNCURL:           "http://127.0.0.1:6080/vnc.html?resize=scale&autoconnect=1",
		},
		Storage: StorageConfig{
			PreferredDir: "~/.anthropic",
			FallbackDir:  "/tmp",
			FileName:     "computer_use_sessions.sqlite3",
		},
		Credentials: agent.DefaultCredentialSources(),
		Defaults:    session.DefaultOptions(),
		Agent: AgentConfig{
			MaxTurns:     50,
			MaxRetries:   2,
			Timeout:      5 * time.Minute,
			MaxReadBytes: 64 << 10,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "agentrelay",
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	v := NewValidator()

	if err := v.ValidatePort(c.Server.Port); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	for _, origin := range c.Server.AllowedOrigins {
		if err := v.ValidateOrigin(origin); err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}
	if c.Server.PingInterval <= 0 {
		return fmt.Errorf("server: ping_interval must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server: write_timeout must be positive")
	}
	if c.Server.SubscriberBuffer <= 0 {
		return fmt.Errorf("server: subscriber_buffer must be positive")
	}

	if c.Storage.FileName == "" {
		return fmt.Errorf("storage: file_name is required")
	}
	if c.Storage.PreferredDir == "" && c.Storage.FallbackDir == "" {
		return fmt.Errorf("storage: at least one of preferred_dir and fallback_dir is required")
	}

	for provider, src := range c.Credentials {
		if src.KeyFile == "" && src.EnvVar == "" {
			return fmt.Errorf("credentials %s: key_file or env_var is required", provider)
		}
	}

	if err := c.Defaults.Validate(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}

	if c.Agent.MaxTurns <= 0 {
		return fmt.Errorf("agent: max_turns must be positive")
	}
	if c.Agent.MaxRetries < 0 {
		return fmt.Errorf("agent: max_retries cannot be negative")
	}

	if err := v.ValidateLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := v.ValidateSampleRatio(c.Telemetry.SampleRatio); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	return nil
}

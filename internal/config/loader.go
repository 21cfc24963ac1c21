package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/tidwall/jsonc"
)

// EnvPrefix is prepended to every environment override, e.g.
// AGENTRELAY_SERVER_PORT
const EnvPrefix = "AGENTRELAY"

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file, if any, and applies environment overrides on
// top of DefaultConfig.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultConfig()
	registerDefaults(v, cfg)

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			// comments and trailing commas are allowed
			v.SetConfigType("json")
			if err := v.ReadConfig(bytes.NewReader(jsonc.ToJSON(data))); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// registerDefaults makes every scalar key known to viper so that
// AutomaticEnv can override it even when the file omits it.
func registerDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.allowed_origins", cfg.Server.AllowedOrigins)
	v.SetDefault("server.ping_interval", cfg.Server.PingInterval)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.subscriber_buffer", cfg.Server.SubscriberBuffer)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	v.SetDefault("server.vnc_url", cfg.Server.VNCURL)

	v.SetDefault("storage.preferred_dir", cfg.Storage.PreferredDir)
	v.SetDefault("storage.fallback_dir", cfg.Storage.FallbackDir)
	v.SetDefault("storage.file_name", cfg.Storage.FileName)

	v.SetDefault("defaults.provider", cfg.Defaults.Provider)
	v.SetDefault("defaults.model", cfg.Defaults.Model)
	v.SetDefault("defaults.tool_version", cfg.Defaults.ToolVersion)
	v.SetDefault("defaults.output_tokens", cfg.Defaults.OutputTokens)

	v.SetDefault("agent.anthropic_base_url", cfg.Agent.AnthropicBaseURL)
	v.SetDefault("agent.openai_base_url", cfg.Agent.OpenAIBaseURL)
	v.SetDefault("agent.max_turns", cfg.Agent.MaxTurns)
	v.SetDefault("agent.max_retries", cfg.Agent.MaxRetries)
	v.SetDefault("agent.timeout", cfg.Agent.Timeout)
	v.SetDefault("agent.workspace_root", cfg.Agent.WorkspaceRoot)
	v.SetDefault("agent.max_read_bytes", cfg.Agent.MaxReadBytes)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.console", cfg.Logging.Console)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)
	v.SetDefault("logging.max_size", cfg.Logging.MaxSize)
	v.SetDefault("logging.max_age", cfg.Logging.MaxAge)
	v.SetDefault("logging.compress", cfg.Logging.Compress)

	v.SetDefault("telemetry.service_name", cfg.Telemetry.ServiceName)
	v.SetDefault("telemetry.tracing_enabled", cfg.Telemetry.TracingEnabled)
	v.SetDefault("telemetry.sample_ratio", cfg.Telemetry.SampleRatio)
	v.SetDefault("telemetry.audit_file", cfg.Telemetry.AuditFile)
}

// Save writes the configuration to the loader's path as JSON
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to determine config path")
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	// durations are written in their readable form
	v.Set("server", map[string]any{
		"host":              cfg.Server.Host,
		"port":              cfg.Server.Port,
		"allowed_origins":   cfg.Server.AllowedOrigins,
		"ping_interval":     cfg.Server.PingInterval.String(),
		"write_timeout":     cfg.Server.WriteTimeout.String(),
		"subscriber_buffer": cfg.Server.SubscriberBuffer,
		"shutdown_timeout":  cfg.Server.ShutdownTimeout.String(),
		"vnc_url":           cfg.Server.VNCURL,
	})
	v.Set("storage", cfg.Storage)
	v.Set("credentials", cfg.Credentials)
	v.Set("defaults", cfg.Defaults)
	v.Set("agent", map[string]any{
		"anthropic_base_url": cfg.Agent.AnthropicBaseURL,
		"openai_base_url":    cfg.Agent.OpenAIBaseURL,
		"max_turns":          cfg.Agent.MaxTurns,
		"max_retries":        cfg.Agent.MaxRetries,
		"timeout":            cfg.Agent.Timeout.String(),
		"workspace_root":     cfg.Agent.WorkspaceRoot,
		"max_read_bytes":     cfg.Agent.MaxReadBytes,
	})
	v.Set("logging", cfg.Logging)
	v.Set("telemetry", cfg.Telemetry)

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}
	return DefaultConfigPath()
}

// DefaultConfigPath is ~/.agentrelay/agentrelay.json
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".agentrelay", "agentrelay.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}

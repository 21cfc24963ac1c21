package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidatePort accepts 0 (any free port) through 65535
func (v *Validator) ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("invalid port %d (must be 0-65535)", port)
	}
	return nil
}

// ValidateOrigin validates a CORS origin. "*" allows every origin.
func (v *Validator) ValidateOrigin(origin string) error {
	if origin == "*" {
		return nil
	}
	if origin == "" {
		return fmt.Errorf("allowed origin cannot be empty")
	}

	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin %q: %w", origin, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid origin %q (scheme must be http or https)", origin)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid origin %q (host is required)", origin)
	}
	if u.Path != "" && u.Path != "/" {
		return fmt.Errorf("invalid origin %q (origins have no path)", origin)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if slices.Contains(validLevels, level) {
		return nil
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateSampleRatio validates a trace sampling ratio
func (v *Validator) ValidateSampleRatio(ratio float64) error {
	if ratio < 0 || ratio > 1 {
		return fmt.Errorf("sample_ratio must be between 0 and 1, got %f", ratio)
	}
	return nil
}

// ValidateAPIKey checks the shape of a provider key
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePort(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidatePort(0))
	assert.NoError(t, v.ValidatePort(8000))
	assert.NoError(t, v.ValidatePort(65535))
	assert.Error(t, v.ValidatePort(-1))
	assert.Error(t, v.ValidatePort(65536))
}

func TestValidateOrigin(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		origin  string
		wantErr bool
	}{
		{"http://localhost:8080", false},
		{"https://example.com", false},
		{"http://0.0.0.0:8080/", false},
		{"*", false},
		{"", true},
		{"localhost:8080", true},
		{"ftp://example.com", true},
		{"http://", true},
		{"http://example.com/app", true},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			err := v.ValidateOrigin(tt.origin)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	for _, level := range []string{"debug", "info", "warn", "error"} {
		assert.NoError(t, v.ValidateLogLevel(level))
	}

	err := v.ValidateLogLevel("verbose")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "must be one of")
}

func TestValidateSampleRatio(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateSampleRatio(0))
	assert.NoError(t, v.ValidateSampleRatio(0.25))
	assert.NoError(t, v.ValidateSampleRatio(1))
	assert.Error(t, v.ValidateSampleRatio(-0.1))
	assert.Error(t, v.ValidateSampleRatio(1.1))
}

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name     string
		key      string
		provider string
		wantErr  bool
	}{
		{"valid anthropic key", "sk-ant-api03-abc", "anthropic", false},
		{"anthropic key with openai prefix", "sk-proj-abc", "anthropic", true},
		{"valid openai key", "sk-proj-abc", "openai", false},
		{"openai key without prefix", "abc", "openai", true},
		{"empty key", "", "anthropic", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateAPIKey(tt.key, tt.provider)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

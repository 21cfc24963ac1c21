package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/agentrelay/pkg/session"
)

// ErrMissingCredential is returned when no API key can be found for a provider
var ErrMissingCredential = errors.New("missing credential")

// CredentialSource says where to look for one provider's API key
type CredentialSource struct {
	// KeyFile is read first; a leading ~ expands to the home directory
	KeyFile string `mapstructure:"key_file" json:"key_file"`
	// EnvVar is consulted when the file is absent or empty
	EnvVar string `mapstructure:"env_var" json:"env_var"`
}

// CredentialResolver finds API keys per provider
type CredentialResolver struct {
	sources map[string]CredentialSource
	getenv  func(string) string
}

// DefaultCredentialSources returns the well-known key locations
func DefaultCredentialSources() map[string]CredentialSource {
	return map[string]CredentialSource{
		session.ProviderAnthropic: {KeyFile: "~/.anthropic/api_key", EnvVar: "ANTHROPIC_API_KEY"},
		session.ProviderOpenAI:    {KeyFile: "~/.openai/api_key", EnvVar: "OPENAI_API_KEY"},
	}
}

// NewCredentialResolver creates a resolver. A nil map uses the defaults.
func NewCredentialResolver(sources map[string]CredentialSource) *CredentialResolver {
	if sources == nil {
		sources = DefaultCredentialSources()
	}
	return &CredentialResolver{
		sources: sources,
		getenv:  os.Getenv,
	}
}

// Resolve returns the API key for provider
func (r *CredentialResolver) Resolve(provider string) (string, error) {
	src, ok := r.sources[provider]
	if !ok {
		return "", fmt.Errorf("%w: no credential source for provider %q", ErrMissingCredential, provider)
	}

	if src.KeyFile != "" {
		if data, err := os.ReadFile(expandHome(src.KeyFile)); err == nil {
			if key := strings.TrimSpace(string(data)); key != "" {
				return key, nil
			}
		}
	}
	if src.EnvVar != "" {
		if key := strings.TrimSpace(r.getenv(src.EnvVar)); key != "" {
			return key, nil
		}
	}

	return "", fmt.Errorf("%w: set %s or write the key to %s", ErrMissingCredential, src.EnvVar, src.KeyFile)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

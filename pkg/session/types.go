package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// Role identifies who authored a turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Persisted status values mirrored into the durable store
const (
	StatusIdle    = "idle"
	StatusRunning = "running"
)

// Content block types
const (
	BlockText             = "text"
	BlockImage            = "image"
	BlockToolUse          = "tool_use"
	BlockToolResult       = "tool_result"
	BlockThinking         = "thinking"
	BlockRedactedThinking = "redacted_thinking"
)

// Supported providers
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// ToolVersions lists the tool-version tags a session may be created with
var ToolVersions = []string{
	"computer_use_20241022",
	"computer_use_20250124",
	"computer_use_20250429",
}

var (
	// ErrNotFound is returned when a session id is not live in the registry
	ErrNotFound = errors.New("session not found")
	// ErrInvalidOptions is returned when session options fail validation
	ErrInvalidOptions = errors.New("invalid session options")
)

// ImageSource carries an inline base64 image
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// ContentBlock is one typed unit of message content. Only the fields relevant
// to Type are populated.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   []ContentBlock  `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Signature string          `json:"signature,omitempty"`
	Data      string          `json:"data,omitempty"`
	Source    *ImageSource    `json:"source,omitempty"`
}

// TextBlock builds a plain text block
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// Turn is one message in a conversation
type Turn struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// Options is the immutable configuration of a session
type Options struct {
	Provider              string `json:"provider" mapstructure:"provider"`
	Model                 string `json:"model" mapstructure:"model"`
	ToolVersion           string `json:"tool_version" mapstructure:"tool_version"`
	SystemPromptSuffix    string `json:"system_prompt_suffix" mapstructure:"system_prompt_suffix"`
	OnlyNMostRecentImages *int   `json:"only_n_most_recent_images" mapstructure:"only_n_most_recent_images"`
	OutputTokens          int    `json:"output_tokens" mapstructure:"output_tokens"`
	ThinkingEnabled       bool   `json:"thinking_enabled" mapstructure:"thinking_enabled"`
	ThinkingBudget        *int   `json:"thinking_budget" mapstructure:"thinking_budget"`
	TokenEfficientTools   bool   `json:"token_efficient_tools_beta" mapstructure:"token_efficient_tools_beta"`
}

// DefaultOptions returns the options applied when a create request omits a field
func DefaultOptions() Options {
	images := 3
	return Options{
		Provider:              ProviderAnthropic,
		Model:                 "claude-sonnet-4-20250514",
		ToolVersion:           "computer_use_20250124",
		OnlyNMostRecentImages: &images,
		OutputTokens:          4096,
	}
}

// Validate checks that the options describe a runnable session
func (o Options) Validate() error {
	switch o.Provider {
	case ProviderAnthropic, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: unsupported provider %q", ErrInvalidOptions, o.Provider)
	}
	if o.Model == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidOptions)
	}
	if !slices.Contains(ToolVersions, o.ToolVersion) {
		return fmt.Errorf("%w: unsupported tool_version %q", ErrInvalidOptions, o.ToolVersion)
	}
	if o.OutputTokens <= 0 {
		return fmt.Errorf("%w: output_tokens must be positive", ErrInvalidOptions)
	}
	if o.OnlyNMostRecentImages != nil && *o.OnlyNMostRecentImages < 0 {
		return fmt.Errorf("%w: only_n_most_recent_images cannot be negative", ErrInvalidOptions)
	}
	if o.ThinkingEnabled {
		if o.ThinkingBudget == nil || *o.ThinkingBudget <= 0 {
			return fmt.Errorf("%w: thinking_budget is required when thinking is enabled", ErrInvalidOptions)
		}
		if *o.ThinkingBudget >= o.OutputTokens {
			return fmt.Errorf("%w: thinking_budget must be below output_tokens", ErrInvalidOptions)
		}
	}
	return nil
}

// EffectiveThinkingBudget returns the budget only when thinking is enabled
func (o Options) EffectiveThinkingBudget() int {
	if !o.ThinkingEnabled || o.ThinkingBudget == nil {
		return 0
	}
	return *o.ThinkingBudget
}

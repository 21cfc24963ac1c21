package agent

import (
	"context"
	"time"

	"github.com/harun/agentrelay/pkg/session"
	"github.com/rs/zerolog"
)

// Loop is the agent sampling loop for one run
type Loop interface {
	Run(ctx context.Context, req Request, cb Callbacks) ([]session.Turn, error)
}

// Request is the input of one run
type Request struct {
	SessionID string
	Options   session.Options
	APIKey    string
	History   []session.Turn
}

// ToolResult is the outcome of one tool invocation
type ToolResult struct {
	Output      string `json:"output,omitempty"`
	Error       string `json:"error,omitempty"`
	Base64Image string `json:"base64_image,omitempty"`
}

// Exchange describes one HTTP round trip to the provider. StatusCode is zero
// when no response was received.
type Exchange struct {
	StatusCode int
	Err        error
}

// Callbacks receive the intermediate steps of a run. Nil fields are skipped.
type Callbacks struct {
	OnBlock      func(block session.ContentBlock)
	OnToolResult func(result ToolResult, toolUseID string)
	OnExchange   func(ex Exchange)
}

func (c Callbacks) block(b session.ContentBlock) {
	if c.OnBlock != nil {
		c.OnBlock(b)
	}
}

func (c Callbacks) toolResult(r ToolResult, toolUseID string) {
	if c.OnToolResult != nil {
		c.OnToolResult(r, toolUseID)
	}
}

func (c Callbacks) exchange(ex Exchange) {
	if c.OnExchange != nil {
		c.OnExchange(ex)
	}
}

// LoopConfig configures a provider loop
type LoopConfig struct {
	// BaseURL overrides the provider endpoint
	BaseURL string
	// MaxTurns caps model calls per run
	MaxTurns   int
	MaxRetries int
	Timeout    time.Duration
	Tools      *Toolbox
	Logger     zerolog.Logger
}

const defaultMaxTurns = 50

func (c LoopConfig) withDefaults() LoopConfig {
	if c.MaxTurns <= 0 {
		c.MaxTurns = defaultMaxTurns
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Tools == nil {
		c.Tools = NewToolbox(ToolboxConfig{})
	}
	return c
}

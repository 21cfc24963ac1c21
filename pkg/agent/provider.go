package agent

import (
	"context"
	"fmt"

	"github.com/harun/agentrelay/pkg/session"
)

// RouterConfig holds the loop used for each provider
type RouterConfig struct {
	Anthropic Loop
	OpenAI    Loop
}

// Router dispatches a run to the loop of the session's provider
type Router struct {
	loops map[string]Loop
}

// NewRouter creates a router. Providers without a loop fail at run time.
func NewRouter(cfg RouterConfig) *Router {
	loops := make(map[string]Loop)
	if cfg.Anthropic != nil {
		loops[session.ProviderAnthropic] = cfg.Anthropic
	}
	if cfg.OpenAI != nil {
		loops[session.ProviderOpenAI] = cfg.OpenAI
	}
	return &Router{loops: loops}
}

// Run implements Loop
func (r *Router) Run(ctx context.Context, req Request, cb Callbacks) ([]session.Turn, error) {
	loop, ok := r.loops[req.Options.Provider]
	if !ok {
		return nil, fmt.Errorf("unsupported provider: %s", req.Options.Provider)
	}
	if req.APIKey == "" {
		return nil, fmt.Errorf("%w for provider %s", ErrMissingCredential, req.Options.Provider)
	}
	return loop.Run(ctx, req, cb)
}

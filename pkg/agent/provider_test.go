package agent

import (
	"context"
	"testing"

	"github.com/harun/agentrelay/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLoop struct {
	calls int
}

func (s *stubLoop) Run(ctx context.Context, req Request, cb Callbacks) ([]session.Turn, error) {
	s.calls++
	return req.History, nil
}

func TestRouter_Dispatch(t *testing.T) {
	anthropicLoop := &stubLoop{}
	openaiLoop := &stubLoop{}
	router := NewRouter(RouterConfig{Anthropic: anthropicLoop, OpenAI: openaiLoop})

	_, err := router.Run(context.Background(), newTestRequest(session.ProviderOpenAI), Callbacks{})
	require.NoError(t, err)

	assert.Equal(t, 0, anthropicLoop.calls)
	assert.Equal(t, 1, openaiLoop.calls)
}

func TestRouter_Errors(t *testing.T) {
	router := NewRouter(RouterConfig{Anthropic: &stubLoop{}})

	t.Run("provider without loop", func(t *testing.T) {
		_, err := router.Run(context.Background(), newTestRequest(session.ProviderOpenAI), Callbacks{})
		assert.ErrorContains(t, err, "unsupported provider")
	})

	t.Run("missing key", func(t *testing.T) {
		req := newTestRequest(session.ProviderAnthropic)
		req.APIKey = ""
		_, err := router.Run(context.Background(), req, Callbacks{})
		assert.ErrorIs(t, err, ErrMissingCredential)
	})
}

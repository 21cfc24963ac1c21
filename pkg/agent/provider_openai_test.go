package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/harun/agentrelay/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	openaiToolCallResponse = `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 1,
		"model": "gpt-test",
		"choices": [{
			"index": 0,
			"finish_reason": "tool_calls",
			"logprobs": null,
			"message": {
				"role": "assistant",
				"content": null,
				"refusal": null,
				"tool_calls": [{
					"id": "call_1",
					"type": "function",
					"function": {"name": "think", "arguments": "{\"thought\":\"plan\"}"}
				}]
			}
		}],
		"usage": {"prompt_tokens": 5, "completion_tokens": 5, "total_tokens": 10}
	}`
	openaiStopResponse = `{
		"id": "chatcmpl-2",
		"object": "chat.completion",
		"created": 2,
		"model": "gpt-test",
		"choices": [{
			"index": 0,
			"finish_reason": "stop",
			"logprobs": null,
			"message": {"role": "assistant", "content": "All done.", "refusal": null}
		}],
		"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
	}`
)

type fakeChatAPI struct {
	mu        sync.Mutex
	responses []string
	requests  []map[string]any
}

func (f *fakeChatAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
		http.NotFound(w, r)
		return
	}
	body, _ := io.ReadAll(r.Body)
	var decoded map[string]any
	_ = json.Unmarshal(body, &decoded)

	f.mu.Lock()
	f.requests = append(f.requests, decoded)
	resp := f.responses[0]
	f.responses = f.responses[1:]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(resp))
}

func TestOpenAILoop_ToolRoundTrip(t *testing.T) {
	api := &fakeChatAPI{responses: []string{openaiToolCallResponse, openaiStopResponse}}
	srv := httptest.NewServer(api)
	defer srv.Close()

	loop := NewOpenAILoop(LoopConfig{BaseURL: srv.URL + "/v1"})

	var results []string
	history, err := loop.Run(context.Background(), newTestRequest(session.ProviderOpenAI), Callbacks{
		OnToolResult: func(r ToolResult, id string) { results = append(results, id+":"+r.Output) },
	})
	require.NoError(t, err)

	require.Len(t, history, 4)
	assert.Equal(t, session.BlockToolUse, history[1].Content[0].Type)
	assert.Equal(t, "call_1", history[1].Content[0].ID)
	assert.Equal(t, "All done.", history[3].Content[0].Text)
	assert.Equal(t, []string{"call_1:Thinking complete!"}, results)

	require.Len(t, api.requests, 2)
	messages, ok := api.requests[1]["messages"].([]any)
	require.True(t, ok)
	// system, user, assistant with tool call, tool result
	require.Len(t, messages, 4)
	last, ok := messages[3].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "tool", last["role"])
	assert.Equal(t, "call_1", last["tool_call_id"])
}

func TestToOpenAIMessages(t *testing.T) {
	history := []session.Turn{
		{Role: session.RoleUser, Content: []session.ContentBlock{session.TextBlock("hi")}},
		{Role: session.RoleAssistant, Content: []session.ContentBlock{
			{Type: session.BlockThinking, Thinking: "hidden"},
			session.TextBlock("hello"),
		}},
		{Role: session.RoleUser, Content: []session.ContentBlock{
			toolResultBlock("call_9", ToolResult{Error: "nope"}),
		}},
	}

	messages := toOpenAIMessages("system", history)

	require.Len(t, messages, 4)
	require.NotNil(t, messages[0].OfSystem)
	require.NotNil(t, messages[1].OfUser)
	require.NotNil(t, messages[2].OfAssistant)
	require.NotNil(t, messages[3].OfTool)
	assert.Equal(t, "call_9", messages[3].OfTool.ToolCallID)
}

func TestToolResultText(t *testing.T) {
	assert.Equal(t, "out", toolResultText(toolResultBlock("x", ToolResult{Output: "out"})))
	assert.Equal(t, "ok", toolResultText(toolResultBlock("x", ToolResult{Base64Image: "aW1n"})))
	assert.Equal(t, "error", toolResultText(session.ContentBlock{Type: session.BlockToolResult, IsError: true}))
}

func TestOpenAILoop_InvalidArguments(t *testing.T) {
	api := &fakeChatAPI{responses: []string{strings.Replace(openaiToolCallResponse, `{\"thought\":\"plan\"}`, `not json`, 1), openaiStopResponse}}
	srv := httptest.NewServer(api)
	defer srv.Close()

	history, err := NewOpenAILoop(LoopConfig{BaseURL: srv.URL + "/v1"}).
		Run(context.Background(), newTestRequest(session.ProviderOpenAI), Callbacks{})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(history[1].Content[0].Input))

	// the empty object is rejected by the tool's schema and reported back
	result := history[2].Content[0]
	assert.True(t, result.IsError)
	require.NotEmpty(t, result.Content)
	assert.Contains(t, result.Content[0].Text, "thought is required")
}

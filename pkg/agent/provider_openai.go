package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/harun/agentrelay/pkg/session"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAILoop runs the sampling loop against the OpenAI chat completions API.
// Thinking blocks and images are not sent to this provider.
type OpenAILoop struct {
	cfg LoopConfig
	now func() time.Time
}

// NewOpenAILoop creates an OpenAI loop
func NewOpenAILoop(cfg LoopConfig) *OpenAILoop {
	return &OpenAILoop{
		cfg: cfg.withDefaults(),
		now: time.Now,
	}
}

// Run calls the model until it stops requesting tools
func (l *OpenAILoop) Run(ctx context.Context, req Request, cb Callbacks) ([]session.Turn, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(req.APIKey),
		option.WithMaxRetries(l.cfg.MaxRetries),
		option.WithMiddleware(exchangeMiddleware(session.ProviderOpenAI, cb)),
	}
	if l.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(l.cfg.BaseURL))
	}
	if l.cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(l.cfg.Timeout))
	}
	client := openai.NewClient(opts...)

	history := append([]session.Turn(nil), req.History...)
	tools := l.toolParams()

	for turn := 0; turn < l.cfg.MaxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		messages := toOpenAIMessages(systemPrompt(l.now(), req.Options.SystemPromptSuffix), history)
		params := openai.ChatCompletionNewParams{
			Model:               openai.ChatModel(req.Options.Model),
			Messages:            messages,
			MaxCompletionTokens: openai.Int(int64(req.Options.OutputTokens)),
			Tools:               tools,
		}

		response, err := client.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("openai request failed: %w", err)
		}
		if len(response.Choices) == 0 {
			return nil, fmt.Errorf("no response choices returned")
		}

		blocks := fromOpenAIMessage(response.Choices[0].Message)
		history = append(history, session.Turn{Role: session.RoleAssistant, Content: blocks})

		results := runTools(ctx, l.cfg.Tools, blocks, cb)
		if len(results) == 0 {
			return history, nil
		}
		history = append(history, session.Turn{Role: session.RoleUser, Content: results})
	}

	l.cfg.Logger.Warn().
		Str("session_id", req.SessionID).
		Int("max_turns", l.cfg.MaxTurns).
		Msg("Run stopped at model call limit")
	return history, nil
}

func (l *OpenAILoop) toolParams() []openai.ChatCompletionToolParam {
	var tools []openai.ChatCompletionToolParam
	for _, tool := range l.cfg.Tools.Tools() {
		schema := map[string]any{
			"type":       "object",
			"properties": tool.Properties,
		}
		if len(tool.Required) > 0 {
			schema["required"] = tool.Required
		}
		tools = append(tools, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  openai.FunctionParameters(schema),
			},
		})
	}
	return tools
}

func toOpenAIMessages(system string, history []session.Turn) []openai.ChatCompletionMessageParamUnion {
	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(system)}

	for _, turn := range history {
		var (
			text      []string
			toolCalls []openai.ChatCompletionMessageToolCall
		)
		for _, b := range turn.Content {
			switch b.Type {
			case session.BlockText:
				text = append(text, b.Text)
			case session.BlockToolUse:
				args := string(b.Input)
				if args == "" {
					args = "{}"
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   b.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      b.Name,
						Arguments: args,
					},
				})
			case session.BlockToolResult:
				messages = append(messages, openai.ToolMessage(toolResultText(b), b.ToolUseID))
			}
		}

		content := strings.Join(text, "\n")
		switch {
		case turn.Role == session.RoleAssistant && len(toolCalls) > 0:
			assistantMsg := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   content,
				ToolCalls: toolCalls,
			}
			messages = append(messages, assistantMsg.ToParam())
		case turn.Role == session.RoleAssistant && content != "":
			messages = append(messages, openai.AssistantMessage(content))
		case turn.Role == session.RoleUser && content != "":
			messages = append(messages, openai.UserMessage(content))
		}
	}
	return messages
}

func toolResultText(b session.ContentBlock) string {
	var parts []string
	for _, inner := range b.Content {
		if inner.Type == session.BlockText {
			parts = append(parts, inner.Text)
		}
	}
	if len(parts) == 0 {
		if b.IsError {
			return "error"
		}
		return "ok"
	}
	return strings.Join(parts, "\n")
}

func fromOpenAIMessage(msg openai.ChatCompletionMessage) []session.ContentBlock {
	var blocks []session.ContentBlock
	if msg.Content != "" {
		blocks = append(blocks, session.TextBlock(msg.Content))
	}
	for _, tc := range msg.ToolCalls {
		input := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(input) {
			input = json.RawMessage(`{}`)
		}
		blocks = append(blocks, session.ContentBlock{
			Type:  session.BlockToolUse,
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		})
	}
	return blocks
}

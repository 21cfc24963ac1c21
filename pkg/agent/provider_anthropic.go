package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/harun/agentrelay/pkg/session"
)

const tokenEfficientToolsBeta = "token-efficient-tools-2025-02-19"

// AnthropicLoop runs the sampling loop against the Anthropic Messages API
type AnthropicLoop struct {
	cfg LoopConfig
	now func() time.Time
}

// NewAnthropicLoop creates an Anthropic loop
func NewAnthropicLoop(cfg LoopConfig) *AnthropicLoop {
	return &AnthropicLoop{
		cfg: cfg.withDefaults(),
		now: time.Now,
	}
}

// Run calls the model until it stops requesting tools
func (l *AnthropicLoop) Run(ctx context.Context, req Request, cb Callbacks) ([]session.Turn, error) {
	client := anthropic.NewClient(l.clientOptions(req, cb)...)

	history := append([]session.Turn(nil), req.History...)
	tools := l.toolParams()
	keepImages := -1
	if req.Options.OnlyNMostRecentImages != nil {
		keepImages = *req.Options.OnlyNMostRecentImages
	}

	for turn := 0; turn < l.cfg.MaxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(req.Options.Model),
			MaxTokens: int64(req.Options.OutputTokens),
			Messages:  toAnthropicMessages(trimImages(history, keepImages, 1)),
			System: []anthropic.TextBlockParam{
				{Text: systemPrompt(l.now(), req.Options.SystemPromptSuffix)},
			},
			Tools: tools,
		}
		if budget := req.Options.EffectiveThinkingBudget(); budget > 0 {
			params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(budget))
		}

		response, err := client.Messages.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("anthropic request failed: %w", err)
		}

		blocks := fromAnthropicContent(response.Content)
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

func (l *AnthropicLoop) clientOptions(req Request, cb Callbacks) []option.RequestOption {
	opts := []option.RequestOption{
		option.WithAPIKey(req.APIKey),
		option.WithMaxRetries(l.cfg.MaxRetries),
		option.WithMiddleware(exchangeMiddleware(session.ProviderAnthropic, cb)),
	}
	if l.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(l.cfg.BaseURL))
	}
	if l.cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(l.cfg.Timeout))
	}
	if req.Options.TokenEfficientTools {
		opts = append(opts, option.WithHeaderAdd("anthropic-beta", tokenEfficientToolsBeta))
	}
	return opts
}

func (l *AnthropicLoop) toolParams() []anthropic.ToolUnionParam {
	var tools []anthropic.ToolUnionParam
	for _, tool := range l.cfg.Tools.Tools() {
		toolParam := anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: tool.Properties,
				Required:   tool.Required,
			},
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return tools
}

func systemPrompt(now time.Time, suffix string) string {
	prompt := fmt.Sprintf("You are a capable assistant that works through the tools you are given. "+
		"Think step by step and report results plainly. The current date is %s.", now.Format("Monday, January 2, 2006"))
	if suffix != "" {
		prompt += " " + suffix
	}
	return prompt
}

func toAnthropicMessages(history []session.Turn) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(history))
	for _, turn := range history {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(turn.Content))
		for _, b := range turn.Content {
			if p, ok := toAnthropicBlock(b); ok {
				blocks = append(blocks, p)
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if turn.Role == session.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		} else {
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		}
	}
	return messages
}

func toAnthropicBlock(b session.ContentBlock) (anthropic.ContentBlockParamUnion, bool) {
	switch b.Type {
	case session.BlockText:
		return anthropic.NewTextBlock(b.Text), true
	case session.BlockImage:
		if b.Source == nil {
			return anthropic.ContentBlockParamUnion{}, false
		}
		return anthropic.NewImageBlockBase64(b.Source.MediaType, b.Source.Data), true
	case session.BlockToolUse:
		input := b.Input
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		return anthropic.NewToolUseBlock(b.ID, input, b.Name), true
	case session.BlockToolResult:
		result := anthropic.ToolResultBlockParam{
			ToolUseID: b.ToolUseID,
			IsError:   anthropic.Bool(b.IsError),
		}
		for _, inner := range b.Content {
			switch inner.Type {
			case session.BlockText:
				result.Content = append(result.Content, anthropic.ToolResultBlockParamContentUnion{
					OfText: &anthropic.TextBlockParam{Text: inner.Text},
				})
			case session.BlockImage:
				if inner.Source == nil {
					continue
				}
				result.Content = append(result.Content, anthropic.ToolResultBlockParamContentUnion{
					OfImage: &anthropic.ImageBlockParam{
						Source: anthropic.ImageBlockParamSourceUnion{
							OfBase64: &anthropic.Base64ImageSourceParam{
								Data:      inner.Source.Data,
								MediaType: anthropic.Base64ImageSourceMediaType(inner.Source.MediaType),
							},
						},
					},
				})
			}
		}
		return anthropic.ContentBlockParamUnion{OfToolResult: &result}, true
	case session.BlockThinking:
		return anthropic.NewThinkingBlock(b.Signature, b.Thinking), true
	case session.BlockRedactedThinking:
		return anthropic.NewRedactedThinkingBlock(b.Data), true
	}
	return anthropic.ContentBlockParamUnion{}, false
}

func fromAnthropicContent(content []anthropic.ContentBlockUnion) []session.ContentBlock {
	blocks := make([]session.ContentBlock, 0, len(content))
	for _, block := range content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			blocks = append(blocks, session.TextBlock(b.Text))
		case anthropic.ToolUseBlock:
			blocks = append(blocks, session.ContentBlock{
				Type:  session.BlockToolUse,
				ID:    b.ID,
				Name:  b.Name,
				Input: append(json.RawMessage(nil), b.Input...),
			})
		case anthropic.ThinkingBlock:
			blocks = append(blocks, session.ContentBlock{
				Type:      session.BlockThinking,
				Thinking:  b.Thinking,
				Signature: b.Signature,
			})
		case anthropic.RedactedThinkingBlock:
			blocks = append(blocks, session.ContentBlock{
				Type: session.BlockRedactedThinking,
				Data: b.Data,
			})
		}
	}
	return blocks
}

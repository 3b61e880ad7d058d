package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"

	"github.com/ShayCichocki/arbor/internal/contextasm"
)

const systemPrompt = `You are one worker in a supervised tree of software agents.
Each turn you take exactly one action by calling exactly one tool.
Never claim you cannot perform an action that is offered to you.
Stay inside your scope; the engine rejects anything else.`

// Claude is an oracle backed by the Anthropic Messages API. Each allowed verb
// is offered as a tool and the model must call one.
type Claude struct {
	inner     anthropic.Client
	model     anthropic.Model
	maxTokens int64
	usage     *Usage
	logger    *zap.Logger
}

// NewClaude creates a Claude oracle.
func NewClaude(ctx context.Context, cfg ClientConfig, logger *zap.Logger) (*Claude, error) {
	opts, err := requestOptions(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Claude{
		inner:     anthropic.NewClient(opts...),
		model:     resolveModel(cfg),
		maxTokens: maxTokens,
		usage:     &Usage{},
		logger:    logger,
	}, nil
}

// Model returns the model in use.
func (c *Claude) Model() anthropic.Model {
	return c.model
}

// Usage returns the token usage recorded so far.
func (c *Claude) Usage() *Usage {
	return c.usage
}

// NextAction asks the model for one action.
func (c *Claude) NextAction(ctx context.Context, payload *contextasm.Payload) (string, error) {
	resp, err := c.inner.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(payload.Render())),
		},
		Tools:      Tools(payload.Allowed),
		ToolChoice: anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}},
	})
	if err != nil {
		return "", fmt.Errorf("oracle request for %s: %w", payload.NodeID, err)
	}
	c.usage.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var (
		text  strings.Builder
		calls []json.RawMessage
	)
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			raw, err := toolCallAction(variant.Name, variant.Input)
			if err != nil {
				return "", err
			}
			calls = append(calls, raw)
		}
	}

	c.logger.Debug("oracle response",
		zap.String("node", payload.NodeID),
		zap.Int("tool_calls", len(calls)),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
	)
	return renderCalls(calls, text.String())
}

// renderCalls turns tool calls into action text. Several calls become a JSON
// array, which the strict grammar rejects.
func renderCalls(calls []json.RawMessage, text string) (string, error) {
	switch len(calls) {
	case 0:
		return text, nil
	case 1:
		return string(calls[0]), nil
	default:
		out, err := json.Marshal(calls)
		if err != nil {
			return "", fmt.Errorf("render tool calls: %w", err)
		}
		return string(out), nil
	}
}

// toolCallAction merges the tool name into its input as the action field.
func toolCallAction(name string, input json.RawMessage) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(input) > 0 && string(input) != "null" {
		if err := json.Unmarshal(input, &fields); err != nil {
			return nil, fmt.Errorf("decode %s tool input: %w", name, err)
		}
	}
	verb, _ := json.Marshal(name)
	fields["action"] = verb
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s action: %w", name, err)
	}
	return out, nil
}

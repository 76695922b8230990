package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicBackend is the cloud-best tier. It is only constructed when an
// API key is configured, and the router never dials it in local-only mode.
type AnthropicBackend struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
	hasKey  bool
}

// NewAnthropicBackend creates the remote backend.
func NewAnthropicBackend(apiKey, model string, timeout time.Duration) *AnthropicBackend {
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &AnthropicBackend{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		timeout: timeout,
		hasKey:  apiKey != "",
	}
}

// Name returns the backend identity, e.g. "anthropic:claude-sonnet-4-5".
func (b *AnthropicBackend) Name() string { return "anthropic:" + b.model }

// Local reports false: requests leave the machine.
func (b *AnthropicBackend) Local() bool { return false }

// Available checks credential presence only. Startup validates key format;
// no live call is made just to probe.
func (b *AnthropicBackend) Available(ctx context.Context) bool {
	return b.hasKey
}

// Complete performs a non-streaming completion.
func (b *AnthropicBackend) Complete(ctx context.Context, msgs []Message, opts Options) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	msg, err := b.client.Messages.New(ctx, b.params(msgs, opts))
	if err != nil {
		return "", fmt.Errorf("anthropic completion failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// Stream performs a streaming completion, invoking fn per text delta.
func (b *AnthropicBackend) Stream(ctx context.Context, msgs []Message, opts Options, fn ChunkFunc) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	stream := b.client.Messages.NewStreaming(ctx, b.params(msgs, opts))
	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text != "" {
					if err := fn(delta.Text); err != nil {
						return err
					}
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic stream failed: %w", err)
	}
	return nil
}

func (b *AnthropicBackend) params(msgs []Message, opts Options) anthropic.MessageNewParams {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	p := anthropic.MessageNewParams{
		Model:     anthropic.Model(b.model),
		MaxTokens: int64(maxTokens),
	}
	if opts.Temperature > 0 {
		p.Temperature = anthropic.Float(opts.Temperature)
	}
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			p.System = append(p.System, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			p.Messages = append(p.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			p.Messages = append(p.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return p
}

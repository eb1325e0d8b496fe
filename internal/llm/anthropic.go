package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/akashicode/docuquery/internal/config"
)

const defaultAnthropicMaxTokens = 2048

// AnthropicClient calls the Anthropic Messages API.
type AnthropicClient struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float32
}

// NewAnthropicClient creates an Anthropic client from a ProviderConfig.
func NewAnthropicClient(cfg *config.ProviderConfig) (*AnthropicClient, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	key, err := cfg.ResolveAPIKey()
	if err != nil {
		return nil, err
	}

	opts := []option.RequestOption{option.WithAPIKey(key)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	return &AnthropicClient{
		client:      anthropic.NewClient(opts...),
		model:       cfg.ModelOrDefault(),
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Complete sends one user message and returns the joined text blocks.
func (c *AnthropicClient) Complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userMessage)),
		},
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if c.temperature > 0 {
		params.Temperature = anthropic.Float(float64(c.temperature))
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("create message: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}

// Model returns the configured model name.
func (c *AnthropicClient) Model() string {
	return c.model
}

package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/akashicode/docuquery/internal/config"
)

// GeminiClient calls the Gemini API through the genai SDK.
type GeminiClient struct {
	client      *genai.Client
	model       string
	maxTokens   int32
	temperature float32
}

// NewGeminiClient creates a Gemini client from a ProviderConfig.
func NewGeminiClient(ctx context.Context, cfg *config.ProviderConfig) (*GeminiClient, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	key, err := cfg.ResolveAPIKey()
	if err != nil {
		return nil, err
	}

	cc := &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiClient{
		client:      client,
		model:       cfg.ModelOrDefault(),
		maxTokens:   int32(cfg.MaxTokens),
		temperature: cfg.Temperature,
	}, nil
}

// Complete sends one user turn and returns the concatenated text parts of the
// first candidate.
func (c *GeminiClient) Complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	genCfg := &genai.GenerateContentConfig{}
	if c.maxTokens > 0 {
		genCfg.MaxOutputTokens = c.maxTokens
	}
	if c.temperature > 0 {
		t := c.temperature
		genCfg.Temperature = &t
	}
	if systemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	contents := []*genai.Content{genai.NewContentFromText(userMessage, genai.RoleUser)}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, genCfg)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string {
	return c.model
}

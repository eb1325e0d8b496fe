// Package llm adapts hosted completion APIs to a single Complete call.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/akashicode/docuquery/internal/config"
)

// Completer is an opaque prompt-to-text capability.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userMessage string) (string, error)
	Model() string
}

// NewCompleter builds the Completer for cfg.Provider. Calls are bounded by
// cfg.Timeout when it is set.
func NewCompleter(ctx context.Context, cfg *config.ProviderConfig) (Completer, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	var (
		c   Completer
		err error
	)
	switch cfg.Provider {
	case config.ProviderGemini:
		c, err = NewGeminiClient(ctx, cfg)
	case config.ProviderOpenAI:
		c, err = NewOpenAIClient(cfg)
	case config.ProviderAnthropic:
		c, err = NewAnthropicClient(cfg)
	default:
		return nil, &config.ConfigurationError{Key: "llm.provider", Err: fmt.Errorf("unsupported provider %q", cfg.Provider)}
	}
	if err != nil {
		return nil, err
	}

	if cfg.Timeout > 0 {
		return &timeoutCompleter{Completer: c, timeout: cfg.Timeout}, nil
	}
	return c, nil
}

type timeoutCompleter struct {
	Completer
	timeout time.Duration
}

func (t *timeoutCompleter) Complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Completer.Complete(ctx, systemPrompt, userMessage)
}

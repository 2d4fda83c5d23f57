package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Completer turns a system context plus a turn window into a single reply.
type Completer struct {
	provider Provider

	mu          sync.RWMutex
	model       string
	maxTokens   int
	temperature float64
}

// CompleterOptions tune a Completer. Zero values defer to the provider.
type CompleterOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// NewCompleter wraps provider.
func NewCompleter(provider Provider, opts CompleterOptions) *Completer {
	return &Completer{
		provider:    provider,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
	}
}

// SetOptions swaps the tuning used by subsequent calls.
func (c *Completer) SetOptions(opts CompleterOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = opts.Model
	c.maxTokens = opts.MaxTokens
	c.temperature = opts.Temperature
}

// Complete returns the reply text.
func (c *Completer) Complete(ctx context.Context, system string, turns []Message) (string, error) {
	resp, err := c.Generate(ctx, system, turns)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Generate returns the full response including token usage.
// Every failure is a *CompletionError.
func (c *Completer) Generate(ctx context.Context, system string, turns []Message) (*LLMResponse, error) {
	c.mu.RLock()
	req := &ChatRequest{
		Model:        c.model,
		Messages:     turns,
		MaxTokens:    c.maxTokens,
		Temperature:  c.temperature,
		SystemPrompt: system,
	}
	c.mu.RUnlock()

	resp, err := c.provider.Chat(ctx, req)
	if err != nil {
		var ce *CompletionError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, &CompletionError{Type: classifyMessage(err), Provider: c.provider.Name(), Err: err}
	}
	if strings.TrimSpace(resp.Content) == "" {
		return nil, &CompletionError{
			Type:     ErrorServerError,
			Provider: c.provider.Name(),
			Message:  "empty completion",
		}
	}
	return resp, nil
}

package llm

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pointcrash/ai-dm-bot/internal/config"
)

// NewProvider creates an LLM provider from config.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	switch cfg.Provider {
	case "openai", "openrouter", "local":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			MaxRetries: cfg.MaxRetries,
			Timeout:    timeout,
		}), nil
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			MaxRetries: cfg.MaxRetries,
			Timeout:    timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}
}

// NewProviderChain builds the primary provider, wrapped with the fallback when one is configured.
func NewProviderChain(primary, fallback config.LLMConfig, logger *zap.Logger) (Provider, error) {
	p, err := NewProvider(primary)
	if err != nil {
		return nil, err
	}
	if !fallback.Enabled() {
		return p, nil
	}
	fb, err := NewProvider(fallback)
	if err != nil {
		return nil, fmt.Errorf("fallback provider: %w", err)
	}
	return NewFallbackProvider(logger, p, fb), nil
}

// NewEmbedder creates an embedder from config.
func NewEmbedder(cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case "openai", "openrouter", "local":
		return NewOpenAIEmbedder(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		}), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}

// NewTranscriber creates the voice transcriber described by cfg.
func NewTranscriber(cfg config.VoiceConfig) (Transcriber, error) {
	switch cfg.Provider {
	case "openai", "openrouter", "local":
		return NewOpenAITranscriber(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		}), nil
	default:
		return nil, fmt.Errorf("unknown transcription provider: %s", cfg.Provider)
	}
}

package llm

import (
	"context"
	"errors"
	"strings"
)

// Provider is the interface all LLM backends must implement.
type Provider interface {
	// Chat sends a chat completion request and returns the full response.
	Chat(ctx context.Context, req *ChatRequest) (*LLMResponse, error)

	// Name returns the provider name (e.g. "openai", "anthropic").
	Name() string

	// DefaultModel returns the default model for this provider.
	DefaultModel() string
}

// CompletionError is returned when a completion or embedding call fails.
type CompletionError struct {
	Type     ErrorType
	Provider string
	Message  string
	Err      error
}

func (e *CompletionError) Error() string {
	prefix := "completion failed"
	if e.Provider != "" {
		prefix = e.Provider + " " + prefix
	}
	prefix += " (" + e.Type.String() + ")"
	if e.Message != "" {
		return prefix + ": " + e.Message
	}
	if e.Err != nil {
		return prefix + ": " + e.Err.Error()
	}
	return prefix
}

func (e *CompletionError) Unwrap() error {
	return e.Err
}

// IsCompletionError reports whether err carries a *CompletionError.
func IsCompletionError(err error) bool {
	var ce *CompletionError
	return errors.As(err, &ce)
}

// classifyStatus maps an HTTP status to an ErrorType.
func classifyStatus(code int) (ErrorType, bool) {
	switch {
	case code == 401 || code == 403:
		return ErrorAuth, true
	case code == 429:
		return ErrorRateLimit, true
	case code >= 500:
		return ErrorServerError, true
	case code >= 400:
		return ErrorInvalidInput, true
	}
	return ErrorUnknown, false
}

// classifyMessage is the string-matching fallback for errors without a status.
func classifyMessage(err error) ErrorType {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "403") ||
		strings.Contains(lower, "unauthorized") || strings.Contains(lower, "authentication"):
		return ErrorAuth
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit") || strings.Contains(lower, "rate_limit"):
		return ErrorRateLimit
	case strings.Contains(lower, "400") || strings.Contains(lower, "invalid"):
		return ErrorInvalidInput
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") ||
		strings.Contains(lower, "503") || strings.Contains(lower, "overloaded"):
		return ErrorServerError
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		return ErrorTimeout
	case strings.Contains(lower, "connection") || strings.Contains(lower, "dns") || strings.Contains(lower, "refused"):
		return ErrorNetwork
	default:
		return ErrorUnknown
	}
}

package llm

import (
	"context"
	"io"
	"strings"

	"github.com/openai/openai-go"
)

// Transcriber turns recorded speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

// OpenAITranscriber implements Transcriber using the OpenAI transcription endpoint.
type OpenAITranscriber struct {
	client openai.Client
	model  string
}

// NewOpenAITranscriber creates a new OpenAI transcriber.
func NewOpenAITranscriber(cfg OpenAIConfig) *OpenAITranscriber {
	model := cfg.Model
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}
	return &OpenAITranscriber{
		client: openai.NewClient(cfg.options()...),
		model:  model,
	}
}

// Transcribe uploads audio under filename, whose extension tells the
// service the container format, and returns the recognized text.
func (t *OpenAITranscriber) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	resp, err := t.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(audio, filename, "application/octet-stream"),
		Model: openai.AudioModel(t.model),
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	return strings.TrimSpace(resp.Text), nil
}

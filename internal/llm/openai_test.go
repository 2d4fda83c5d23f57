package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAIServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIChat(t *testing.T) {
	var got map[string]any
	srv := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "The goblin snarls."}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
		}`)
	})

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1/"})
	resp, err := p.Chat(context.Background(), &ChatRequest{
		SystemPrompt: "You are the DM.",
		Messages: []Message{
			{Role: "user", Content: "I open the door"},
			{Role: "assistant", Content: "It creaks."},
			{Role: "user", Content: "I step in"},
		},
		MaxTokens:   100,
		Temperature: 0.5,
	})
	require.NoError(t, err)

	assert.Equal(t, "The goblin snarls.", resp.Content)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 4, resp.Usage.OutputTokens)
	assert.Equal(t, "stop", resp.StopReason)

	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 4)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	assert.Equal(t, "gpt-4o-mini", got["model"])
}

func TestOpenAIChatClassifiesErrors(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorType
	}{
		{http.StatusUnauthorized, ErrorAuth},
		{http.StatusTooManyRequests, ErrorRateLimit},
		{http.StatusBadRequest, ErrorInvalidInput},
		{http.StatusInternalServerError, ErrorServerError},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, `{"error": {"message": "nope", "type": "x"}}`)
			})
			p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1/"})

			_, err := p.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
			require.Error(t, err)

			var ce *CompletionError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tc.want, ce.Type)
			assert.Equal(t, "openai", ce.Provider)
		})
	}
}

func TestOpenAIEmbedderBatchOrder(t *testing.T) {
	srv := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		// Out of order on purpose.
		_, _ = io.WriteString(w, `{
			"object": "list", "model": "text-embedding-3-small",
			"data": [
				{"object": "embedding", "index": 1, "embedding": [0.0, 1.0]},
				{"object": "embedding", "index": 0, "embedding": [1.0, 0.0]}
			],
			"usage": {"prompt_tokens": 2, "total_tokens": 2}
		}`)
	})

	e := NewOpenAIEmbedder(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1/"})
	vecs, err := e.EmbedBatch(context.Background(), []string{"goblins", "dragons"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1}, vecs[1])
}

func TestOpenAIEmbedderRejectsEmpty(t *testing.T) {
	e := NewOpenAIEmbedder(OpenAIConfig{APIKey: "k", BaseURL: "http://127.0.0.1:1/"})
	_, err := e.Embed(context.Background(), "")
	assert.True(t, IsCompletionError(err))

	vecs, err := e.EmbedBatch(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestOpenAITranscriber(t *testing.T) {
	srv := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "voice.ogg", hdr.Filename)
		audio, _ := io.ReadAll(f)
		assert.Equal(t, "OggS-fake", string(audio))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text": " I cast fireball at the goblins. "}`)
	})

	tr := NewOpenAITranscriber(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1/"})
	text, err := tr.Transcribe(context.Background(), strings.NewReader("OggS-fake"), "voice.ogg")
	require.NoError(t, err)
	assert.Equal(t, "I cast fireball at the goblins.", text)
}

func TestOpenAITranscriberClassifiesErrors(t *testing.T) {
	srv := newOpenAIServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error": {"message": "bad key", "type": "invalid_request_error"}}`)
	})

	tr := NewOpenAITranscriber(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1/"})
	_, err := tr.Transcribe(context.Background(), strings.NewReader("x"), "voice.ogg")
	var ce *CompletionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, ErrorAuth, ce.Type)
}

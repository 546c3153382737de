package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timebooth/internal/booth"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDeepSeekWriteBackstory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req struct {
			Model       string  `json:"model"`
			Temperature float64 `json:"temperature"`
			MaxTokens   int     `json:"max_tokens"`
			Messages    []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "deepseek-chat", req.Model)
		assert.Equal(t, 1000, req.MaxTokens)
		if assert.Len(t, req.Messages, 1) {
			assert.Equal(t, "system", req.Messages[0].Role)
			assert.Contains(t, req.Messages[0].Content, "Tokyo, Japan in the year 1970")
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"I am Yuki, I work at a cafe."}}]}`))
	}))
	defer srv.Close()

	client := NewDeepSeekClient(discardLogger(), "key", &DeepSeekOptions{
		BaseURL:    srv.URL + "/v1",
		HTTPClient: srv.Client(),
	})

	text, err := client.WriteBackstory(context.Background(), booth.BackstoryParams{
		Year:     1970,
		Location: "Tokyo, Japan",
		Persona:  booth.PersonaGirlfriend,
	})
	require.NoError(t, err)
	require.Equal(t, "I am Yuki, I work at a cafe.", text)
}

func TestDeepSeekSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"auth"}}`))
	}))
	defer srv.Close()

	client := NewDeepSeekClient(discardLogger(), "key", &DeepSeekOptions{
		BaseURL:    srv.URL + "/v1",
		HTTPClient: srv.Client(),
	})

	_, err := client.WriteBackstory(context.Background(), booth.BackstoryParams{Year: 1970, Location: "Tokyo"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "status=401")
}

func TestSystemPromptPerPersona(t *testing.T) {
	girl := SystemPrompt(booth.BackstoryParams{Year: 1920, Location: "Paris", Persona: booth.PersonaGirlfriend})
	require.Contains(t, girl, "AI girlfriend character")
	require.Contains(t, girl, "cultural touchpoints from 1920")

	homie := SystemPrompt(booth.BackstoryParams{Year: 1992, Location: "Seattle", Persona: booth.PersonaHomie})
	require.Contains(t, homie, "AI friend character")
	require.Contains(t, homie, "living in Seattle in the year 1992")
}

func TestStripCodeFence(t *testing.T) {
	require.Equal(t, "hello", stripCodeFence("```text\nhello\n```"))
	require.Equal(t, "plain", stripCodeFence("  plain "))
}

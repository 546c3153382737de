package voice

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIWebRTCExchangeSDP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/sdp", r.Header.Get("Content-Type"))
		assert.Equal(t, "gpt-test", r.URL.Query().Get("model"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "v=0 offer", string(body))
		w.Header().Set("Content-Type", "application/sdp")
		_, _ = w.Write([]byte("v=0 answer"))
	}))
	defer srv.Close()

	tr, err := NewOpenAIWebRTC(discardLogger(), OpenAIOptions{
		APIKey: "sk-test",
		Model:  "gpt-test",
		URL:    srv.URL,
	})
	require.NoError(t, err)

	answer, err := tr.exchangeSDP(context.Background(), "v=0 offer")
	require.NoError(t, err)
	require.Equal(t, "v=0 answer", answer)
}

func TestOpenAIWebRTCExchangeSDPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid model", http.StatusBadRequest)
	}))
	defer srv.Close()

	tr, err := NewOpenAIWebRTC(discardLogger(), OpenAIOptions{APIKey: "k", URL: srv.URL})
	require.NoError(t, err)

	_, err = tr.exchangeSDP(context.Background(), "offer")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "400", apiErr.Code)
}

func TestOpenAIWebRTCUnconnected(t *testing.T) {
	tr, err := NewOpenAIWebRTC(discardLogger(), OpenAIOptions{APIKey: "k"})
	require.NoError(t, err)

	require.ErrorIs(t, tr.SendText("hi"), ErrNotConnected)
	require.ErrorIs(t, tr.SendAudio([]byte{1}), ErrNotConnected)
	require.NoError(t, tr.Disconnect())
}

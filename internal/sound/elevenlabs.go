// Package sound generates ringback tones with ElevenLabs sound effects.
package sound

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"timebooth/internal/booth"
)

const (
	defaultElevenLabsEndpoint = "https://api.elevenlabs.io/v1/sound-generation"
	defaultDurationSeconds    = 5
	defaultPromptInfluence    = 0.6
)

// ElevenLabsOptions configures optional client behavior.
type ElevenLabsOptions struct {
	BaseURL         string
	DurationSeconds float64
	HTTPClient      *http.Client
}

// ElevenLabsClient implements booth.ToneGenerator using ElevenLabs' sound generation API.
type ElevenLabsClient struct {
	logger     *slog.Logger
	apiKey     string
	duration   float64
	httpClient *http.Client
	endpoint   string
}

// NewElevenLabsClient creates a new ElevenLabs sound client.
func NewElevenLabsClient(logger *slog.Logger, apiKey string, opts *ElevenLabsOptions) *ElevenLabsClient {
	if opts == nil {
		opts = &ElevenLabsOptions{}
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 60 * time.Second,
		}
	}

	duration := opts.DurationSeconds
	if duration == 0 {
		duration = defaultDurationSeconds
	}

	endpoint := opts.BaseURL
	if endpoint == "" {
		endpoint = defaultElevenLabsEndpoint
	}

	return &ElevenLabsClient{
		logger:     logger,
		apiKey:     apiKey,
		duration:   duration,
		httpClient: httpClient,
		endpoint:   strings.TrimRight(endpoint, "/"),
	}
}

type soundRequest struct {
	Text            string  `json:"text"`
	DurationSeconds float64 `json:"duration_seconds"`
	PromptInfluence float64 `json:"prompt_influence"`
}

// GenerateRingback renders prompt into an mp3 and returns it as a data URL.
func (c *ElevenLabsClient) GenerateRingback(ctx context.Context, prompt string) (string, error) {
	c.logger.Info("starting ElevenLabs sound generation", slog.String("prompt", prompt))

	audio, err := c.generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("elevenlabs sound generation: %w", err)
	}

	c.logger.Debug("elevenlabs sound generation succeeded", slog.Int("audio_bytes", len(audio)))
	return "data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString(audio), nil
}

func (c *ElevenLabsClient) generate(ctx context.Context, prompt string) ([]byte, error) {
	payload, err := json.Marshal(soundRequest{
		Text:            prompt,
		DurationSeconds: c.duration,
		PromptInfluence: defaultPromptInfluence,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("ElevenLabs HTTP request failed",
			slog.String("endpoint", c.endpoint),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("call elevenlabs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 512))
		bodyStr := string(body)
		if readErr != nil {
			bodyStr = fmt.Sprintf("(failed to read body: %v)", readErr)
		}

		c.logger.Error("ElevenLabs API error",
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", bodyStr),
		)
		return nil, fmt.Errorf("elevenlabs error: status=%d body=%s", resp.StatusCode, bodyStr)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("elevenlabs returned empty audio")
	}
	return audio, nil
}

var _ booth.ToneGenerator = (*ElevenLabsClient)(nil)

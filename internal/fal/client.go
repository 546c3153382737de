// Package fal talks to fal.ai for scene images and ringback audio.
package fal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultImageEndpoint = "https://preview.fal.ai/fal-preview/sd-turbo"
	defaultAudioEndpoint = "https://api.fal.ai/stable-audio"

	negativePrompt = "text, watermark, logo, signature, blurry, distorted, low quality, ugly, duplicate, " +
		"morbid, mutilated, poorly drawn face, deformed, bad anatomy"
)

// ErrEmptyResult is returned when fal.ai answers without a usable URL.
var ErrEmptyResult = errors.New("fal returned no result")

// Options allows overriding HTTP behavior.
type Options struct {
	ImageURL   string
	AudioURL   string
	HTTPClient *http.Client
}

// Client implements booth.ImageGenerator and booth.ToneGenerator against fal.ai.
type Client struct {
	logger     *slog.Logger
	apiKey     string
	imageURL   string
	audioURL   string
	httpClient *http.Client
}

// NewClient constructs a fal.ai client.
func NewClient(logger *slog.Logger, apiKey string, opts *Options) *Client {
	if opts == nil {
		opts = &Options{}
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		// image and audio generation routinely take several seconds
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}

	imageURL := opts.ImageURL
	if imageURL == "" {
		imageURL = defaultImageEndpoint
	}
	audioURL := opts.AudioURL
	if audioURL == "" {
		audioURL = defaultAudioEndpoint
	}

	return &Client{
		logger:     logger.With("component", "fal"),
		apiKey:     apiKey,
		imageURL:   imageURL,
		audioURL:   audioURL,
		httpClient: httpClient,
	}
}

type imageRequest struct {
	Prompt            string  `json:"prompt"`
	NegativePrompt    string  `json:"negative_prompt"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale"`
}

type imageResponse struct {
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
}

type audioRequest struct {
	Prompt          string `json:"prompt"`
	ModelName       string `json:"model_name"`
	DurationSeconds int    `json:"duration_seconds"`
}

type audioResponse struct {
	AudioURL string `json:"audio_url"`
}

// GenerateSceneImage renders prompt with sd-turbo and returns the first image URL.
func (c *Client) GenerateSceneImage(ctx context.Context, prompt string) (string, error) {
	var out imageResponse
	if err := c.post(ctx, c.imageURL, imageRequest{
		Prompt:            prompt,
		NegativePrompt:    negativePrompt,
		NumInferenceSteps: 20,
		GuidanceScale:     7.5,
	}, &out); err != nil {
		return "", fmt.Errorf("generate image: %w", err)
	}
	if len(out.Images) == 0 || strings.TrimSpace(out.Images[0].URL) == "" {
		return "", fmt.Errorf("generate image: %w", ErrEmptyResult)
	}
	return out.Images[0].URL, nil
}

// GenerateRingback renders a short melody for prompt and returns its URL.
func (c *Client) GenerateRingback(ctx context.Context, prompt string) (string, error) {
	var out audioResponse
	if err := c.post(ctx, c.audioURL, audioRequest{
		Prompt:          prompt,
		ModelName:       "melody",
		DurationSeconds: 5,
	}, &out); err != nil {
		return "", fmt.Errorf("generate audio: %w", err)
	}
	if strings.TrimSpace(out.AudioURL) == "" {
		return "", fmt.Errorf("generate audio: %w", ErrEmptyResult)
	}
	return out.AudioURL, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("calling fal", slog.String("endpoint", endpoint))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call fal: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("fal API error",
			slog.String("endpoint", endpoint),
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", truncate(respBody, 512)),
		)
		return fmt.Errorf("fal error: status=%d body=%s", resp.StatusCode, truncate(respBody, 512))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w body=%s", err, truncate(respBody, 256))
	}
	return nil
}

func truncate(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "…"
}

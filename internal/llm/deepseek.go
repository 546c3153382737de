package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"timebooth/internal/booth"
)

const (
	defaultDeepSeekBaseURL = "https://api.deepseek.com/v1"
	defaultDeepSeekModel   = "deepseek-chat"
	defaultTemperature     = 0.7
	defaultMaxTokens       = 1000
)

// DeepSeekOptions allows overriding HTTP behavior.
type DeepSeekOptions struct {
	BaseURL     string
	Model       string
	HTTPClient  *http.Client
	Temperature float32
	MaxTokens   int
}

// DeepSeekClient implements booth.BackstoryWriter against DeepSeek's
// OpenAI-compatible chat completions API.
type DeepSeekClient struct {
	logger      *slog.Logger
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewDeepSeekClient constructs a new DeepSeekClient.
func NewDeepSeekClient(logger *slog.Logger, apiKey string, opts *DeepSeekOptions) *DeepSeekClient {
	if opts == nil {
		opts = &DeepSeekOptions{}
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = defaultDeepSeekBaseURL
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 45 * time.Second}
	}
	cfg.HTTPClient = httpClient

	model := opts.Model
	if model == "" {
		model = defaultDeepSeekModel
	}
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	return &DeepSeekClient{
		logger:      logger.With("component", "llm.deepseek"),
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

// WriteBackstory asks the model for a first-person persona backstory.
func (c *DeepSeekClient) WriteBackstory(ctx context.Context, params booth.BackstoryParams) (string, error) {
	c.logger.Debug("generating template backstory",
		slog.Int("year", params.Year),
		slog.String("location", params.Location),
		slog.String("persona", string(params.Persona)),
	)

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: SystemPrompt(params),
			},
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("deepseek error: status=%d %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return "", fmt.Errorf("call deepseek: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("deepseek returned no choices")
	}

	content := stripCodeFence(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("deepseek returned empty backstory")
	}
	return content, nil
}

// SystemPrompt builds the persona-specific instruction for the backstory model.
func SystemPrompt(params booth.BackstoryParams) string {
	if params.Persona == booth.PersonaHomie {
		return fmt.Sprintf("You are a cool, laid-back friend living in %[1]s in the year %[2]d. "+
			"Create a detailed backstory for an AI friend character who will have conversations over phone calls. "+
			"Include: your job, hobbies, interests, and how you view friendship. "+
			"Make it historically accurate and include relevant cultural touchpoints from %[2]d. "+
			"Keep the tone casual and friendly. Write in first person as if you're speaking to your friend.",
			params.Location, params.Year)
	}
	return fmt.Sprintf("You are a young woman living in %[1]s in the year %[2]d. "+
		"Create a detailed backstory for an AI girlfriend character who will have conversations over phone calls. "+
		"Include: your job, hobbies, dreams, and how you view relationships. "+
		"Make it historically accurate and include relevant cultural touchpoints from %[2]d. "+
		"Keep the tone light and fun. Write in first person as if you're speaking to your partner.",
		params.Location, params.Year)
}

func stripCodeFence(v string) string {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "```") {
		v = strings.TrimPrefix(v, "```")
		if idx := strings.Index(v, "\n"); idx != -1 {
			v = v[idx+1:]
		}
		v = strings.TrimSuffix(v, "```")
	}
	return strings.TrimSpace(v)
}

var _ booth.BackstoryWriter = (*DeepSeekClient)(nil)

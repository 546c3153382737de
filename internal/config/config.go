package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Provider names accepted by IMAGE_PROVIDER and RINGBACK_PROVIDER.
const (
	ProviderFal        = "fal"
	ProviderElevenLabs = "elevenlabs"
	ProviderStub       = "stub"
)

// Config holds runtime configuration.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	CacheDriver string `env:"CACHE_DRIVER" envDefault:"postgres"`
	DBDSN       string `env:"DB_DSN"`

	YearMin         *int   `env:"YEAR_MIN"`
	YearMax         *int   `env:"YEAR_MAX"`
	DefaultLocation string `env:"DEFAULT_LOCATION" envDefault:"Tokyo, Japan"`
	DefaultPersona  string `env:"DEFAULT_PERSONA" envDefault:"girlfriend"`

	PickupDelayMin time.Duration `env:"PICKUP_DELAY_MIN" envDefault:"1s"`
	PickupDelayMax time.Duration `env:"PICKUP_DELAY_MAX" envDefault:"5s"`

	FalKey      string `env:"FAL_KEY"`
	FalImageURL string `env:"FAL_IMAGE_URL"`
	FalAudioURL string `env:"FAL_AUDIO_URL"`

	DeepSeekAPIKey  string `env:"DEEPSEEK_API_KEY"`
	DeepSeekBaseURL string `env:"DEEPSEEK_BASE_URL"`
	DeepSeekModel   string `env:"DEEPSEEK_MODEL"`

	OpenAIAPIKey        string `env:"OPENAI_API_KEY"`
	OpenAIRealtimeModel string `env:"OPENAI_REALTIME_MODEL"`
	OpenAIVoice         string `env:"OPENAI_VOICE"`

	ElevenLabsAPIKey  string `env:"ELEVENLABS_API_KEY"`
	ElevenLabsAgentID string `env:"ELEVENLABS_AGENT_ID"`

	// Empty provider names pick the real backend when its key is set and
	// the stub otherwise.
	ImageProvider    string `env:"IMAGE_PROVIDER"`
	RingbackProvider string `env:"RINGBACK_PROVIDER"`
	VoiceTransport   string `env:"VOICE_TRANSPORT"`

	RelayAPIKey  string `env:"RELAY_API_KEY"`
	OTelEndpoint string `env:"OTEL_ENDPOINT"`
}

// Load parses environment variables into Config and validates required values.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.DBDSN == "" {
		return errors.New("DB_DSN is required")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown LOG_LEVEL %q", c.LogLevel)
	}
	if c.YearMin != nil && c.YearMax != nil && *c.YearMin > *c.YearMax {
		return fmt.Errorf("YEAR_MIN %d is greater than YEAR_MAX %d", *c.YearMin, *c.YearMax)
	}
	if c.PickupDelayMin <= 0 || c.PickupDelayMax < c.PickupDelayMin {
		return fmt.Errorf("invalid pickup delay range %s..%s", c.PickupDelayMin, c.PickupDelayMax)
	}
	switch c.ImageProvider {
	case "", ProviderFal, ProviderStub:
	default:
		return fmt.Errorf("unknown IMAGE_PROVIDER %q", c.ImageProvider)
	}
	switch c.RingbackProvider {
	case "", ProviderFal, ProviderElevenLabs, ProviderStub:
	default:
		return fmt.Errorf("unknown RINGBACK_PROVIDER %q", c.RingbackProvider)
	}
	if (c.ImageProvider == ProviderFal || c.RingbackProvider == ProviderFal) && c.FalKey == "" {
		return errors.New("FAL_KEY is required for the fal provider")
	}
	if c.RingbackProvider == ProviderElevenLabs && c.ElevenLabsAPIKey == "" {
		return errors.New("ELEVENLABS_API_KEY is required for the elevenlabs provider")
	}
	return nil
}

// Level maps LOG_LEVEL to a slog level.
func (c Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Images resolves the image provider.
func (c Config) Images() string {
	if c.ImageProvider != "" {
		return c.ImageProvider
	}
	if c.FalKey != "" {
		return ProviderFal
	}
	return ProviderStub
}

// Ringbacks resolves the ringback provider.
func (c Config) Ringbacks() string {
	switch {
	case c.RingbackProvider != "":
		return c.RingbackProvider
	case c.FalKey != "":
		return ProviderFal
	case c.ElevenLabsAPIKey != "":
		return ProviderElevenLabs
	default:
		return ProviderStub
	}
}

// Transport resolves the voice transport name.
func (c Config) Transport() string {
	switch {
	case c.VoiceTransport != "":
		return c.VoiceTransport
	case c.OpenAIAPIKey != "":
		return "openai-ws"
	case c.ElevenLabsAPIKey != "" && c.ElevenLabsAgentID != "":
		return "elevenlabs"
	default:
		return "mock"
	}
}

package llm

import (
	"context"
	"fmt"
	"log/slog"

	"timebooth/internal/booth"
)

// StubClient implements booth.BackstoryWriter with deterministic output for development.
type StubClient struct {
	logger *slog.Logger
}

// NewStubClient returns a stubbed backstory writer.
func NewStubClient(logger *slog.Logger) *StubClient {
	return &StubClient{logger: logger}
}

// WriteBackstory returns a short first-person backstory naming the year and place.
func (s *StubClient) WriteBackstory(ctx context.Context, params booth.BackstoryParams) (string, error) {
	if params.Location == "" {
		return "", fmt.Errorf("location required")
	}

	s.logger.Debug("stub LLM wrote backstory",
		slog.Int("year", params.Year),
		slog.String("location", params.Location),
		slog.String("persona", string(params.Persona)),
	)

	switch params.Persona {
	case booth.PersonaHomie:
		return fmt.Sprintf("Hey, it's me. I work at a record shop in %s and it's %d, so the music is everything right now. "+
			"After work I skate by the river and we argue about which band is going to make it big.",
			params.Location, params.Year), nil
	default:
		return fmt.Sprintf("Hi love. I'm a typesetter at a small newspaper in %s, and %d has been a busy year. "+
			"On weekends I paint, and I dream of seeing the world with you someday.",
			params.Location, params.Year), nil
	}
}

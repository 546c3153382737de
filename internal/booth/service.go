package booth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const defaultGenerationTimeout = 2 * time.Minute

// Options tune Service behaviour.
type Options struct {
	Years          YearRange
	DefaultPersona Persona

	// GenerationTimeout bounds one shared cache fill. Defaults to two minutes.
	GenerationTimeout time.Duration
}

// Service serves scenes, backstories and ringback tones from the cache,
// generating and storing them on a miss.
type Service struct {
	logger         *slog.Logger
	repo           Repository
	images         ImageGenerator
	writer         BackstoryWriter
	tones          ToneGenerator
	years          YearRange
	defaultPersona Persona
	timeout        time.Duration
	tracer         trace.Tracer
	inflight       singleflight.Group
	now            func() time.Time
}

// NewService constructs a Service.
func NewService(logger *slog.Logger, repo Repository, images ImageGenerator, writer BackstoryWriter, tones ToneGenerator, opts Options) *Service {
	persona := opts.DefaultPersona
	if !persona.Valid() {
		persona = PersonaGirlfriend
	}
	timeout := opts.GenerationTimeout
	if timeout <= 0 {
		timeout = defaultGenerationTimeout
	}
	return &Service{
		logger:         logger,
		repo:           repo,
		images:         images,
		writer:         writer,
		tones:          tones,
		years:          opts.Years,
		defaultPersona: persona,
		timeout:        timeout,
		tracer:         otel.Tracer("timebooth/booth"),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// shared runs fn once per key across concurrent callers. The fill is
// detached from the caller's cancellation so one client going away does not
// fail the others or leave the cache empty; a cancelled caller stops waiting.
func (s *Service) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := s.inflight.DoChan(key, func() (any, error) {
		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return fn(fillCtx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Years returns the accepted year bounds.
func (s *Service) Years() YearRange {
	return s.years
}

// DefaultPersona returns the persona used when a request names none.
func (s *Service) DefaultPersona() Persona {
	return s.defaultPersona
}

// Scene returns the cached scene for the request or generates a new one.
func (s *Service) Scene(ctx context.Context, req SceneRequest) (Scene, error) {
	if err := s.validate(req.Year, req.Location); err != nil {
		return Scene{}, fmt.Errorf("validate scene: %w", err)
	}
	key := NormalizeLocation(req.Location)

	ctx, span := s.tracer.Start(ctx, "booth.Scene", trace.WithAttributes(
		attribute.Int("year", req.Year),
		attribute.String("location", key),
	))
	defer span.End()

	// Custom prompts bypass the cache: the table is keyed by year and
	// location only and holds default-prompt images.
	custom := strings.TrimSpace(req.CustomPrompt)
	flight := "scene:" + strconv.Itoa(req.Year) + ":" + key
	if custom != "" {
		flight += ":custom:" + custom
	}

	v, err := s.shared(ctx, flight, func(ctx context.Context) (any, error) {
		if custom == "" {
			cached, err := s.repo.FindScene(ctx, req.Year, key)
			if err == nil {
				span.SetAttributes(attribute.Bool("cache_hit", true))
				return cached, nil
			}
			if !errors.Is(err, ErrNotFound) {
				return Scene{}, fmt.Errorf("find scene: %w", err)
			}
		}

		prompt := custom
		if prompt == "" {
			prompt = ScenePrompt(req.Year, strings.TrimSpace(req.Location))
		}
		url, err := s.images.GenerateSceneImage(ctx, prompt)
		if err != nil {
			return Scene{}, fmt.Errorf("%w: generate scene image: %w", ErrUpstream, err)
		}

		scene := Scene{
			ID:          uuid.New(),
			Year:        req.Year,
			Location:    strings.TrimSpace(req.Location),
			LocationKey: key,
			Prompt:      prompt,
			ImageURL:    url,
			CreatedAt:   s.now(),
		}
		if custom != "" {
			return scene, nil
		}
		if err := s.repo.SaveScene(ctx, scene); err != nil {
			s.logger.Warn("cache scene failed",
				slog.Int("year", scene.Year),
				slog.String("location", key),
				slog.String("error", err.Error()),
			)
		}
		return scene, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Scene{}, err
	}
	return v.(Scene), nil
}

// Backstory returns the cached backstory for the triple or writes a new one.
func (s *Service) Backstory(ctx context.Context, year int, location string, persona Persona) (Backstory, error) {
	if err := s.validate(year, location); err != nil {
		return Backstory{}, fmt.Errorf("validate backstory: %w", err)
	}
	persona = s.persona(persona)
	key := NormalizeLocation(location)

	ctx, span := s.tracer.Start(ctx, "booth.Backstory", trace.WithAttributes(
		attribute.Int("year", year),
		attribute.String("location", key),
		attribute.String("persona", string(persona)),
	))
	defer span.End()

	v, err := s.shared(ctx, "backstory:"+strconv.Itoa(year)+":"+key+":"+string(persona), func(ctx context.Context) (any, error) {
		cached, err := s.repo.FindBackstory(ctx, year, key, persona)
		if err == nil {
			span.SetAttributes(attribute.Bool("cache_hit", true))
			return cached, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Backstory{}, fmt.Errorf("find backstory: %w", err)
		}

		display := strings.TrimSpace(location)
		template, err := s.writer.WriteBackstory(ctx, BackstoryParams{
			Year:     year,
			Location: display,
			Persona:  persona,
		})
		if err != nil {
			return Backstory{}, fmt.Errorf("%w: write backstory: %w", ErrUpstream, err)
		}

		dialogue := DialogueRules(persona)
		story := Backstory{
			ID:           uuid.New(),
			Year:         year,
			Location:     display,
			LocationKey:  key,
			Persona:      persona,
			TemplateText: template,
			DialogueText: dialogue,
			CombinedText: CombineBackstory(year, display, persona, template, dialogue),
			CreatedAt:    s.now(),
		}
		if err := s.repo.SaveBackstory(ctx, story); err != nil {
			s.logger.Warn("cache backstory failed",
				slog.Int("year", year),
				slog.String("location", key),
				slog.String("persona", string(persona)),
				slog.String("error", err.Error()),
			)
		}
		return story, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Backstory{}, err
	}
	return v.(Backstory), nil
}

// Ringback returns the cached tone for the year's bucket or generates one.
func (s *Service) Ringback(ctx context.Context, year int) (RingbackTone, error) {
	if !s.years.Contains(year) {
		return RingbackTone{}, fmt.Errorf("validate ringback: %w: year %d", ErrInvalidInput, year)
	}
	bucket := YearBucket(year)

	ctx, span := s.tracer.Start(ctx, "booth.Ringback", trace.WithAttributes(
		attribute.Int("year_bucket", bucket),
	))
	defer span.End()

	v, err := s.shared(ctx, "ringback:"+strconv.Itoa(bucket), func(ctx context.Context) (any, error) {
		cached, err := s.repo.FindRingback(ctx, bucket)
		if err == nil {
			span.SetAttributes(attribute.Bool("cache_hit", true))
			return cached, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return RingbackTone{}, fmt.Errorf("find ringback: %w", err)
		}

		url, err := s.tones.GenerateRingback(ctx, RingbackPrompt(bucket))
		if err != nil {
			return RingbackTone{}, fmt.Errorf("%w: generate ringback: %w", ErrUpstream, err)
		}

		tone := RingbackTone{
			ID:         uuid.New(),
			YearBucket: bucket,
			AudioURL:   url,
			CreatedAt:  s.now(),
		}
		if err := s.repo.SaveRingback(ctx, tone); err != nil {
			s.logger.Warn("cache ringback failed",
				slog.Int("year_bucket", bucket),
				slog.String("error", err.Error()),
			)
		}
		return tone, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return RingbackTone{}, err
	}
	return v.(RingbackTone), nil
}

// Prepare fetches the scene, backstory and ringback tone concurrently.
// A failed ringback is tolerated; the call rings silently.
func (s *Service) Prepare(ctx context.Context, year int, location string, persona Persona) (Setup, error) {
	if err := s.validate(year, location); err != nil {
		return Setup{}, fmt.Errorf("validate call: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "booth.Prepare")
	defer span.End()

	var (
		setup Setup
		g     errgroup.Group
	)
	g.Go(func() error {
		scene, err := s.Scene(ctx, SceneRequest{Year: year, Location: location})
		if err != nil {
			return err
		}
		setup.Scene = scene
		return nil
	})
	g.Go(func() error {
		story, err := s.Backstory(ctx, year, location, persona)
		if err != nil {
			return err
		}
		setup.Backstory = story
		return nil
	})
	g.Go(func() error {
		tone, err := s.Ringback(ctx, year)
		if err != nil {
			s.logger.Warn("ringback unavailable",
				slog.Int("year", year),
				slog.String("error", err.Error()),
			)
			return nil
		}
		setup.Ringback = tone
		return nil
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Setup{}, err
	}
	return setup, nil
}

package booth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

type memoryRepo struct {
	mu         sync.Mutex
	scenes     map[string]Scene
	backstorys map[string]Backstory
	tones      map[int]RingbackTone
	saveErr    error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		scenes:     make(map[string]Scene),
		backstorys: make(map[string]Backstory),
		tones:      make(map[int]RingbackTone),
	}
}

func (r *memoryRepo) FindScene(_ context.Context, year int, key string) (Scene, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	scene, ok := r.scenes[fmt.Sprintf("%d|%s", year, key)]
	if !ok {
		return Scene{}, ErrNotFound
	}
	return scene, nil
}

func (r *memoryRepo) SaveScene(_ context.Context, scene Scene) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.scenes[fmt.Sprintf("%d|%s", scene.Year, scene.LocationKey)] = scene
	return nil
}

func (r *memoryRepo) FindBackstory(_ context.Context, year int, key string, persona Persona) (Backstory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	story, ok := r.backstorys[fmt.Sprintf("%d|%s|%s", year, key, persona)]
	if !ok {
		return Backstory{}, ErrNotFound
	}
	return story, nil
}

func (r *memoryRepo) SaveBackstory(_ context.Context, story Backstory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.backstorys[fmt.Sprintf("%d|%s|%s", story.Year, story.LocationKey, story.Persona)] = story
	return nil
}

func (r *memoryRepo) FindRingback(_ context.Context, bucket int) (RingbackTone, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tone, ok := r.tones[bucket]
	if !ok {
		return RingbackTone{}, ErrNotFound
	}
	return tone, nil
}

func (r *memoryRepo) SaveRingback(_ context.Context, tone RingbackTone) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.tones[tone.YearBucket] = tone
	return nil
}

type countingImages struct {
	calls atomic.Int32
	err   error
	// gate, when set, holds every generation until closed.
	gate chan struct{}
}

func (c *countingImages) GenerateSceneImage(ctx context.Context, prompt string) (string, error) {
	n := c.calls.Add(1)
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if c.err != nil {
		return "", c.err
	}
	return fmt.Sprintf("https://img.example/%d.png", n), nil
}

type countingWriter struct {
	calls atomic.Int32
	err   error
}

func (c *countingWriter) WriteBackstory(_ context.Context, params BackstoryParams) (string, error) {
	c.calls.Add(1)
	if c.err != nil {
		return "", c.err
	}
	return fmt.Sprintf("I live in %s in %d.", params.Location, params.Year), nil
}

type countingTones struct {
	calls   atomic.Int32
	err     error
	prompts []string
	mu      sync.Mutex
}

func (c *countingTones) GenerateRingback(_ context.Context, prompt string) (string, error) {
	n := c.calls.Add(1)
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	return fmt.Sprintf("https://audio.example/%d.mp3", n), nil
}

type fixture struct {
	repo    *memoryRepo
	images  *countingImages
	writer  *countingWriter
	tones   *countingTones
	service *Service
}

func newFixture(opts Options) *fixture {
	f := &fixture{
		repo:   newMemoryRepo(),
		images: &countingImages{},
		writer: &countingWriter{},
		tones:  &countingTones{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.service = NewService(logger, f.repo, f.images, f.writer, f.tones, opts)
	return f
}

var errBoom = errors.New("boom")

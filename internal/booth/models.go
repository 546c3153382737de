package booth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound signals a cache miss.
	ErrNotFound = errors.New("artifact not found")

	// ErrInvalidInput signals validation errors on a booth request.
	ErrInvalidInput = errors.New("invalid booth input")

	// ErrUpstream signals a failed call to a generation backend.
	ErrUpstream = errors.New("generation backend failed")
)

// Persona is the character archetype on the other end of the line.
type Persona string

const (
	PersonaGirlfriend Persona = "girlfriend"
	PersonaHomie      Persona = "homie"
)

// Personas lists every supported persona in display order.
var Personas = []Persona{PersonaGirlfriend, PersonaHomie}

// Valid reports whether p is a known persona.
func (p Persona) Valid() bool {
	switch p {
	case PersonaGirlfriend, PersonaHomie:
		return true
	}
	return false
}

// SceneRequest asks for an image of a place at a point in time.
type SceneRequest struct {
	Year         int
	Location     string
	CustomPrompt string
}

// Scene is a generated image for a (year, location) pair.
type Scene struct {
	ID          uuid.UUID
	Year        int
	Location    string
	LocationKey string
	Prompt      string
	ImageURL    string
	CreatedAt   time.Time
}

// Backstory is the persona narrative fed to the voice agent as its system prompt.
type Backstory struct {
	ID           uuid.UUID
	Year         int
	Location     string
	LocationKey  string
	Persona      Persona
	TemplateText string
	DialogueText string
	CombinedText string
	CreatedAt    time.Time
}

// RingbackTone is the looped audio played while the phone rings.
type RingbackTone struct {
	ID         uuid.UUID
	YearBucket int
	AudioURL   string
	CreatedAt  time.Time
}

// Setup holds every artifact a call needs before the phone can ring.
type Setup struct {
	Scene     Scene
	Backstory Backstory
	Ringback  RingbackTone
}

// BackstoryParams describe the request to the backstory writer.
type BackstoryParams struct {
	Year     int
	Location string
	Persona  Persona
}

// Repository defines the cache store contract.
type Repository interface {
	FindScene(ctx context.Context, year int, locationKey string) (Scene, error)
	SaveScene(ctx context.Context, scene Scene) error
	FindBackstory(ctx context.Context, year int, locationKey string, persona Persona) (Backstory, error)
	SaveBackstory(ctx context.Context, story Backstory) error
	FindRingback(ctx context.Context, yearBucket int) (RingbackTone, error)
	SaveRingback(ctx context.Context, tone RingbackTone) error
}

// ImageGenerator renders a scene prompt into an image URL.
type ImageGenerator interface {
	GenerateSceneImage(ctx context.Context, prompt string) (string, error)
}

// BackstoryWriter produces the first-person template backstory for a persona.
type BackstoryWriter interface {
	WriteBackstory(ctx context.Context, params BackstoryParams) (string, error)
}

// ToneGenerator renders a ringback prompt into an audio URL.
type ToneGenerator interface {
	GenerateRingback(ctx context.Context, prompt string) (string, error)
}

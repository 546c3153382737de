package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"timebooth/internal/booth"
)

// CacheRepository persists generated artifacts keyed by their request.
// Rows are insert-only; lookups return the newest match.
type CacheRepository struct {
	db      *sql.DB
	dialect Dialect
}

// NewCacheRepository creates a new repository.
func NewCacheRepository(db *sql.DB, dialect Dialect) *CacheRepository {
	return &CacheRepository{db: db, dialect: dialect}
}

// FindScene fetches the newest scene for a year and location key.
func (r *CacheRepository) FindScene(ctx context.Context, year int, locationKey string) (booth.Scene, error) {
	const query = `
		SELECT id, year, location, location_key, prompt, image_url, created_at
		FROM scenes
		WHERE year = $1 AND location_key = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	var scene booth.Scene
	if err := r.db.QueryRowContext(ctx, r.dialect.rebind(query), year, locationKey).Scan(
		&scene.ID,
		&scene.Year,
		&scene.Location,
		&scene.LocationKey,
		&scene.Prompt,
		&scene.ImageURL,
		&scene.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return booth.Scene{}, booth.ErrNotFound
		}
		return booth.Scene{}, fmt.Errorf("select scene: %w", err)
	}
	return scene, nil
}

// SaveScene inserts a scene row.
func (r *CacheRepository) SaveScene(ctx context.Context, scene booth.Scene) error {
	const insert = `
		INSERT INTO scenes (id, year, location, location_key, prompt, image_url, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`
	if _, err := r.db.ExecContext(ctx, r.dialect.rebind(insert),
		scene.ID,
		scene.Year,
		scene.Location,
		scene.LocationKey,
		scene.Prompt,
		scene.ImageURL,
		scene.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert scene: %w", err)
	}
	return nil
}

// FindBackstory fetches the newest backstory for a year, location key and persona.
func (r *CacheRepository) FindBackstory(ctx context.Context, year int, locationKey string, persona booth.Persona) (booth.Backstory, error) {
	const query = `
		SELECT id, year, location, location_key, persona, template_text, dialogue_text, combined_text, created_at
		FROM backstories
		WHERE year = $1 AND location_key = $2 AND persona = $3
		ORDER BY created_at DESC
		LIMIT 1
	`
	var (
		story      booth.Backstory
		personaRaw string
	)
	if err := r.db.QueryRowContext(ctx, r.dialect.rebind(query), year, locationKey, string(persona)).Scan(
		&story.ID,
		&story.Year,
		&story.Location,
		&story.LocationKey,
		&personaRaw,
		&story.TemplateText,
		&story.DialogueText,
		&story.CombinedText,
		&story.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return booth.Backstory{}, booth.ErrNotFound
		}
		return booth.Backstory{}, fmt.Errorf("select backstory: %w", err)
	}
	story.Persona = booth.Persona(personaRaw)
	return story, nil
}

// SaveBackstory inserts a backstory row.
func (r *CacheRepository) SaveBackstory(ctx context.Context, story booth.Backstory) error {
	const insert = `
		INSERT INTO backstories (
			id, year, location, location_key, persona, template_text, dialogue_text, combined_text, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`
	if _, err := r.db.ExecContext(ctx, r.dialect.rebind(insert),
		story.ID,
		story.Year,
		story.Location,
		story.LocationKey,
		string(story.Persona),
		story.TemplateText,
		story.DialogueText,
		story.CombinedText,
		story.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert backstory: %w", err)
	}
	return nil
}

// FindRingback fetches the newest ringback tone for a year bucket.
func (r *CacheRepository) FindRingback(ctx context.Context, yearBucket int) (booth.RingbackTone, error) {
	const query = `
		SELECT id, year, audio_url, created_at
		FROM ringback_tones
		WHERE year = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	var tone booth.RingbackTone
	if err := r.db.QueryRowContext(ctx, r.dialect.rebind(query), yearBucket).Scan(
		&tone.ID,
		&tone.YearBucket,
		&tone.AudioURL,
		&tone.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return booth.RingbackTone{}, booth.ErrNotFound
		}
		return booth.RingbackTone{}, fmt.Errorf("select ringback tone: %w", err)
	}
	return tone, nil
}

// SaveRingback inserts a ringback tone row.
func (r *CacheRepository) SaveRingback(ctx context.Context, tone booth.RingbackTone) error {
	const insert = `
		INSERT INTO ringback_tones (id, year, audio_url, created_at)
		VALUES ($1,$2,$3,$4)
	`
	if _, err := r.db.ExecContext(ctx, r.dialect.rebind(insert),
		tone.ID,
		tone.YearBucket,
		tone.AudioURL,
		tone.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert ringback tone: %w", err)
	}
	return nil
}

var _ booth.Repository = (*CacheRepository)(nil)

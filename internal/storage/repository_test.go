package storage

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"timebooth/internal/booth"
)

func TestCacheRepositorySaveScene(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewCacheRepository(db, DialectPostgres)
	scene := booth.Scene{
		ID:          uuid.New(),
		Year:        1970,
		Location:    "Tokyo, Japan",
		LocationKey: "tokyo, japan",
		Prompt:      "photo",
		ImageURL:    "https://img.example/1.png",
		CreatedAt:   time.Now(),
	}

	mock.ExpectExec(`INSERT INTO scenes \(id, year, location, location_key, prompt, image_url, created_at\)\s+VALUES \(\$1,\$2`).
		WithArgs(scene.ID, scene.Year, scene.Location, scene.LocationKey, scene.Prompt, scene.ImageURL, scene.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SaveScene(context.Background(), scene))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheRepositoryFindScene(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewCacheRepository(db, DialectPostgres)
	id := uuid.New()
	rows := sqlmock.NewRows([]string{
		"id", "year", "location", "location_key", "prompt", "image_url", "created_at",
	}).AddRow(id.String(), 1970, "Tokyo, Japan", "tokyo, japan", "photo", "https://img.example/1.png", time.Now())

	mock.ExpectQuery("SELECT id, year, location").
		WithArgs(1970, "tokyo, japan").
		WillReturnRows(rows)

	scene, err := repo.FindScene(context.Background(), 1970, "tokyo, japan")
	require.NoError(t, err)
	require.Equal(t, id, scene.ID)
	require.Equal(t, "https://img.example/1.png", scene.ImageURL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheRepositoryFindSceneMiss(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewCacheRepository(db, DialectPostgres)
	mock.ExpectQuery("SELECT id, year, location").
		WithArgs(1800, "nowhere").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = repo.FindScene(context.Background(), 1800, "nowhere")
	require.ErrorIs(t, err, booth.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheRepositoryBackstoryRoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewCacheRepository(db, DialectPostgres)
	story := booth.Backstory{
		ID:           uuid.New(),
		Year:         1985,
		Location:     "Berlin",
		LocationKey:  "berlin",
		Persona:      booth.PersonaHomie,
		TemplateText: "I fix bikes.",
		DialogueText: "Remember:",
		CombinedText: "You are my friend.",
		CreatedAt:    time.Now(),
	}

	mock.ExpectExec("INSERT INTO backstories").
		WithArgs(story.ID, story.Year, story.Location, story.LocationKey, "homie",
			story.TemplateText, story.DialogueText, story.CombinedText, story.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SaveBackstory(context.Background(), story))

	rows := sqlmock.NewRows([]string{
		"id", "year", "location", "location_key", "persona", "template_text", "dialogue_text", "combined_text", "created_at",
	}).AddRow(story.ID.String(), story.Year, story.Location, story.LocationKey, "homie",
		story.TemplateText, story.DialogueText, story.CombinedText, story.CreatedAt)
	mock.ExpectQuery("SELECT id, year, location, location_key, persona").
		WithArgs(1985, "berlin", "homie").
		WillReturnRows(rows)

	got, err := repo.FindBackstory(context.Background(), 1985, "berlin", booth.PersonaHomie)
	require.NoError(t, err)
	require.Equal(t, booth.PersonaHomie, got.Persona)
	require.Equal(t, story.CombinedText, got.CombinedText)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheRepositorySQLitePlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewCacheRepository(db, DialectSQLite)
	mock.ExpectQuery(`FROM ringback_tones\s+WHERE year = \?`).
		WithArgs(1970).
		WillReturnRows(sqlmock.NewRows([]string{"id", "year", "audio_url", "created_at"}).
			AddRow(uuid.New().String(), 1970, "https://audio.example/1.mp3", time.Now()))

	tone, err := repo.FindRingback(context.Background(), 1970)
	require.NoError(t, err)
	require.Equal(t, 1970, tone.YearBucket)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrationsUsesDialectDirectory(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	files := fstest.MapFS{
		"postgres/002_more.sql":  {Data: []byte("CREATE TABLE b (id INT);")},
		"postgres/001_cache.sql": {Data: []byte("CREATE TABLE a (id INT);")},
		"postgres/003_empty.sql": {Data: []byte("  \n")},
		"sqlite/001_cache.sql":   {Data: []byte("CREATE TABLE z (id INT);")},
	}

	mock.ExpectExec(`CREATE TABLE a`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE b`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, RunMigrations(context.Background(), db, DialectPostgres, files))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("sqlite")
	require.NoError(t, err)
	require.Equal(t, "sqlite", d.DriverName())

	d, err = ParseDialect("postgres")
	require.NoError(t, err)
	require.Equal(t, "pgx", d.DriverName())

	_, err = ParseDialect("mysql")
	require.Error(t, err)
}

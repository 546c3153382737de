package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"timebooth/internal/booth"
	"timebooth/internal/call"
	"timebooth/internal/config"
	"timebooth/internal/fal"
	apphttp "timebooth/internal/http"
	"timebooth/internal/llm"
	"timebooth/internal/relay"
	"timebooth/internal/sound"
	"timebooth/internal/storage"
	"timebooth/internal/telemetry"
	"timebooth/internal/ui"
	"timebooth/internal/voice"
	"timebooth/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	if err := run(logger, cfg); err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "timebooth", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flush traces failed", slog.String("error", err.Error()))
		}
	}()

	dialect, err := storage.ParseDialect(cfg.CacheDriver)
	if err != nil {
		return fmt.Errorf("parse cache driver: %w", err)
	}

	db, err := sql.Open(dialect.DriverName(), cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	if dialect == storage.DialectSQLite {
		db.SetMaxOpenConns(1)
	}

	// ensure DB is reachable
	if err := pingDB(ctx, db); err != nil {
		return err
	}

	if err := storage.RunMigrations(ctx, db, dialect, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	repo := storage.NewCacheRepository(db, dialect)
	booths := booth.NewService(logger.With("component", "booth"), repo,
		imageGenerator(logger, cfg),
		backstoryWriter(logger, cfg),
		toneGenerator(logger, cfg),
		booth.Options{
			Years:          booth.YearRange{Min: cfg.YearMin, Max: cfg.YearMax},
			DefaultPersona: booth.Persona(cfg.DefaultPersona),
		},
	)

	kind, err := voice.ParseKind(cfg.Transport())
	if err != nil {
		return fmt.Errorf("parse voice transport: %w", err)
	}
	transports := voice.Factory{
		Kind:   kind,
		Logger: logger,
		OpenAI: voice.OpenAIOptions{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIRealtimeModel,
			Voice:  cfg.OpenAIVoice,
		},
		ElevenLabs: voice.ElevenLabsOptions{
			APIKey:  cfg.ElevenLabsAPIKey,
			AgentID: cfg.ElevenLabsAgentID,
		},
	}
	// Fail at startup rather than on the first pickup.
	if _, err := transports.New(); err != nil {
		return fmt.Errorf("configure voice transport: %w", err)
	}
	logger.Info("voice transport selected", slog.String("kind", string(kind)))

	phones := call.NewSwitchboard(logger, transports, call.Options{
		PickupDelayMin: cfg.PickupDelayMin,
		PickupDelayMax: cfg.PickupDelayMax,
	})
	defer phones.HangupAll()

	relayHandler := relay.NewHandler(logger, booths, relay.Options{
		APIKey:      cfg.RelayAPIKey,
		OpenAIKey:   cfg.OpenAIAPIKey,
		OpenAIModel: cfg.OpenAIRealtimeModel,
		OpenAIVoice: cfg.OpenAIVoice,
	})

	tmpl, err := ui.ParseTemplates()
	if err != nil {
		return fmt.Errorf("parse templates: %w", err)
	}

	handler := apphttp.NewServer(logger, apphttp.Config{
		Booths:          booths,
		Phones:          phones,
		Relay:           relayHandler,
		Templates:       tmpl,
		Static:          ui.StaticFiles(),
		DefaultLocation: cfg.DefaultLocation,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("shutdown server: %w", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	return nil
}

func imageGenerator(logger *slog.Logger, cfg config.Config) booth.ImageGenerator {
	if cfg.Images() == config.ProviderFal {
		return fal.NewClient(logger, cfg.FalKey, falOptions(cfg))
	}
	logger.Warn("using placeholder scene images")
	return fal.NewStubClient()
}

func falOptions(cfg config.Config) *fal.Options {
	return &fal.Options{ImageURL: cfg.FalImageURL, AudioURL: cfg.FalAudioURL}
}

func backstoryWriter(logger *slog.Logger, cfg config.Config) booth.BackstoryWriter {
	if cfg.DeepSeekAPIKey != "" {
		return llm.NewDeepSeekClient(logger, cfg.DeepSeekAPIKey, &llm.DeepSeekOptions{
			BaseURL: cfg.DeepSeekBaseURL,
			Model:   cfg.DeepSeekModel,
		})
	}
	logger.Warn("DEEPSEEK_API_KEY not set, using stub backstories")
	return llm.NewStubClient(logger)
}

func toneGenerator(logger *slog.Logger, cfg config.Config) booth.ToneGenerator {
	switch cfg.Ringbacks() {
	case config.ProviderFal:
		return fal.NewClient(logger, cfg.FalKey, falOptions(cfg))
	case config.ProviderElevenLabs:
		return sound.NewElevenLabsClient(logger, cfg.ElevenLabsAPIKey, nil)
	default:
		logger.Warn("using synthesized ringback tone")
		return sound.NewStubClient()
	}
}

func pingDB(ctx context.Context, db *sql.DB) error {
	const (
		maxAttempts = 10
		baseDelay   = time.Second
	)

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()

		if err == nil {
			return nil
		}

		// allow caller to abort early
		select {
		case <-ctx.Done():
			return fmt.Errorf("ping db: %w", err)
		case <-time.After(time.Duration(attempt) * baseDelay):
		}
	}

	return fmt.Errorf("ping db: %w", err)
}

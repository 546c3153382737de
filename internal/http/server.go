package http

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"timebooth/internal/booth"
	"timebooth/internal/call"
)

const maxBodyBytes = 64 << 10

// Booths serves cached or freshly generated call artifacts.
type Booths interface {
	Scene(ctx context.Context, req booth.SceneRequest) (booth.Scene, error)
	Backstory(ctx context.Context, year int, location string, persona booth.Persona) (booth.Backstory, error)
	Ringback(ctx context.Context, year int) (booth.RingbackTone, error)
	Prepare(ctx context.Context, year int, location string, persona booth.Persona) (booth.Setup, error)
	Years() booth.YearRange
	DefaultPersona() booth.Persona
}

// Config collects the server's collaborators.
type Config struct {
	Booths    Booths
	Phones    *call.Switchboard
	Relay     http.Handler
	Templates *template.Template
	Static    http.FileSystem

	DefaultYear     int
	DefaultLocation string
}

// Server wires HTTP routing for Time Booth.
type Server struct {
	logger    *slog.Logger
	booths    Booths
	phones    *call.Switchboard
	templates *template.Template
	cfg       Config
	upgrader  websocket.Upgrader
}

// NewServer constructs a chi router implementing http.Handler.
func NewServer(logger *slog.Logger, cfg Config) http.Handler {
	if cfg.DefaultYear == 0 {
		cfg.DefaultYear = 1970
	}
	if cfg.DefaultLocation == "" {
		cfg.DefaultLocation = "Tokyo, Japan"
	}
	srv := &Server{
		logger:    logger,
		booths:    cfg.Booths,
		phones:    cfg.Phones,
		templates: cfg.Templates,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	if cfg.Static != nil {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(cfg.Static)))
	}

	r.Get("/", srv.handleIndex)
	r.Get("/healthz", srv.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/scenes", srv.handleScene)
		r.Post("/backstories", srv.handleBackstory)
		r.Post("/ringback", srv.handleRingback)
		if cfg.Relay != nil {
			r.Handle("/realtime", cfg.Relay)
		}

		r.Route("/booths/{booth}", func(r chi.Router) {
			r.Get("/", srv.handleSnapshot)
			r.Post("/call", srv.handleCall)
			r.Delete("/call", srv.handleHangup)
			r.Post("/pickup", srv.handlePickup)
			r.Post("/messages", srv.handleMessage)
			r.Get("/events", srv.handleEvents)
		})
	})

	return r
}

// cors allows the booth page and relay clients from any origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type pageView struct {
	Title string
	Body  template.HTML
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	years := s.booths.Years()
	payload := map[string]any{
		"Year":           s.cfg.DefaultYear,
		"Location":       s.cfg.DefaultLocation,
		"YearMin":        years.Min,
		"YearMax":        years.Max,
		"Personas":       booth.Personas,
		"DefaultPersona": s.booths.DefaultPersona(),
	}
	s.renderPage(w, "Time Booth", "booth.html", payload)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) renderPage(w http.ResponseWriter, title, contentTemplate string, payload any) {
	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, contentTemplate, payload); err != nil {
		s.logger.Error("render template failed", slog.String("template", contentTemplate), slog.String("error", err.Error()))
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := pageView{Title: title, Body: template.HTML(body.String())}
	if err := s.templates.ExecuteTemplate(w, "base.html", data); err != nil {
		s.logger.Error("render template failed", slog.String("template", "base.html"), slog.String("error", err.Error()))
		http.Error(w, "template error", http.StatusInternalServerError)
	}
}

func (s *Server) decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return sonic.Unmarshal(body, v)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		s.logger.Error("encode response failed", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeError maps domain errors to statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, msg := http.StatusInternalServerError, "internal server error"
	switch {
	case errors.Is(err, booth.ErrInvalidInput):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, call.ErrNotConnected), errors.Is(err, call.ErrNoAudioDevice):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, booth.ErrUpstream):
		status, msg = http.StatusBadGateway, "generation service unavailable"
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request error", slog.String("error", err.Error()))
	}
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) clientError(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func boothID(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "booth"))
}

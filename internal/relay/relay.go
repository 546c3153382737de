// Package relay proxies a browser websocket to the OpenAI Realtime API,
// seeding the session with the booth's backstory.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"timebooth/internal/booth"
	"timebooth/internal/voice"
)

const (
	defaultYear     = 1970
	defaultLocation = "Tokyo, Japan"
	upstreamError   = "OpenAI connection error"
	writeWait       = 5 * time.Second
)

// Backstories resolves the persona prompt for a call.
type Backstories interface {
	Backstory(ctx context.Context, year int, location string, persona booth.Persona) (booth.Backstory, error)
}

// Options configure the relay.
type Options struct {
	// APIKey, when set, must match the client's apikey header.
	APIKey string

	OpenAIKey   string
	OpenAIModel string
	OpenAIVoice string

	// UpstreamURL overrides the OpenAI Realtime websocket endpoint.
	UpstreamURL string

	HandshakeTimeout time.Duration
}

// Handler upgrades the client connection and pipes frames to and from OpenAI.
type Handler struct {
	logger   *slog.Logger
	stories  Backstories
	opts     Options
	upgrader websocket.Upgrader
}

// NewHandler constructs the relay handler.
func NewHandler(logger *slog.Logger, stories Backstories, opts Options) *Handler {
	if opts.OpenAIModel == "" {
		opts.OpenAIModel = voice.DefaultOpenAIModel
	}
	if opts.OpenAIVoice == "" {
		opts.OpenAIVoice = voice.DefaultOpenAIVoice
	}
	if opts.UpstreamURL == "" {
		opts.UpstreamURL = voice.DefaultOpenAIWebSocket
	}
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = 15 * time.Second
	}
	return &Handler{
		logger:  logger.With("component", "relay"),
		stories: stories,
		opts:    opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get("apikey")
	if r.Header.Get("Authorization") == "" || apiKey == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if h.opts.APIKey != "" && apiKey != h.opts.APIKey {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "Expected WebSocket connection", http.StatusBadRequest)
		return
	}
	if h.opts.OpenAIKey == "" {
		writeJSONError(w, http.StatusInternalServerError, "OPENAI_API_KEY is not set")
		return
	}

	year, location, persona, err := parseParams(r.URL.Query())
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	client, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer client.Close()

	logger := h.logger.With(slog.Int("year", year), slog.String("location", location))
	logger.Info("relay session opened")

	instructions := h.instructions(r.Context(), logger, year, location, persona)

	upstream, err := h.dialUpstream(r.Context())
	if err != nil {
		logger.Error("dial upstream failed", slog.String("error", err.Error()))
		sendError(client)
		return
	}
	defer upstream.Close()

	update, err := sonic.Marshal(voice.SessionUpdate(instructions, h.opts.OpenAIVoice, true))
	if err != nil {
		logger.Error("marshal session update failed", slog.String("error", err.Error()))
		return
	}
	if err := upstream.WriteMessage(websocket.TextMessage, update); err != nil {
		logger.Error("configure upstream session failed", slog.String("error", err.Error()))
		sendError(client)
		return
	}

	h.pipe(logger, client, upstream)
	logger.Info("relay session closed")
}

func (h *Handler) instructions(ctx context.Context, logger *slog.Logger, year int, location string, persona booth.Persona) string {
	story, err := h.stories.Backstory(ctx, year, location, persona)
	if err != nil {
		logger.Warn("backstory unavailable, using fallback prompt", slog.String("error", err.Error()))
		return booth.FallbackInstructions(year, location)
	}
	return story.CombinedText
}

func (h *Handler) dialUpstream(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := url.Parse(h.opts.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	q := endpoint.Query()
	q.Set("model", h.opts.OpenAIModel)
	endpoint.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+h.opts.OpenAIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: h.opts.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, endpoint.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial upstream: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial upstream: %w", err)
	}
	return conn, nil
}

// pipe copies frames both ways until either side goes away, then closes both.
func (h *Handler) pipe(logger *slog.Logger, client, upstream *websocket.Conn) {
	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			_ = client.Close()
			_ = upstream.Close()
		})
	}

	var g errgroup.Group
	g.Go(func() error {
		defer closeBoth()
		err := copyFrames(upstream, client)
		if err != nil && !isExpectedClose(err) {
			logger.Warn("upstream read failed", slog.String("error", err.Error()))
			sendError(client)
		}
		return nil
	})
	g.Go(func() error {
		defer closeBoth()
		err := copyFrames(client, upstream)
		if err != nil && !isExpectedClose(err) {
			logger.Debug("client read failed", slog.String("error", err.Error()))
		}
		return nil
	})
	_ = g.Wait()
}

// copyFrames forwards messages from src to dst until reading or writing fails.
func copyFrames(src, dst *websocket.Conn) error {
	for {
		kind, data, err := src.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				_ = dst.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
			}
			return err
		}
		if err := dst.WriteMessage(kind, data); err != nil {
			return fmt.Errorf("forward frame: %w", err)
		}
	}
}

func isExpectedClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}

func sendError(conn *websocket.Conn) {
	data, _ := sonic.Marshal(map[string]string{"error": upstreamError})
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

func parseParams(q url.Values) (int, string, booth.Persona, error) {
	year := defaultYear
	if v := strings.TrimSpace(q.Get("year")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return 0, "", "", fmt.Errorf("invalid year %q", v)
		}
		year = parsed
	}

	location := strings.TrimSpace(q.Get("location"))
	if location == "" {
		location = defaultLocation
	}

	return year, location, booth.Persona(q.Get("persona")), nil
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	body, _ := sonic.Marshal(map[string]string{"error": msg})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

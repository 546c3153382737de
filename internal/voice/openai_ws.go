package voice

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// OpenAIWebSocket talks to the OpenAI Realtime API over a websocket.
// Audio is PCM16 mono at 24 kHz in both directions.
type OpenAIWebSocket struct {
	logger *slog.Logger
	opts   OpenAIOptions

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	closed  bool
}

// NewOpenAIWebSocket creates an unconnected websocket transport.
func NewOpenAIWebSocket(logger *slog.Logger, opts OpenAIOptions) (*OpenAIWebSocket, error) {
	if opts.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	return &OpenAIWebSocket{
		logger: logger.With("component", "voice.openai_ws"),
		opts:   opts.withDefaults(DefaultOpenAIWebSocket),
	}, nil
}

// Connect dials the realtime endpoint and configures the session.
func (o *OpenAIWebSocket) Connect(ctx context.Context, cfg Config) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.conn != nil {
		return ErrAlreadyConnected
	}

	endpoint, err := url.Parse(o.opts.URL)
	if err != nil {
		return fmt.Errorf("parse realtime url: %w", err)
	}
	q := endpoint.Query()
	q.Set("model", o.opts.Model)
	endpoint.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+o.opts.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: o.opts.HandshakeTimeout}
	o.logger.Info("connecting to OpenAI Realtime API", slog.String("model", o.opts.Model))

	conn, resp, err := dialer.DialContext(ctx, endpoint.String(), headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial realtime: status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial realtime: %w", err)
	}
	o.conn = conn
	o.closed = false

	voice := cfg.Voice
	if voice == "" {
		voice = o.opts.Voice
	}
	if err := o.write(conn, SessionUpdate(cfg.SystemPrompt, voice, true)); err != nil {
		_ = conn.Close()
		o.conn = nil
		return fmt.Errorf("configure session: %w", err)
	}

	go o.readLoop(conn, newRealtimeDispatcher(o.logger, cfg.Handlers), cfg.Handlers)
	return nil
}

// Disconnect closes the websocket.
func (o *OpenAIWebSocket) Disconnect() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.conn == nil {
		return nil
	}
	o.closed = true

	o.writeMu.Lock()
	_ = o.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	o.writeMu.Unlock()

	err := o.conn.Close()
	o.logger.Info("disconnected from OpenAI Realtime API")
	return err
}

// SendText adds a user message to the conversation and requests a response.
func (o *OpenAIWebSocket) SendText(text string) error {
	conn, err := o.live()
	if err != nil {
		return err
	}
	if err := o.write(conn, userTextItem(text)); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	if err := o.write(conn, responseCreate); err != nil {
		return fmt.Errorf("request response: %w", err)
	}
	return nil
}

// SendAudio appends PCM16 audio to the input buffer.
func (o *OpenAIWebSocket) SendAudio(audio []byte) error {
	conn, err := o.live()
	if err != nil {
		return err
	}
	return o.write(conn, map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(audio),
	})
}

func (o *OpenAIWebSocket) live() (*websocket.Conn, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.conn == nil || o.closed {
		return nil, ErrNotConnected
	}
	return o.conn, nil
}

func (o *OpenAIWebSocket) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *OpenAIWebSocket) write(conn *websocket.Conn, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (o *OpenAIWebSocket) readLoop(conn *websocket.Conn, d *realtimeDispatcher, h Handlers) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if o.isClosed() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				o.logger.Info("realtime connection closed by remote")
				h.status(StatusDisconnected)
				return
			}
			o.logger.Error("realtime read failed", slog.String("error", err.Error()))
			h.err(fmt.Errorf("read realtime event: %w", err))
			return
		}
		d.handle(data)
	}
}

// AudioFormat reports 24kHz PCM16, the format requested in session.update.
func (o *OpenAIWebSocket) AudioFormat() AudioFormat {
	return PCM24k
}

var _ Transport = (*OpenAIWebSocket)(nil)

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

const defaultElevenLabsURL = "wss://api.elevenlabs.io/v1/convai/conversation"

// ElevenLabsOptions configure the ElevenLabs Conversational AI transport.
type ElevenLabsOptions struct {
	APIKey  string
	AgentID string

	// URL overrides the conversation websocket endpoint.
	URL string

	HandshakeTimeout time.Duration
}

// ElevenLabs talks to an ElevenLabs Conversational AI agent. The agent
// prompt is overridden per conversation with the call's backstory.
type ElevenLabs struct {
	logger *slog.Logger
	opts   ElevenLabsOptions

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	closed  bool
}

// NewElevenLabs creates an unconnected ElevenLabs transport.
func NewElevenLabs(logger *slog.Logger, opts ElevenLabsOptions) (*ElevenLabs, error) {
	if opts.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if opts.AgentID == "" {
		return nil, ErrMissingAgentID
	}
	if opts.URL == "" {
		opts.URL = defaultElevenLabsURL
	}
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = defaultHandshake
	}
	return &ElevenLabs{
		logger: logger.With("component", "voice.elevenlabs"),
		opts:   opts,
	}, nil
}

type elevenLabsEvent struct {
	Type string `json:"type"`

	AgentResponse struct {
		Text string `json:"agent_response"`
	} `json:"agent_response_event"`

	UserTranscript struct {
		Text string `json:"user_transcript"`
	} `json:"user_transcription_event"`

	Audio struct {
		Base64  string `json:"audio_base_64"`
		EventID int    `json:"event_id"`
	} `json:"audio_event"`

	Ping struct {
		EventID int `json:"event_id"`
	} `json:"ping_event"`

	Metadata struct {
		ConversationID    string `json:"conversation_id"`
		AgentOutputFormat string `json:"agent_output_audio_format"`
		UserInputFormat   string `json:"user_input_audio_format"`
	} `json:"conversation_initiation_metadata_event"`

	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error_event"`
}

// Connect opens the conversation and overrides the agent prompt.
func (e *ElevenLabs) Connect(ctx context.Context, cfg Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		return ErrAlreadyConnected
	}

	endpoint, err := url.Parse(e.opts.URL)
	if err != nil {
		return fmt.Errorf("parse conversation url: %w", err)
	}
	q := endpoint.Query()
	q.Set("agent_id", e.opts.AgentID)
	endpoint.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", e.opts.APIKey)

	dialer := websocket.Dialer{HandshakeTimeout: e.opts.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, endpoint.String(), headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial conversation: status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial conversation: %w", err)
	}
	e.conn = conn
	e.closed = false

	agent := map[string]any{
		"prompt": map[string]any{"prompt": cfg.SystemPrompt},
	}
	override := map[string]any{"agent": agent}
	if cfg.Voice != "" {
		override["tts"] = map[string]any{"voice_id": cfg.Voice}
	}
	initiation := map[string]any{
		"type":                         "conversation_initiation_client_data",
		"conversation_config_override": override,
	}
	if err := e.write(conn, initiation); err != nil {
		_ = conn.Close()
		e.conn = nil
		return fmt.Errorf("start conversation: %w", err)
	}

	go e.readLoop(conn, cfg.Handlers)
	return nil
}

// Disconnect closes the conversation websocket.
func (e *ElevenLabs) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.conn == nil {
		return nil
	}
	e.closed = true

	e.writeMu.Lock()
	_ = e.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	e.writeMu.Unlock()
	return e.conn.Close()
}

// SendText sends a typed user message.
func (e *ElevenLabs) SendText(text string) error {
	conn, err := e.live()
	if err != nil {
		return err
	}
	return e.write(conn, map[string]any{"type": "user_message", "text": text})
}

// SendAudio streams a chunk of caller audio, PCM16 at 16 kHz.
func (e *ElevenLabs) SendAudio(audio []byte) error {
	conn, err := e.live()
	if err != nil {
		return err
	}
	return e.write(conn, map[string]any{
		"user_audio_chunk": base64.StdEncoding.EncodeToString(audio),
	})
}

func (e *ElevenLabs) live() (*websocket.Conn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil || e.closed {
		return nil, ErrNotConnected
	}
	return e.conn, nil
}

func (e *ElevenLabs) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *ElevenLabs) write(conn *websocket.Conn, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (e *ElevenLabs) readLoop(conn *websocket.Conn, h Handlers) {
	speaking := false
	setSpeaking := func(v bool) {
		if speaking == v {
			return
		}
		speaking = v
		if v {
			h.mode(ModeSpeaking)
		} else {
			h.mode(ModeListening)
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if e.isClosed() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.status(StatusDisconnected)
				return
			}
			e.logger.Error("conversation read failed", slog.String("error", err.Error()))
			h.err(fmt.Errorf("read conversation event: %w", err))
			return
		}

		var evt elevenLabsEvent
		if err := sonic.Unmarshal(data, &evt); err != nil {
			e.logger.Warn("failed to parse conversation event", slog.String("error", err.Error()))
			continue
		}

		switch evt.Type {
		case "conversation_initiation_metadata":
			e.logger.Info("conversation started", slog.String("conversation_id", evt.Metadata.ConversationID))
			for _, f := range []string{evt.Metadata.AgentOutputFormat, evt.Metadata.UserInputFormat} {
				if f != "" && f != elevenLabsPCMFormat {
					e.logger.Warn("agent audio format differs from pcm_16000; voice will be distorted",
						slog.String("format", f))
				}
			}
			h.status(StatusConnected)
		case "agent_response":
			h.transcript(evt.AgentResponse.Text, true)
		case "audio":
			setSpeaking(true)
			audio, err := base64.StdEncoding.DecodeString(evt.Audio.Base64)
			if err != nil {
				e.logger.Warn("failed to decode audio chunk", slog.String("error", err.Error()))
				continue
			}
			h.audio(audio)
		case "interruption", "user_transcript":
			setSpeaking(false)
		case "ping":
			if err := e.write(conn, map[string]any{"type": "pong", "event_id": evt.Ping.EventID}); err != nil {
				e.logger.Warn("failed to answer ping", slog.String("error", err.Error()))
			}
		case "error":
			h.err(&APIError{Code: evt.Error.Code, Message: evt.Error.Message})
		}
	}
}

const elevenLabsPCMFormat = "pcm_16000"

// AudioFormat reports 16kHz PCM16, the agent default for user_audio_chunk
// and agent audio.
func (e *ElevenLabs) AudioFormat() AudioFormat {
	return PCM16k
}

var _ Transport = (*ElevenLabs)(nil)

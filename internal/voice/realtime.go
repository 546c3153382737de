package voice

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
)

// OpenAI Realtime defaults.
const (
	DefaultOpenAIModel     = "gpt-4o-realtime-preview-2024-12-17"
	DefaultOpenAIVoice     = "alloy"
	DefaultOpenAIWebSocket = "wss://api.openai.com/v1/realtime"
)

const (
	defaultOpenAIWebRTC = "https://api.openai.com/v1/realtime"
	defaultHandshake    = 15 * time.Second
)

// OpenAIOptions configure both OpenAI Realtime transports.
type OpenAIOptions struct {
	APIKey string
	Model  string
	Voice  string

	// URL overrides the realtime endpoint: a ws(s) URL for the websocket
	// transport, an http(s) URL for the WebRTC SDP exchange.
	URL string

	// ICEServers are STUN/TURN URLs for the WebRTC transport.
	ICEServers []string

	HTTPClient       *http.Client
	HandshakeTimeout time.Duration
}

func (o OpenAIOptions) withDefaults(endpoint string) OpenAIOptions {
	if o.Model == "" {
		o.Model = DefaultOpenAIModel
	}
	if o.Voice == "" {
		o.Voice = DefaultOpenAIVoice
	}
	if o.URL == "" {
		o.URL = endpoint
	}
	if o.HandshakeTimeout == 0 {
		o.HandshakeTimeout = defaultHandshake
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return o
}

type realtimeEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// realtimeDispatcher turns OpenAI Realtime server events into handler calls.
// It is driven by a single reader and keeps no locks.
type realtimeDispatcher struct {
	logger   *slog.Logger
	handlers Handlers
	speaking bool
}

func newRealtimeDispatcher(logger *slog.Logger, handlers Handlers) *realtimeDispatcher {
	return &realtimeDispatcher{logger: logger, handlers: handlers}
}

func (d *realtimeDispatcher) handle(data []byte) {
	var evt realtimeEvent
	if err := sonic.Unmarshal(data, &evt); err != nil {
		d.logger.Warn("failed to parse realtime event", slog.String("error", err.Error()))
		return
	}

	switch evt.Type {
	case "session.created":
		d.handlers.status(StatusConnected)

	case "response.audio_transcript.delta", "response.text.delta",
		"response.output_audio_transcript.delta", "response.output_text.delta":
		if evt.Delta != "" {
			d.handlers.transcript(evt.Delta, false)
		}

	case "response.audio_transcript.done", "response.text.done",
		"response.output_audio_transcript.done", "response.output_text.done":
		d.handlers.transcript("", true)

	case "response.audio.delta", "response.output_audio.delta":
		d.setSpeaking(true)
		audio, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil {
			d.logger.Warn("failed to decode audio delta", slog.String("error", err.Error()))
			return
		}
		d.handlers.audio(audio)

	case "output_audio_buffer.started":
		d.setSpeaking(true)

	case "response.done", "output_audio_buffer.stopped", "input_audio_buffer.speech_started":
		d.setSpeaking(false)

	case "error":
		apiErr := &APIError{Message: "unknown realtime error"}
		if evt.Error != nil {
			apiErr.Code = evt.Error.Code
			apiErr.Message = evt.Error.Message
		}
		d.handlers.err(apiErr)
	}
}

func (d *realtimeDispatcher) setSpeaking(speaking bool) {
	if d.speaking == speaking {
		return
	}
	d.speaking = speaking
	if speaking {
		d.handlers.mode(ModeSpeaking)
	} else {
		d.handlers.mode(ModeListening)
	}
}

// SessionUpdate builds the session.update event that sets the persona,
// voice and server VAD. PCM formats only apply when audio travels inside
// events rather than over RTP.
func SessionUpdate(instructions, voice string, pcm bool) map[string]any {
	session := map[string]any{
		"modalities":   []string{"text", "audio"},
		"instructions": instructions,
		"voice":        voice,
		"input_audio_transcription": map[string]any{
			"model": "whisper-1",
		},
		"turn_detection": map[string]any{
			"type":                "server_vad",
			"threshold":           0.5,
			"prefix_padding_ms":   300,
			"silence_duration_ms": 1000,
		},
	}
	if pcm {
		session["input_audio_format"] = "pcm16"
		session["output_audio_format"] = "pcm16"
	}
	return map[string]any{
		"type":    "session.update",
		"session": session,
	}
}

func userTextItem(text string) map[string]any {
	return map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	}
}

var responseCreate = map[string]any{"type": "response.create"}

// Package voice provides the realtime voice channel used once a call is picked up.
//
// A Transport is one live connection to a conversational agent. Three variants
// exist: the OpenAI Realtime API over a websocket, the OpenAI Realtime API over
// WebRTC, and an ElevenLabs Conversational AI agent. The variant is chosen when
// the call session is constructed; callers only see the Transport interface.
package voice

import (
	"context"
	"fmt"
	"log/slog"
)

// Status is the connection state reported through Handlers.OnStatus.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnected
)

func (s Status) String() string {
	if s == StatusConnected {
		return "connected"
	}
	return "disconnected"
}

// Mode tells whether the agent is currently talking or waiting for the caller.
type Mode string

const (
	ModeSpeaking  Mode = "speaking"
	ModeListening Mode = "listening"
)

// Handlers receive transport events. Any field may be nil.
// Handlers are invoked from the transport's reader goroutine.
type Handlers struct {
	OnStatus     func(Status)
	OnMode       func(Mode)
	OnTranscript func(delta string, final bool)
	OnAudio      func(audio []byte)
	OnError      func(err error)
}

func (h Handlers) status(s Status) {
	if h.OnStatus != nil {
		h.OnStatus(s)
	}
}

func (h Handlers) mode(m Mode) {
	if h.OnMode != nil {
		h.OnMode(m)
	}
}

func (h Handlers) transcript(delta string, final bool) {
	if h.OnTranscript != nil {
		h.OnTranscript(delta, final)
	}
}

func (h Handlers) audio(audio []byte) {
	if h.OnAudio != nil {
		h.OnAudio(audio)
	}
}

func (h Handlers) err(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

// Config configures one connection.
type Config struct {
	// SystemPrompt seeds the agent persona.
	SystemPrompt string

	// Voice overrides the transport's default voice when set.
	Voice string

	Handlers Handlers
}

// Transport is a realtime voice connection to an agent.
type Transport interface {
	// Connect dials the agent. Handlers.OnStatus(StatusConnected) fires once
	// the agent is ready to converse, which may be after Connect returns.
	Connect(ctx context.Context, cfg Config) error

	// Disconnect releases the connection. It is safe to call more than once
	// and does not invoke handlers.
	Disconnect() error

	// SendText sends a typed user message and asks the agent to respond.
	SendText(text string) error

	// SendAudio streams caller audio in AudioFormat.
	SendAudio(audio []byte) error

	// AudioFormat is the PCM format of SendAudio input and OnAudio output.
	AudioFormat() AudioFormat
}

// Kind selects a Transport variant.
type Kind string

const (
	KindOpenAIWebSocket Kind = "openai-ws"
	KindOpenAIWebRTC    Kind = "openai-webrtc"
	KindElevenLabs      Kind = "elevenlabs"
	KindMock            Kind = "mock"
)

// ParseKind validates a configured transport name.
func ParseKind(v string) (Kind, error) {
	switch Kind(v) {
	case KindOpenAIWebSocket, KindOpenAIWebRTC, KindElevenLabs, KindMock:
		return Kind(v), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTransport, v)
}

// Factory builds a fresh Transport of the configured kind for every call session.
type Factory struct {
	Kind   Kind
	Logger *slog.Logger

	OpenAI     OpenAIOptions
	ElevenLabs ElevenLabsOptions
}

// New constructs an unconnected Transport.
func (f Factory) New() (Transport, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch f.Kind {
	case KindOpenAIWebSocket:
		t, err := NewOpenAIWebSocket(logger, f.OpenAI)
		if err != nil {
			return nil, err
		}
		return t, nil
	case KindOpenAIWebRTC:
		t, err := NewOpenAIWebRTC(logger, f.OpenAI)
		if err != nil {
			return nil, err
		}
		return t, nil
	case KindElevenLabs:
		t, err := NewElevenLabs(logger, f.ElevenLabs)
		if err != nil {
			return nil, err
		}
		return t, nil
	case KindMock:
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, f.Kind)
	}
}

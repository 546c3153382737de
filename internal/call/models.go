// Package call drives a booth's phone: ringing, pickup, the live voice
// conversation and the teardown that ends it.
package call

import (
	"context"
	"errors"

	"timebooth/internal/voice"
)

// ErrNotConnected is returned when a message is sent outside a live call.
var ErrNotConnected = errors.New("call: not connected")

// ErrNoAudioDevice is returned by the detached media endpoint.
var ErrNoAudioDevice = errors.New("call: no audio device attached")

// State of a phone.
type State string

const (
	StateIdle       State = "idle"
	StateRinging    State = "ringing"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateEnded      State = "ended"
	StateError      State = "error"
)

// Active reports whether the phone holds a session that is not yet torn down.
func (s State) Active() bool {
	return s == StateRinging || s == StateConnecting || s == StateConnected
}

// Role identifies who spoke a transcript line.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Line is one utterance in the running transcript.
type Line struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Snapshot is a point-in-time view of a phone.
type Snapshot struct {
	State      State  `json:"state"`
	SessionID  string `json:"session_id,omitempty"`
	Transcript []Line `json:"transcript"`
	Speaking   bool   `json:"speaking"`
	Listening  bool   `json:"listening"`
	Error      string `json:"error,omitempty"`

	// AudioFormat is set once the call's transport exists.
	AudioFormat *voice.AudioFormat `json:"audio_format,omitempty"`
}

// EventType names a phone event.
type EventType string

const (
	EventState      EventType = "state"
	EventTranscript EventType = "transcript"
	EventMode       EventType = "mode"
	EventError      EventType = "error"
	EventFormat     EventType = "media.format"
)

// Event is published to the phone's listener.
type Event struct {
	Type      EventType  `json:"type"`
	SessionID string     `json:"session_id,omitempty"`
	State     State      `json:"state,omitempty"`
	Role      Role       `json:"role,omitempty"`
	Delta     string     `json:"delta,omitempty"`
	Final     bool       `json:"final,omitempty"`
	Mode      voice.Mode `json:"mode,omitempty"`
	Error     string     `json:"error,omitempty"`

	Format *voice.AudioFormat `json:"format,omitempty"`
}

// Listener receives phone events. It is called with the phone locked and
// must neither block nor call back into the phone.
type Listener func(Event)

// Media is the caller's audio endpoint: the speaker that plays the ringback
// and agent audio, and the microphone.
type Media interface {
	PlayRingback(ctx context.Context, url string) error
	StopRingback()
	PlayAudio(audio []byte)
	AcquireMicrophone(ctx context.Context) error
	ReleaseMicrophone()
}

// TransportFactory builds a fresh voice transport per session.
type TransportFactory interface {
	New() (voice.Transport, error)
}

// TransportFactoryFunc adapts a function to TransportFactory.
type TransportFactoryFunc func() (voice.Transport, error)

func (f TransportFactoryFunc) New() (voice.Transport, error) { return f() }

type detachedMedia struct{}

func (detachedMedia) PlayRingback(context.Context, string) error { return ErrNoAudioDevice }
func (detachedMedia) StopRingback()                              {}
func (detachedMedia) PlayAudio([]byte)                           {}
func (detachedMedia) AcquireMicrophone(context.Context) error    { return ErrNoAudioDevice }
func (detachedMedia) ReleaseMicrophone()                         {}

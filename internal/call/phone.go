package call

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"timebooth/internal/booth"
	"timebooth/internal/voice"
)

const (
	defaultPickupMin      = time.Second
	defaultPickupMax      = 5 * time.Second
	defaultConnectTimeout = 30 * time.Second
)

// Options tune a phone.
type Options struct {
	PickupDelayMin time.Duration
	PickupDelayMax time.Duration

	// ConnectTimeout bounds the automatic pickup: microphone grant plus
	// transport connect.
	ConnectTimeout time.Duration

	// Voice overrides the transport's default voice.
	Voice string

	// Delay replaces the random pickup delay when set.
	Delay func() time.Duration
}

func (o Options) withDefaults() Options {
	if o.PickupDelayMin <= 0 {
		o.PickupDelayMin = defaultPickupMin
	}
	if o.PickupDelayMax < o.PickupDelayMin {
		o.PickupDelayMax = max(defaultPickupMax, o.PickupDelayMin)
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.Delay == nil {
		lo, hi := o.PickupDelayMin, o.PickupDelayMax
		o.Delay = func() time.Duration {
			if hi == lo {
				return lo
			}
			return lo + rand.N(hi-lo+1)
		}
	}
	return o
}

// Phone is the call state machine of one booth.
type Phone struct {
	logger     *slog.Logger
	transports TransportFactory
	opts       Options

	mu         sync.Mutex
	state      State
	session    *Session
	media      Media
	listener   Listener
	transcript []Line
	agentOpen  bool
	speaking   bool
	listening  bool
	format     *voice.AudioFormat
	lastErr    string
}

// NewPhone returns an idle phone with no media attached.
func NewPhone(logger *slog.Logger, transports TransportFactory, opts Options) *Phone {
	return &Phone{
		logger:     logger.With("component", "call.phone"),
		transports: transports,
		opts:       opts.withDefaults(),
		state:      StateIdle,
		media:      detachedMedia{},
	}
}

// Attach connects the caller's audio endpoint and event listener.
// Sessions started earlier keep the media they were dialed with.
func (p *Phone) Attach(media Media, listener Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.media = media
	p.listener = listener
}

// Detach removes media if it is still attached and hangs up, since the
// caller is gone.
func (p *Phone) Detach(media Media) {
	p.mu.Lock()
	if p.media != media {
		p.mu.Unlock()
		return
	}
	p.media = detachedMedia{}
	p.listener = nil
	p.mu.Unlock()

	p.Hangup()
}

// Dial starts ringing with the prepared artifacts. It does nothing while a
// call is already ringing, connecting or connected.
func (p *Phone) Dial(ctx context.Context, setup booth.Setup) error {
	p.mu.Lock()
	if p.state.Active() {
		p.mu.Unlock()
		p.logger.Debug("dial ignored", slog.String("state", string(p.state)))
		return nil
	}

	previous := p.session
	sess := newSession(p.logger, p.media, setup)
	p.session = sess
	p.resetLocked()
	p.lastErr = ""
	p.setStateLocked(StateRinging)
	delay := p.opts.Delay()
	p.mu.Unlock()

	if previous != nil {
		previous.Close()
	}

	sess.logger.Info("ringing",
		slog.Int("year", setup.Scene.Year),
		slog.String("location", setup.Scene.Location),
		slog.Duration("pickup_in", delay),
	)

	if url := setup.Ringback.AudioURL; url != "" {
		if err := sess.media.PlayRingback(ctx, url); err != nil {
			sess.logger.Warn("play ringback failed", slog.String("error", err.Error()))
		}
	}

	sess.arm(delay, func() {
		pickupCtx, cancel := context.WithTimeout(sess.ctx, p.opts.ConnectTimeout)
		defer cancel()
		_ = p.pickup(pickupCtx, sess)
	})
	return nil
}

// Pickup answers a ringing phone immediately. It does nothing in any other state.
func (p *Phone) Pickup(ctx context.Context) error {
	p.mu.Lock()
	sess := p.session
	p.mu.Unlock()
	if sess == nil {
		return nil
	}
	ctx, cancel := sess.bind(ctx)
	defer cancel()
	return p.pickup(ctx, sess)
}

func (p *Phone) pickup(ctx context.Context, sess *Session) error {
	p.mu.Lock()
	if p.session != sess || p.state != StateRinging {
		p.mu.Unlock()
		return nil
	}
	p.setStateLocked(StateConnecting)
	p.mu.Unlock()

	sess.disarm()
	sess.media.StopRingback()

	if err := sess.media.AcquireMicrophone(ctx); err != nil {
		err = fmt.Errorf("acquire microphone: %w", err)
		p.terminate(sess, StateError, err)
		return err
	}
	if !sess.holdMicrophone() {
		sess.media.ReleaseMicrophone()
		return nil
	}

	transport, err := p.transports.New()
	if err != nil {
		err = fmt.Errorf("create transport: %w", err)
		p.terminate(sess, StateError, err)
		return err
	}
	if !sess.attachTransport(transport) {
		return nil
	}

	format := transport.AudioFormat()
	p.mu.Lock()
	if p.session == sess && p.state == StateConnecting {
		p.format = &format
		p.emitLocked(Event{Type: EventFormat, Format: &format})
	}
	p.mu.Unlock()

	err = transport.Connect(ctx, voice.Config{
		SystemPrompt: sess.Setup.Backstory.CombinedText,
		Voice:        p.opts.Voice,
		Handlers:     p.handlers(sess),
	})
	if err != nil {
		err = fmt.Errorf("connect transport: %w", err)
		p.terminate(sess, StateError, err)
		return err
	}

	// A hangup may have raced the connect; make sure nothing stays open.
	if sess.isClosed() {
		_ = transport.Disconnect()
	}
	return nil
}

// SendText sends a typed message to the agent.
func (p *Phone) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: message is empty", booth.ErrInvalidInput)
	}

	p.mu.Lock()
	if p.state != StateConnected {
		p.mu.Unlock()
		return ErrNotConnected
	}
	sess := p.session
	p.transcript = append(p.transcript, Line{Role: RoleUser, Text: text})
	p.agentOpen = false
	p.emitLocked(Event{Type: EventTranscript, Role: RoleUser, Delta: text, Final: true})
	p.mu.Unlock()

	transport := sess.currentTransport()
	if transport == nil {
		return ErrNotConnected
	}
	if err := transport.SendText(text); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

// SendAudio forwards microphone audio; it is dropped unless connected.
func (p *Phone) SendAudio(audio []byte) {
	p.mu.Lock()
	sess := p.session
	live := p.state == StateConnected
	p.mu.Unlock()
	if !live {
		return
	}
	if transport := sess.currentTransport(); transport != nil {
		if err := transport.SendAudio(audio); err != nil {
			p.logger.Debug("send audio failed", slog.String("error", err.Error()))
		}
	}
}

// Hangup ends the current call. Calling it again is a no-op.
func (p *Phone) Hangup() {
	p.mu.Lock()
	sess := p.session
	p.mu.Unlock()
	if sess == nil {
		return
	}
	p.terminate(sess, StateEnded, nil)
}

// Snapshot returns the current state and transcript.
func (p *Phone) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := Snapshot{
		State:      p.state,
		Transcript: append([]Line{}, p.transcript...),
		Speaking:   p.speaking,
		Listening:  p.listening,
		Error:      p.lastErr,
	}
	if p.format != nil {
		format := *p.format
		snap.AudioFormat = &format
	}
	if p.session != nil {
		snap.SessionID = p.session.ID.String()
	}
	return snap
}

// terminate moves the live session to a terminal state and tears it down.
func (p *Phone) terminate(sess *Session, next State, cause error) {
	p.mu.Lock()
	if p.session != sess || !p.state.Active() {
		p.mu.Unlock()
		sess.Close()
		return
	}
	if cause != nil {
		p.lastErr = cause.Error()
		p.emitLocked(Event{Type: EventError, Error: cause.Error()})
	}
	p.resetLocked()
	p.setStateLocked(next)
	p.mu.Unlock()

	if cause != nil {
		sess.logger.Error("call failed", slog.String("error", cause.Error()))
	} else {
		sess.logger.Info("call ended")
	}
	sess.Close()
}

func (p *Phone) handlers(sess *Session) voice.Handlers {
	return voice.Handlers{
		OnStatus: func(status voice.Status) {
			if status == voice.StatusDisconnected {
				p.terminate(sess, StateEnded, nil)
				return
			}
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.session != sess || p.state != StateConnecting {
				return
			}
			p.listening = true
			p.setStateLocked(StateConnected)
			p.emitLocked(Event{Type: EventMode, Mode: voice.ModeListening})
			sess.logger.Info("connected")
		},
		OnMode: func(mode voice.Mode) {
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.session != sess || p.state != StateConnected {
				return
			}
			p.speaking = mode == voice.ModeSpeaking
			p.listening = !p.speaking
			p.emitLocked(Event{Type: EventMode, Mode: mode})
		},
		OnTranscript: func(delta string, final bool) {
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.session != sess || p.state != StateConnected {
				return
			}
			p.appendAgentLocked(delta, final)
			p.emitLocked(Event{Type: EventTranscript, Role: RoleAgent, Delta: delta, Final: final})
		},
		OnAudio: func(audio []byte) {
			p.mu.Lock()
			live := p.session == sess && p.state == StateConnected
			p.mu.Unlock()
			if live {
				sess.media.PlayAudio(audio)
			}
		},
		OnError: func(err error) {
			p.terminate(sess, StateError, fmt.Errorf("voice session: %w", err))
		},
	}
}

// appendAgentLocked grows the open agent line, or starts one.
func (p *Phone) appendAgentLocked(delta string, final bool) {
	if delta != "" {
		if p.agentOpen && len(p.transcript) > 0 {
			p.transcript[len(p.transcript)-1].Text += delta
		} else {
			p.transcript = append(p.transcript, Line{Role: RoleAgent, Text: delta})
			p.agentOpen = true
		}
	}
	if final {
		p.agentOpen = false
	}
}

func (p *Phone) resetLocked() {
	p.transcript = nil
	p.agentOpen = false
	p.speaking = false
	p.listening = false
	p.format = nil
}

func (p *Phone) setStateLocked(next State) {
	if p.state == next {
		return
	}
	p.logger.Debug("state change", slog.String("from", string(p.state)), slog.String("to", string(next)))
	p.state = next
	p.emitLocked(Event{Type: EventState, State: next})
}

func (p *Phone) emitLocked(evt Event) {
	if p.listener == nil {
		return
	}
	if p.session != nil {
		evt.SessionID = p.session.ID.String()
	}
	p.listener(evt)
}

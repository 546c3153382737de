package call

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"timebooth/internal/booth"
	"timebooth/internal/voice"
)

// Session owns the resources of one call attempt: the pickup timer, the
// ringback, the microphone and the voice transport. Close releases all of
// them exactly once, whatever state the call reached.
type Session struct {
	ID    uuid.UUID
	Setup booth.Setup

	logger *slog.Logger
	media  Media

	// ctx is cancelled by Close so pending pickup work is abandoned.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	timer     *time.Timer
	transport voice.Transport
	micHeld   bool
	closed    bool
	closeOnce sync.Once
}

func newSession(logger *slog.Logger, media Media, setup booth.Setup) *Session {
	id := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:     id,
		Setup:  setup,
		logger: logger.With(slog.String("session_id", id.String())),
		media:  media,
		ctx:    ctx,
		cancel: cancel,
	}
}

// bind derives a context from parent that is also cancelled when the
// session closes.
func (s *Session) bind(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// arm schedules fn after delay unless the session is already closed.
func (s *Session) arm(delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.timer = time.AfterFunc(delay, fn)
}

func (s *Session) disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// holdMicrophone records microphone ownership. It reports false when the
// session closed meanwhile; the caller then still owns the microphone.
func (s *Session) holdMicrophone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.micHeld = true
	return true
}

func (s *Session) attachTransport(t voice.Transport) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.transport = t
	return true
}

func (s *Session) currentTransport() voice.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.transport
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops ringback, disconnects the transport and releases the microphone.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		s.closed = true
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		transport := s.transport
		micHeld := s.micHeld
		s.transport = nil
		s.micHeld = false
		s.mu.Unlock()

		s.media.StopRingback()
		if transport != nil {
			if err := transport.Disconnect(); err != nil {
				s.logger.Warn("disconnect transport failed", slog.String("error", err.Error()))
			}
		}
		if micHeld {
			s.media.ReleaseMicrophone()
		}
		s.logger.Debug("session closed")
	})
}

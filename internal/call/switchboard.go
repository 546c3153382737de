package call

import (
	"log/slog"
	"sync"
)

// Switchboard hands out one phone per booth, creating it on first use.
type Switchboard struct {
	logger     *slog.Logger
	transports TransportFactory
	opts       Options

	mu     sync.Mutex
	phones map[string]*Phone
}

func NewSwitchboard(logger *slog.Logger, transports TransportFactory, opts Options) *Switchboard {
	return &Switchboard{
		logger:     logger,
		transports: transports,
		opts:       opts,
		phones:     make(map[string]*Phone),
	}
}

// Phone returns the booth's phone.
func (s *Switchboard) Phone(booth string) *Phone {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.phones[booth]
	if !ok {
		p = NewPhone(s.logger.With(slog.String("booth", booth)), s.transports, s.opts)
		s.phones[booth] = p
	}
	return p
}

// Lookup returns the booth's phone if one was created.
func (s *Switchboard) Lookup(booth string) (*Phone, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.phones[booth]
	return p, ok
}

// HangupAll ends every call, for shutdown.
func (s *Switchboard) HangupAll() {
	s.mu.Lock()
	phones := make([]*Phone, 0, len(s.phones))
	for _, p := range s.phones {
		phones = append(phones, p)
	}
	s.mu.Unlock()

	for _, p := range phones {
		p.Hangup()
	}
}

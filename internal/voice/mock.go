package voice

import (
	"context"
	"sync"
)

// Mock is an in-process Transport for local development and tests.
// With AutoConnect it reports connected right after Connect; with Echo it
// answers every text message. Events are delivered in order from one goroutine.
type Mock struct {
	AutoConnect bool
	Echo        bool

	// ConnectErr, when set, is returned by Connect.
	ConnectErr error

	// Format is reported by AudioFormat; the zero value means PCM24k.
	Format AudioFormat

	mu          sync.Mutex
	cfg         Config
	events      chan func()
	done        chan struct{}
	connected   bool
	connects    int
	disconnects int
	texts       []string
	audio       [][]byte
}

// NewMock returns a mock that connects immediately and echoes text.
func NewMock() *Mock {
	return &Mock{AutoConnect: true, Echo: true}
}

func (m *Mock) Connect(_ context.Context, cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	if m.connected {
		return ErrAlreadyConnected
	}
	m.cfg = cfg
	m.connected = true
	m.connects++
	m.events = make(chan func(), 64)
	m.done = make(chan struct{})
	go m.run(m.events, m.done)

	if m.AutoConnect {
		m.events <- func() { cfg.Handlers.status(StatusConnected) }
	}
	return nil
}

func (m *Mock) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil
	}
	m.connected = false
	m.disconnects++
	close(m.done)
	return nil
}

func (m *Mock) SendText(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.texts = append(m.texts, text)
	if m.Echo {
		h := m.cfg.Handlers
		m.events <- func() {
			h.mode(ModeSpeaking)
			h.transcript("You said: ", false)
			h.transcript(text, false)
			h.transcript("", true)
			h.mode(ModeListening)
		}
	}
	return nil
}

func (m *Mock) SendAudio(audio []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.audio = append(m.audio, append([]byte(nil), audio...))
	return nil
}

// Emit queues fn to run against the current handlers as if it came from the agent.
func (m *Mock) Emit(fn func(h Handlers)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return
	}
	h := m.cfg.Handlers
	m.events <- func() { fn(h) }
}

// Config returns the configuration passed to the last Connect.
func (m *Mock) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Texts returns the text messages sent so far.
func (m *Mock) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

// AudioChunks returns how many audio chunks were sent.
func (m *Mock) AudioChunks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.audio)
}

// Connects and Disconnects count lifecycle calls.
func (m *Mock) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

func (m *Mock) Disconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnects
}

func (m *Mock) run(events <-chan func(), done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case fn := <-events:
			select {
			case <-done:
				return
			default:
			}
			fn()
		}
	}
}

func (m *Mock) AudioFormat() AudioFormat {
	if m.Format == (AudioFormat{}) {
		return PCM24k
	}
	return m.Format
}

var _ Transport = (*Mock)(nil)

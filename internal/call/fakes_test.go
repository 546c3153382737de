package call

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"timebooth/internal/booth"
	"timebooth/internal/voice"
)

type fakeMedia struct {
	mu          sync.Mutex
	micErr      error
	ringbacks   []string
	stops       int
	micAcquired int
	micReleased int
	audio       int

	// blockMic makes AcquireMicrophone wait for its context, and
	// micPending rejects a second request meanwhile, like the page bridge.
	blockMic   bool
	micPending bool
}

var errMicPending = errors.New("microphone request already pending")

func (m *fakeMedia) PlayRingback(_ context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ringbacks = append(m.ringbacks, url)
	return nil
}

func (m *fakeMedia) StopRingback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
}

func (m *fakeMedia) PlayAudio([]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audio++
}

func (m *fakeMedia) AcquireMicrophone(ctx context.Context) error {
	m.mu.Lock()
	if m.micPending {
		m.mu.Unlock()
		return errMicPending
	}
	if m.blockMic {
		m.micPending = true
		m.mu.Unlock()
		<-ctx.Done()
		m.mu.Lock()
		m.micPending = false
		m.mu.Unlock()
		return ctx.Err()
	}
	defer m.mu.Unlock()
	if m.micErr != nil {
		return m.micErr
	}
	m.micAcquired++
	return nil
}

func (m *fakeMedia) ReleaseMicrophone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.micReleased++
}

func (m *fakeMedia) setBlockMic(block bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockMic = block
}

func (m *fakeMedia) pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.micPending
}

func (m *fakeMedia) counts() (acquired, released int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.micAcquired, m.micReleased
}

// mockFactory hands out voice mocks and remembers them.
type mockFactory struct {
	mu          sync.Mutex
	autoConnect bool
	echo        bool
	format      voice.AudioFormat
	err         error
	created     []*voice.Mock
}

func (f *mockFactory) New() (voice.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	m := &voice.Mock{AutoConnect: f.autoConnect, Echo: f.echo, Format: f.format}
	f.created = append(f.created, m)
	return m, nil
}

func (f *mockFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *mockFactory) last() *voice.Mock {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) listener(evt Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) states() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []State
	for _, e := range l.events {
		if e.Type == EventState {
			out = append(out, e.State)
		}
	}
	return out
}

func (l *eventLog) formats() []voice.AudioFormat {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []voice.AudioFormat
	for _, e := range l.events {
		if e.Type == EventFormat && e.Format != nil {
			out = append(out, *e.Format)
		}
	}
	return out
}

func (l *eventLog) errors() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		if e.Type == EventError {
			out = append(out, e.Error)
		}
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSetup() booth.Setup {
	return booth.Setup{
		Scene: booth.Scene{ID: uuid.New(), Year: 1970, Location: "Tokyo, Japan", ImageURL: "https://img/tokyo.png"},
		Backstory: booth.Backstory{
			ID:           uuid.New(),
			Year:         1970,
			Location:     "Tokyo, Japan",
			Persona:      booth.PersonaGirlfriend,
			CombinedText: "You are my girlfriend living in Tokyo, Japan in 1970.",
		},
		Ringback: booth.RingbackTone{ID: uuid.New(), YearBucket: 1970, AudioURL: "https://audio/1970.mp3"},
	}
}

type phoneFixture struct {
	phone   *Phone
	media   *fakeMedia
	factory *mockFactory
	events  *eventLog
}

func newPhoneFixture(delay time.Duration) *phoneFixture {
	f := &phoneFixture{
		media:   &fakeMedia{},
		factory: &mockFactory{autoConnect: true, echo: true},
		events:  &eventLog{},
	}
	f.phone = NewPhone(discardLogger(), f.factory, Options{
		Delay: func() time.Duration { return delay },
	})
	f.phone.Attach(f.media, f.events.listener)
	return f
}

func (f *phoneFixture) state() State {
	return f.phone.Snapshot().State
}

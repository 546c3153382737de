package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"timebooth/internal/call"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = pongWait * 9 / 10
	microphoneTimeout = 30 * time.Second
	sendBuffer        = 256
)

var (
	errMicrophoneDenied  = errors.New("microphone permission denied")
	errMicrophonePending = errors.New("microphone request already pending")
	errBridgeClosed      = errors.New("booth page disconnected")
)

type frame struct {
	kind int
	data []byte
}

// bridge is the booth page on the other end of the events websocket. It
// plays the phone's media through the browser and relays microphone audio back.
type bridge struct {
	logger *slog.Logger
	conn   *websocket.Conn
	phone  *call.Phone

	send      chan frame
	done      chan struct{}
	closeOnce sync.Once

	micMu    sync.Mutex
	micReply chan bool
}

func newBridge(logger *slog.Logger, conn *websocket.Conn, phone *call.Phone) *bridge {
	return &bridge{
		logger: logger,
		conn:   conn,
		phone:  phone,
		send:   make(chan frame, sendBuffer),
		done:   make(chan struct{}),
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := boothID(r)
	if id == "" {
		s.clientError(w, "booth id is required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("events upgrade failed", slog.String("booth", id), slog.String("error", err.Error()))
		return
	}

	phone := s.phones.Phone(id)
	b := newBridge(s.logger.With(slog.String("booth", id)), conn, phone)
	phone.Attach(b, b.notify)
	b.sendJSON(map[string]any{"type": "snapshot", "call": phone.Snapshot()})

	go b.writeLoop()
	b.readLoop()

	phone.Detach(b)
	b.close()
}

func (b *bridge) close() {
	b.closeOnce.Do(func() {
		close(b.done)
		_ = b.conn.Close()
	})
}

// notify forwards phone events without blocking the phone.
func (b *bridge) notify(evt call.Event) {
	b.sendJSON(evt)
}

func (b *bridge) sendJSON(v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		b.logger.Error("encode event failed", slog.String("error", err.Error()))
		return
	}
	b.enqueue(frame{kind: websocket.TextMessage, data: data})
}

func (b *bridge) enqueue(f frame) bool {
	select {
	case <-b.done:
		return false
	default:
	}
	select {
	case b.send <- f:
		return true
	case <-b.done:
		return false
	default:
		b.logger.Warn("events buffer full, dropping frame")
		return false
	}
}

func (b *bridge) PlayRingback(_ context.Context, url string) error {
	if !b.enqueueJSON(map[string]string{"type": "ringback.play", "url": url}) {
		return errBridgeClosed
	}
	return nil
}

func (b *bridge) StopRingback() {
	b.enqueueJSON(map[string]string{"type": "ringback.stop"})
}

func (b *bridge) PlayAudio(audio []byte) {
	b.enqueue(frame{kind: websocket.BinaryMessage, data: audio})
}

// AcquireMicrophone asks the page for microphone access and waits for its answer.
func (b *bridge) AcquireMicrophone(ctx context.Context) error {
	reply := make(chan bool, 1)
	b.micMu.Lock()
	if b.micReply != nil {
		b.micMu.Unlock()
		return errMicrophonePending
	}
	b.micReply = reply
	b.micMu.Unlock()

	defer func() {
		b.micMu.Lock()
		b.micReply = nil
		b.micMu.Unlock()
	}()

	if !b.enqueueJSON(map[string]string{"type": "microphone.request"}) {
		return errBridgeClosed
	}

	timer := time.NewTimer(microphoneTimeout)
	defer timer.Stop()

	select {
	case granted := <-reply:
		if !granted {
			return errMicrophoneDenied
		}
		return nil
	case <-timer.C:
		return errors.New("microphone request timed out")
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return errBridgeClosed
	}
}

func (b *bridge) ReleaseMicrophone() {
	b.enqueueJSON(map[string]string{"type": "microphone.release"})
}

func (b *bridge) enqueueJSON(v map[string]string) bool {
	data, err := sonic.Marshal(v)
	if err != nil {
		return false
	}
	return b.enqueue(frame{kind: websocket.TextMessage, data: data})
}

func (b *bridge) answerMicrophone(granted bool) {
	b.micMu.Lock()
	defer b.micMu.Unlock()
	if b.micReply == nil {
		return
	}
	select {
	case b.micReply <- granted:
	default:
	}
}

type clientMessage struct {
	Type string `json:"type"`
}

func (b *bridge) readLoop() {
	b.conn.SetReadLimit(1 << 20)
	_ = b.conn.SetReadDeadline(time.Now().Add(pongWait))
	b.conn.SetPongHandler(func(string) error {
		return b.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := b.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Warn("events connection lost", slog.String("error", err.Error()))
			}
			return
		}

		if kind == websocket.BinaryMessage {
			b.phone.SendAudio(data)
			continue
		}

		var msg clientMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			b.logger.Debug("ignoring malformed client message", slog.String("error", err.Error()))
			continue
		}
		switch msg.Type {
		case "microphone.granted":
			b.answerMicrophone(true)
		case "microphone.denied":
			b.answerMicrophone(false)
		}
	}
}

func (b *bridge) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case f := <-b.send:
			_ = b.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := b.conn.WriteMessage(f.kind, f.data); err != nil {
				b.logger.Debug("events write failed", slog.String("error", err.Error()))
				b.close()
				return
			}
		case <-ticker.C:
			_ = b.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := b.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				b.close()
				return
			}
		}
	}
}

var _ call.Media = (*bridge)(nil)

package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

const opusFrame = 20 * time.Millisecond

var defaultICEServers = []string{"stun:stun.l.google.com:19302"}

// OpenAIWebRTC talks to the OpenAI Realtime API over a peer connection.
// Events travel on the "oai-events" data channel; audio travels as Opus RTP
// and is converted from and to 48kHz PCM16 at the transport boundary.
type OpenAIWebRTC struct {
	logger *slog.Logger
	opts   OpenAIOptions

	mu     sync.Mutex
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	track  *webrtc.TrackLocalStaticSample
	codec  *opusBridge
	closed bool
}

// NewOpenAIWebRTC creates an unconnected WebRTC transport.
func NewOpenAIWebRTC(logger *slog.Logger, opts OpenAIOptions) (*OpenAIWebRTC, error) {
	if opts.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	opts = opts.withDefaults(defaultOpenAIWebRTC)
	if opts.ICEServers == nil {
		opts.ICEServers = defaultICEServers
	}
	return &OpenAIWebRTC{
		logger: logger.With("component", "voice.openai_webrtc"),
		opts:   opts,
	}, nil
}

// Connect negotiates the peer connection through an SDP exchange.
func (o *OpenAIWebRTC) Connect(ctx context.Context, cfg Config) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pc != nil {
		return ErrAlreadyConnected
	}

	codec, err := newOpusBridge()
	if err != nil {
		return err
	}

	config := webrtc.Configuration{}
	if len(o.opts.ICEServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: o.opts.ICEServers}}
	}
	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	fail := func(format string, err error) error {
		_ = pc.Close()
		return fmt.Errorf(format, err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "timebooth",
	)
	if err != nil {
		return fail("create audio track: %w", err)
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		return fail("add audio track: %w", err)
	}
	go drainRTCP(sender)

	h := cfg.Handlers
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		o.logger.Info("remote audio track", slog.String("codec", remote.Codec().MimeType))
		go o.readAudio(remote, codec, h)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		o.logger.Debug("peer connection state", slog.String("state", state.String()))
		if o.isClosed() {
			return
		}
		switch state {
		case webrtc.PeerConnectionStateFailed:
			h.err(errors.New("voice: peer connection failed"))
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
			h.status(StatusDisconnected)
		}
	})

	dc, err := pc.CreateDataChannel("oai-events", nil)
	if err != nil {
		return fail("create data channel: %w", err)
	}

	voice := cfg.Voice
	if voice == "" {
		voice = o.opts.Voice
	}
	dispatcher := newRealtimeDispatcher(o.logger, h)
	dc.OnOpen(func() {
		if err := sendEvent(dc, SessionUpdate(cfg.SystemPrompt, voice, false)); err != nil {
			h.err(fmt.Errorf("configure session: %w", err))
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		dispatcher.handle(msg.Data)
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fail("create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fail("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return fail("gather candidates: %w", ctx.Err())
	}

	answer, err := o.exchangeSDP(ctx, pc.LocalDescription().SDP)
	if err != nil {
		return fail("exchange sdp: %w", err)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return fail("set remote description: %w", err)
	}

	o.pc, o.dc, o.track, o.codec = pc, dc, track, codec
	o.closed = false
	o.logger.Info("negotiated OpenAI Realtime peer connection", slog.String("model", o.opts.Model))
	return nil
}

// Disconnect closes the peer connection.
func (o *OpenAIWebRTC) Disconnect() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.pc == nil {
		return nil
	}
	o.closed = true
	return o.pc.Close()
}

// SendText adds a user message over the data channel and requests a response.
func (o *OpenAIWebRTC) SendText(text string) error {
	dc, err := o.channel()
	if err != nil {
		return err
	}
	if err := sendEvent(dc, userTextItem(text)); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	if err := sendEvent(dc, responseCreate); err != nil {
		return fmt.Errorf("request response: %w", err)
	}
	return nil
}

// SendAudio encodes 48kHz PCM16 to Opus and writes every complete 20ms
// frame to the outgoing track.
func (o *OpenAIWebRTC) SendAudio(audio []byte) error {
	o.mu.Lock()
	track, codec := o.track, o.codec
	closed := o.closed
	o.mu.Unlock()
	if track == nil || closed {
		return ErrNotConnected
	}
	frames, err := codec.encode(audio)
	for _, frame := range frames {
		if werr := track.WriteSample(media.Sample{Data: frame, Duration: opusFrame}); werr != nil {
			return fmt.Errorf("write audio sample: %w", werr)
		}
	}
	return err
}

// AudioFormat reports 48kHz PCM16.
func (o *OpenAIWebRTC) AudioFormat() AudioFormat {
	return PCM48k
}

func (o *OpenAIWebRTC) channel() (*webrtc.DataChannel, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dc == nil || o.closed || o.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return nil, ErrNotConnected
	}
	return o.dc, nil
}

func (o *OpenAIWebRTC) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// exchangeSDP posts the local offer and returns the answer SDP.
func (o *OpenAIWebRTC) exchangeSDP(ctx context.Context, offer string) (string, error) {
	endpoint, err := url.Parse(o.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	q := endpoint.Query()
	q.Set("model", o.opts.Model)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewBufferString(offer))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.opts.APIKey)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := o.opts.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read answer: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{Code: fmt.Sprint(resp.StatusCode), Message: string(body)}
	}
	if len(body) == 0 {
		return "", errors.New("empty sdp answer")
	}
	return string(body), nil
}

func (o *OpenAIWebRTC) readAudio(remote *webrtc.TrackRemote, codec *opusBridge, h Handlers) {
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			if err != io.EOF && !o.isClosed() {
				o.logger.Debug("remote audio ended", slog.String("error", err.Error()))
			}
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		pcm, err := codec.decode(pkt.Payload)
		if err != nil {
			o.logger.Debug("dropping audio packet", slog.String("error", err.Error()))
			continue
		}
		h.audio(pcm)
	}
}

func sendEvent(dc *webrtc.DataChannel, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return dc.SendText(string(data))
}

// drainRTCP keeps interceptors running for the outgoing track.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

var _ Transport = (*OpenAIWebRTC)(nil)

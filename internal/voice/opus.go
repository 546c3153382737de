package voice

import (
	"fmt"
	"sync"

	"gopkg.in/hraban/opus.v2"
)

const (
	opusRate = 48000
	// 20ms of mono audio at 48kHz.
	opusFrameSamples = opusRate / 50
	// Large enough for 120ms, the longest Opus packet.
	opusMaxSamples = opusRate * 120 / 1000
)

// opusBridge converts between the PCM16 the booth page speaks and the Opus
// frames carried on the peer connection.
type opusBridge struct {
	encMu   sync.Mutex
	enc     *opus.Encoder
	pending []byte
	packet  []byte

	decMu sync.Mutex
	dec   *opus.Decoder
	pcm   []int16
}

func newOpusBridge() (*opusBridge, error) {
	enc, err := opus.NewEncoder(opusRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	dec, err := opus.NewDecoder(opusRate, 1)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return &opusBridge{
		enc:    enc,
		dec:    dec,
		packet: make([]byte, 4000),
		pcm:    make([]int16, opusMaxSamples),
	}, nil
}

// encode buffers pcm and returns every complete 20ms frame as an Opus packet.
// A trailing partial frame waits for the next call.
func (b *opusBridge) encode(pcm []byte) ([][]byte, error) {
	b.encMu.Lock()
	defer b.encMu.Unlock()

	b.pending = append(b.pending, pcm...)
	const frameBytes = 2 * opusFrameSamples

	var frames [][]byte
	for len(b.pending) >= frameBytes {
		n, err := b.enc.Encode(bytesToSamples(b.pending[:frameBytes]), b.packet)
		if err != nil {
			return frames, fmt.Errorf("encode opus frame: %w", err)
		}
		frames = append(frames, append([]byte(nil), b.packet[:n]...))
		b.pending = b.pending[frameBytes:]
	}
	// Compact so the backing array does not grow without bound.
	b.pending = append([]byte(nil), b.pending...)
	return frames, nil
}

// decode turns one Opus packet into PCM16.
func (b *opusBridge) decode(packet []byte) ([]byte, error) {
	b.decMu.Lock()
	defer b.decMu.Unlock()

	n, err := b.dec.Decode(packet, b.pcm)
	if err != nil {
		return nil, fmt.Errorf("decode opus packet: %w", err)
	}
	return samplesToBytes(b.pcm[:n]), nil
}

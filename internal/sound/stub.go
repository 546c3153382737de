package sound

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"math"
	"sync"
)

const (
	sampleRate   = 8000
	toneSeconds  = 2
	pauseSeconds = 4
)

// StubClient synthesizes the classic North American ringback cadence
// (440 Hz + 480 Hz, two seconds on, four off) for development.
type StubClient struct {
	once sync.Once
	url  string
}

// NewStubClient constructs StubClient.
func NewStubClient() *StubClient {
	return &StubClient{}
}

// GenerateRingback returns the synthesized tone as a WAV data URL regardless of prompt.
func (s *StubClient) GenerateRingback(ctx context.Context, prompt string) (string, error) {
	s.once.Do(func() {
		s.url = "data:audio/wav;base64," + base64.StdEncoding.EncodeToString(ringbackWAV())
	})
	return s.url, nil
}

func ringbackWAV() []byte {
	samples := make([]int16, sampleRate*(toneSeconds+pauseSeconds))
	for i := 0; i < sampleRate*toneSeconds; i++ {
		t := float64(i) / sampleRate
		v := 0.25 * (math.Sin(2*math.Pi*440*t) + math.Sin(2*math.Pi*480*t))
		samples[i] = int16(v * math.MaxInt16)
	}

	dataSize := uint32(len(samples) * 2)
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataSize)
	_ = binary.Write(&buf, binary.LittleEndian, samples)
	return buf.Bytes()
}

package voice

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func tone(samples int) []byte {
	pcm := make([]int16, samples)
	for i := range pcm {
		pcm[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/opusRate))
	}
	return samplesToBytes(pcm)
}

func TestOpusBridgeFramesPCM(t *testing.T) {
	bridge, err := newOpusBridge()
	require.NoError(t, err)

	frames, err := bridge.encode(tone(1500))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Len(t, bridge.pending, 2*(1500-opusFrameSamples))

	frames, err = bridge.encode(tone(420))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Empty(t, bridge.pending)

	pcm, err := bridge.decode(frames[0])
	require.NoError(t, err)
	require.Len(t, pcm, 2*opusFrameSamples)
}

func TestOpusBridgeRejectsGarbage(t *testing.T) {
	bridge, err := newOpusBridge()
	require.NoError(t, err)

	_, err = bridge.decode([]byte{0xff, 0xff, 0xff})
	require.Error(t, err)
}

package voice

import "encoding/binary"

// AudioFormat describes the raw audio a transport accepts in SendAudio and
// delivers through Handlers.OnAudio. Audio is always mono little-endian
// 16-bit PCM; only the sample rate differs between transports.
type AudioFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

const encodingPCM16 = "pcm16"

var (
	// PCM16k is the ElevenLabs Conversational AI default.
	PCM16k = AudioFormat{Encoding: encodingPCM16, SampleRate: 16000}
	// PCM24k is the OpenAI Realtime websocket format.
	PCM24k = AudioFormat{Encoding: encodingPCM16, SampleRate: 24000}
	// PCM48k is what the WebRTC transport encodes to and decodes from Opus.
	PCM48k = AudioFormat{Encoding: encodingPCM16, SampleRate: 48000}
)

func bytesToSamples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

func samplesToBytes(s []int16) []byte {
	out := make([]byte, 2*len(s))
	for i, v := range s {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

// Package audio converts arbitrary media into the 16 kHz mono float32 sample
// stream the speech models consume, shelling out to ffmpeg for decoding.
package audio

import "encoding/binary"

// Audio parameters expected by the inference engines.
const (
	SampleRate = 16000
	Channels   = 1
)

// SamplesFromS16LE converts raw signed 16-bit little-endian PCM into
// normalized float32 samples in [-1, 1).
func SamplesFromS16LE(data []byte) []float32 {
	n := len(data) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(v) / 32768.0
	}
	return samples
}

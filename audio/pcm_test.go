package audio

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func TestSamplesFromS16LE(t *testing.T) {
	raw := make([]byte, 8)
	binary.LittleEndian.PutUint16(raw[0:], uint16(int16(0)))
	binary.LittleEndian.PutUint16(raw[2:], uint16(int16(16384)))
	minS16 := int16(-32768)
	binary.LittleEndian.PutUint16(raw[4:], uint16(minS16))
	binary.LittleEndian.PutUint16(raw[6:], uint16(int16(32767)))

	samples := SamplesFromS16LE(raw)
	if len(samples) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(samples))
	}

	want := []float32{0, 0.5, -1.0, 32767.0 / 32768.0}
	for i, w := range want {
		if math.Abs(float64(samples[i]-w)) > 1e-6 {
			t.Errorf("sample %d = %f, want %f", i, samples[i], w)
		}
	}
}

func TestSamplesFromS16LE_OddTrailingByte(t *testing.T) {
	samples := SamplesFromS16LE([]byte{0x00, 0x40, 0xff})
	if len(samples) != 1 {
		t.Fatalf("expected trailing byte to be dropped, got %d samples", len(samples))
	}
}

func TestSampleDuration(t *testing.T) {
	samples := make([]float32, SampleRate*2) // two seconds at model rate
	if d := SampleDuration(samples); d != 2*time.Second {
		t.Errorf("expected 2s, got %v", d)
	}
	if d := SampleDuration(nil); d != 0 {
		t.Errorf("expected 0 for empty buffer, got %v", d)
	}
}

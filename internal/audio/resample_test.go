package audio

import (
	"math"
	"testing"
)

func TestResampleSameRateIsPassthrough(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	out, err := Resample(in, 16000, 16000, 1)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	if len(out) != len(in) || &out[0] != &in[0] {
		t.Errorf("Expected input slice to be returned unchanged")
	}
}

func TestResampleInvalidArguments(t *testing.T) {
	if _, err := Resample([]float32{0}, 0, 16000, 1); err == nil {
		t.Error("Expected error for zero input rate")
	}
	if _, err := Resample([]float32{0}, 16000, -1, 1); err == nil {
		t.Error("Expected error for negative output rate")
	}
	if _, err := Resample([]float32{0}, 16000, 8000, 0); err == nil {
		t.Error("Expected error for zero channels")
	}
}

func TestResampleDownsample(t *testing.T) {
	in := make([]float32, 48000*2) // one second of stereo at 48kHz
	for i := 0; i < 48000; i++ {
		v := float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/48000))
		in[i*2] = v
		in[i*2+1] = v
	}

	out, err := Resample(in, 48000, 16000, 2)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	if len(out)%2 != 0 {
		t.Errorf("Expected whole stereo frames, got %d samples", len(out))
	}
	if len(out) > len(in) {
		t.Errorf("Downsampled output longer than input: %d > %d", len(out), len(in))
	}
}

package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"
)

func TestEncodeWAV(t *testing.T) {
	// 440Hz sine wave for 0.1 seconds at 16kHz
	sampleRate := 16000
	duration := 0.1
	frequency := 440.0

	numSamples := int(float64(sampleRate) * duration)
	samples := make([]int16, numSamples)

	for i := 0; i < numSamples; i++ {
		t := float64(i) / float64(sampleRate)
		amplitude := 16383.0
		samples[i] = int16(amplitude * math.Sin(2*math.Pi*frequency*t))
	}

	wavData, err := EncodeWAV(samples, sampleRate, 1)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	expectedSize := 44 + len(samples)*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	if err := ValidateWAV(wavData); err != nil {
		t.Errorf("Generated WAV is invalid: %v", err)
	}

	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Fatalf("Failed to get WAV info: %v", err)
	}

	if info.SampleRate != uint32(sampleRate) {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, info.SampleRate)
	}

	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}

	if info.BitsPerSample != 16 {
		t.Errorf("Expected 16 bits per sample, got %d", info.BitsPerSample)
	}

	expectedDuration := float64(numSamples) / float64(sampleRate)
	if math.Abs(info.Duration-expectedDuration) > 0.001 {
		t.Errorf("Expected duration %.3f, got %.3f", expectedDuration, info.Duration)
	}
}

func TestDecodeWAVStereo(t *testing.T) {
	original := []int16{100, -100, -200, 200, 300, -300}
	sampleRate := 22050

	wavData, err := EncodeWAV(original, sampleRate, 2)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decoded, info, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if info.SampleRate != uint32(sampleRate) {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, info.SampleRate)
	}
	if info.Channels != 2 {
		t.Errorf("Expected 2 channels, got %d", info.Channels)
	}
	if info.NumFrames != 3 {
		t.Errorf("Expected 3 frames, got %d", info.NumFrames)
	}

	if len(decoded) != len(original) {
		t.Fatalf("Expected %d samples, got %d", len(original), len(decoded))
	}
	for i := range original {
		if decoded[i] != original[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, original[i], decoded[i])
		}
	}
}

func TestWAVReaderSkipsUnknownChunks(t *testing.T) {
	samples := []int16{1, 2, 3, 4}
	wavData, err := EncodeWAV(samples, 8000, 1)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	// Splice a LIST chunk between fmt and data
	var spliced bytes.Buffer
	spliced.Write(wavData[:36])
	spliced.WriteString("LIST")
	binary.Write(&spliced, binary.LittleEndian, uint32(5))
	spliced.Write([]byte{'I', 'N', 'F', 'O', 'x', 0}) // odd size plus pad byte
	spliced.Write(wavData[36:])

	r, err := NewWAVReader(&spliced)
	if err != nil {
		t.Fatalf("NewWAVReader failed: %v", err)
	}

	dst := make([]int16, 3)
	n, err := r.ReadSamples(dst)
	if err != nil || n != 3 {
		t.Fatalf("Expected 3 samples, got %d (err=%v)", n, err)
	}
	if dst[0] != 1 || dst[2] != 3 {
		t.Errorf("Unexpected samples %v", dst[:n])
	}

	n, err = r.ReadSamples(dst)
	if err != nil || n != 1 || dst[0] != 4 {
		t.Fatalf("Expected final sample 4, got n=%d dst=%v err=%v", n, dst[:n], err)
	}

	if _, err := r.ReadSamples(dst); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF after data chunk, got %v", err)
	}
}

func TestEncodeWAVErrors(t *testing.T) {
	tests := []struct {
		name       string
		samples    []int16
		sampleRate int
		channels   int
	}{
		{"empty samples", []int16{}, 8000, 1},
		{"zero sample rate", []int16{1, 2}, 0, 1},
		{"negative sample rate", []int16{1, 2}, -1000, 1},
		{"zero channels", []int16{1, 2}, 8000, 0},
		{"partial frame", []int16{1, 2, 3}, 8000, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeWAV(tt.samples, tt.sampleRate, tt.channels); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

func TestValidateWAV(t *testing.T) {
	if err := ValidateWAV([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for too short WAV data")
	}

	invalidWAV := make([]byte, 50)
	copy(invalidWAV[0:4], []byte("FAKE"))
	if err := ValidateWAV(invalidWAV); err == nil {
		t.Error("Expected error for invalid RIFF header")
	}

	// 8-bit PCM is rejected
	wavData, _ := EncodeWAV([]int16{1, 2}, 8000, 1)
	binary.LittleEndian.PutUint16(wavData[34:36], 8)
	if err := ValidateWAV(wavData); err == nil {
		t.Error("Expected error for 8-bit audio")
	}
}

func TestSampleConversion(t *testing.T) {
	floats := Int16ToFloat32([]int16{0, 16384, -32768, 32767})
	if floats[0] != 0 || floats[1] != 0.5 || floats[2] != -1 {
		t.Errorf("Unexpected float conversion: %v", floats)
	}

	ints := Float32ToInt16([]float32{0, 0.5, -1, 1.5, -2})
	expected := []int16{0, 16384, -32768, 32767, -32768}
	for i := range expected {
		if ints[i] != expected[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, expected[i], ints[i])
		}
	}
}

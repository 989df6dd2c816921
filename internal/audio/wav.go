package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// WAVHeader represents the canonical 44-byte header written by EncodeWAV
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// WAVInfo describes a PCM-16 WAV stream
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumFrames     uint32  `json:"num_frames"`
}

// EncodeWAV encodes interleaved PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate, channels int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	if channels < 1 {
		return nil, fmt.Errorf("channel count must be at least 1, got %d", channels)
	}

	if len(samples)%channels != 0 {
		return nil, fmt.Errorf("sample count %d is not a multiple of %d channels", len(samples), channels)
	}

	numChannels := uint16(channels)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(samples) * 2)
	fileSize := 36 + dataSize

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     fileSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// EncodeChunkWAV encodes a chunk's float samples as a PCM-16 WAV file
func EncodeChunkWAV(samples []float32, sampleRate, channels int) ([]byte, error) {
	return EncodeWAV(Float32ToInt16(samples), sampleRate, channels)
}

// WAVReader streams interleaved PCM-16 samples out of a RIFF/WAVE stream.
// Chunks other than "fmt " and "data" (LIST, fact, ...) are skipped.
type WAVReader struct {
	r         *bufio.Reader
	info      WAVInfo
	remaining uint32 // bytes left in the data chunk
	scratch   []byte
}

// NewWAVReader parses the stream header up to the start of the data chunk
func NewWAVReader(r io.Reader) (*WAVReader, error) {
	br := bufio.NewReaderSize(r, 64*1024)

	var riff [12]byte
	if _, err := io.ReadFull(br, riff[:]); err != nil {
		return nil, fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" {
		return nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(riff[8:12]) != "WAVE" {
		return nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	wr := &WAVReader{r: br}
	haveFmt := false

	for {
		var hdr [8]byte
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("invalid WAV file: missing data chunk")
			}
			return nil, fmt.Errorf("failed to read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("invalid WAV file: fmt chunk too short (%d bytes)", size)
			}
			body := make([]byte, size+size%2)
			if _, err := io.ReadFull(br, body); err != nil {
				return nil, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			audioFormat := binary.LittleEndian.Uint16(body[0:2])
			wr.info.Channels = binary.LittleEndian.Uint16(body[2:4])
			wr.info.SampleRate = binary.LittleEndian.Uint32(body[4:8])
			wr.info.BitsPerSample = binary.LittleEndian.Uint16(body[14:16])

			// WAVE_FORMAT_EXTENSIBLE carries PCM in its sub-format GUID
			if audioFormat != 1 && audioFormat != 0xFFFE {
				return nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", audioFormat)
			}
			if wr.info.BitsPerSample != 16 {
				return nil, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", wr.info.BitsPerSample)
			}
			if wr.info.Channels == 0 || wr.info.SampleRate == 0 {
				return nil, fmt.Errorf("invalid WAV file: %d channels at %d Hz", wr.info.Channels, wr.info.SampleRate)
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("invalid WAV file: data chunk before fmt chunk")
			}
			frameBytes := uint32(wr.info.Channels) * 2
			wr.remaining = size - size%frameBytes
			wr.info.DataSize = wr.remaining
			wr.info.NumFrames = wr.remaining / frameBytes
			wr.info.Duration = float64(wr.info.NumFrames) / float64(wr.info.SampleRate)
			return wr, nil

		default:
			if _, err := br.Discard(int(size + size%2)); err != nil {
				return nil, fmt.Errorf("failed to skip %q chunk: %w", id, err)
			}
		}
	}
}

// Info returns the stream format
func (w *WAVReader) Info() WAVInfo {
	return w.info
}

// ReadSamples fills dst with interleaved samples. It returns io.EOF once the
// data chunk is exhausted; a short final read returns the samples read and nil.
func (w *WAVReader) ReadSamples(dst []int16) (int, error) {
	if w.remaining == 0 {
		return 0, io.EOF
	}

	want := uint32(len(dst) * 2)
	if want > w.remaining {
		want = w.remaining
	}
	if cap(w.scratch) < int(want) {
		w.scratch = make([]byte, want)
	}
	buf := w.scratch[:want]

	n, err := io.ReadFull(w.r, buf)
	n -= n % 2
	for i := 0; i < n/2; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	w.remaining -= uint32(n)

	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			// Truncated file: hand out what we have, then report EOF
			w.remaining = 0
			if n > 0 {
				return n / 2, nil
			}
			return 0, io.EOF
		}
		return n / 2, fmt.Errorf("failed to read audio samples: %w", err)
	}

	return n / 2, nil
}

// DecodeWAV decodes a complete PCM-16 WAV file into interleaved samples
func DecodeWAV(data []byte) ([]int16, WAVInfo, error) {
	wr, err := NewWAVReader(bytes.NewReader(data))
	if err != nil {
		return nil, WAVInfo{}, err
	}

	info := wr.Info()
	if info.NumFrames == 0 {
		return nil, info, fmt.Errorf("no audio data found")
	}

	samples := make([]int16, info.NumFrames*uint32(info.Channels))
	total := 0
	for total < len(samples) {
		n, err := wr.ReadSamples(samples[total:])
		total += n
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, info, err
		}
	}

	return samples[:total], info, nil
}

// ValidateWAV validates a WAV file format without decoding the audio data
func ValidateWAV(data []byte) error {
	_, err := NewWAVReader(bytes.NewReader(data))
	return err
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	wr, err := NewWAVReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	info := wr.Info()
	return &info, nil
}

// Int16ToFloat32 converts PCM-16 samples to floats in [-1, 1)
func Int16ToFloat32(src []int16) []float32 {
	out := make([]float32, len(src))
	for i, s := range src {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToInt16 converts float samples to PCM-16, clipping out-of-range values
func Float32ToInt16(src []float32) []int16 {
	out := make([]int16, len(src))
	for i, s := range src {
		switch {
		case s >= 1.0:
			out[i] = 32767
		case s <= -1.0:
			out[i] = -32768
		default:
			out[i] = int16(s * 32768.0)
		}
	}
	return out
}

package protocol

import (
	"encoding/binary"
	"fmt"
)

// Wire constants
const (
	// Magic identifies listener packets ("BL")
	Magic   uint16 = 0x424C
	Version uint8  = 1

	// Packet types
	PacketTypeHello = 0x01
	PacketTypeAudio = 0x02

	// Packet structure sizes
	HeaderSize             = 10 // 2 + 1 + 1 + 2 + 4 bytes
	HelloPayloadSize       = 38 // 4 + 1 + 1 + 32 bytes
	AudioPayloadHeaderSize = 8  // 4 + 2 + 1 + 1 bytes

	DeviceNameSize = 32

	// MaxPacketSize bounds a single datagram
	MaxPacketSize = 65507
)

// Header represents the 10-byte packet header (big-endian)
// Layout: [Magic:2][Version:1][PacketType:1][PacketLen:2][StreamID:4]
type Header struct {
	Magic      uint16
	Version    uint8
	PacketType uint8  // 0x01=Hello, 0x02=Audio
	PacketLen  uint16 // Total packet size (header + payload)
	StreamID   uint32 // Microphone session identifier
}

// HelloPayload announces a microphone's stream format
// Layout: [SampleRate:4][Channels:1][BitsPerSample:1][DeviceName:32]
type HelloPayload struct {
	SampleRate    uint32
	Channels      uint8
	BitsPerSample uint8
	DeviceName    [DeviceNameSize]byte // Null-terminated string
}

// AudioPayload represents the audio packet payload
// Layout: [Sequence:4][FrameCount:2][Channels:1][Reserved:1][PCM:N]
// PCM is interleaved signed 16-bit little-endian, N = FrameCount*Channels*2.
type AudioPayload struct {
	Sequence   uint32
	FrameCount uint16
	Channels   uint8
	PCM        []byte
}

// ParsedPacket represents a fully parsed packet
type ParsedPacket struct {
	Header *Header
	Hello  *HelloPayload // Only set for hello packets
	Audio  *AudioPayload // Only set for audio packets
}

// ParseHeader parses the packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	return &Header{
		Magic:      binary.BigEndian.Uint16(data[0:2]),
		Version:    data[2],
		PacketType: data[3],
		PacketLen:  binary.BigEndian.Uint16(data[4:6]),
		StreamID:   binary.BigEndian.Uint32(data[6:10]),
	}, nil
}

// ParseHelloPayload parses the 38-byte hello payload
func ParseHelloPayload(data []byte) (*HelloPayload, error) {
	if len(data) < HelloPayloadSize {
		return nil, fmt.Errorf("hello payload too short: expected %d bytes, got %d",
			HelloPayloadSize, len(data))
	}

	payload := &HelloPayload{
		SampleRate:    binary.BigEndian.Uint32(data[0:4]),
		Channels:      data[4],
		BitsPerSample: data[5],
	}
	copy(payload.DeviceName[:], data[6:6+DeviceNameSize])

	return payload, nil
}

// ParseAudioPayload parses an audio payload and checks the PCM length
func ParseAudioPayload(data []byte) (*AudioPayload, error) {
	if len(data) < AudioPayloadHeaderSize {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
			AudioPayloadHeaderSize, len(data))
	}

	payload := &AudioPayload{
		Sequence:   binary.BigEndian.Uint32(data[0:4]),
		FrameCount: binary.BigEndian.Uint16(data[4:6]),
		Channels:   data[6],
	}

	if payload.Channels == 0 {
		return nil, fmt.Errorf("audio payload declares zero channels")
	}

	pcmLen := int(payload.FrameCount) * int(payload.Channels) * 2
	if len(data)-AudioPayloadHeaderSize != pcmLen {
		return nil, fmt.Errorf("audio payload size mismatch: %d frames x %d channels needs %d bytes, got %d",
			payload.FrameCount, payload.Channels, pcmLen, len(data)-AudioPayloadHeaderSize)
	}

	payload.PCM = make([]byte, pcmLen)
	copy(payload.PCM, data[AudioPayloadHeaderSize:])

	return payload, nil
}

// ParsePacket parses a complete packet (header + payload)
func ParsePacket(data []byte) (*ParsedPacket, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &ParsedPacket{Header: header}
	payloadData := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeHello:
		payload, err := ParseHelloPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse hello payload: %w", err)
		}
		packet.Hello = payload

	case PacketTypeAudio:
		payload, err := ParseAudioPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		packet.Audio = payload

	default:
		return nil, fmt.Errorf("unknown packet type: 0x%02x", header.PacketType)
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if header.Magic != Magic {
		return fmt.Errorf("bad magic: 0x%04x", header.Magic)
	}

	if header.Version != Version {
		return fmt.Errorf("unsupported version: %d", header.Version)
	}

	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	expectedPayloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeHello:
		if expectedPayloadSize != HelloPayloadSize {
			return fmt.Errorf("hello packet payload size mismatch: expected %d, got %d",
				HelloPayloadSize, expectedPayloadSize)
		}
	case PacketTypeAudio:
		if expectedPayloadSize < AudioPayloadHeaderSize {
			return fmt.Errorf("audio packet payload too small: expected at least %d, got %d",
				AudioPayloadHeaderSize, expectedPayloadSize)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeHello || ptype == PacketTypeAudio
}

// EncodeHelloPacket builds a hello packet
func EncodeHelloPacket(streamID uint32, sampleRate uint32, channels uint8, deviceName string) []byte {
	buf := make([]byte, HeaderSize+HelloPayloadSize)
	putHeader(buf, PacketTypeHello, streamID)

	p := buf[HeaderSize:]
	binary.BigEndian.PutUint32(p[0:4], sampleRate)
	p[4] = channels
	p[5] = 16
	copy(p[6:6+DeviceNameSize-1], deviceName) // keep a terminating null

	return buf
}

// EncodeAudioPacket builds an audio packet from interleaved PCM-16 samples
func EncodeAudioPacket(streamID, sequence uint32, channels uint8, samples []int16) ([]byte, error) {
	if channels == 0 {
		return nil, fmt.Errorf("channel count must be at least 1")
	}
	if len(samples)%int(channels) != 0 {
		return nil, fmt.Errorf("sample count %d is not a multiple of %d channels", len(samples), channels)
	}
	frames := len(samples) / int(channels)
	if frames > 0xFFFF {
		return nil, fmt.Errorf("too many frames for one packet: %d", frames)
	}

	total := HeaderSize + AudioPayloadHeaderSize + len(samples)*2
	if total > MaxPacketSize {
		return nil, fmt.Errorf("packet too large: %d bytes (maximum %d)", total, MaxPacketSize)
	}

	buf := make([]byte, total)
	putHeader(buf, PacketTypeAudio, streamID)

	p := buf[HeaderSize:]
	binary.BigEndian.PutUint32(p[0:4], sequence)
	binary.BigEndian.PutUint16(p[4:6], uint16(frames))
	p[6] = channels

	pcm := p[AudioPayloadHeaderSize:]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}

	return buf, nil
}

func putHeader(buf []byte, packetType uint8, streamID uint32) {
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	buf[2] = Version
	buf[3] = packetType
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(buf)))
	binary.BigEndian.PutUint32(buf[6:10], streamID)
}

// Samples decodes the PCM payload into interleaved samples
func (a *AudioPayload) Samples() []int16 {
	out := make([]int16, len(a.PCM)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(a.PCM[i*2:]))
	}
	return out
}

// ExtractString extracts a null-terminated string from a fixed-size byte array
func ExtractString(buf []byte) string {
	nullPos := len(buf)
	for i, b := range buf {
		if b == 0 {
			nullPos = i
			break
		}
	}
	return string(buf[:nullPos])
}

// GetDeviceName extracts the device name as a string
func (h *HelloPayload) GetDeviceName() string {
	return ExtractString(h.DeviceName[:])
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType string

	switch h.PacketType {
	case PacketTypeHello:
		packetType = "Hello"
	case PacketTypeAudio:
		packetType = "Audio"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, StreamID:%d, Version:%d}",
		packetType, h.PacketLen, h.StreamID, h.Version)
}

// String returns a human-readable representation of the hello payload
func (h *HelloPayload) String() string {
	return fmt.Sprintf("HelloPayload{Device:%q, SampleRate:%d, Channels:%d, Bits:%d}",
		h.GetDeviceName(), h.SampleRate, h.Channels, h.BitsPerSample)
}

// String returns a human-readable representation of the audio payload
func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{Sequence:%d, Frames:%d, Channels:%d}", a.Sequence, a.FrameCount, a.Channels)
}

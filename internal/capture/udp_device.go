package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bburnak/BirdListener/internal/config"
	"github.com/bburnak/BirdListener/internal/metrics"
	"github.com/bburnak/BirdListener/internal/protocol"
)

// maxGapFill bounds the silence inserted for lost packets
const maxGapFill = time.Second

// reorderWindow is how far back, in packets, a sequence number may be and
// still count as late. A larger backward jump means the microphone restarted
// its counter.
const reorderWindow = 64

// UDPDevice receives audio from a network microphone and re-blocks it into
// fixed-size blocks. Lost packets are replaced by silence (up to maxGapFill)
// so elapsed time stays aligned with the microphone's clock.
type UDPDevice struct {
	address     string
	readBuffer  int
	sampleRate  int
	channels    int
	blockFrames int
	logger      *slog.Logger
	metrics     *metrics.Metrics

	conn    *net.UDPConn
	ctx     context.Context
	cancel  context.CancelFunc
	recvWG  sync.WaitGroup
	procWG  sync.WaitGroup
	stopped atomic.Bool

	packetChan chan *incomingPacket

	// owned by the processor goroutine
	pending    []float32
	streamID   uint32
	haveStream bool
	lastSeq    uint32
	lastFrames int

	packetsReceived  atomic.Uint64
	packetsProcessed atomic.Uint64
	packetsDropped   atomic.Uint64
	parseErrors      atomic.Uint64
	framesFilled     atomic.Uint64
	latePackets      atomic.Uint64
	streamResets     atomic.Uint64
}

// incomingPacket represents a received UDP packet with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// UDPStats represents network microphone counters
type UDPStats struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	PacketsDropped   uint64 `json:"packets_dropped"`
	ParseErrors      uint64 `json:"parse_errors"`
	FramesFilled     uint64 `json:"frames_filled"`
	LatePackets      uint64 `json:"late_packets"`
	StreamResets     uint64 `json:"stream_resets"`
}

// NewUDPDevice creates a network microphone device
func NewUDPDevice(cfg config.CaptureConfig, pipeline config.PipelineConfig, logger *slog.Logger, m *metrics.Metrics) *UDPDevice {
	if logger == nil {
		logger = slog.Default()
	}
	return &UDPDevice{
		address:     cfg.UDPAddress,
		readBuffer:  cfg.ReadBuffer,
		sampleRate:  pipeline.SampleRate,
		channels:    pipeline.Channels,
		blockFrames: pipeline.BlockSize,
		logger:      logger.With("component", "udp_device"),
		metrics:     m,
		packetChan:  make(chan *incomingPacket, 256),
	}
}

// Name implements Device
func (d *UDPDevice) Name() string {
	return config.DeviceUDP
}

// Live implements Device
func (d *UDPDevice) Live() bool {
	return true
}

// Addr returns the bound local address, or nil before Start
func (d *UDPDevice) Addr() net.Addr {
	if d.conn == nil {
		return nil
	}
	return d.conn.LocalAddr()
}

// Start begins listening for packets
func (d *UDPDevice) Start(h Handler) error {
	addr, err := net.ResolveUDPAddr("udp", d.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	d.conn = conn

	if err := d.conn.SetReadBuffer(d.readBuffer); err != nil {
		d.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", d.readBuffer),
			slog.String("error", err.Error()),
		)
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.pending = make([]float32, 0, d.blockFrames*d.channels*2)

	d.logger.Info("Network microphone listening",
		slog.String("address", conn.LocalAddr().String()),
		slog.Int("block_frames", d.blockFrames),
	)

	// A single processor keeps packet order intact
	d.procWG.Add(1)
	go d.packetProcessor(h)

	d.recvWG.Add(1)
	go d.receiveLoop(h)

	return nil
}

// Stop closes the socket and waits for both goroutines. Idempotent.
func (d *UDPDevice) Stop() error {
	if d.conn == nil || !d.stopped.CompareAndSwap(false, true) {
		return nil
	}

	d.cancel()

	if err := d.conn.Close(); err != nil {
		d.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
	}

	d.recvWG.Wait()
	close(d.packetChan)
	d.procWG.Wait()

	stats := d.Stats()
	d.logger.Info("Network microphone stopped",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("packets_dropped", stats.PacketsDropped),
		slog.Uint64("parse_errors", stats.ParseErrors),
	)

	return nil
}

// receiveLoop is the main packet receiving loop
func (d *UDPDevice) receiveLoop(h Handler) {
	defer d.recvWG.Done()

	buffer := make([]byte, protocol.MaxPacketSize)

	for {
		select {
		case <-d.ctx.Done():
			return
		default:
		}

		// Periodic deadline so cancellation is observed even without traffic
		if err := d.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			if d.ctx.Err() != nil {
				return
			}
			h.OnError(fmt.Errorf("%w: %v", ErrDeviceStopped, err))
			return
		}

		n, remoteAddr, err := d.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if d.ctx.Err() != nil {
				return
			}
			// Socket failure is a device failure
			h.OnError(fmt.Errorf("%w: %v", ErrDeviceStopped, err))
			return
		}

		d.packetsReceived.Add(1)

		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		packet := &incomingPacket{
			data:       packetData,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		select {
		case d.packetChan <- packet:
		default:
			d.packetsDropped.Add(1)
			d.logger.Warn("Packet processing queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

// packetProcessor processes packets from the packet channel
func (d *UDPDevice) packetProcessor(h Handler) {
	defer d.procWG.Done()

	for packet := range d.packetChan {
		d.handlePacket(h, packet)
	}
}

// handlePacket processes a single incoming packet
func (d *UDPDevice) handlePacket(h Handler, packet *incomingPacket) {
	parsed, err := protocol.ParsePacket(packet.data)
	if err != nil {
		d.parseErrors.Add(1)
		d.metrics.RecordPacketError()
		d.logger.Debug("Failed to parse packet",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("packet_size", len(packet.data)),
			slog.String("error", err.Error()),
		)
		return
	}

	d.packetsProcessed.Add(1)

	switch parsed.Header.PacketType {
	case protocol.PacketTypeHello:
		d.processHello(parsed.Header, parsed.Hello, packet.remoteAddr)
	case protocol.PacketTypeAudio:
		d.processAudio(h, parsed.Header, parsed.Audio)
	}
}

// processHello logs the announced format and resets stream tracking
func (d *UDPDevice) processHello(header *protocol.Header, hello *protocol.HelloPayload, from *net.UDPAddr) {
	if int(hello.SampleRate) != d.sampleRate || int(hello.Channels) != d.channels {
		d.logger.Warn("Microphone format does not match pipeline",
			slog.String("device_name", hello.GetDeviceName()),
			slog.Uint64("mic_sample_rate", uint64(hello.SampleRate)),
			slog.Int("mic_channels", int(hello.Channels)),
			slog.Int("sample_rate", d.sampleRate),
			slog.Int("channels", d.channels),
		)
	}

	d.streamID = header.StreamID
	d.haveStream = false

	d.logger.Info("Microphone connected",
		slog.String("device_name", hello.GetDeviceName()),
		slog.Uint64("stream_id", uint64(header.StreamID)),
		slog.String("remote_addr", from.String()),
	)
}

// processAudio appends a packet's samples and emits every complete block
func (d *UDPDevice) processAudio(h Handler, header *protocol.Header, payload *protocol.AudioPayload) {
	if int(payload.Channels) != d.channels {
		d.parseErrors.Add(1)
		d.metrics.RecordPacketError()
		d.logger.Debug("Dropping packet with wrong channel count",
			slog.Int("channels", int(payload.Channels)),
			slog.Uint64("sequence", uint64(payload.Sequence)),
		)
		return
	}

	if d.haveStream && header.StreamID == d.streamID {
		// Modular distance, so the counter may wrap past math.MaxUint32
		ahead := payload.Sequence - d.lastSeq
		behind := d.lastSeq - payload.Sequence
		switch {
		case ahead == 1:
		case behind <= reorderWindow:
			// Late or duplicate; the audio it carried has already been covered
			d.latePackets.Add(1)
			return
		case ahead < 1<<31:
			d.fillGap(int(ahead-1) * d.lastFrames)
		default:
			d.streamResets.Add(1)
			d.logger.Warn("Microphone sequence restarted",
				slog.Uint64("stream_id", uint64(header.StreamID)),
				slog.Uint64("last_sequence", uint64(d.lastSeq)),
				slog.Uint64("sequence", uint64(payload.Sequence)),
			)
		}
	}

	d.streamID = header.StreamID
	d.haveStream = true
	d.lastSeq = payload.Sequence
	d.lastFrames = int(payload.FrameCount)

	pcm := payload.Samples()
	for _, s := range pcm {
		d.pending = append(d.pending, float32(s)/32768.0)
	}

	d.emitBlocks(h)
}

// fillGap appends silence for lost frames, bounded by maxGapFill
func (d *UDPDevice) fillGap(frames int) {
	limit := int(maxGapFill.Seconds() * float64(d.sampleRate))
	if frames > limit {
		d.logger.Warn("Packet gap exceeds fill limit, timeline will shift",
			slog.Int("missing_frames", frames),
			slog.Int("filled_frames", limit),
		)
		frames = limit
	}
	d.framesFilled.Add(uint64(frames))
	for i := 0; i < frames*d.channels; i++ {
		d.pending = append(d.pending, 0)
	}
}

func (d *UDPDevice) emitBlocks(h Handler) {
	blockLen := d.blockFrames * d.channels
	for len(d.pending) >= blockLen {
		h.OnSamples(d.pending[:blockLen])
		n := copy(d.pending, d.pending[blockLen:])
		d.pending = d.pending[:n]
	}
}

// Stats returns the device counters
func (d *UDPDevice) Stats() UDPStats {
	return UDPStats{
		PacketsReceived:  d.packetsReceived.Load(),
		PacketsProcessed: d.packetsProcessed.Load(),
		PacketsDropped:   d.packetsDropped.Load(),
		ParseErrors:      d.parseErrors.Load(),
		FramesFilled:     d.framesFilled.Load(),
		LatePackets:      d.latePackets.Load(),
		StreamResets:     d.streamResets.Load(),
	}
}

package capture

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bburnak/BirdListener/internal/audio"
	"github.com/bburnak/BirdListener/internal/config"
)

// WAVDevice replays a PCM-16 WAV recording as a block stream.
// With realtime pacing it behaves like a live microphone; without it the
// recording is consumed as fast as the pipeline accepts it.
type WAVDevice struct {
	path        string
	realtime    bool
	loop        bool
	sampleRate  int
	channels    int
	blockFrames int
	logger      *slog.Logger

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	stopped bool
}

// NewWAVDevice creates a replay device for cfg.Path.
func NewWAVDevice(cfg config.CaptureConfig, pipeline config.PipelineConfig, logger *slog.Logger) *WAVDevice {
	if logger == nil {
		logger = slog.Default()
	}
	return &WAVDevice{
		path:        cfg.Path,
		realtime:    cfg.Realtime,
		loop:        cfg.Loop,
		sampleRate:  pipeline.SampleRate,
		channels:    pipeline.Channels,
		blockFrames: pipeline.BlockSize,
		logger:      logger.With("component", "wav_device", "path", cfg.Path),
	}
}

// Name implements Device
func (d *WAVDevice) Name() string {
	return config.DeviceWAV
}

// Live implements Device
func (d *WAVDevice) Live() bool {
	return d.realtime
}

// Start opens the file, checks its format and begins replay.
func (d *WAVDevice) Start(h Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stop != nil {
		return fmt.Errorf("wav device already started")
	}

	f, reader, err := d.open()
	if err != nil {
		return err
	}

	info := reader.Info()
	d.logger.Info("Replaying recording",
		"sample_rate", info.SampleRate,
		"channels", info.Channels,
		"duration_sec", info.Duration,
		"realtime", d.realtime,
		"loop", d.loop)

	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.run(h, f, reader)

	return nil
}

func (d *WAVDevice) open() (*os.File, *audio.WAVReader, error) {
	f, err := os.Open(d.path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open recording: %w", err)
	}

	reader, err := audio.NewWAVReader(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to read recording %s: %w", d.path, err)
	}

	info := reader.Info()
	if int(info.SampleRate) != d.sampleRate {
		f.Close()
		return nil, nil, fmt.Errorf("recording sample rate %d Hz does not match configured %d Hz", info.SampleRate, d.sampleRate)
	}
	if int(info.Channels) != d.channels {
		f.Close()
		return nil, nil, fmt.Errorf("recording has %d channels, configured %d", info.Channels, d.channels)
	}

	return f, reader, nil
}

func (d *WAVDevice) run(h Handler, f *os.File, reader *audio.WAVReader) {
	defer close(d.done)
	defer func() { f.Close() }()

	// Handler errors are delivered from this goroutine, so OnError must not
	// call Stop synchronously.

	pcm := make([]int16, d.blockFrames*d.channels)
	samples := make([]float32, len(pcm))

	var ticker *time.Ticker
	if d.realtime {
		blockDur := time.Duration(float64(d.blockFrames) / float64(d.sampleRate) * float64(time.Second))
		ticker = time.NewTicker(blockDur)
		defer ticker.Stop()
	}

	for {
		if ticker != nil {
			select {
			case <-d.stop:
				return
			case <-ticker.C:
			}
		} else {
			select {
			case <-d.stop:
				return
			default:
			}
		}

		n, err := readFull(reader, pcm)
		if n > 0 {
			n -= n % d.channels
			for i := 0; i < n; i++ {
				samples[i] = float32(pcm[i]) / 32768.0
			}
			h.OnSamples(samples[:n])
		}

		if err == nil {
			continue
		}

		if errors.Is(err, io.EOF) && d.loop {
			f.Close()
			nf, nr, openErr := d.open()
			if openErr != nil {
				h.OnError(fmt.Errorf("%w: %v", ErrDeviceStopped, openErr))
				return
			}
			f, reader = nf, nr
			d.logger.Debug("Recording looped")
			continue
		}

		if errors.Is(err, io.EOF) {
			d.logger.Info("End of recording")
			h.OnError(io.EOF)
			return
		}

		h.OnError(fmt.Errorf("%w: %v", ErrDeviceStopped, err))
		return
	}
}

// readFull reads until dst is full or the data chunk ends. A short final
// block is returned with a nil error; the following call reports io.EOF.
func readFull(r *audio.WAVReader, dst []int16) (int, error) {
	total := 0
	for total < len(dst) {
		n, err := r.ReadSamples(dst[total:])
		total += n
		if err != nil {
			if errors.Is(err, io.EOF) && total > 0 {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

// Stop ends replay and waits for the replay goroutine. Idempotent.
func (d *WAVDevice) Stop() error {
	d.mu.Lock()
	if d.stop == nil {
		d.mu.Unlock()
		return nil
	}
	if !d.stopped {
		d.stopped = true
		close(d.stop)
	}
	done := d.done
	d.mu.Unlock()

	<-done
	return nil
}

// Package capture owns the lifecycle of one audio recording at a time. A capture
// buffers frames in the background from Start until Stop, which yields exactly
// one complete clip or an error.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/voice-reminder-service/internal/audio"
	"github.com/skypro1111/voice-reminder-service/internal/vad"
)

var (
	// ErrUnsupported means no capture device is available
	ErrUnsupported = errors.New("audio capture is not supported")
	// ErrDenied means the device refused to open. Devices wrap it.
	ErrDenied = errors.New("audio capture permission denied")
	// ErrNotActive means Stop was called with no capture in progress
	ErrNotActive = errors.New("no capture in progress")
	// ErrAlreadyActive means Start was called during a capture
	ErrAlreadyActive = errors.New("capture already in progress")
	// ErrNoAudio means the capture ended without receiving any frames
	ErrNoAudio = errors.New("no audio captured")
)

// Device opens a frame source
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream delivers frames until it is closed. The frames channel may also be
// closed by the device when the source ends.
type Stream interface {
	Frames() <-chan audio.Frame
	Close() error
}

// Config holds capture parameters
type Config struct {
	SampleRate  int
	MaxDuration time.Duration
}

// Stats is a snapshot of controller activity
type Stats struct {
	Active   bool               `json:"active"`
	Clips    uint64             `json:"clips"`
	Aborted  uint64             `json:"aborted"`
	Empty    uint64             `json:"empty"`
	LastClip *audio.BufferStats `json:"last_clip,omitempty"`
}

// recording is one capture in progress
type recording struct {
	stream  Stream
	buffer  *audio.Buffer
	stop    chan struct{}
	done    chan struct{}
	keep    bool // set before stop is closed
	started time.Time
}

// Controller records clips from a Device
type Controller struct {
	device   Device
	analyzer *vad.Analyzer
	config   Config
	logger   *slog.Logger

	current *recording

	clips    uint64
	aborted  uint64
	empty    uint64
	lastClip *audio.BufferStats

	mu sync.Mutex
}

// NewController creates a capture controller. A nil device makes every Start
// fail with ErrUnsupported; a nil analyzer skips voice analysis.
func NewController(device Device, analyzer *vad.Analyzer, cfg Config, logger *slog.Logger) *Controller {
	return &Controller{
		device:   device,
		analyzer: analyzer,
		config:   cfg,
		logger:   logger,
	}
}

// Start opens the device and begins buffering frames in the background
func (c *Controller) Start(ctx context.Context) error {
	if c.device == nil {
		return ErrUnsupported
	}

	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	rec := &recording{
		buffer:  audio.NewBuffer(c.config.SampleRate, c.config.MaxDuration),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		started: time.Now(),
	}
	c.current = rec
	c.mu.Unlock()

	stream, err := c.device.Open(ctx)
	if err != nil {
		c.mu.Lock()
		if c.current == rec {
			c.current = nil
		}
		c.mu.Unlock()
		return fmt.Errorf("failed to open capture device: %w", err)
	}

	c.mu.Lock()
	if c.current != rec {
		// aborted while the device was opening
		c.mu.Unlock()
		stream.Close()
		return fmt.Errorf("capture aborted while opening device: %w", ErrNotActive)
	}
	rec.stream = stream
	c.mu.Unlock()

	go c.collect(rec)

	c.logger.Info("Capture started",
		slog.Int("sample_rate", c.config.SampleRate),
		slog.Duration("max_duration", c.config.MaxDuration),
	)
	return nil
}

// collect buffers frames until the recording is halted or the source ends.
// When a halted recording is kept, frames already queued on the stream are
// buffered before collect returns.
func (c *Controller) collect(rec *recording) {
	defer close(rec.done)

	frames := rec.stream.Frames()
	for {
		select {
		case <-rec.stop:
			if rec.keep {
				c.drain(rec, frames)
			}
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			c.add(rec, frame)
		}
	}
}

// drain buffers whatever is queued without waiting for more
func (c *Controller) drain(rec *recording, frames <-chan audio.Frame) {
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return
			}
			c.add(rec, frame)
		default:
			return
		}
	}
}

func (c *Controller) add(rec *recording, frame audio.Frame) {
	if err := rec.buffer.Add(frame); err != nil && !errors.Is(err, audio.ErrBufferFull) {
		c.logger.Debug("Capture frame rejected",
			slog.Uint64("sequence", uint64(frame.Sequence)),
			slog.String("error", err.Error()),
		)
	}
}

// Stop ends the capture and returns the recorded clip
func (c *Controller) Stop() (*audio.Clip, error) {
	c.mu.Lock()
	rec := c.current
	if rec == nil || rec.stream == nil {
		c.mu.Unlock()
		return nil, ErrNotActive
	}
	c.current = nil
	c.mu.Unlock()

	c.halt(rec, true)
	rec.buffer.Flush()

	stats := rec.buffer.Stats()
	samples := rec.buffer.Samples()

	c.mu.Lock()
	c.lastClip = &stats
	if len(samples) == 0 {
		c.empty++
	}
	c.mu.Unlock()

	if len(samples) == 0 {
		c.logger.Warn("Capture finished without audio",
			slog.Duration("elapsed", time.Since(rec.started)),
		)
		return nil, ErrNoAudio
	}

	data, err := audio.EncodeWAV(samples, c.config.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to encode clip: %w", err)
	}

	clip := &audio.Clip{
		Data:        data,
		ContentType: audio.ContentTypeWAV,
		SampleRate:  c.config.SampleRate,
		Duration:    time.Duration(len(samples)) * time.Second / time.Duration(c.config.SampleRate),
		Frames:      int(stats.TotalFrames - stats.DroppedFrames - stats.DuplicateFrames),
	}
	if c.analyzer != nil {
		clip.VoiceRatio = c.analyzer.Analyze(samples).VoiceRatio
	}

	c.mu.Lock()
	c.clips++
	c.mu.Unlock()

	c.logger.Info("Capture finished",
		slog.Duration("duration", clip.Duration),
		slog.Int("frames", clip.Frames),
		slog.Uint64("lost_frames", uint64(stats.LostFrames)),
		slog.Uint64("dropped_frames", uint64(stats.DroppedFrames)),
		slog.Float64("voice_ratio", clip.VoiceRatio),
	)
	return clip, nil
}

// Abort ends any capture and discards its frames. Safe to call at any time.
func (c *Controller) Abort() {
	c.mu.Lock()
	rec := c.current
	c.current = nil
	if rec != nil {
		c.aborted++
	}
	c.mu.Unlock()

	if rec == nil {
		return
	}
	if rec.stream != nil {
		c.halt(rec, false)
	}
	rec.buffer.Reset()

	c.logger.Info("Capture aborted", slog.Duration("elapsed", time.Since(rec.started)))
}

// halt releases the device stream, then stops the collector. Closing the
// stream first means no frame can arrive after the final drain.
func (c *Controller) halt(rec *recording, keep bool) {
	if err := rec.stream.Close(); err != nil {
		c.logger.Warn("Failed to close capture stream", slog.String("error", err.Error()))
	}
	rec.keep = keep
	close(rec.stop)
	<-rec.done
}

// Active reports whether a capture is in progress
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Stats returns controller statistics
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Active:   c.current != nil,
		Clips:    c.clips,
		Aborted:  c.aborted,
		Empty:    c.empty,
		LastClip: c.lastClip,
	}
}

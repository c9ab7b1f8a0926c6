package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/skypro1111/voice-reminder-service/internal/audio"
	"github.com/skypro1111/voice-reminder-service/internal/vad"
)

type fakeStream struct {
	frames chan audio.Frame
	closed bool
	mu     sync.Mutex
}

func (s *fakeStream) Frames() <-chan audio.Frame { return s.frames }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeDevice hands out unbuffered streams, or streams already holding the
// queued frames when queued is set
type fakeDevice struct {
	stream *fakeStream
	err    error
	opens  int
	queued []audio.Frame
}

func (d *fakeDevice) Open(ctx context.Context) (Stream, error) {
	d.opens++
	if d.err != nil {
		return nil, d.err
	}
	frames := make(chan audio.Frame, len(d.queued))
	for _, f := range d.queued {
		frames <- f
	}
	d.stream = &fakeStream{frames: frames}
	return d.stream, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(device Device, maxDuration time.Duration) *Controller {
	analyzer, _ := vad.NewAnalyzer(0.5, 512, 8000)
	return NewController(device, analyzer, Config{SampleRate: 8000, MaxDuration: maxDuration}, testLogger())
}

// loudFrame returns 20ms of loud PCM at 8kHz
func loudFrame(seq uint32) audio.Frame {
	samples := make([]int16, 160)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 12000
		} else {
			samples[i] = -12000
		}
	}
	return audio.Frame{Sequence: seq, Data: audio.SamplesToBytes(samples)}
}

func TestStartWithoutDevice(t *testing.T) {
	c := NewController(nil, nil, Config{SampleRate: 8000, MaxDuration: time.Second}, testLogger())

	if err := c.Start(context.Background()); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported, got %v", err)
	}
	if c.Active() {
		t.Error("Controller must not be active")
	}
}

func TestStartDenied(t *testing.T) {
	device := &fakeDevice{err: ErrDenied}
	c := newTestController(device, time.Second)

	if err := c.Start(context.Background()); !errors.Is(err, ErrDenied) {
		t.Errorf("Expected ErrDenied, got %v", err)
	}
	if c.Active() {
		t.Error("Controller must not be active after a denied start")
	}
}

func TestStartTwiceRejected(t *testing.T) {
	device := &fakeDevice{}
	c := newTestController(device, time.Second)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Abort()

	if err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("Expected ErrAlreadyActive, got %v", err)
	}
	if device.opens != 1 {
		t.Errorf("Expected device opened once, got %d", device.opens)
	}
}

func TestStopWithoutCapture(t *testing.T) {
	c := newTestController(&fakeDevice{}, time.Second)

	if _, err := c.Stop(); !errors.Is(err, ErrNotActive) {
		t.Errorf("Expected ErrNotActive, got %v", err)
	}
}

func TestStopProducesClip(t *testing.T) {
	device := &fakeDevice{}
	c := newTestController(device, time.Second)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for seq := uint32(1); seq <= 25; seq++ {
		device.stream.frames <- loudFrame(seq)
	}

	clip, err := c.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if clip.ContentType != audio.ContentTypeWAV {
		t.Errorf("Expected content type %s, got %s", audio.ContentTypeWAV, clip.ContentType)
	}
	if clip.Frames != 25 {
		t.Errorf("Expected 25 frames, got %d", clip.Frames)
	}
	if clip.Duration != 500*time.Millisecond {
		t.Errorf("Expected 500ms clip, got %v", clip.Duration)
	}
	if clip.VoiceRatio != 1 {
		t.Errorf("Expected voice ratio 1, got %f", clip.VoiceRatio)
	}

	info, err := audio.GetWAVInfo(clip.Data)
	if err != nil {
		t.Fatalf("Clip is not valid WAV: %v", err)
	}
	if info.NumSamples != 25*160 {
		t.Errorf("Expected %d samples, got %d", 25*160, info.NumSamples)
	}

	if !device.stream.isClosed() {
		t.Error("Expected stream closed after stop")
	}
	if c.Active() {
		t.Error("Controller must not be active after stop")
	}
	if _, err := c.Stop(); !errors.Is(err, ErrNotActive) {
		t.Errorf("Expected ErrNotActive on second stop, got %v", err)
	}
}

func TestStopWithoutFrames(t *testing.T) {
	c := newTestController(&fakeDevice{}, time.Second)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if _, err := c.Stop(); !errors.Is(err, ErrNoAudio) {
		t.Errorf("Expected ErrNoAudio, got %v", err)
	}
	if stats := c.Stats(); stats.Empty != 1 {
		t.Errorf("Expected 1 empty capture, got %d", stats.Empty)
	}
}

func TestCaptureIsBounded(t *testing.T) {
	device := &fakeDevice{}
	c := newTestController(device, 100*time.Millisecond)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for seq := uint32(1); seq <= 10; seq++ {
		device.stream.frames <- loudFrame(seq)
	}

	clip, err := c.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if clip.Duration != 100*time.Millisecond {
		t.Errorf("Expected clip capped at 100ms, got %v", clip.Duration)
	}
	if stats := c.Stats(); stats.LastClip == nil || stats.LastClip.DroppedFrames != 5 {
		t.Errorf("Expected 5 dropped frames, got %+v", stats.LastClip)
	}
}

func TestAbortDiscardsFrames(t *testing.T) {
	device := &fakeDevice{}
	c := newTestController(device, time.Second)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	device.stream.frames <- loudFrame(1)

	c.Abort()
	c.Abort() // idempotent

	if !device.stream.isClosed() {
		t.Error("Expected stream closed after abort")
	}
	if c.Active() {
		t.Error("Controller must not be active after abort")
	}
	if _, err := c.Stop(); !errors.Is(err, ErrNotActive) {
		t.Errorf("Expected ErrNotActive after abort, got %v", err)
	}

	// a fresh capture starts clean
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	device.stream.frames <- loudFrame(100)
	clip, err := c.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if clip.Frames != 1 {
		t.Errorf("Expected 1 frame in new clip, got %d", clip.Frames)
	}
	if stats := c.Stats(); stats.Aborted != 1 || stats.Clips != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestStreamEndedByDevice(t *testing.T) {
	device := &fakeDevice{}
	c := newTestController(device, time.Second)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	device.stream.frames <- loudFrame(1)
	close(device.stream.frames)

	clip, err := c.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if clip.Frames != 1 {
		t.Errorf("Expected 1 frame, got %d", clip.Frames)
	}
}

func TestStopKeepsQueuedFrames(t *testing.T) {
	queued := make([]audio.Frame, 200)
	for i := range queued {
		queued[i] = loudFrame(uint32(i + 1))
	}

	for run := 0; run < 20; run++ {
		device := &fakeDevice{queued: queued}
		c := newTestController(device, 10*time.Second)

		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		clip, err := c.Stop()
		if err != nil {
			t.Fatalf("Run %d: Stop failed: %v", run, err)
		}
		if clip.Frames != len(queued) {
			t.Fatalf("Run %d: expected %d frames, got %d", run, len(queued), clip.Frames)
		}
		if clip.Duration != 4*time.Second {
			t.Errorf("Run %d: expected 4s clip, got %v", run, clip.Duration)
		}
	}
}

// closingStream closes its channel on Close, as the media endpoint does
type closingStream struct {
	frames chan audio.Frame
	once   sync.Once
}

func (s *closingStream) Frames() <-chan audio.Frame { return s.frames }

func (s *closingStream) Close() error {
	s.once.Do(func() { close(s.frames) })
	return nil
}

type closingDevice struct {
	queued int
}

func (d closingDevice) Open(ctx context.Context) (Stream, error) {
	s := &closingStream{frames: make(chan audio.Frame, d.queued)}
	for seq := 1; seq <= d.queued; seq++ {
		s.frames <- loudFrame(uint32(seq))
	}
	return s, nil
}

func TestStopDrainsClosedStream(t *testing.T) {
	c := newTestController(closingDevice{queued: 50}, 10*time.Second)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	clip, err := c.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if clip.Frames != 50 {
		t.Errorf("Expected 50 frames, got %d", clip.Frames)
	}
}

func TestAbortDiscardsQueuedFrames(t *testing.T) {
	device := &fakeDevice{queued: []audio.Frame{loudFrame(1), loudFrame(2)}}
	c := newTestController(device, time.Second)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	c.Abort()

	if stats := c.Stats(); stats.Aborted != 1 || stats.Clips != 0 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

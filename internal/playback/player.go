// Package playback plays synthesized speech one clip at a time. A new clip
// always preempts the one playing.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skypro1111/voice-reminder-service/internal/audio"
)

var (
	// ErrStopped is returned by Play when playback was stopped or preempted
	ErrStopped = errors.New("playback stopped")
	// ErrUnsupportedFormat is returned for speech the player cannot decode
	ErrUnsupportedFormat = errors.New("unsupported speech format")
	// ErrNoOutput is returned when the player was created without a sink
	ErrNoOutput = errors.New("no audio output configured")
)

// Sink renders mono PCM and returns once it has been played out or ctx ends
type Sink interface {
	Play(ctx context.Context, pcm []int16, sampleRate int) error
}

// Stats is a snapshot of player activity
type Stats struct {
	Playing      bool          `json:"playing"`
	Completed    uint64        `json:"completed"`
	Stopped      uint64        `json:"stopped"`
	Failed       uint64        `json:"failed"`
	LastDuration time.Duration `json:"last_duration"`
}

type playing struct {
	cancel  context.CancelFunc
	stopped atomic.Bool
	done    chan struct{}
}

func (p *playing) stop() {
	p.stopped.Store(true)
	p.cancel()
}

// Player owns the single active playback
type Player struct {
	sink       Sink
	sampleRate int
	logger     *slog.Logger

	current *playing
	stats   Stats

	mu sync.Mutex
}

// NewPlayer creates a player that renders at the sink's sample rate
func NewPlayer(sink Sink, sampleRate int, logger *slog.Logger) *Player {
	return &Player{
		sink:       sink,
		sampleRate: sampleRate,
		logger:     logger,
	}
}

// Play stops any current playback, then plays speech to completion
func (p *Player) Play(ctx context.Context, speech audio.Speech) error {
	playCtx, cancel := context.WithCancel(ctx)
	cur := &playing{cancel: cancel, done: make(chan struct{})}

	p.mu.Lock()
	prev := p.current
	p.current = cur
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.current == cur {
			p.current = nil
		}
		p.mu.Unlock()
		cancel()
		close(cur.done)
	}()

	if prev != nil {
		prev.stop()
		<-prev.done
	}

	samples, err := Decode(speech, p.sampleRate)
	if err != nil {
		p.record(func(s *Stats) { s.Failed++ })
		return err
	}

	duration := time.Duration(len(samples)) * time.Second / time.Duration(p.sampleRate)
	started := time.Now()

	if cur.stopped.Load() {
		p.record(func(s *Stats) { s.Stopped++ })
		return ErrStopped
	}
	if p.sink == nil {
		p.record(func(s *Stats) { s.Failed++ })
		return ErrNoOutput
	}

	err = p.sink.Play(playCtx, samples, p.sampleRate)
	if cur.stopped.Load() {
		p.record(func(s *Stats) { s.Stopped++ })
		p.logger.Info("Playback stopped", slog.Duration("played", time.Since(started)))
		return ErrStopped
	}
	if err != nil {
		p.record(func(s *Stats) { s.Failed++ })
		return fmt.Errorf("playback failed: %w", err)
	}

	p.record(func(s *Stats) {
		s.Completed++
		s.LastDuration = duration
	})

	p.logger.Debug("Playback completed",
		slog.Duration("duration", duration),
		slog.String("content_type", speech.ContentType),
	)
	return nil
}

// Stop halts the current playback and waits for it to release the sink.
// Safe to call when nothing is playing.
func (p *Player) Stop() {
	p.mu.Lock()
	cur := p.current
	p.mu.Unlock()

	if cur == nil {
		return
	}
	cur.stop()
	<-cur.done
}

// Playing reports whether a clip is being played
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

// Stats returns player statistics
func (p *Player) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := p.stats
	stats.Playing = p.current != nil
	return stats
}

func (p *Player) record(update func(*Stats)) {
	p.mu.Lock()
	update(&p.stats)
	p.mu.Unlock()
}

// Decode converts speech into mono PCM at sampleRate. An empty content type is
// resolved by sniffing the payload.
func Decode(speech audio.Speech, sampleRate int) ([]int16, error) {
	if len(speech.Audio) == 0 {
		return nil, fmt.Errorf("empty speech payload: %w", ErrUnsupportedFormat)
	}

	var (
		pcm audio.PCM
		err error
	)
	switch format(speech) {
	case audio.ContentTypeWAV:
		pcm, err = audio.DecodeWAV(speech.Audio)
	case audio.ContentTypeMPEG:
		pcm, err = audio.DecodeMP3(speech.Audio)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, speech.ContentType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode speech: %w", err)
	}

	return audio.Normalize(pcm, sampleRate), nil
}

func format(speech audio.Speech) string {
	contentType := strings.ToLower(strings.TrimSpace(speech.ContentType))
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}

	switch contentType {
	case "audio/wav", "audio/wave", "audio/x-wav", "audio/vnd.wave":
		return audio.ContentTypeWAV
	case "audio/mpeg", "audio/mp3", "audio/mpeg3", "audio/x-mpeg-3":
		return audio.ContentTypeMPEG
	case "", "application/octet-stream":
		return sniff(speech.Audio)
	}
	return contentType
}

func sniff(data []byte) string {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return audio.ContentTypeWAV
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return audio.ContentTypeMPEG
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return audio.ContentTypeMPEG
	}
	return ""
}

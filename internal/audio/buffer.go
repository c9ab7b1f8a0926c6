package audio

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrBufferFull is returned when a frame would exceed the buffer's capacity.
// The frame is dropped and counted.
var ErrBufferFull = errors.New("audio buffer full")

// Frame is one sequenced chunk of 16-bit little-endian mono PCM
type Frame struct {
	Sequence uint32
	Data     []byte
}

// Buffer accumulates capture frames in sequence order. Out-of-order frames are
// held until the gap closes or grows beyond maxGap, at which point the missing
// sequences are counted as lost.
type Buffer struct {
	sampleRate int
	maxBytes   int

	data    []byte
	pending map[uint32][]byte

	started     bool
	expectedSeq uint32
	lastSeq     uint32
	maxGap      uint32

	totalFrames     uint32
	lostFrames      uint32
	droppedFrames   uint32
	duplicateFrames uint32
	lastUpdate      time.Time

	mu sync.RWMutex
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	TotalFrames     uint32  `json:"total_frames"`
	LostFrames      uint32  `json:"lost_frames"`
	DroppedFrames   uint32  `json:"dropped_frames"`
	DuplicateFrames uint32  `json:"duplicate_frames"`
	LossRate        float64 `json:"loss_rate"`
	Samples         int     `json:"samples"`
	PendingFrames   int     `json:"pending_frames"`
	LastSequence    uint32  `json:"last_sequence"`
}

// NewBuffer creates a buffer holding at most maxDuration of audio at sampleRate
func NewBuffer(sampleRate int, maxDuration time.Duration) *Buffer {
	maxBytes := int(maxDuration.Seconds() * float64(sampleRate) * 2)
	return &Buffer{
		sampleRate: sampleRate,
		maxBytes:   maxBytes,
		data:       make([]byte, 0, sampleRate*4), // two seconds up front
		pending:    make(map[uint32][]byte),
		maxGap:     20,
		lastUpdate: time.Now(),
	}
}

// Add stores a frame, reordering it against frames already received
func (b *Buffer) Add(frame Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(frame.Data)%2 != 0 {
		return fmt.Errorf("audio data length must be even (got %d bytes)", len(frame.Data))
	}

	b.totalFrames++
	b.lastUpdate = time.Now()

	if b.held()+len(frame.Data) > b.maxBytes {
		b.droppedFrames++
		return ErrBufferFull
	}

	if !b.started {
		b.started = true
		b.expectedSeq = frame.Sequence
		b.lastSeq = frame.Sequence - 1
	}

	switch {
	case frame.Sequence == b.expectedSeq:
		b.appendFrame(frame.Sequence, frame.Data)
		b.drainPending()

	case frame.Sequence > b.expectedSeq:
		if _, dup := b.pending[frame.Sequence]; dup {
			b.duplicateFrames++
			return nil
		}
		b.pending[frame.Sequence] = append([]byte(nil), frame.Data...)
		if frame.Sequence-b.expectedSeq > b.maxGap {
			b.skipToPending()
		}

	default:
		b.duplicateFrames++
		return fmt.Errorf("ignoring old/duplicate frame: seq=%d, lastSeq=%d", frame.Sequence, b.lastSeq)
	}

	return nil
}

// held returns the bytes stored in order plus the bytes waiting for reordering
func (b *Buffer) held() int {
	n := len(b.data)
	for _, d := range b.pending {
		n += len(d)
	}
	return n
}

func (b *Buffer) appendFrame(seq uint32, data []byte) {
	b.data = append(b.data, data...)
	b.lastSeq = seq
	b.expectedSeq = seq + 1
}

// drainPending appends any consecutive frames that were waiting
func (b *Buffer) drainPending() {
	for {
		data, ok := b.pending[b.expectedSeq]
		if !ok {
			return
		}
		delete(b.pending, b.expectedSeq)
		b.appendFrame(b.expectedSeq, data)
	}
}

// skipToPending gives up on the current gap, counting it as lost
func (b *Buffer) skipToPending() {
	if len(b.pending) == 0 {
		return
	}
	next := b.sortedPending()[0]
	b.lostFrames += next - b.expectedSeq
	b.expectedSeq = next
	b.drainPending()
}

func (b *Buffer) sortedPending() []uint32 {
	seqs := make([]uint32, 0, len(b.pending))
	for seq := range b.pending {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}

// Flush appends all waiting frames in sequence order, counting remaining gaps as lost.
// It is called once when a capture is finalized.
func (b *Buffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.pending) > 0 {
		b.skipToPending()
	}
}

// Samples returns a copy of the ordered audio as PCM samples
func (b *Buffer) Samples() []int16 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BytesToSamples(b.data)
}

// Duration returns the length of the ordered audio
func (b *Buffer) Duration() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.data)/2) * time.Second / time.Duration(b.sampleRate)
}

// Size returns the number of ordered samples
func (b *Buffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data) / 2
}

// LastUpdate returns the time the last frame arrived
func (b *Buffer) LastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}

// Reset discards all audio and statistics
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = b.data[:0]
	b.pending = make(map[uint32][]byte)
	b.started = false
	b.expectedSeq = 0
	b.lastSeq = 0
	b.totalFrames = 0
	b.lostFrames = 0
	b.droppedFrames = 0
	b.duplicateFrames = 0
}

// Stats returns current buffer statistics
func (b *Buffer) Stats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	lossRate := float64(0)
	if b.totalFrames > 0 {
		lossRate = float64(b.lostFrames) / float64(b.totalFrames) * 100
	}

	return BufferStats{
		TotalFrames:     b.totalFrames,
		LostFrames:      b.lostFrames,
		DroppedFrames:   b.droppedFrames,
		DuplicateFrames: b.duplicateFrames,
		LossRate:        lossRate,
		Samples:         len(b.data) / 2,
		PendingFrames:   len(b.pending),
		LastSequence:    b.lastSeq,
	}
}

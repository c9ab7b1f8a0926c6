package vad

import (
	"fmt"
	"math"
	"time"
)

// Analyzer detects voice activity from RMS energy over overlapping windows
type Analyzer struct {
	threshold   float32
	windowSize  int // samples per window (512 = 64ms at 8kHz)
	overlapSize int // 50% overlap
	sampleRate  int
	smoothing   float32
}

// Segment is a continuous voiced region, as offsets from the start of the clip
type Segment struct {
	Start      time.Duration `json:"start"`
	End        time.Duration `json:"end"`
	Confidence float32       `json:"confidence"`
}

// Result summarizes voice activity in one clip
type Result struct {
	Windows      int       `json:"windows"`
	VoiceWindows int       `json:"voice_windows"`
	VoiceRatio   float64   `json:"voice_ratio"`
	Segments     []Segment `json:"segments,omitempty"`
}

// HasVoice reports whether any window crossed the threshold
func (r Result) HasVoice() bool {
	return r.VoiceWindows > 0
}

// NewAnalyzer creates a voice activity analyzer
func NewAnalyzer(threshold float32, windowSize int, sampleRate int) (*Analyzer, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	return &Analyzer{
		threshold:   threshold,
		windowSize:  windowSize,
		overlapSize: windowSize / 2,
		sampleRate:  sampleRate,
		smoothing:   0.5,
	}, nil
}

// Analyze scans the samples and returns the voiced fraction and segments.
// Clips shorter than one window are analyzed as a single window.
func (a *Analyzer) Analyze(samples []int16) Result {
	var result Result
	if len(samples) == 0 {
		return result
	}

	step := a.windowSize - a.overlapSize
	var (
		smoothed   float32
		current    *Segment
		confSum    float32
		confWindow int
	)

	for start := 0; start == 0 || start+a.windowSize <= len(samples); start += step {
		end := start + a.windowSize
		if end > len(samples) {
			end = len(samples)
		}

		probability := energy(samples[start:end])
		if result.Windows == 0 {
			smoothed = probability
		} else {
			smoothed = a.smoothing*probability + (1-a.smoothing)*smoothed
		}
		result.Windows++

		offset := a.offset(start)
		if smoothed >= a.threshold {
			result.VoiceWindows++
			confidence := a.confidence(smoothed)
			if current == nil {
				current = &Segment{Start: offset}
				confSum, confWindow = 0, 0
			}
			confSum += confidence
			confWindow++
			current.End = a.offset(end)
			current.Confidence = confSum / float32(confWindow)
		} else if current != nil {
			result.Segments = append(result.Segments, *current)
			current = nil
		}
	}

	if current != nil {
		result.Segments = append(result.Segments, *current)
	}

	result.VoiceRatio = float64(result.VoiceWindows) / float64(result.Windows)
	return result
}

// confidence is higher the further the probability sits from the threshold
func (a *Analyzer) confidence(probability float32) float32 {
	c := float32(math.Abs(float64(probability - a.threshold)))
	if c > 0.5 {
		c = 0.5
	}
	return c * 2
}

func (a *Analyzer) offset(sample int) time.Duration {
	return time.Duration(sample) * time.Second / time.Duration(a.sampleRate)
}

// energy maps window RMS to 0-1, saturating around speech level
func energy(samples []int16) float32 {
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))

	normalized := rms / 10000.0
	if normalized > 1 {
		normalized = 1
	}
	return float32(normalized)
}

// Threshold returns the voice detection threshold
func (a *Analyzer) Threshold() float32 {
	return a.threshold
}

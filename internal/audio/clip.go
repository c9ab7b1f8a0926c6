package audio

import "time"

// Content types understood by the capture and playback paths
const (
	ContentTypeWAV  = "audio/wav"
	ContentTypeMPEG = "audio/mpeg"
)

// Clip is one finished recording. It is handed over whole: the producer keeps
// no reference once the clip is returned.
type Clip struct {
	Data        []byte        `json:"-"`
	ContentType string        `json:"content_type"`
	SampleRate  int           `json:"sample_rate"`
	Duration    time.Duration `json:"duration"`
	Frames      int           `json:"frames"`
	VoiceRatio  float64       `json:"voice_ratio"`
}

// Speech is synthesized audio for one assistant turn
type Speech struct {
	Audio       []byte `json:"-"`
	ContentType string `json:"content_type"`
	URL         string `json:"url,omitempty"`
}

package audio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// DecodeMP3 decodes an MP3 stream into 16-bit PCM. go-mp3 always yields
// interleaved stereo at the stream's sample rate.
func DecodeMP3(data []byte) (PCM, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return PCM{}, fmt.Errorf("failed to open MP3 stream: %w", err)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return PCM{}, fmt.Errorf("failed to decode MP3 stream: %w", err)
	}
	if len(raw)%4 != 0 {
		return PCM{}, fmt.Errorf("unexpected decoded MP3 length %d", len(raw))
	}
	if len(raw) == 0 {
		return PCM{}, fmt.Errorf("no audio data found")
	}

	return PCM{Samples: BytesToSamples(raw), SampleRate: dec.SampleRate(), Channels: 2}, nil
}

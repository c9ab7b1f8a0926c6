package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// wavHeader is the canonical 44-byte header written for 16-bit PCM
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

// PCM is decoded audio: interleaved 16-bit samples with their layout
type PCM struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Duration returns the playing time of the audio
func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return 0
	}
	frames := len(p.Samples) / p.Channels
	return time.Duration(frames) * time.Second / time.Duration(p.SampleRate)
}

// EncodeWAV encodes mono PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	dataSize := uint32(len(samples) * 2)
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   wavFormatPCM,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeWAV decodes a RIFF/WAVE file into 16-bit samples. It walks the chunk list,
// so files with LIST or fact chunks from speech providers are accepted, and it
// converts 24/32-bit integer and 32-bit float data down to 16 bits.
func DecodeWAV(data []byte) (PCM, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return PCM{}, fmt.Errorf("invalid WAV file: missing RIFF/WAVE header")
	}

	var (
		format, channels, bits uint16
		sampleRate             uint32
		payload                []byte
		gotFmt, gotData        bool
	)

	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		pos += 8
		if size < 0 || pos+size > len(data) {
			return PCM{}, fmt.Errorf("invalid WAV file: truncated %q chunk", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return PCM{}, fmt.Errorf("invalid WAV file: fmt chunk too small (%d bytes)", size)
			}
			format = binary.LittleEndian.Uint16(data[pos : pos+2])
			channels = binary.LittleEndian.Uint16(data[pos+2 : pos+4])
			sampleRate = binary.LittleEndian.Uint32(data[pos+4 : pos+8])
			bits = binary.LittleEndian.Uint16(data[pos+14 : pos+16])
			if format == wavFormatExtensible && size >= 40 {
				format = binary.LittleEndian.Uint16(data[pos+24 : pos+26])
			}
			gotFmt = true
		case "data":
			if !gotData {
				payload = data[pos : pos+size]
				gotData = true
			}
		}

		pos += size
		if pos%2 == 1 {
			pos++
		}
	}

	if !gotFmt {
		return PCM{}, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if !gotData {
		return PCM{}, fmt.Errorf("invalid WAV file: missing data chunk")
	}
	if channels == 0 || sampleRate == 0 {
		return PCM{}, fmt.Errorf("invalid WAV file: %d channels at %d Hz", channels, sampleRate)
	}

	samples, err := decodeSamples(payload, format, bits)
	if err != nil {
		return PCM{}, err
	}
	if len(samples) == 0 {
		return PCM{}, fmt.Errorf("no audio data found")
	}

	return PCM{Samples: samples, SampleRate: int(sampleRate), Channels: int(channels)}, nil
}

func decodeSamples(data []byte, format, bits uint16) ([]int16, error) {
	switch {
	case format == wavFormatPCM && bits == 16:
		return BytesToSamples(data), nil

	case format == wavFormatPCM && bits == 24:
		out := make([]int16, len(data)/3)
		for i := range out {
			v := int32(data[i*3]) | int32(data[i*3+1])<<8 | int32(data[i*3+2])<<16
			if v&0x800000 != 0 {
				v |= ^0xFFFFFF
			}
			out[i] = int16(v >> 8)
		}
		return out, nil

	case format == wavFormatPCM && bits == 32:
		out := make([]int16, len(data)/4)
		for i := range out {
			out[i] = int16(int32(binary.LittleEndian.Uint32(data[i*4:])) >> 16)
		}
		return out, nil

	case format == wavFormatFloat && bits == 32:
		out := make([]int16, len(data)/4)
		for i := range out {
			f := math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
			if f > 1 {
				f = 1
			} else if f < -1 {
				f = -1
			}
			out[i] = int16(f * math.MaxInt16)
		}
		return out, nil
	}

	return nil, fmt.Errorf("unsupported WAV encoding: format=%d, bits=%d", format, bits)
}

// WAVInfo is basic metadata about a WAV file
type WAVInfo struct {
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"`
	Duration   time.Duration `json:"duration"`
	NumSamples int           `json:"num_samples"`
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	pcm, err := DecodeWAV(data)
	if err != nil {
		return nil, err
	}

	return &WAVInfo{
		SampleRate: pcm.SampleRate,
		Channels:   pcm.Channels,
		Duration:   pcm.Duration(),
		NumSamples: len(pcm.Samples) / pcm.Channels,
	}, nil
}

// BytesToSamples converts little-endian 16-bit PCM bytes to samples.
// A trailing odd byte is ignored.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// SamplesToBytes converts samples to little-endian 16-bit PCM bytes
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

package audio

import (
	"math"
)

// ToMono averages interleaved channels into a single channel
func ToMono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}

	out := make([]int16, len(samples)/channels)
	for i := range out {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			sum += int(samples[i*channels+ch])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// Resample converts mono samples between rates with linear interpolation
func Resample(in []int16, inRate, outRate int) []int16 {
	if inRate == outRate || len(in) == 0 || inRate <= 0 || outRate <= 0 {
		return append([]int16(nil), in...)
	}

	ratio := float64(outRate) / float64(inRate)
	outLen := int(math.Round(float64(len(in)) * ratio))
	out := make([]int16, outLen)
	last := len(in) - 1

	for i := range out {
		pos := float64(i) / ratio
		i0 := int(pos)
		if i0 > last {
			i0 = last
		}
		i1 := i0 + 1
		if i1 > last {
			i1 = last
		}
		f := pos - float64(i0)
		v := float64(in[i0])*(1-f) + float64(in[i1])*f
		out[i] = int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, v)))
	}
	return out
}

// Normalize converts decoded audio to mono PCM at the target rate
func Normalize(pcm PCM, targetRate int) []int16 {
	return Resample(ToMono(pcm.Samples, pcm.Channels), pcm.SampleRate, targetRate)
}

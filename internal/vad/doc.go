// Package vad provides energy-based voice activity analysis of finished clips.
// It slides a fixed window over PCM samples, applies light smoothing, and reports
// the voiced fraction and voiced segments of the clip.
package vad

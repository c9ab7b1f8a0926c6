// Package audio handles PCM frame buffering and audio format conversion.
// It accumulates sequenced capture frames with reordering, encodes and decodes
// 16-bit WAV, decodes MP3 speech, and converts channel layout and sample rate.
// Clip and Speech are the recorded and synthesized payloads passed between
// capture, the conversational backend, and playback.
package audio

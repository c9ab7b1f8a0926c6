// Package media implements the UDP media endpoint of a call leg.
// It speaks the TLV framing of the protocol package: received RX audio packets feed
// the open capture stream, and synthesized speech is paced out as TX audio packets.
package media

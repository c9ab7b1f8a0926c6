package protocol

import (
	"encoding/binary"
	"fmt"
)

// Packet types and directions
const (
	PacketTypeSignaling = 0x01
	PacketTypeAudio     = 0x02

	DirectionRX = 0x01 // Debtor to service (captured audio)
	DirectionTX = 0x02 // Service to debtor (played audio)

	HeaderSize             = 8 // [Type:1][Len:2][StreamID:4][Direction:1]
	SignalingPayloadSize   = 164
	AudioPayloadHeaderSize = 4 // Sequence number

	// MaxPacketSize is bounded by the 16-bit length field
	MaxPacketSize = 0xFFFF

	channelIDSize = 64
	extensionSize = 32
	callerIDSize  = 32
	calledIDSize  = 32
)

// Header is the fixed packet header shared by both packet types
type Header struct {
	PacketType uint8
	PacketLen  uint16
	StreamID   uint32
	Direction  uint8
}

// CallLeg describes the telephony leg a media stream belongs to.
// It is carried by signaling packets and only used for logging and peer tracking.
type CallLeg struct {
	ChannelID string `json:"channel_id"`
	Extension string `json:"extension"`
	CallerID  string `json:"caller_id"`
	CalledID  string `json:"called_id"`
	Timestamp uint32 `json:"timestamp"`
}

// AudioPayload is a sequenced chunk of 16-bit little-endian PCM
type AudioPayload struct {
	Sequence  uint32
	AudioData []byte
}

// Packet is a parsed TLV packet; exactly one of Leg or Audio is set
type Packet struct {
	Header Header
	Leg    *CallLeg
	Audio  *AudioPayload
}

// ParseHeader parses the 8-byte packet header
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	return Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		StreamID:   binary.BigEndian.Uint32(data[3:7]),
		Direction:  data[7],
	}, nil
}

// ParsePacket parses a complete packet and validates its declared length
func ParsePacket(data []byte) (*Packet, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := header.Validate(); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &Packet{Header: header}
	payload := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeSignaling:
		packet.Leg = parseCallLeg(payload)
	case PacketTypeAudio:
		audio := &AudioPayload{Sequence: binary.BigEndian.Uint32(payload[0:4])}
		if len(payload) > AudioPayloadHeaderSize {
			audio.AudioData = make([]byte, len(payload)-AudioPayloadHeaderSize)
			copy(audio.AudioData, payload[AudioPayloadHeaderSize:])
		}
		packet.Audio = audio
	}

	return packet, nil
}

func parseCallLeg(payload []byte) *CallLeg {
	off := 0
	field := func(size int) string {
		s := trimNull(payload[off : off+size])
		off += size
		return s
	}

	leg := &CallLeg{
		ChannelID: field(channelIDSize),
		Extension: field(extensionSize),
		CallerID:  field(callerIDSize),
		CalledID:  field(calledIDSize),
	}
	leg.Timestamp = binary.BigEndian.Uint32(payload[off : off+4])
	return leg
}

// Validate checks the header fields against the packet type
func (h Header) Validate() error {
	if h.PacketType != PacketTypeSignaling && h.PacketType != PacketTypeAudio {
		return fmt.Errorf("invalid packet type: 0x%02x", h.PacketType)
	}

	if h.Direction != DirectionRX && h.Direction != DirectionTX {
		return fmt.Errorf("invalid direction: 0x%02x", h.Direction)
	}

	payloadSize := int(h.PacketLen) - HeaderSize
	switch h.PacketType {
	case PacketTypeSignaling:
		if payloadSize != SignalingPayloadSize {
			return fmt.Errorf("signaling payload size mismatch: expected %d, got %d",
				SignalingPayloadSize, payloadSize)
		}
	case PacketTypeAudio:
		if payloadSize < AudioPayloadHeaderSize {
			return fmt.Errorf("audio payload too small: expected at least %d, got %d",
				AudioPayloadHeaderSize, payloadSize)
		}
	}

	return nil
}

// BuildAudioPacket encodes an audio packet for the given stream and direction
func BuildAudioPacket(streamID uint32, direction uint8, sequence uint32, pcm []byte) ([]byte, error) {
	total := HeaderSize + AudioPayloadHeaderSize + len(pcm)
	if total > MaxPacketSize {
		return nil, fmt.Errorf("audio packet too large: %d bytes (max %d)", total, MaxPacketSize)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio data length must be even (got %d bytes)", len(pcm))
	}

	buf := make([]byte, total)
	putHeader(buf, PacketTypeAudio, uint16(total), streamID, direction)
	binary.BigEndian.PutUint32(buf[HeaderSize:], sequence)
	copy(buf[HeaderSize+AudioPayloadHeaderSize:], pcm)
	return buf, nil
}

// BuildSignalingPacket encodes a call leg announcement. Strings longer than their
// field are truncated.
func BuildSignalingPacket(streamID uint32, direction uint8, leg CallLeg) []byte {
	total := HeaderSize + SignalingPayloadSize
	buf := make([]byte, total)
	putHeader(buf, PacketTypeSignaling, uint16(total), streamID, direction)

	off := HeaderSize
	for _, f := range []struct {
		value string
		size  int
	}{
		{leg.ChannelID, channelIDSize},
		{leg.Extension, extensionSize},
		{leg.CallerID, callerIDSize},
		{leg.CalledID, calledIDSize},
	} {
		copy(buf[off:off+f.size-1], f.value) // keep a terminating NUL
		off += f.size
	}
	binary.BigEndian.PutUint32(buf[off:], leg.Timestamp)
	return buf
}

func putHeader(buf []byte, packetType uint8, length uint16, streamID uint32, direction uint8) {
	buf[0] = packetType
	binary.BigEndian.PutUint16(buf[1:3], length)
	binary.BigEndian.PutUint32(buf[3:7], streamID)
	buf[7] = direction
}

// trimNull returns the string up to the first NUL byte
func trimNull(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

// DirectionString returns a human-readable direction name
func DirectionString(direction uint8) string {
	switch direction {
	case DirectionRX:
		return "RX"
	case DirectionTX:
		return "TX"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", direction)
	}
}

// String returns a human-readable representation of the header
func (h Header) String() string {
	packetType := "Signaling"
	switch h.PacketType {
	case PacketTypeSignaling:
	case PacketTypeAudio:
		packetType = "Audio"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, StreamID:%d, Direction:%s}",
		packetType, h.PacketLen, h.StreamID, DirectionString(h.Direction))
}

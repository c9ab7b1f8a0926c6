package protocol

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expected    Header
		expectError bool
	}{
		{
			name: "valid audio header",
			data: []byte{
				0x02,       // Audio
				0x01, 0x00, // Len: 256
				0x12, 0x34, 0x56, 0x78, // StreamID
				0x02, // TX
			},
			expected: Header{PacketType: PacketTypeAudio, PacketLen: 256, StreamID: 0x12345678, Direction: DirectionTX},
		},
		{
			name:        "header too short",
			data:        []byte{0x01, 0x00},
			expectError: true,
		},
		{
			name:        "empty data",
			data:        nil,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header, err := ParseHeader(tt.data)
			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if header != tt.expected {
				t.Errorf("Expected header %+v, got %+v", tt.expected, header)
			}
		})
	}
}

func TestAudioPacketRoundTrip(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}

	data, err := BuildAudioPacket(42, DirectionRX, 7, pcm)
	if err != nil {
		t.Fatalf("BuildAudioPacket failed: %v", err)
	}

	if len(data) != HeaderSize+AudioPayloadHeaderSize+len(pcm) {
		t.Fatalf("Unexpected packet size %d", len(data))
	}

	packet, err := ParsePacket(data)
	if err != nil {
		t.Fatalf("ParsePacket failed: %v", err)
	}

	if packet.Audio == nil {
		t.Fatal("Expected audio payload")
	}
	if packet.Leg != nil {
		t.Error("Audio packet must not carry a call leg")
	}
	if packet.Header.StreamID != 42 || packet.Header.Direction != DirectionRX {
		t.Errorf("Unexpected header %s", packet.Header)
	}
	if packet.Audio.Sequence != 7 {
		t.Errorf("Expected sequence 7, got %d", packet.Audio.Sequence)
	}
	if !bytes.Equal(packet.Audio.AudioData, pcm) {
		t.Errorf("Expected audio %v, got %v", pcm, packet.Audio.AudioData)
	}
}

func TestBuildAudioPacketRejectsInvalidData(t *testing.T) {
	if _, err := BuildAudioPacket(1, DirectionTX, 0, []byte{0x01}); err == nil {
		t.Error("Expected error for odd-length PCM")
	}

	if _, err := BuildAudioPacket(1, DirectionTX, 0, make([]byte, MaxPacketSize)); err == nil {
		t.Error("Expected error for oversized packet")
	}
}

func TestSignalingPacketRoundTrip(t *testing.T) {
	leg := CallLeg{
		ChannelID: "SIP/1001-00000001",
		Extension: "1001",
		CallerID:  "reminder-bot",
		CalledID:  "+919800000001",
		Timestamp: 1701234567,
	}

	packet, err := ParsePacket(BuildSignalingPacket(9, DirectionRX, leg))
	if err != nil {
		t.Fatalf("ParsePacket failed: %v", err)
	}

	if packet.Leg == nil {
		t.Fatal("Expected call leg")
	}
	if *packet.Leg != leg {
		t.Errorf("Expected leg %+v, got %+v", leg, *packet.Leg)
	}
}

func TestSignalingPacketTruncatesLongFields(t *testing.T) {
	leg := CallLeg{CallerID: strings.Repeat("x", 100)}

	packet, err := ParsePacket(BuildSignalingPacket(1, DirectionRX, leg))
	if err != nil {
		t.Fatalf("ParsePacket failed: %v", err)
	}

	if len(packet.Leg.CallerID) != callerIDSize-1 {
		t.Errorf("Expected caller ID truncated to %d bytes, got %d", callerIDSize-1, len(packet.Leg.CallerID))
	}
}

func TestParsePacketErrors(t *testing.T) {
	valid, _ := BuildAudioPacket(1, DirectionRX, 1, []byte{0, 0})

	lengthMismatch := append([]byte{}, valid...)
	lengthMismatch = append(lengthMismatch, 0x00)

	badType := append([]byte{}, valid...)
	badType[0] = 0x09

	badDirection := append([]byte{}, valid...)
	badDirection[7] = 0x05

	shortSignaling := []byte{PacketTypeSignaling, 0x00, 0x0A, 0, 0, 0, 1, DirectionRX, 0, 0}

	tests := []struct {
		name     string
		data     []byte
		errorMsg string
	}{
		{"too short", []byte{0x02}, "header too short"},
		{"length mismatch", lengthMismatch, "length mismatch"},
		{"bad type", badType, "invalid packet type"},
		{"bad direction", badDirection, "invalid direction"},
		{"short signaling", shortSignaling, "signaling payload size mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePacket(tt.data)
			if err == nil {
				t.Fatal("Expected error but got none")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error to contain %q, got %q", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestDirectionString(t *testing.T) {
	if DirectionString(DirectionRX) != "RX" || DirectionString(DirectionTX) != "TX" {
		t.Error("Unexpected direction names")
	}
	if DirectionString(0x09) != "Unknown(0x09)" {
		t.Errorf("Unexpected unknown direction name %q", DirectionString(0x09))
	}
}

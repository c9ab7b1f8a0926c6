package media

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/skypro1111/voice-reminder-service/internal/capture"
	"github.com/skypro1111/voice-reminder-service/internal/config"
	"github.com/skypro1111/voice-reminder-service/internal/playback"
	"github.com/skypro1111/voice-reminder-service/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.MediaConfig {
	return &config.MediaConfig{
		Enabled:         true,
		BindAddress:     "127.0.0.1",
		UDPPort:         0, // ephemeral
		BufferSize:      65536,
		StreamID:        5,
		CaptureEnabled:  true,
		FrameDurationMs: 20,
	}
}

func startEndpoint(t *testing.T, cfg *config.MediaConfig) (*Endpoint, *net.UDPConn) {
	t.Helper()

	endpoint := NewEndpoint(cfg, 8000, testLogger(), nil)
	if err := endpoint.Start(); err != nil {
		t.Fatalf("Failed to start endpoint: %v", err)
	}
	t.Cleanup(func() { endpoint.Stop() })

	client, err := net.DialUDP("udp", nil, endpoint.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("Failed to dial endpoint: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return endpoint, client
}

func sendAudio(t *testing.T, client *net.UDPConn, direction uint8, seq uint32) {
	t.Helper()
	packet, err := protocol.BuildAudioPacket(5, direction, seq, make([]byte, 320))
	if err != nil {
		t.Fatalf("BuildAudioPacket failed: %v", err)
	}
	if _, err := client.Write(packet); err != nil {
		t.Fatalf("Failed to send packet: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met in time")
}

func TestCaptureReceivesRXAudio(t *testing.T) {
	endpoint, client := startEndpoint(t, testConfig())

	stream, err := endpoint.Open(context.Background())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer stream.Close()

	sendAudio(t, client, protocol.DirectionTX, 1) // ignored: wrong direction
	sendAudio(t, client, protocol.DirectionRX, 2)

	select {
	case frame := <-stream.Frames():
		if frame.Sequence != 2 || len(frame.Data) != 320 {
			t.Errorf("Unexpected frame seq=%d len=%d", frame.Sequence, len(frame.Data))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for frame")
	}

	stats := endpoint.Statistics()
	if stats.FramesCaptured != 1 || stats.FramesIgnored != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestAudioWithoutCaptureIsIgnored(t *testing.T) {
	endpoint, client := startEndpoint(t, testConfig())

	sendAudio(t, client, protocol.DirectionRX, 1)

	waitFor(t, func() bool { return endpoint.Statistics().FramesIgnored == 1 })
	if endpoint.Statistics().Peer == "" {
		t.Error("Expected peer to be recorded")
	}
}

func TestOpenRules(t *testing.T) {
	cfg := testConfig()
	cfg.CaptureEnabled = false
	denied := NewEndpoint(cfg, 8000, testLogger(), nil)

	if _, err := denied.Open(context.Background()); !errors.Is(err, capture.ErrDenied) {
		t.Errorf("Expected ErrDenied, got %v", err)
	}

	endpoint := NewEndpoint(testConfig(), 8000, testLogger(), nil)
	stream, err := endpoint.Open(context.Background())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := endpoint.Open(context.Background()); !errors.Is(err, capture.ErrAlreadyActive) {
		t.Errorf("Expected ErrAlreadyActive, got %v", err)
	}

	stream.Close()
	stream.Close() // idempotent
	if _, ok := <-stream.Frames(); ok {
		t.Error("Expected frames channel closed")
	}

	reopened, err := endpoint.Open(context.Background())
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	reopened.Close()
}

func TestSignalingRecordsCallLeg(t *testing.T) {
	endpoint, client := startEndpoint(t, testConfig())

	leg := protocol.CallLeg{ChannelID: "SIP/100-1", CallerID: "reminder", CalledID: "+919800000001"}
	if _, err := client.Write(protocol.BuildSignalingPacket(5, protocol.DirectionRX, leg)); err != nil {
		t.Fatalf("Failed to send packet: %v", err)
	}

	waitFor(t, func() bool { return endpoint.Statistics().CallLeg != nil })
	if got := *endpoint.Statistics().CallLeg; got != leg {
		t.Errorf("Expected leg %+v, got %+v", leg, got)
	}
}

func TestParseErrorsCounted(t *testing.T) {
	endpoint, client := startEndpoint(t, testConfig())

	if _, err := client.Write([]byte{0x01, 0x02}); err != nil {
		t.Fatalf("Failed to send packet: %v", err)
	}

	waitFor(t, func() bool { return endpoint.Statistics().ParseErrors == 1 })
}

func TestPlaySendsPacedFrames(t *testing.T) {
	endpoint, client := startEndpoint(t, testConfig())

	// make the client the peer
	sendAudio(t, client, protocol.DirectionRX, 1)
	waitFor(t, func() bool { return endpoint.Statistics().Peer != "" })

	pcm := make([]int16, 400) // 50ms: three 20ms frames
	started := time.Now()
	if err := endpoint.Play(context.Background(), pcm, 8000); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if elapsed := time.Since(started); elapsed < 50*time.Millisecond {
		t.Errorf("Expected real-time pacing, finished in %v", elapsed)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	for i := 1; i <= 3; i++ {
		n, err := client.Read(buf)
		if err != nil {
			t.Fatalf("Failed to read packet %d: %v", i, err)
		}
		packet, err := protocol.ParsePacket(buf[:n])
		if err != nil {
			t.Fatalf("Invalid packet: %v", err)
		}
		if packet.Header.Direction != protocol.DirectionTX || packet.Header.StreamID != 5 {
			t.Errorf("Unexpected header %s", packet.Header)
		}
		if packet.Audio.Sequence != uint32(i) || len(packet.Audio.AudioData) != 320 {
			t.Errorf("Unexpected frame seq=%d len=%d", packet.Audio.Sequence, len(packet.Audio.AudioData))
		}
	}

	if stats := endpoint.Statistics(); stats.PacketsSent != 3 {
		t.Errorf("Expected 3 packets sent, got %d", stats.PacketsSent)
	}
}

func TestPlayStopsOnCancel(t *testing.T) {
	endpoint, client := startEndpoint(t, testConfig())
	sendAudio(t, client, protocol.DirectionRX, 1)
	waitFor(t, func() bool { return endpoint.Statistics().Peer != "" })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := endpoint.Play(ctx, make([]int16, 8000), 8000) // one second
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestPlayWithoutPeer(t *testing.T) {
	endpoint, _ := startEndpoint(t, testConfig())

	if err := endpoint.Play(context.Background(), make([]int16, 160), 8000); !errors.Is(err, ErrNoPeer) {
		t.Errorf("Expected ErrNoPeer, got %v", err)
	}
}

func TestFrames(t *testing.T) {
	frames := Frames(make([]int16, 330), 8000, 20*time.Millisecond)
	if len(frames) != 3 {
		t.Fatalf("Expected 3 frames, got %d", len(frames))
	}
	for _, f := range frames {
		if len(f) != 160 {
			t.Errorf("Expected 160-sample frames, got %d", len(f))
		}
	}

	if Frames(nil, 8000, 20*time.Millisecond) != nil {
		t.Error("Expected no frames for empty PCM")
	}
}

var (
	_ capture.Device = (*Endpoint)(nil)
	_ playback.Sink  = (*Endpoint)(nil)
)

func TestFrameDataIsCopied(t *testing.T) {
	pcm := []int16{1, 2, 3}
	frames := Frames(pcm, 8000, 20*time.Millisecond)
	pcm[0] = 99
	if frames[0][0] != 1 {
		t.Error("Frames must not alias the input")
	}
}

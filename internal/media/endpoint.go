package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/skypro1111/voice-reminder-service/internal/audio"
	"github.com/skypro1111/voice-reminder-service/internal/capture"
	"github.com/skypro1111/voice-reminder-service/internal/config"
	"github.com/skypro1111/voice-reminder-service/internal/protocol"
)

// ErrNoPeer is returned by Play when there is nowhere to send audio
var ErrNoPeer = errors.New("no media peer to send audio to")

// Recorder receives media counters
type Recorder interface {
	RecordPacketReceived()
	RecordPacketSent()
	RecordParseError()
}

type nopRecorder struct{}

func (nopRecorder) RecordPacketReceived() {}
func (nopRecorder) RecordPacketSent()     {}
func (nopRecorder) RecordParseError()     {}

// Endpoint is the UDP side of the call. Inbound RX audio becomes capture frames;
// playback is framed as TX audio packets and paced in real time.
type Endpoint struct {
	conn       *net.UDPConn
	config     *config.MediaConfig
	sampleRate int
	logger     *slog.Logger
	recorder   Recorder

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Packet processing
	packetChan chan *incomingPacket

	remote  *net.UDPAddr // configured destination, overrides peer
	peer    *net.UDPAddr // last sender seen
	leg     *protocol.CallLeg
	capture *captureStream
	txSeq   uint32

	stats Statistics
	mu    sync.RWMutex
}

// incomingPacket represents a received UDP packet with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// Statistics represents media endpoint counters
type Statistics struct {
	PacketsReceived  uint64            `json:"packets_received"`
	PacketsProcessed uint64            `json:"packets_processed"`
	PacketsSent      uint64            `json:"packets_sent"`
	ParseErrors      uint64            `json:"parse_errors"`
	FramesCaptured   uint64            `json:"frames_captured"`
	FramesIgnored    uint64            `json:"frames_ignored"`
	QueueSize        uint64            `json:"queue_size"`
	QueueCapacity    uint64            `json:"queue_capacity"`
	Peer             string            `json:"peer,omitempty"`
	CallLeg          *protocol.CallLeg `json:"call_leg,omitempty"`
}

// NewEndpoint creates a media endpoint. Start must be called before use.
func NewEndpoint(cfg *config.MediaConfig, sampleRate int, logger *slog.Logger, recorder Recorder) *Endpoint {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Endpoint{
		config:     cfg,
		sampleRate: sampleRate,
		logger:     logger,
		recorder:   recorder,
		ctx:        ctx,
		cancel:     cancel,
		packetChan: make(chan *incomingPacket, 1000),
	}
}

// Start begins listening for UDP packets
func (e *Endpoint) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", e.config.BindAddress, e.config.UDPPort))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	if e.config.RemoteAddress != "" {
		remote, err := net.ResolveUDPAddr("udp", e.config.RemoteAddress)
		if err != nil {
			return fmt.Errorf("failed to resolve remote address: %w", err)
		}
		e.remote = remote
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	e.conn = conn

	if err := e.conn.SetReadBuffer(e.config.BufferSize); err != nil {
		e.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", e.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	e.logger.Info("Media endpoint started",
		slog.String("address", e.conn.LocalAddr().String()),
		slog.String("remote_address", e.config.RemoteAddress),
		slog.Bool("capture_enabled", e.config.CaptureEnabled),
	)

	e.wg.Add(2)
	go e.packetProcessor()
	go e.receiveLoop()

	return nil
}

// Stop closes the socket and waits for the receive goroutines
func (e *Endpoint) Stop() error {
	e.logger.Info("Stopping media endpoint...")

	e.cancel()

	if e.conn != nil {
		if err := e.conn.Close(); err != nil {
			e.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	e.wg.Wait()

	stats := e.Statistics()
	e.logger.Info("Media endpoint stopped",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_sent", stats.PacketsSent),
		slog.Uint64("parse_errors", stats.ParseErrors),
	)
	return nil
}

// LocalAddr returns the bound socket address
func (e *Endpoint) LocalAddr() net.Addr {
	if e.conn == nil {
		return nil
	}
	return e.conn.LocalAddr()
}

// receiveLoop is the main packet receiving loop
func (e *Endpoint) receiveLoop() {
	defer e.wg.Done()
	defer close(e.packetChan)

	buffer := make([]byte, e.config.BufferSize)

	for {
		select {
		case <-e.ctx.Done():
			return
		default:
		}

		// Read deadline lets the loop notice cancellation
		if err := e.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			select {
			case <-e.ctx.Done():
				return
			default:
			}
			e.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := e.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			select {
			case <-e.ctx.Done():
				return
			default:
				e.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
				continue
			}
		}

		e.mu.Lock()
		e.stats.PacketsReceived++
		e.mu.Unlock()
		e.recorder.RecordPacketReceived()

		packet := &incomingPacket{
			data:       append([]byte(nil), buffer[:n]...),
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		select {
		case e.packetChan <- packet:
		default:
			e.logger.Warn("Packet processing queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

// packetProcessor handles packets in arrival order so capture frames stay sequenced
func (e *Endpoint) packetProcessor() {
	defer e.wg.Done()

	for packet := range e.packetChan {
		e.handlePacket(packet)
	}
}

// handlePacket processes a single incoming packet
func (e *Endpoint) handlePacket(packet *incomingPacket) {
	parsed, err := protocol.ParsePacket(packet.data)
	if err != nil {
		e.mu.Lock()
		e.stats.ParseErrors++
		e.mu.Unlock()
		e.recorder.RecordParseError()

		e.logger.Error("Failed to parse packet",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("packet_size", len(packet.data)),
			slog.String("error", err.Error()),
		)
		return
	}

	e.mu.Lock()
	e.stats.PacketsProcessed++
	e.peer = packet.remoteAddr
	e.mu.Unlock()

	switch {
	case parsed.Leg != nil:
		e.processSignaling(parsed.Header, parsed.Leg)
	case parsed.Audio != nil:
		e.processAudio(parsed.Header, parsed.Audio)
	}
}

// processSignaling records the call leg the audio belongs to
func (e *Endpoint) processSignaling(header protocol.Header, leg *protocol.CallLeg) {
	e.mu.Lock()
	e.leg = leg
	e.mu.Unlock()

	e.logger.Info("Call leg signaled",
		slog.Uint64("stream_id", uint64(header.StreamID)),
		slog.String("channel_id", leg.ChannelID),
		slog.String("caller_id", leg.CallerID),
		slog.String("called_id", leg.CalledID),
		slog.String("direction", protocol.DirectionString(header.Direction)),
	)
}

// processAudio routes received audio into the open capture, if any
func (e *Endpoint) processAudio(header protocol.Header, payload *protocol.AudioPayload) {
	if header.Direction != protocol.DirectionRX {
		e.mu.Lock()
		e.stats.FramesIgnored++
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.capture != nil && e.capture.deliver(audio.Frame{Sequence: payload.Sequence, Data: payload.AudioData}) {
		e.stats.FramesCaptured++
		return
	}
	e.stats.FramesIgnored++
}

// Statistics returns current endpoint statistics
func (e *Endpoint) Statistics() Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := e.stats
	stats.QueueSize = uint64(len(e.packetChan))
	stats.QueueCapacity = uint64(cap(e.packetChan))
	if e.peer != nil {
		stats.Peer = e.peer.String()
	}
	if e.leg != nil {
		leg := *e.leg
		stats.CallLeg = &leg
	}
	return stats
}

// Open implements capture.Device. Frames flow into the returned stream until it is closed.
func (e *Endpoint) Open(ctx context.Context) (capture.Stream, error) {
	if !e.config.CaptureEnabled {
		return nil, fmt.Errorf("media capture disabled: %w", capture.ErrDenied)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.capture != nil {
		return nil, capture.ErrAlreadyActive
	}

	stream := &captureStream{endpoint: e, frames: make(chan audio.Frame, 256)}
	e.capture = stream
	return stream, nil
}

// captureStream is the receiving end of one capture
type captureStream struct {
	endpoint *Endpoint
	frames   chan audio.Frame
	closed   bool
}

func (s *captureStream) Frames() <-chan audio.Frame {
	return s.frames
}

// deliver must be called with the endpoint lock held
func (s *captureStream) deliver(frame audio.Frame) bool {
	if s.closed {
		return false
	}
	select {
	case s.frames <- frame:
		return true
	default:
		return false
	}
}

func (s *captureStream) Close() error {
	e := s.endpoint
	e.mu.Lock()
	defer e.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.frames)
	if e.capture == s {
		e.capture = nil
	}
	return nil
}

// Play implements playback.Sink by streaming TX audio packets at real-time pace
func (e *Endpoint) Play(ctx context.Context, pcm []int16, sampleRate int) error {
	e.mu.RLock()
	dest := e.remote
	if dest == nil {
		dest = e.peer
	}
	e.mu.RUnlock()

	if dest == nil {
		return ErrNoPeer
	}
	if e.conn == nil {
		return fmt.Errorf("media endpoint not started")
	}

	if sampleRate != e.sampleRate {
		pcm = audio.Resample(pcm, sampleRate, e.sampleRate)
	}

	frameDuration := e.config.GetFrameDuration()
	frames := Frames(pcm, e.sampleRate, frameDuration)

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for i, frame := range frames {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		e.mu.Lock()
		e.txSeq++
		seq := e.txSeq
		e.mu.Unlock()

		packet, err := protocol.BuildAudioPacket(e.config.StreamID, protocol.DirectionTX, seq, audio.SamplesToBytes(frame))
		if err != nil {
			return fmt.Errorf("failed to build audio packet: %w", err)
		}

		if _, err := e.conn.WriteToUDP(packet, dest); err != nil {
			return fmt.Errorf("failed to send audio packet: %w", err)
		}

		e.mu.Lock()
		e.stats.PacketsSent++
		e.mu.Unlock()
		e.recorder.RecordPacketSent()
	}

	// let the final frame play out
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ticker.C:
	}

	e.logger.Debug("Playback sent",
		slog.String("destination", dest.String()),
		slog.Int("frames", len(frames)),
	)
	return nil
}

// Frames splits pcm into frames of frameDuration, padding the last with silence
func Frames(pcm []int16, sampleRate int, frameDuration time.Duration) [][]int16 {
	size := int(int64(sampleRate) * int64(frameDuration) / int64(time.Second))
	if size <= 0 || len(pcm) == 0 {
		return nil
	}

	frames := make([][]int16, 0, (len(pcm)+size-1)/size)
	for start := 0; start < len(pcm); start += size {
		frame := make([]int16, size)
		copy(frame, pcm[start:])
		frames = append(frames, frame)
	}
	return frames
}

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/voice-reminder-service/internal/audio"
	"github.com/skypro1111/voice-reminder-service/internal/capture"
	"github.com/skypro1111/voice-reminder-service/internal/playback"
	"github.com/skypro1111/voice-reminder-service/internal/transcript"
)

var (
	// ErrBusy is returned when an operation requires the idle state
	ErrBusy = errors.New("session is busy")
	// ErrNotCapturing is returned by EndCapture when no capture is in progress
	ErrNotCapturing = errors.New("session is not capturing")
	// ErrNoSession is returned by BeginCapture before a session has started
	ErrNoSession = errors.New("no active session")
)

// Step names used in logs, metrics and notifications
const (
	StepSaveClient   = "save_client"
	StepCaptureStart = "capture_start"
	StepCaptureStop  = "capture_stop"
	StepTranscribe   = "transcribe"
	StepChat         = "chat"
	StepSynthesize   = "synthesize"
	StepPlayback     = "playback"
)

// Gateway is the conversational backend
type Gateway interface {
	SaveClient(ctx context.Context, details SessionDetails) (string, error)
	Transcribe(ctx context.Context, clip audio.Clip) (string, error)
	Chat(ctx context.Context, clientID, message string) (string, error)
	Synthesize(ctx context.Context, text string) (audio.Speech, error)
}

// Capturer records one clip at a time
type Capturer interface {
	Start(ctx context.Context) error
	Stop() (*audio.Clip, error)
	Abort()
}

// Player plays synthesized speech, preempting any current playback
type Player interface {
	Play(ctx context.Context, speech audio.Speech) error
	Stop()
}

// Notifier shows transient messages to the user
type Notifier interface {
	Notify(sessionID, message string)
}

// Recorder receives session metrics
type Recorder interface {
	RecordSessionStarted()
	RecordSessionFailed()
	RecordTurnCompleted()
	SetStatus(status string)
	RecordStep(step string, success bool, durationSeconds float64)
	RecordClip(durationSeconds, voiceRatio float64)
	RecordPlayback(durationSeconds float64)
}

type nopRecorder struct{}

func (nopRecorder) RecordSessionStarted()            {}
func (nopRecorder) RecordSessionFailed()             {}
func (nopRecorder) RecordTurnCompleted()             {}
func (nopRecorder) SetStatus(string)                 {}
func (nopRecorder) RecordStep(string, bool, float64) {}
func (nopRecorder) RecordClip(float64, float64)      {}
func (nopRecorder) RecordPlayback(float64)           {}

// Config holds conversation behaviour
type Config struct {
	SeedMessage     string
	StepTimeout     time.Duration // bounds each backend call and capture start
	PlaybackTimeout time.Duration
}

// Info is a snapshot of the session for observers
type Info struct {
	Status    Status          `json:"status"`
	SessionID string          `json:"session_id,omitempty"`
	ClientID  string          `json:"client_id,omitempty"`
	Active    bool            `json:"active"`
	Details   *SessionDetails `json:"details,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	Turns     int             `json:"turns"` // user utterances answered; the opening line is not one
	Entries   int             `json:"entries"`
	LastError string          `json:"last_error,omitempty"`
}

// Orchestrator drives one conversation: it sequences capture, transcription,
// chat, synthesis and playback, and owns the status and the transcript.
//
// Every step runs against a turn identifier taken when its cycle began. Results
// are applied only while that identifier is current, so a cycle abandoned by
// Teardown can finish its network call without touching the session.
type Orchestrator struct {
	gateway    Gateway
	capture    Capturer
	player     Player
	notifier   Notifier
	recorder   Recorder
	config     Config
	logger     *slog.Logger
	transcript *transcript.Transcript

	// hardware serializes capture start and stop across BeginCapture and EndCapture
	hardware sync.Mutex

	mu          sync.Mutex
	status      Status
	turn        uint64
	cycleCancel context.CancelFunc
	sessionID   string
	clientID    string
	details     *SessionDetails
	active      bool
	startedAt   time.Time
	turns       int
	lastError   string

	wg sync.WaitGroup
}

// NewOrchestrator creates an idle orchestrator. A nil recorder disables metrics.
func NewOrchestrator(gw Gateway, capturer Capturer, player Player, notifier Notifier, recorder Recorder, cfg Config, logger *slog.Logger) *Orchestrator {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if cfg.SeedMessage == "" {
		cfg.SeedMessage = "Hello"
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 45 * time.Second
	}
	if cfg.PlaybackTimeout <= 0 {
		cfg.PlaybackTimeout = 2 * time.Minute
	}

	o := &Orchestrator{
		gateway:    gw,
		capture:    capturer,
		player:     player,
		notifier:   notifier,
		recorder:   recorder,
		config:     cfg,
		logger:     logger,
		transcript: transcript.New(),
	}
	recorder.SetStatus(StatusIdle.String())
	return o
}

// StartSession validates details and begins a new session: the client record is
// saved, then the opening reply is fetched, synthesized and played.
func (o *Orchestrator) StartSession(details SessionDetails) error {
	if err := details.Validate(); err != nil {
		return err
	}

	o.mu.Lock()
	if o.status != StatusIdle {
		o.mu.Unlock()
		return ErrBusy
	}

	ctx, turn := o.beginCycleLocked()
	o.sessionID = uuid.NewString()
	o.clientID = ""
	o.details = &details
	o.active = true
	o.startedAt = time.Now()
	o.turns = 0
	o.lastError = ""
	o.setStatusLocked(StatusStarting)
	sessionID := o.sessionID
	o.wg.Add(1)
	o.mu.Unlock()

	o.recorder.RecordSessionStarted()
	o.logger.Info("Session starting",
		slog.String("session_id", sessionID),
		slog.String("client_name", details.ClientName),
	)

	go o.runStart(ctx, turn, details)
	return nil
}

func (o *Orchestrator) runStart(ctx context.Context, turn uint64, details SessionDetails) {
	defer o.wg.Done()

	var clientID string
	err := o.step(ctx, StepSaveClient, o.config.StepTimeout, func(ctx context.Context) (err error) {
		clientID, err = o.gateway.SaveClient(ctx, details)
		return err
	})
	if err != nil {
		if o.fail(turn, StepSaveClient, "Could not save client details", err) {
			o.recorder.RecordSessionFailed()
		}
		return
	}

	o.mu.Lock()
	if o.turn != turn {
		o.mu.Unlock()
		return
	}
	o.clientID = clientID
	o.transcript.Clear()
	o.mu.Unlock()

	o.logger.Info("Client saved",
		slog.String("session_id", o.SessionID()),
		slog.String("client_id", clientID),
	)

	o.replyCycle(ctx, turn, o.config.SeedMessage, false)
}

// BeginCapture starts recording the debtor's reply. It is only valid while idle.
func (o *Orchestrator) BeginCapture() error {
	o.hardware.Lock()
	defer o.hardware.Unlock()

	o.mu.Lock()
	if o.status != StatusIdle {
		o.mu.Unlock()
		return ErrBusy
	}
	if !o.active {
		o.mu.Unlock()
		return ErrNoSession
	}

	ctx, turn := o.beginCycleLocked()
	o.setStatusLocked(StatusCapturing)
	o.mu.Unlock()

	err := o.step(ctx, StepCaptureStart, o.config.StepTimeout, o.capture.Start)
	if err != nil {
		o.fail(turn, StepCaptureStart, captureMessage(err), err)
		return nil
	}

	if !o.current(turn) {
		// torn down while the device was opening
		o.capture.Abort()
	}
	return nil
}

// EndCapture stops recording and runs the reply cycle on the clip
func (o *Orchestrator) EndCapture() error {
	o.hardware.Lock()
	defer o.hardware.Unlock()

	o.mu.Lock()
	if o.status != StatusCapturing {
		o.mu.Unlock()
		return ErrNotCapturing
	}

	ctx, turn := o.beginCycleLocked()
	o.setStatusLocked(StatusTranscribing)
	o.wg.Add(1)
	o.mu.Unlock()

	var clip *audio.Clip
	err := o.step(ctx, StepCaptureStop, o.config.StepTimeout, func(context.Context) (err error) {
		clip, err = o.capture.Stop()
		return err
	})

	go func() {
		defer o.wg.Done()

		if err != nil {
			o.fail(turn, StepCaptureStop, captureMessage(err), err)
			return
		}
		o.recorder.RecordClip(clip.Duration.Seconds(), clip.VoiceRatio)
		o.transcribeCycle(ctx, turn, *clip)
	}()
	return nil
}

// transcribeCycle turns a clip into the user's line, then runs the reply cycle
func (o *Orchestrator) transcribeCycle(ctx context.Context, turn uint64, clip audio.Clip) {
	var text string
	err := o.step(ctx, StepTranscribe, o.config.StepTimeout, func(ctx context.Context) (err error) {
		text, err = o.gateway.Transcribe(ctx, clip)
		return err
	})
	if err != nil {
		o.fail(turn, StepTranscribe, "Transcription failed", err)
		return
	}

	if !o.appendEntry(turn, transcript.User, text, false) {
		return
	}
	o.replyCycle(ctx, turn, text, true)
}

// replyCycle fetches the reply to message, records it, then synthesizes and plays it.
// answersUser is false for the opening line, which completes no turn.
func (o *Orchestrator) replyCycle(ctx context.Context, turn uint64, message string, answersUser bool) {
	if !o.setStatus(turn, StatusAwaitingReply) {
		return
	}

	o.mu.Lock()
	clientID := o.clientID
	o.mu.Unlock()

	var reply string
	err := o.step(ctx, StepChat, o.config.StepTimeout, func(ctx context.Context) (err error) {
		reply, err = o.gateway.Chat(ctx, clientID, message)
		return err
	})
	if err != nil {
		o.fail(turn, StepChat, "Could not get a reply", err)
		return
	}

	if !o.appendEntry(turn, transcript.Assistant, reply, answersUser) {
		return
	}
	if answersUser {
		o.recorder.RecordTurnCompleted()
	}

	if !o.setStatus(turn, StatusSynthesizing) {
		return
	}

	var speech audio.Speech
	err = o.step(ctx, StepSynthesize, o.config.StepTimeout, func(ctx context.Context) (err error) {
		speech, err = o.gateway.Synthesize(ctx, reply)
		return err
	})
	if err != nil {
		o.fail(turn, StepSynthesize, "Speech synthesis failed", err)
		return
	}

	if !o.setStatus(turn, StatusPlaying) {
		return
	}

	started := time.Now()
	err = o.step(ctx, StepPlayback, o.config.PlaybackTimeout, func(ctx context.Context) error {
		return o.player.Play(ctx, speech)
	})
	if err != nil && !errors.Is(err, playback.ErrStopped) {
		o.fail(turn, StepPlayback, "Playback failed", err)
		return
	}
	if err == nil {
		o.recorder.RecordPlayback(time.Since(started).Seconds())
	}

	o.setStatus(turn, StatusIdle)
}

// Teardown ends the session from any state. Capture and playback are released,
// and any cycle still in flight is abandoned.
func (o *Orchestrator) Teardown() {
	o.mu.Lock()
	o.turn++
	cancel := o.cycleCancel
	o.cycleCancel = nil
	previous := o.status
	o.active = false
	o.setStatusLocked(StatusIdle)
	sessionID := o.sessionID
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.capture.Abort()
	o.player.Stop()

	o.logger.Info("Session torn down",
		slog.String("session_id", sessionID),
		slog.String("previous_status", previous.String()),
	)
}

// Wait blocks until no cycle is running
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Status returns the current status
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Transcript returns a copy of the conversation so far
func (o *Orchestrator) Transcript() []transcript.Entry {
	return o.transcript.Snapshot()
}

// SessionID returns the current session's identifier
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

// Details returns the loan details of the current session
func (o *Orchestrator) Details() (SessionDetails, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.details == nil {
		return SessionDetails{}, false
	}
	return *o.details, true
}

// Info returns a snapshot of the session
func (o *Orchestrator) Info() Info {
	o.mu.Lock()
	defer o.mu.Unlock()

	info := Info{
		Status:    o.status,
		SessionID: o.sessionID,
		ClientID:  o.clientID,
		Active:    o.active,
		StartedAt: o.startedAt,
		Turns:     o.turns,
		Entries:   o.transcript.Len(),
		LastError: o.lastError,
	}
	if o.details != nil {
		details := *o.details
		info.Details = &details
	}
	return info
}

// beginCycleLocked invalidates the previous turn and returns the context of a new one
func (o *Orchestrator) beginCycleLocked() (context.Context, uint64) {
	if o.cycleCancel != nil {
		o.cycleCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cycleCancel = cancel
	o.turn++
	return ctx, o.turn
}

func (o *Orchestrator) current(turn uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.turn == turn
}

// setStatus applies a transition if turn is still current
func (o *Orchestrator) setStatus(turn uint64, status Status) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.turn != turn {
		return false
	}
	o.setStatusLocked(status)
	return true
}

func (o *Orchestrator) setStatusLocked(status Status) {
	if o.status == status {
		return
	}
	o.logger.Debug("Session status changed",
		slog.String("session_id", o.sessionID),
		slog.String("from", o.status.String()),
		slog.String("to", status.String()),
	)
	o.status = status
	o.recorder.SetStatus(status.String())
}

// appendEntry records a line if turn is still current
func (o *Orchestrator) appendEntry(turn uint64, speaker transcript.Speaker, text string, completesTurn bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.turn != turn {
		return false
	}
	o.transcript.Append(transcript.Entry{Text: text, Speaker: speaker})
	if completesTurn {
		o.turns++
	}
	return true
}

// fail surfaces a step error once and returns to idle. It reports false when
// the turn was already abandoned and the error is discarded.
func (o *Orchestrator) fail(turn uint64, step, message string, err error) bool {
	o.mu.Lock()
	if o.turn != turn {
		o.mu.Unlock()
		return false
	}
	o.setStatusLocked(StatusFailed)
	o.lastError = fmt.Sprintf("%s: %v", message, err)
	sessionID := o.sessionID
	o.mu.Unlock()

	o.logger.Error("Conversation step failed",
		slog.String("session_id", sessionID),
		slog.String("step", step),
		slog.String("error", err.Error()),
	)
	o.notifier.Notify(sessionID, message)

	o.setStatus(turn, StatusIdle)
	return true
}

// step runs fn with a timeout and records its outcome
func (o *Orchestrator) step(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	err := fn(stepCtx)
	o.recorder.RecordStep(name, err == nil || errors.Is(err, playback.ErrStopped), time.Since(started).Seconds())
	return err
}

// captureMessage maps capture errors to what the user is told
func captureMessage(err error) string {
	switch {
	case errors.Is(err, capture.ErrUnsupported):
		return "Audio capture is not supported"
	case errors.Is(err, capture.ErrDenied):
		return "Audio capture permission was denied"
	case errors.Is(err, capture.ErrNoAudio):
		return "No audio was recorded"
	case errors.Is(err, capture.ErrNotActive):
		return "No recording was in progress"
	default:
		return "Recording failed"
	}
}

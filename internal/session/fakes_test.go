package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/skypro1111/voice-reminder-service/internal/audio"
	"github.com/skypro1111/voice-reminder-service/internal/playback"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGateway answers every call from its fields. A gate blocks the named
// operation until closed; it ignores cancellation so late results can be observed.
type fakeGateway struct {
	mu sync.Mutex

	clientID       string
	saveErr        error
	transcribeText string
	transcribeErr  error
	chatErr        error
	reply          func(message string) string
	synthErr       error

	gates map[string]chan struct{}

	calls        []string
	chatMessages []string
	chatClients  []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		clientID:       "client-1",
		transcribeText: "I'll pay tomorrow",
		gates:          make(map[string]chan struct{}),
	}
}

func (g *fakeGateway) gate(op string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[op]
	if !ok {
		ch = make(chan struct{})
		g.gates[op] = ch
	}
	return ch
}

// hold makes op block until the returned func is called
func (g *fakeGateway) hold(op string) func() {
	ch := g.gate(op)
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (g *fakeGateway) enter(op string) {
	g.mu.Lock()
	g.calls = append(g.calls, op)
	ch, held := g.gates[op]
	g.mu.Unlock()

	if held {
		<-ch
	}
}

func (g *fakeGateway) SaveClient(ctx context.Context, details SessionDetails) (string, error) {
	g.enter(StepSaveClient)
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.clientID, g.saveErr
}

func (g *fakeGateway) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	g.enter(StepTranscribe)
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transcribeText, g.transcribeErr
}

func (g *fakeGateway) Chat(ctx context.Context, clientID, message string) (string, error) {
	g.enter(StepChat)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chatMessages = append(g.chatMessages, message)
	g.chatClients = append(g.chatClients, clientID)
	if g.chatErr != nil {
		return "", g.chatErr
	}
	if g.reply != nil {
		return g.reply(message), nil
	}
	return "reply to " + message, nil
}

func (g *fakeGateway) Synthesize(ctx context.Context, text string) (audio.Speech, error) {
	g.enter(StepSynthesize)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.synthErr != nil {
		return audio.Speech{}, g.synthErr
	}
	return audio.Speech{Audio: []byte(text), ContentType: audio.ContentTypeWAV}, nil
}

func (g *fakeGateway) called(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c == op {
			n++
		}
	}
	return n
}

type fakeCapture struct {
	mu       sync.Mutex
	startErr error
	stopErr  error
	active   bool
	starts   int
	stops    int
	aborts   int
}

func (c *fakeCapture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	if c.startErr != nil {
		return c.startErr
	}
	c.active = true
	return nil
}

func (c *fakeCapture) Stop() (*audio.Clip, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	c.active = false
	if c.stopErr != nil {
		return nil, c.stopErr
	}
	return &audio.Clip{Data: []byte("RIFF"), ContentType: audio.ContentTypeWAV, SampleRate: 8000, Duration: time.Second}, nil
}

func (c *fakeCapture) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborts++
	c.active = false
}

func (c *fakeCapture) snapshot() (starts, stops, aborts int, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts, c.stops, c.aborts, c.active
}

// fakePlayer plays instantly unless blocking, in which case Play waits for Stop
// or cancellation
type fakePlayer struct {
	mu       sync.Mutex
	err      error
	blocking bool
	stopCh   chan struct{}
	played   []string
	stops    int
}

func (p *fakePlayer) Play(ctx context.Context, speech audio.Speech) error {
	p.mu.Lock()
	p.played = append(p.played, string(speech.Audio))
	if !p.blocking {
		p.mu.Unlock()
		return p.err
	}
	stop := make(chan struct{})
	p.stopCh = stop
	p.mu.Unlock()

	select {
	case <-stop:
		return playback.ErrStopped
	case <-ctx.Done():
		return playback.ErrStopped
	}
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	if p.stopCh != nil {
		close(p.stopCh)
		p.stopCh = nil
	}
}

func (p *fakePlayer) playedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.played)
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Notify(sessionID, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

// statusRecorder keeps the sequence of statuses reported to metrics
type statusRecorder struct {
	nopRecorder
	mu       sync.Mutex
	statuses []string
	failed   []string
	turns    int
}

func (r *statusRecorder) RecordTurnCompleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns++
}

func (r *statusRecorder) completedTurns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.turns
}

func (r *statusRecorder) SetStatus(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *statusRecorder) RecordStep(step string, success bool, durationSeconds float64) {
	if success {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, step)
}

func (r *statusRecorder) history() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statuses...)
}

type harness struct {
	orch     *Orchestrator
	gateway  *fakeGateway
	capture  *fakeCapture
	player   *fakePlayer
	notifier *fakeNotifier
	recorder *statusRecorder
}

func newHarness() *harness {
	h := &harness{
		gateway:  newFakeGateway(),
		capture:  &fakeCapture{},
		player:   &fakePlayer{},
		notifier: &fakeNotifier{},
		recorder: &statusRecorder{},
	}
	h.orch = NewOrchestrator(h.gateway, h.capture, h.player, h.notifier, h.recorder, Config{
		SeedMessage: "Hello",
		StepTimeout: 2 * time.Second,
	}, testLogger())
	return h
}

func validDetails() SessionDetails {
	return SessionDetails{
		ClientName:     "A",
		MobileNumber:   "123",
		TotalDueAmount: "1000",
		EMIAmount:      "200",
		DueDate:        "2024-05-01",
	}
}

// start runs a successful session start to completion
func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.orch.StartSession(validDetails()); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	h.orch.Wait()
	if s := h.orch.Status(); s != StatusIdle {
		t.Fatalf("Expected idle after start, got %s", s)
	}
}

// turn runs one capture cycle to completion
func (h *harness) turn(t *testing.T) {
	t.Helper()
	if err := h.orch.BeginCapture(); err != nil {
		t.Fatalf("BeginCapture failed: %v", err)
	}
	if err := h.orch.EndCapture(); err != nil {
		t.Fatalf("EndCapture failed: %v", err)
	}
	h.orch.Wait()
}

func waitForStatus(t *testing.T, o *Orchestrator, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if o.Status() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Timed out waiting for status %s, still %s", want, o.Status())
}

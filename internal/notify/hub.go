// Package notify delivers transient user-facing messages such as step failures.
// Messages are fire-and-forget: each is logged, retained in a short backlog for
// late subscribers, and fanned out to live subscribers without blocking.
package notify

import (
	"log/slog"
	"sync"
	"time"
)

const (
	defaultBacklog    = 32
	subscriberBacklog = 16
)

// Notification is one message shown to the operator
type Notification struct {
	Seq       uint64    `json:"seq"`
	Message   string    `json:"message"`
	SessionID string    `json:"session_id,omitempty"`
	At        time.Time `json:"at"`
}

// Hub is the notification sink
type Hub struct {
	logger *slog.Logger

	seq         uint64
	backlog     []Notification
	backlogSize int
	subscribers map[int]chan Notification
	nextID      int
	dropped     uint64

	mu sync.Mutex
}

// NewHub creates a hub that keeps the most recent backlogSize messages
func NewHub(logger *slog.Logger, backlogSize int) *Hub {
	if backlogSize <= 0 {
		backlogSize = defaultBacklog
	}
	return &Hub{
		logger:      logger,
		backlogSize: backlogSize,
		subscribers: make(map[int]chan Notification),
	}
}

// Notify publishes a message. It never blocks on subscribers.
func (h *Hub) Notify(sessionID, message string) {
	h.mu.Lock()
	h.seq++
	n := Notification{Seq: h.seq, Message: message, SessionID: sessionID, At: time.Now()}

	h.backlog = append(h.backlog, n)
	if len(h.backlog) > h.backlogSize {
		h.backlog = h.backlog[len(h.backlog)-h.backlogSize:]
	}

	for _, ch := range h.subscribers {
		select {
		case ch <- n:
		default:
			h.dropped++
		}
	}
	h.mu.Unlock()

	h.logger.Info("Notification",
		slog.Uint64("seq", n.Seq),
		slog.String("session_id", sessionID),
		slog.String("message", message),
	)
}

// Subscribe returns a channel of future notifications, primed with messages newer
// than afterSeq from the backlog. The cancel func closes the channel.
func (h *Hub) Subscribe(afterSeq uint64) (<-chan Notification, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Notification, subscriberBacklog+h.backlogSize)
	for _, n := range h.backlog {
		if n.Seq > afterSeq {
			ch <- n
		}
	}

	id := h.nextID
	h.nextID++
	h.subscribers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Recent returns the backlog, oldest first
func (h *Hub) Recent() []Notification {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Notification, len(h.backlog))
	copy(out, h.backlog)
	return out
}

// Stats reports delivery counters
func (h *Hub) Stats() (published, dropped uint64, subscribers int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq, h.dropped, len(h.subscribers)
}

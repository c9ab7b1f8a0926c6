// Package transcript keeps the ordered record of a conversation's turns.
package transcript

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Speaker identifies who produced a transcript entry
type Speaker int

const (
	User Speaker = iota
	Assistant
)

// String returns the lowercase speaker name used on the wire
func (s Speaker) String() string {
	switch s {
	case User:
		return "user"
	case Assistant:
		return "assistant"
	default:
		return fmt.Sprintf("speaker(%d)", int(s))
	}
}

// MarshalJSON encodes the speaker by name
func (s Speaker) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a speaker name
func (s *Speaker) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "user":
		*s = User
	case "assistant":
		*s = Assistant
	default:
		return fmt.Errorf("unknown speaker %q", name)
	}
	return nil
}

// Entry is one line of dialogue. Entries are never modified after Append.
type Entry struct {
	Text    string    `json:"text"`
	Speaker Speaker   `json:"speaker"`
	At      time.Time `json:"at"`
}

// Transcript is an append-only, ordered list of entries
type Transcript struct {
	entries []Entry
	mu      sync.RWMutex
}

// New creates an empty transcript
func New() *Transcript {
	return &Transcript{}
}

// Append adds an entry at the end, stamping it if At is zero
func (t *Transcript) Append(entry Entry) {
	if entry.At.IsZero() {
		entry.At = time.Now()
	}

	t.mu.Lock()
	t.entries = append(t.entries, entry)
	t.mu.Unlock()
}

// Snapshot returns a copy of the entries as of the call
func (t *Transcript) Snapshot() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Clear empties the transcript. Snapshots taken earlier are unaffected.
func (t *Transcript) Clear() {
	t.mu.Lock()
	t.entries = nil
	t.mu.Unlock()
}

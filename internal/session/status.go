package session

import (
	"encoding/json"
	"fmt"
)

// Status is the observable state of the orchestrator
type Status int

const (
	StatusIdle Status = iota
	StatusStarting
	StatusCapturing
	StatusTranscribing
	StatusAwaitingReply
	StatusSynthesizing
	StatusPlaying
	StatusFailed
)

var statusNames = map[Status]string{
	StatusIdle:          "idle",
	StatusStarting:      "starting",
	StatusCapturing:     "capturing",
	StatusTranscribing:  "transcribing",
	StatusAwaitingReply: "awaiting_reply",
	StatusSynthesizing:  "synthesizing",
	StatusPlaying:       "playing",
	StatusFailed:        "failed",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

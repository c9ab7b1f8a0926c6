package gateway

import (
	"errors"
	"fmt"
)

// Kind classifies a backend failure
type Kind int

const (
	// KindNetwork is a transport fault or a non-success status
	KindNetwork Kind = iota + 1
	// KindEmptyResponse is a successful response without a usable payload
	KindEmptyResponse
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindEmptyResponse:
		return "empty_response"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Sentinels matched by errors.Is against an *Error of the same kind
var (
	ErrNetwork       = errors.New("network error")
	ErrEmptyResponse = errors.New("empty response")
)

// Error is returned by every Client operation
type Error struct {
	Op         string // save_client, transcribe, chat, synthesize
	Kind       Kind
	StatusCode int // zero when no response was received
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrEmptyResponse:
		return e.Kind == KindEmptyResponse
	}
	return false
}

func networkError(op string, status int, err error) *Error {
	return &Error{Op: op, Kind: KindNetwork, StatusCode: status, Err: err}
}

func emptyResponse(op string, status int, detail string) *Error {
	return &Error{Op: op, Kind: KindEmptyResponse, StatusCode: status, Err: errors.New(detail)}
}

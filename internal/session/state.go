package session

import (
	"fmt"

	"github.com/akashicode/docuquery/internal/conversation"
)

// State is a step of the session pipeline.
type State int

// Session states.
const (
	Idle State = iota
	Extracting
	Ready
	Answering
	ErrorState
)

var stateNames = map[State]string{
	Idle:       "idle",
	Extracting: "extracting",
	Ready:      "ready",
	Answering:  "answering",
	ErrorState: "error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is what a presentation layer needs to render a session.
type Snapshot struct {
	State         State                   `json:"state"`
	DocumentName  string                  `json:"documentName,omitempty"`
	DocumentBytes int                     `json:"documentBytes,omitempty"`
	TextLength    int                     `json:"textLength,omitempty"`
	HasText       bool                    `json:"hasText"`
	Error         string                  `json:"error,omitempty"`
	Exchanges     []conversation.Exchange `json:"exchanges"`
}

// CanUpload reports whether a new document may be submitted.
func (s Snapshot) CanUpload() bool { return s.State != Extracting }

// CanAsk reports whether a new question may be submitted.
func (s Snapshot) CanAsk() bool { return s.State == Ready }

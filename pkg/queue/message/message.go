package message

import (
	"strings"

	"github.com/pkg/errors"
)

const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// Message announces the outcome of one acquisition on the queue.
// Wire form: "<recordingID>|<outcome>". The recording ID may itself
// contain any character except the delimiter, so the outcome is split
// off the tail.
type Message struct {
	RecordingID string
	Outcome     string
}

func NewMessage(raw string) (*Message, error) {
	idx := strings.LastIndex(raw, "|")
	if idx < 0 {
		return nil, errors.New("invalid message raw input (delimiter)")
	}

	id, outcome := raw[:idx], raw[idx+1:]
	if id == "" {
		return nil, errors.New("invalid message raw input (recording id)")
	}

	if outcome != OutcomeCompleted && outcome != OutcomeFailed {
		return nil, errors.New("invalid message raw input (outcome)")
	}

	return &Message{
		RecordingID: id,
		Outcome:     outcome,
	}, nil
}

func (m *Message) String() string {
	return m.RecordingID + "|" + m.Outcome
}

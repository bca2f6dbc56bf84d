package message

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type messageTest struct {
	input  string
	output *Message
	err    bool
}

var messageTests = []messageTest{
	{"REC123|completed", &Message{RecordingID: "REC123", Outcome: OutcomeCompleted}, false},
	{"REC123|failed", &Message{RecordingID: "REC123", Outcome: OutcomeFailed}, false},
	{"rec/share/a|b|completed", &Message{RecordingID: "rec/share/a|b", Outcome: OutcomeCompleted}, false},
	{"REC123", nil, true},
	{"|completed", nil, true},
	{"REC123|unknown", nil, true},
}

func TestNewMessage(t *testing.T) {
	for _, v := range messageTests {
		msg, err := NewMessage(v.input)
		if v.err {
			assert.Error(t, err, fmt.Sprintf("%s: expected error", v.input))
			continue
		}

		assert.NoError(t, err)
		assert.Equal(t, v.output, msg)
	}
}

func TestMessageStringRoundTrip(t *testing.T) {
	msg := &Message{RecordingID: "rec/share/abc", Outcome: OutcomeCompleted}

	got, err := NewMessage(msg.String())
	assert.NoError(t, err)
	assert.Equal(t, msg, got)
}

package envelope

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validEnvelope() Envelope {
	return Envelope{
		UserID:    "u1",
		Channel:   "chat",
		Text:      "hello",
		Nonce:     "n1",
		Timestamp: time.Now().UnixMilli(),
	}
}

func TestValidateAcceptsWellFormed(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validEnvelope().Validate())
}

func TestValidateRejectsMissingFields(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Envelope)
	}{
		{name: "missing user", mutate: func(e *Envelope) { e.UserID = "" }},
		{name: "blank user", mutate: func(e *Envelope) { e.UserID = "   " }},
		{name: "missing channel", mutate: func(e *Envelope) { e.Channel = "" }},
		{name: "missing text", mutate: func(e *Envelope) { e.Text = "" }},
		{name: "blank text", mutate: func(e *Envelope) { e.Text = " \n\t" }},
		{name: "missing nonce", mutate: func(e *Envelope) { e.Nonce = "" }},
		{name: "zero timestamp", mutate: func(e *Envelope) { e.Timestamp = 0 }},
		{name: "negative timestamp", mutate: func(e *Envelope) { e.Timestamp = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := validEnvelope()
			tc.mutate(&env)
			assert.Error(t, env.Validate())
		})
	}
}

func TestValidateTextLengthBound(t *testing.T) {
	t.Parallel()

	env := validEnvelope()
	env.Text = strings.Repeat("a", MaxTextChars)
	assert.NoError(t, env.Validate())

	env.Text = strings.Repeat("a", MaxTextChars+1)
	assert.Error(t, env.Validate())
}

func TestValidateAllowsOptionalFields(t *testing.T) {
	t.Parallel()

	env := validEnvelope()
	env.Metadata = map[string]any{"locale": "en"}
	env.Attachments = []string{"asset-1"}
	assert.NoError(t, env.Validate())
}

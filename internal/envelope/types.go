package envelope

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxTextChars is the maximum accepted message text length in characters.
const MaxTextChars = 10000

var validate = validator.New()

// Envelope is the canonical inbound message produced by a channel adapter.
// It is immutable once parsed; the gateway consumes it exactly once.
type Envelope struct {
	UserID      string         `json:"userId" validate:"required"`
	Channel     string         `json:"channel" validate:"required"`
	Text        string         `json:"text" validate:"required"`
	Nonce       string         `json:"nonce" validate:"required"`
	Timestamp   int64          `json:"timestamp" validate:"required,gt=0"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Attachments []string       `json:"attachments,omitempty"`
}

// Validate checks the envelope shape invariants: every field except
// metadata/attachments present and non-blank, text within the length bound.
// Timestamp freshness is the replay cache's concern, not checked here.
func (e Envelope) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("envelope shape: %w", err)
	}
	if strings.TrimSpace(e.UserID) == "" {
		return fmt.Errorf("envelope shape: userId is blank")
	}
	if strings.TrimSpace(e.Channel) == "" {
		return fmt.Errorf("envelope shape: channel is blank")
	}
	if strings.TrimSpace(e.Text) == "" {
		return fmt.Errorf("envelope shape: text is blank")
	}
	if strings.TrimSpace(e.Nonce) == "" {
		return fmt.Errorf("envelope shape: nonce is blank")
	}
	if len([]rune(e.Text)) > MaxTextChars {
		return fmt.Errorf("envelope shape: text exceeds %d characters", MaxTextChars)
	}
	return nil
}

package intake

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedDecision wraps every parse failure so callers can map it to a
// downstream error without inspecting the message.
var ErrMalformedDecision = errors.New("malformed intake decision")

// Decision is the screening verdict. Every successful parse yields fully
// typed fields: Summary is non-blank when Valid is true, Reason carries the
// rejection cause when it is false.
type Decision struct {
	Valid   bool   `json:"valid"`
	Summary string `json:"summary"`
	Reason  string `json:"reason"`
}

// ParseDecision extracts the decision object from raw, tolerating
// surrounding prose from a generative upstream: the substring between the
// first '{' and the last '}' is parsed.
func ParseDecision(raw string) (Decision, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return Decision{}, fmt.Errorf("%w: no object boundaries", ErrMalformedDecision)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw[start:end+1]), &fields); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrMalformedDecision, err)
	}

	var decision Decision
	rawValid, ok := fields["valid"]
	if !ok {
		return Decision{}, fmt.Errorf("%w: valid field missing", ErrMalformedDecision)
	}
	if err := json.Unmarshal(rawValid, &decision.Valid); err != nil {
		return Decision{}, fmt.Errorf("%w: valid is not a boolean", ErrMalformedDecision)
	}
	if rawSummary, ok := fields["summary"]; ok {
		if err := json.Unmarshal(rawSummary, &decision.Summary); err != nil {
			return Decision{}, fmt.Errorf("%w: summary is not a string", ErrMalformedDecision)
		}
	}
	if rawReason, ok := fields["reason"]; ok {
		if err := json.Unmarshal(rawReason, &decision.Reason); err != nil {
			return Decision{}, fmt.Errorf("%w: reason is not a string", ErrMalformedDecision)
		}
	}
	if decision.Valid && strings.TrimSpace(decision.Summary) == "" {
		return Decision{}, fmt.Errorf("%w: positive verdict with blank summary", ErrMalformedDecision)
	}
	return decision, nil
}

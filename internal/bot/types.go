// Package bot defines the conversational-backend contract: the canonical
// request, the closed set of answer kinds, and the client interface used by
// the flow orchestrator.
package bot

import "encoding/json"

// AnswerType enumerates the backend answer kinds the gateway understands.
type AnswerType string

const (
	AnswerPlain            AnswerType = "answer"
	AnswerPolarQuestion    AnswerType = "polarQuestion"
	AnswerMultipleChoice   AnswerType = "multipleChoiceQuestion"
	AnswerExtendedContents AnswerType = "extendedContentsAnswer"
)

// FlagMultipleOptions marks multiple-choice answers whose options carry their
// own display titles; FlagNoResults marks answers where the backend found no
// content and feeds the escalation counters.
const (
	FlagMultipleOptions = "multiple-options"
	FlagNoResults       = "no-results"
)

// Option is one selectable answer option.
type Option struct {
	Label      string            `json:"label"`
	Value      string            `json:"value"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Attribute returns the named option attribute, or empty string.
func (o Option) Attribute(key string) string {
	if o.Attributes == nil {
		return ""
	}
	return o.Attributes[key]
}

// Answer is one backend answer. Attributes values stay raw because shapes are
// attribute-specific (the URL-button attribute holds an array of objects).
type Answer struct {
	Type       AnswerType                 `json:"type"`
	Message    string                     `json:"message"`
	Options    []Option                   `json:"options,omitempty"`
	Attributes map[string]json.RawMessage `json:"attributes,omitempty"`
	Flags      []string                   `json:"flags,omitempty"`
	SubAnswers []Answer                   `json:"subAnswers,omitempty"`
	RateCode   string                     `json:"rateCode,omitempty"`
}

// HasFlag reports whether the answer carries the given flag.
func (a Answer) HasFlag(flag string) bool {
	for _, f := range a.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Attribute decodes the named attribute into out. Returns false when absent.
func (a Answer) Attribute(key string, out any) (bool, error) {
	if a.Attributes == nil {
		return false, nil
	}
	raw, ok := a.Attributes[key]
	if !ok || len(raw) == 0 {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

// Request is the canonical backend request produced by inbound digestion.
type Request struct {
	Message string `json:"message"`
	Option  string `json:"option,omitempty"`
}

// Event kinds tracked to the backend.
const (
	EventRate = "rate"

	ContactAttended = "CONTACT_ATTENDED"
	ContactRejected = "CONTACT_REJECTED"
)

// RateData is the payload of a rate event.
type RateData struct {
	Code    string  `json:"code"`
	Value   int     `json:"value"`
	Comment *string `json:"comment"`
}

// Event is a tracking event sent to the backend.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

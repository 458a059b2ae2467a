// Package lang provides translation-string lookup for user-facing messages.
package lang

import "strings"

// defaults are the built-in English strings. Deployment-specific overrides come
// from configuration and take precedence.
var defaults = map[string]string{
	"unknownMessageType":  "I'm not able to process this kind of message.",
	"ask_to_escalate":     "Do you want to start a chat with a human agent?",
	"escalation_rejected": "Ok, I'll be here if you need me.",
	"creating_chat":       "I'll try to connect you with an agent, please wait.",
	"error_creating_chat": "There was an error creating the chat, please try again later.",
	"ask_rating_comment":  "Could you tell us a bit more about your rating?",
	"thanks":              "Thanks!",
	"rate_content_intro":  "Was this answer helpful?",
	"yes":                 "Yes",
	"no":                  "No",
}

// Manager resolves translation keys to display strings.
type Manager struct {
	strings map[string]string
}

// NewManager builds a Manager layering the given overrides on the defaults.
func NewManager(overrides map[string]string) *Manager {
	merged := make(map[string]string, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		if strings.TrimSpace(v) == "" {
			continue
		}
		merged[k] = v
	}
	return &Manager{strings: merged}
}

// Translate returns the display string for key, or the key itself when no
// translation exists. Returning the key keeps unknown labels visible instead
// of silently dropping them.
func (m *Manager) Translate(key string) string {
	if m == nil {
		return key
	}
	if value, ok := m.strings[key]; ok {
		return value
	}
	return key
}

package line

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// EventKind is the canonical classification of an inbound webhook event.
type EventKind string

const (
	EventText     EventKind = "text"
	EventPostback EventKind = "postback"
	EventSticker  EventKind = "sticker"
	EventImage    EventKind = "image"
	EventAudio    EventKind = "audio"
	EventFile     EventKind = "file"
	EventLocation EventKind = "location"
	EventVideo    EventKind = "video"
	EventUnknown  EventKind = "unknown"
)

// Source identifies where an event originated. Type is "user", "group" or
// "room", with the matching id field populated.
type Source struct {
	Type    string `json:"type"`
	UserID  string `json:"userId,omitempty"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

// EventMessage is the message object attached to message-type events.
type EventMessage struct {
	ID        string `json:"id,omitempty"`
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	PackageID string `json:"packageId,omitempty"`
	StickerID string `json:"stickerId,omitempty"`
}

// EventPostbackData is the postback object attached to postback events.
type EventPostbackData struct {
	Data string `json:"data"`
}

// Event is one raw webhook event.
type Event struct {
	Type       string             `json:"type"`
	ReplyToken string             `json:"replyToken,omitempty"`
	Source     Source             `json:"source"`
	Message    *EventMessage      `json:"message,omitempty"`
	Postback   *EventPostbackData `json:"postback,omitempty"`
}

// WebhookBody is the inbound webhook envelope.
type WebhookBody struct {
	Destination string  `json:"destination,omitempty"`
	Events      []Event `json:"events"`
}

// ParseWebhookBody decodes a raw webhook request body.
func ParseWebhookBody(raw []byte) (WebhookBody, error) {
	var body WebhookBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return WebhookBody{}, fmt.Errorf("decode webhook body: %w", err)
	}
	return body, nil
}

// IsVerification reports whether the batch is the platform's webhook
// verification ping: a first event whose reply token is the numeric zero.
func (b WebhookBody) IsVerification() bool {
	if len(b.Events) == 0 {
		return false
	}
	token := strings.TrimSpace(b.Events[0].ReplyToken)
	if token == "" {
		return false
	}
	n, err := strconv.Atoi(token)
	return err == nil && n == 0
}

// Classify maps a raw event to exactly one EventKind. Every message type
// predicate checks a distinct discriminant, so order only matters for the
// unknown catch-all. Classification never fails: unrecognized events are
// EventUnknown and produce a user-visible fallback downstream.
func Classify(ev Event) EventKind {
	if ev.Postback != nil && ev.Type == "postback" {
		return EventPostback
	}
	if ev.Message == nil {
		return EventUnknown
	}
	switch ev.Message.Type {
	case "text":
		return EventText
	case "sticker":
		return EventSticker
	case "image":
		return EventImage
	case "audio":
		return EventAudio
	case "file":
		return EventFile
	case "location":
		return EventLocation
	case "video":
		return EventVideo
	default:
		return EventUnknown
	}
}

// ReplyTarget identifies where outbound payloads for a batch are delivered.
// It is derived once per inbound batch and does not change for its lifetime.
type ReplyTarget struct {
	Kind string // "user", "group" or "room"
	ID   string
}

var externalIDClean = regexp.MustCompile(`[^A-Za-z0-9 ]`)

// ExternalID returns the conversation identity used to namespace session and
// token-cache state, in the form "line-<sanitized id>".
func (t ReplyTarget) ExternalID() string {
	return "line-" + externalIDClean.ReplaceAllString(t.ID, "")
}

// SourceKey returns the platform field name carrying the target id
// ("userId", "groupId" or "roomId").
func (t ReplyTarget) SourceKey() string {
	return t.Kind + "Id"
}

// TargetFromBody derives the batch's ReplyTarget from its first event: a room
// event replies to the room, a group event to the group, otherwise the user.
func TargetFromBody(body WebhookBody) (ReplyTarget, error) {
	if len(body.Events) == 0 {
		return ReplyTarget{}, fmt.Errorf("webhook body has no events")
	}
	source := body.Events[0].Source
	target := ReplyTarget{Kind: strings.TrimSpace(source.Type)}
	switch target.Kind {
	case "user":
		target.ID = source.UserID
	case "group":
		target.ID = source.GroupID
	case "room":
		target.ID = source.RoomID
	default:
		return ReplyTarget{}, fmt.Errorf("unsupported source type %q", source.Type)
	}
	if strings.TrimSpace(target.ID) == "" {
		return ReplyTarget{}, fmt.Errorf("source %s has no id", target.Kind)
	}
	return target, nil
}

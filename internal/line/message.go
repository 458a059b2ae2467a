// Package line implements the LINE Messaging API surface the gateway needs:
// webhook event parsing and classification, outgoing message payloads, the
// push/switcher client, and the channel access token cache.
package line

// Message is an outgoing Messaging API payload. It is a tagged union over the
// message types the gateway produces; Type selects which fields are populated
// and the JSON shape follows the platform wire format.
type Message struct {
	Type               string           `json:"type"`
	Text               string           `json:"text,omitempty"`
	OriginalContentURL string           `json:"originalContentUrl,omitempty"`
	PreviewImageURL    string           `json:"previewImageUrl,omitempty"`
	PackageID          string           `json:"packageId,omitempty"`
	StickerID          string           `json:"stickerId,omitempty"`
	AltText            string           `json:"altText,omitempty"`
	Template           *ButtonsTemplate `json:"template,omitempty"`
	QuickReply         *QuickReply      `json:"quickReply,omitempty"`
}

const (
	MessageText     = "text"
	MessageImage    = "image"
	MessageSticker  = "sticker"
	MessageTemplate = "template"
)

// Action is a tappable control inside a template or quick reply. Postback
// actions carry Data back to the webhook; URI actions open a link.
type Action struct {
	Type        string `json:"type"`
	Label       string `json:"label,omitempty"`
	DisplayText string `json:"displayText,omitempty"`
	Data        string `json:"data,omitempty"`
	URI         string `json:"uri,omitempty"`
}

const (
	ActionPostback = "postback"
	ActionURI      = "uri"
)

// ButtonsTemplate is the "buttons" template body.
type ButtonsTemplate struct {
	Type    string   `json:"type"`
	Text    string   `json:"text"`
	Actions []Action `json:"actions"`
}

// QuickReply wraps quick-reply items attached to a text message.
type QuickReply struct {
	Items []QuickReplyItem `json:"items"`
}

type QuickReplyItem struct {
	Type   string `json:"type"`
	Action Action `json:"action"`
}

func NewText(text string) Message {
	return Message{Type: MessageText, Text: text}
}

func NewImage(url string) Message {
	return Message{Type: MessageImage, OriginalContentURL: url, PreviewImageURL: url}
}

func NewSticker(packageID, stickerID string) Message {
	return Message{Type: MessageSticker, PackageID: packageID, StickerID: stickerID}
}

// NewButtonsTemplate builds a template message. AltText renders on devices
// that cannot display templates and is capped at 400 characters by the caller.
func NewButtonsTemplate(altText, text string, actions []Action) Message {
	return Message{
		Type:    MessageTemplate,
		AltText: altText,
		Template: &ButtonsTemplate{
			Type:    "buttons",
			Text:    text,
			Actions: actions,
		},
	}
}

// NewQuickReplyText builds a text message carrying quick-reply actions.
func NewQuickReplyText(text string, actions []Action) Message {
	items := make([]QuickReplyItem, 0, len(actions))
	for _, action := range actions {
		items = append(items, QuickReplyItem{Type: "action", Action: action})
	}
	return Message{
		Type:       MessageText,
		Text:       text,
		QuickReply: &QuickReply{Items: items},
	}
}

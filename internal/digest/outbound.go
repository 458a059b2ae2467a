package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/bridgeworks/linegw/internal/bot"
	"github.com/bridgeworks/linegw/internal/config"
	"github.com/bridgeworks/linegw/internal/lang"
	"github.com/bridgeworks/linegw/internal/line"
	"github.com/bridgeworks/linegw/internal/session"
)

// postbackData is the inline payload of option-selection actions.
type postbackData struct {
	Message string `json:"message"`
	Option  string `json:"option"`
}

// RatingPayload is what a rating quick-reply key resolves to.
type RatingPayload struct {
	AskRatingComment bool       `json:"askRatingComment"`
	IsNegativeRating bool       `json:"isNegativeRating"`
	RatingData       RatingData `json:"ratingData"`
}

// RatingData is the tracking event body for a content rating.
type RatingData struct {
	Type string       `json:"type"`
	Data bot.RateData `json:"data"`
}

// EscalationPayload is the inline payload of escalation yes/no actions. Small
// enough to fit the platform's postback data limit, so no indirection.
type EscalationPayload struct {
	EscalateOption bool `json:"escalateOption"`
}

// Outbound digests backend answers into platform message payloads. Length and
// action-count constraints are satisfied at construction time.
type Outbound struct {
	logger   *slog.Logger
	lang     *lang.Manager
	conf     config.DigesterConfig
	payloads *session.PayloadStore
}

func NewOutbound(log *slog.Logger, langs *lang.Manager, conf config.DigesterConfig, payloads *session.PayloadStore) *Outbound {
	if log == nil {
		log = slog.Default()
	}
	return &Outbound{
		logger:   log.With(slog.String("digester", "outbound")),
		lang:     langs,
		conf:     conf,
		payloads: payloads,
	}
}

// Digest converts backend answers into an ordered list of platform payloads.
// lastUserQuestion is embedded in option postbacks so a tap can be replayed
// against the backend.
func (d *Outbound) Digest(ctx context.Context, answers []bot.Answer, lastUserQuestion string) ([]line.Message, error) {
	var output []line.Message
	for _, answer := range answers {
		if answer.Message == "" {
			continue
		}
		switch answer.Type {
		case bot.AnswerPlain:
			output = append(output, d.digestAnswer(answer)...)
		case bot.AnswerPolarQuestion:
			output = append(output, d.digestPolarQuestion(answer, lastUserQuestion))
		case bot.AnswerMultipleChoice:
			output = append(output, d.digestMultipleChoice(answer, lastUserQuestion))
		case bot.AnswerExtendedContents:
			msg, err := d.digestExtendedContents(ctx, answer)
			if err != nil {
				return nil, err
			}
			output = append(output, msg)
		default:
			if d.logger != nil {
				d.logger.Warn("unknown answer type skipped", slog.String("type", string(answer.Type)))
			}
		}
	}
	return output, nil
}

// DigestOne digests a single answer, used for federated follow-ups resolved
// from session indirection.
func (d *Outbound) DigestOne(ctx context.Context, answer bot.Answer, lastUserQuestion string) ([]line.Message, error) {
	return d.Digest(ctx, []bot.Answer{answer}, lastUserQuestion)
}

func (d *Outbound) digestAnswer(answer bot.Answer) []line.Message {
	if containsInlineImage(answer.Message) {
		return d.messageWithImages(answer.Message)
	}
	attrName := d.conf.URLButtons.AttributeName
	if attrName != "" {
		if buttons, ok := d.decodeURLButtons(answer, attrName); ok {
			return []line.Message{d.urlButtonMessage(answer, buttons)}
		}
	}
	return []line.Message{line.NewText(stripTags(answer.Message))}
}

// messageWithImages splits a body with embedded <img> tags into alternating
// text and image payloads, in source order.
func (d *Outbound) messageWithImages(body string) []line.Message {
	parts := splitInlineImages(body)
	output := make([]line.Message, 0, len(parts))
	for _, part := range parts {
		if part.imageURL != "" {
			output = append(output, line.NewImage(part.imageURL))
			continue
		}
		output = append(output, line.NewText(part.text))
	}
	return output
}

// decodeURLButtons extracts the configured URL-button attribute. A single
// object is accepted and treated as a one-element list, matching the attribute
// shapes backends produce.
func (d *Outbound) decodeURLButtons(answer bot.Answer, attrName string) ([]map[string]string, bool) {
	raw, ok := answer.Attributes[attrName]
	if !ok || len(raw) == 0 {
		return nil, false
	}
	var buttons []map[string]string
	if err := json.Unmarshal(raw, &buttons); err != nil {
		var single map[string]string
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, false
		}
		buttons = []map[string]string{single}
	}
	if len(buttons) == 0 {
		return nil, false
	}
	return buttons, true
}

// urlButtonMessage renders the answer text with one URI button per entry. A
// button missing its title or URL degrades the whole message to plain text
// rather than failing the response.
func (d *Outbound) urlButtonMessage(answer bot.Answer, buttons []map[string]string) line.Message {
	titleVar := d.conf.URLButtons.ButtonTitleVar
	urlVar := d.conf.URLButtons.ButtonURLVar
	text := stripTags(answer.Message)

	actions := make([]line.Action, 0, len(buttons))
	for _, button := range buttons {
		title := button[titleVar]
		url := button[urlVar]
		if title == "" || url == "" {
			return line.NewText(text)
		}
		actions = append(actions, line.Action{
			Type:  line.ActionURI,
			Label: truncate(title, maxActionLabel),
			URI:   url,
		})
	}
	return line.NewButtonsTemplate(truncate(text, maxAltText), text, actions)
}

func (d *Outbound) digestPolarQuestion(answer bot.Answer, lastUserQuestion string) line.Message {
	actions := make([]line.Action, 0, len(answer.Options))
	for _, option := range answer.Options {
		label := d.lang.Translate(option.Label)
		actions = append(actions, line.Action{
			Type:        line.ActionPostback,
			Label:       truncate(label, maxActionLabel),
			DisplayText: truncate(label, maxActionLabel),
			Data:        mustEncode(postbackData{Message: lastUserQuestion, Option: option.Value}),
		})
	}
	return d.buttonsTemplate(answer.Message, actions)
}

func (d *Outbound) digestMultipleChoice(answer bot.Answer, lastUserQuestion string) line.Message {
	isMultiple := answer.HasFlag(bot.FlagMultipleOptions)
	actions := make([]line.Action, 0, len(answer.Options))
	for _, option := range answer.Options {
		label := option.Label
		if isMultiple {
			if title := option.Attribute(d.conf.ButtonTitle); title != "" {
				label = title
			}
		}
		actions = append(actions, line.Action{
			Type:        line.ActionPostback,
			Label:       truncate(label, maxActionLabel),
			DisplayText: truncate(label, maxActionLabel),
			Data:        mustEncode(postbackData{Message: lastUserQuestion, Option: option.Value}),
		})
	}
	return d.buttonsTemplate(answer.Message, actions)
}

// digestExtendedContents stores each sub-answer in the session and references
// it by key from the postback action. Inline postback data is capped by the
// platform; the stored payload is not.
func (d *Outbound) digestExtendedContents(ctx context.Context, answer bot.Answer) (line.Message, error) {
	actions := make([]line.Action, 0, len(answer.SubAnswers))
	for _, sub := range answer.SubAnswers {
		key, err := d.payloads.Save(ctx, session.NamespaceExtendedContent, map[string]bot.Answer{
			"extendedContentAnswer": sub,
		})
		if err != nil {
			return line.Message{}, fmt.Errorf("stash extended content: %w", err)
		}
		label := sub.Message
		if title := answerAttributeString(sub, d.conf.ButtonTitle); title != "" {
			label = title
		}
		actions = append(actions, line.Action{
			Type:  line.ActionPostback,
			Label: truncate(label, maxActionLabel),
			Data:  key,
		})
	}
	return d.buttonsTemplate(answer.Message, actions), nil
}

// BuildContentRatings renders the rating quick reply. Each option's full
// rating payload is stashed in the session; the action data carries only the
// key, keeping it under the platform's inline limit.
func (d *Outbound) BuildContentRatings(ctx context.Context, ratings []config.RatingOption, rateCode string) (line.Message, error) {
	actions := make([]line.Action, 0, len(ratings))
	for _, option := range ratings {
		key, err := d.payloads.Save(ctx, session.NamespaceRateCode, RatingPayload{
			AskRatingComment: option.Comment,
			IsNegativeRating: option.IsNegative,
			RatingData: RatingData{
				Type: bot.EventRate,
				Data: bot.RateData{Code: rateCode, Value: option.ID, Comment: nil},
			},
		})
		if err != nil {
			return line.Message{}, fmt.Errorf("stash rating payload: %w", err)
		}
		label := d.lang.Translate(option.Label)
		actions = append(actions, line.Action{
			Type:        line.ActionPostback,
			Label:       truncate(label, maxActionLabel),
			DisplayText: label,
			Data:        key,
		})
	}
	return line.NewQuickReplyText(d.lang.Translate("rate_content_intro"), actions), nil
}

// BuildEscalationPrompt renders the yes/no ask-to-escalate quick reply.
func (d *Outbound) BuildEscalationPrompt() line.Message {
	options := []struct {
		label    string
		escalate bool
	}{
		{label: "yes", escalate: true},
		{label: "no", escalate: false},
	}
	actions := make([]line.Action, 0, len(options))
	for _, option := range options {
		label := d.lang.Translate(option.label)
		actions = append(actions, line.Action{
			Type:        line.ActionPostback,
			Label:       label,
			DisplayText: label,
			Data:        mustEncode(EscalationPayload{EscalateOption: option.escalate}),
		})
	}
	return line.NewQuickReplyText(d.lang.Translate("ask_to_escalate"), actions)
}

func (d *Outbound) buttonsTemplate(message string, actions []line.Action) line.Message {
	text := stripTags(message)
	return line.NewButtonsTemplate(truncate(text, maxAltText), text, actions)
}

func answerAttributeString(answer bot.Answer, key string) string {
	if key == "" || answer.Attributes == nil {
		return ""
	}
	raw, ok := answer.Attributes[key]
	if !ok {
		return ""
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	return value
}

// mustEncode marshals values whose types cannot fail to encode.
func mustEncode(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(raw)
}

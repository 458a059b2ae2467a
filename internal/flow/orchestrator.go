// Package flow sequences inbound digestion, backend calls, the escalation and
// rating mini-flows, and outbound delivery for one conversation.
package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/bridgeworks/linegw/internal/bot"
	"github.com/bridgeworks/linegw/internal/config"
	"github.com/bridgeworks/linegw/internal/digest"
	"github.com/bridgeworks/linegw/internal/lang"
	"github.com/bridgeworks/linegw/internal/line"
	"github.com/bridgeworks/linegw/internal/session"
)

// Session keys shared across requests for one conversation.
const (
	keyLastUserQuestion    = "lastUserQuestion"
	keyAskingForEscalation = "askingForEscalation"
	keyAskingRatingComment = "askingRatingComment"
	keyNoResultsCount      = "noResultsCount"
	keyNegativeRatingCount = "negativeRatingCount"
)

// PlatformClient is the delivery boundary to the messaging platform.
type PlatformClient interface {
	Push(ctx context.Context, messages []line.Message) error
	SwitcherSwitch(ctx context.Context) error
	SwitcherNotice(ctx context.Context) error
	HasSwitcher() bool
}

// CommandHook runs preset command handling before normal digestion. It returns
// true when the event was consumed and the pipeline must stop.
type CommandHook func(ctx context.Context, req digest.Request) (bool, error)

// Deps wires an Orchestrator. One Orchestrator serves one inbound batch; it is
// bound to the batch's reply target and session.
type Deps struct {
	Logger         *slog.Logger
	Conf           config.ConversationConfig
	Lang           *lang.Manager
	Session        *session.Session
	Inbound        *digest.Inbound
	Outbound       *digest.Outbound
	Backend        bot.Client
	Platform       PlatformClient
	ConversationID string
	Rand           digest.RandFunc
	Commands       CommandHook
}

// Orchestrator runs the per-event pipeline. Events within a batch are handled
// one at a time, in arrival order, with no intra-request parallelism.
type Orchestrator struct {
	logger   *slog.Logger
	conf     config.ConversationConfig
	lang     *lang.Manager
	sess     *session.Session
	inbound  *digest.Inbound
	outbound *digest.Outbound
	backend  bot.Client
	platform PlatformClient
	convID   string
	rand     digest.RandFunc
	commands CommandHook
}

func New(deps Deps) *Orchestrator {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	random := deps.Rand
	if random == nil {
		random = rand.Intn
	}
	return &Orchestrator{
		logger:   log.With(slog.String("component", "flow")),
		conf:     deps.Conf,
		lang:     deps.Lang,
		sess:     deps.Session,
		inbound:  deps.Inbound,
		outbound: deps.Outbound,
		backend:  deps.Backend,
		platform: deps.Platform,
		convID:   deps.ConversationID,
		rand:     random,
		commands: deps.Commands,
	}
}

// HandleEvents processes a webhook batch sequentially. The first terminal
// error aborts the remainder of the batch.
func (o *Orchestrator) HandleEvents(ctx context.Context, events []line.Event) error {
	for _, ev := range events {
		if err := o.HandleEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// HandleEvent runs the full pipeline for one event: digest, mini-flows,
// backend call, outbound digestion, delivery.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev line.Event) error {
	req, err := o.inbound.Digest(ctx, ev)
	if err != nil {
		return err
	}
	if o.commands != nil {
		handled, err := o.commands(ctx, req)
		if err != nil {
			return err
		}
		if handled {
			return nil
		}
	}
	if req.Message != "" && !req.SkipBot && req.Payload == nil {
		if err := o.sess.Set(ctx, keyLastUserQuestion, req.Message); err != nil {
			return err
		}
	}

	asking, err := o.sess.GetBool(ctx, keyAskingForEscalation)
	if err != nil {
		return err
	}
	if asking {
		done, err := o.handleEscalationAnswer(ctx, req)
		if done || err != nil {
			return err
		}
		// Unanswered prompt: the flag stays set and the event flows on.
	}

	if raw, ok := req.Payload["extendedContentAnswer"]; ok {
		return o.handleFederatedAnswer(ctx, raw)
	}
	if req.HasPayloadKey("ratingData") {
		return o.handleRating(ctx, req)
	}

	if pending, ok, err := o.pendingRatingComment(ctx); err != nil {
		return err
	} else if ok && req.Message != "" && req.Payload == nil {
		return o.handleRatingComment(ctx, pending, req.Message)
	}

	var answers []bot.Answer
	var output []line.Message
	if req.SkipBot {
		output = req.Replies
	} else {
		answers, err = o.backend.SendMessage(ctx, o.convID, bot.Request{Message: req.Message, Option: req.Option})
		if err != nil {
			return fmt.Errorf("backend call: %w", err)
		}
		lastQuestion, _, err := o.sess.Get(ctx, keyLastUserQuestion)
		if err != nil {
			return err
		}
		output, err = o.outbound.Digest(ctx, answers, lastQuestion)
		if err != nil {
			return err
		}
	}

	output = o.substituteThanksSticker(output)

	needEscalation, err := o.checkEscalation(ctx, answers)
	if err != nil {
		return err
	}
	if needEscalation && !asking {
		output = append(output, o.outbound.BuildEscalationPrompt())
		if err := o.sess.SetBool(ctx, keyAskingForEscalation, true); err != nil {
			return err
		}
	}

	if rateCode := firstRateCode(answers); rateCode != "" && o.conf.ContentRatings.Enabled && !needEscalation && !asking {
		ratings, err := o.outbound.BuildContentRatings(ctx, o.conf.ContentRatings.Ratings, rateCode)
		if err != nil {
			return err
		}
		output = append(output, ratings)
	}

	if len(output) == 0 {
		return nil
	}
	return o.platform.Push(ctx, output)
}

// handleFederatedAnswer renders a stored extended-content sub-answer directly,
// with no backend round-trip.
func (o *Orchestrator) handleFederatedAnswer(ctx context.Context, raw json.RawMessage) error {
	var answer bot.Answer
	if err := json.Unmarshal(raw, &answer); err != nil {
		return fmt.Errorf("decode federated answer: %w", err)
	}
	lastQuestion, _, err := o.sess.Get(ctx, keyLastUserQuestion)
	if err != nil {
		return err
	}
	output, err := o.outbound.DigestOne(ctx, answer, lastQuestion)
	if err != nil {
		return err
	}
	return o.platform.Push(ctx, output)
}

// checkEscalation bumps the no-results counter from the backend answers and
// reports whether either escalation threshold has been reached.
func (o *Orchestrator) checkEscalation(ctx context.Context, answers []bot.Answer) (bool, error) {
	noResults, err := o.sess.GetInt(ctx, keyNoResultsCount)
	if err != nil {
		return false, err
	}
	for _, answer := range answers {
		if answer.HasFlag(bot.FlagNoResults) {
			noResults++
		}
	}
	if err := o.sess.SetInt(ctx, keyNoResultsCount, noResults); err != nil {
		return false, err
	}
	negative, err := o.sess.GetInt(ctx, keyNegativeRatingCount)
	if err != nil {
		return false, err
	}
	conf := o.conf.Escalation
	if conf.MaxNoResults > 0 && noResults >= conf.MaxNoResults {
		return true, nil
	}
	if conf.MaxNegativeRatings > 0 && negative >= conf.MaxNegativeRatings {
		return true, nil
	}
	return false, nil
}

// substituteThanksSticker replaces a lone post-rating acknowledgement with a
// random configured sticker, when enabled.
func (o *Orchestrator) substituteThanksSticker(output []line.Message) []line.Message {
	if !o.conf.ContentRatings.Sticker {
		return output
	}
	stickers := o.conf.Digester.StickerReplies.ThanksRatingStickers
	if len(stickers) == 0 {
		return output
	}
	if len(output) != 1 || output[0].Type != line.MessageText || output[0].Text != o.lang.Translate("thanks") {
		return output
	}
	pick := stickers[o.rand(len(stickers))]
	return []line.Message{line.NewSticker(pick.PackageID, pick.StickerID)}
}

func firstRateCode(answers []bot.Answer) string {
	for _, answer := range answers {
		if answer.RateCode != "" {
			return answer.RateCode
		}
	}
	return ""
}

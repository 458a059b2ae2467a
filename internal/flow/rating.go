package flow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bridgeworks/linegw/internal/bot"
	"github.com/bridgeworks/linegw/internal/digest"
	"github.com/bridgeworks/linegw/internal/line"
)

// handleRating consumes a rating quick-reply tap. The rate event is tracked
// immediately; options configured to ask for a comment park the rating in the
// session and prompt for free text instead of thanking right away.
func (o *Orchestrator) handleRating(ctx context.Context, req digest.Request) error {
	raw, err := json.Marshal(req.Payload)
	if err != nil {
		return fmt.Errorf("re-encode rating payload: %w", err)
	}
	var rating digest.RatingPayload
	if err := json.Unmarshal(raw, &rating); err != nil {
		return fmt.Errorf("decode rating payload: %w", err)
	}

	if rating.IsNegativeRating {
		negative, err := o.sess.GetInt(ctx, keyNegativeRatingCount)
		if err != nil {
			return err
		}
		if err := o.sess.SetInt(ctx, keyNegativeRatingCount, negative+1); err != nil {
			return err
		}
	}
	willEscalate, err := o.checkEscalation(ctx, nil)
	if err != nil {
		return err
	}

	if err := o.trackRate(ctx, rating.RatingData); err != nil {
		return err
	}

	if rating.AskRatingComment && !willEscalate {
		if err := o.sess.SetJSON(ctx, keyAskingRatingComment, rating); err != nil {
			return err
		}
		return o.platform.Push(ctx, []line.Message{line.NewText(o.lang.Translate("ask_rating_comment"))})
	}

	if err := o.sess.Delete(ctx, keyAskingRatingComment); err != nil {
		return err
	}
	output := o.substituteThanksSticker([]line.Message{line.NewText(o.lang.Translate("thanks"))})
	if willEscalate {
		output = append(output, o.outbound.BuildEscalationPrompt())
		if err := o.sess.SetBool(ctx, keyAskingForEscalation, true); err != nil {
			return err
		}
	}
	return o.platform.Push(ctx, output)
}

// handleRatingComment treats the event's text as the parked rating's free-text
// comment, re-tracks the rate event with it, and thanks the user.
func (o *Orchestrator) handleRatingComment(ctx context.Context, rating digest.RatingPayload, comment string) error {
	rating.RatingData.Data.Comment = &comment
	if err := o.trackRate(ctx, rating.RatingData); err != nil {
		return err
	}
	if err := o.sess.Delete(ctx, keyAskingRatingComment); err != nil {
		return err
	}
	output := o.substituteThanksSticker([]line.Message{line.NewText(o.lang.Translate("thanks"))})
	return o.platform.Push(ctx, output)
}

// pendingRatingComment loads the rating parked while waiting for a comment.
func (o *Orchestrator) pendingRatingComment(ctx context.Context) (digest.RatingPayload, bool, error) {
	var rating digest.RatingPayload
	ok, err := o.sess.GetJSON(ctx, keyAskingRatingComment, &rating)
	if err != nil {
		return digest.RatingPayload{}, false, err
	}
	return rating, ok, nil
}

func (o *Orchestrator) trackRate(ctx context.Context, data digest.RatingData) error {
	payload, err := json.Marshal(data.Data)
	if err != nil {
		return fmt.Errorf("encode rate event: %w", err)
	}
	if err := o.backend.TrackEvent(ctx, o.convID, bot.Event{Type: bot.EventRate, Data: payload}); err != nil {
		return fmt.Errorf("track rate event: %w", err)
	}
	return nil
}

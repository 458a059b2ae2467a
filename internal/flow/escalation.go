package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/bridgeworks/linegw/internal/bot"
	"github.com/bridgeworks/linegw/internal/digest"
	"github.com/bridgeworks/linegw/internal/line"
)

// handleEscalationAnswer consumes the user's reply to an ask-to-escalate
// prompt. A yes hands the conversation to an agent, a no tracks the rejection;
// both are terminal for the request and reset the escalation counters. Any
// other input leaves the prompt unanswered and the flag set.
func (o *Orchestrator) handleEscalationAnswer(ctx context.Context, req digest.Request) (bool, error) {
	raw, ok := req.Payload["escalateOption"]
	if !ok {
		return false, nil
	}
	if err := o.sess.SetBool(ctx, keyAskingForEscalation, false); err != nil {
		return true, err
	}
	if err := o.resetEscalationCounters(ctx); err != nil {
		return true, err
	}
	var escalate bool
	if err := json.Unmarshal(raw, &escalate); err != nil {
		return true, fmt.Errorf("decode escalation answer: %w", err)
	}
	if escalate {
		return true, o.escalateToAgent(ctx)
	}
	if err := o.trackContactEvent(ctx, bot.ContactRejected); err != nil {
		return true, err
	}
	return true, o.platform.Push(ctx, []line.Message{line.NewText(o.lang.Translate("escalation_rejected"))})
}

// escalateToAgent performs the switcher hand-off, or reports the failure to
// the user when no switcher destination is configured.
func (o *Orchestrator) escalateToAgent(ctx context.Context) error {
	if !o.platform.HasSwitcher() {
		if o.logger != nil {
			o.logger.Warn("escalation requested without switcher destination")
		}
		return o.platform.Push(ctx, []line.Message{line.NewText(o.lang.Translate("error_creating_chat"))})
	}
	if err := o.platform.Push(ctx, []line.Message{line.NewText(o.lang.Translate("creating_chat"))}); err != nil {
		return err
	}
	if err := o.platform.SwitcherSwitch(ctx); err != nil {
		return err
	}
	if err := o.platform.SwitcherNotice(ctx); err != nil {
		return err
	}
	return o.trackContactEvent(ctx, bot.ContactAttended)
}

func (o *Orchestrator) resetEscalationCounters(ctx context.Context) error {
	if err := o.sess.SetInt(ctx, keyNoResultsCount, 0); err != nil {
		return err
	}
	return o.sess.SetInt(ctx, keyNegativeRatingCount, 0)
}

func (o *Orchestrator) trackContactEvent(ctx context.Context, kind string) error {
	err := o.backend.TrackEvent(ctx, o.convID, bot.Event{Type: kind})
	if err != nil && o.logger != nil {
		// Tracking is best effort; the user-facing flow continues.
		o.logger.Error("track contact event failed", slog.String("kind", kind), slog.Any("error", err))
	}
	return nil
}

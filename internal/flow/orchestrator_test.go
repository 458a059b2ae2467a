package flow

import (
	"context"
	"strings"
	"testing"

	"github.com/bridgeworks/linegw/internal/bot"
	"github.com/bridgeworks/linegw/internal/config"
	"github.com/bridgeworks/linegw/internal/digest"
	"github.com/bridgeworks/linegw/internal/lang"
	"github.com/bridgeworks/linegw/internal/line"
	"github.com/bridgeworks/linegw/internal/session"
)

type fakeBackend struct {
	answers  []bot.Answer
	requests []bot.Request
	events   []bot.Event
}

func (f *fakeBackend) SendMessage(ctx context.Context, conversationID string, req bot.Request) ([]bot.Answer, error) {
	f.requests = append(f.requests, req)
	return f.answers, nil
}

func (f *fakeBackend) TrackEvent(ctx context.Context, conversationID string, ev bot.Event) error {
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeBackend) eventTypes() []string {
	types := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		types = append(types, ev.Type)
	}
	return types
}

type fakePlatform struct {
	pushes      [][]line.Message
	hasSwitcher bool
	switches    int
	notices     int
}

func (f *fakePlatform) Push(ctx context.Context, messages []line.Message) error {
	f.pushes = append(f.pushes, messages)
	return nil
}

func (f *fakePlatform) SwitcherSwitch(ctx context.Context) error { f.switches++; return nil }
func (f *fakePlatform) SwitcherNotice(ctx context.Context) error { f.notices++; return nil }
func (f *fakePlatform) HasSwitcher() bool                        { return f.hasSwitcher }

func (f *fakePlatform) allPushed() []line.Message {
	var all []line.Message
	for _, push := range f.pushes {
		all = append(all, push...)
	}
	return all
}

type testHarness struct {
	orch     *Orchestrator
	sess     *session.Session
	backend  *fakeBackend
	platform *fakePlatform
}

func newHarness(t *testing.T, conf config.ConversationConfig, backend *fakeBackend, platform *fakePlatform) *testHarness {
	t.Helper()
	langs := lang.NewManager(conf.Translations)
	sess := session.New(session.NewMemoryStore(), "line-U1")
	payloads := session.NewPayloadStore(sess)
	pinnedRand := func(n int) int { return 0 }
	orch := New(Deps{
		Conf:           conf,
		Lang:           langs,
		Session:        sess,
		Inbound:        digest.NewInbound(nil, langs, conf.Digester, payloads, pinnedRand),
		Outbound:       digest.NewOutbound(nil, langs, conf.Digester, payloads),
		Backend:        backend,
		Platform:       platform,
		ConversationID: "line-U1",
		Rand:           pinnedRand,
	})
	return &testHarness{orch: orch, sess: sess, backend: backend, platform: platform}
}

func testConversationConfig() config.ConversationConfig {
	return config.ConversationConfig{
		ContentRatings: config.ContentRatingsConfig{
			Enabled: true,
			Ratings: []config.RatingOption{
				{ID: 1, Label: "yes"},
				{ID: 2, Label: "no", Comment: true, IsNegative: true},
			},
		},
		Escalation: config.EscalationConfig{
			MaxNoResults:       2,
			MaxNegativeRatings: 2,
		},
	}
}

func textEvent(text string) line.Event {
	return line.Event{Type: "message", Message: &line.EventMessage{Type: "text", Text: text}}
}

func postbackEvent(data string) line.Event {
	return line.Event{Type: "postback", Postback: &line.EventPostbackData{Data: data}}
}

func TestHandleEventTextRoundTrip(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{answers: []bot.Answer{{Type: bot.AnswerPlain, Message: "Here is the answer."}}}
	platform := &fakePlatform{}
	h := newHarness(t, testConversationConfig(), backend, platform)

	if err := h.orch.HandleEvent(context.Background(), textEvent("where is my order")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(backend.requests) != 1 || backend.requests[0].Message != "where is my order" {
		t.Fatalf("backend requests = %+v", backend.requests)
	}
	pushed := platform.allPushed()
	if len(pushed) != 1 || pushed[0].Text != "Here is the answer." {
		t.Fatalf("pushed = %+v", pushed)
	}
	// The question is remembered for option postbacks.
	last, _, err := h.sess.Get(context.Background(), keyLastUserQuestion)
	if err != nil || last != "where is my order" {
		t.Fatalf("last question = %q err=%v", last, err)
	}
}

func TestHandleEventStickerBypassesBackend(t *testing.T) {
	t.Parallel()

	conf := testConversationConfig()
	conf.Digester.StickerReplies.AvailablePackages = []string{"11537"}
	backend := &fakeBackend{}
	platform := &fakePlatform{}
	h := newHarness(t, conf, backend, platform)

	ev := line.Event{Type: "message", Message: &line.EventMessage{Type: "sticker", PackageID: "11537", StickerID: "52002734"}}
	if err := h.orch.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(backend.requests) != 0 {
		t.Fatalf("backend must not be called for stickers")
	}
	pushed := platform.allPushed()
	if len(pushed) != 1 || pushed[0].Type != line.MessageSticker {
		t.Fatalf("pushed = %+v", pushed)
	}
}

func TestHandleEventAppendsContentRatings(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{answers: []bot.Answer{{Type: bot.AnswerPlain, Message: "Rated answer.", RateCode: "rc-9"}}}
	platform := &fakePlatform{}
	h := newHarness(t, testConversationConfig(), backend, platform)

	if err := h.orch.HandleEvent(context.Background(), textEvent("question")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	pushed := platform.allPushed()
	if len(pushed) != 2 {
		t.Fatalf("pushed = %+v", pushed)
	}
	ratings := pushed[1]
	if ratings.QuickReply == nil || len(ratings.QuickReply.Items) != 2 {
		t.Fatalf("rating quick reply = %+v", ratings)
	}
}

func TestEscalationPromptAfterRepeatedNoResults(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{answers: []bot.Answer{{Type: bot.AnswerPlain, Message: "No luck.", Flags: []string{bot.FlagNoResults}}}}
	platform := &fakePlatform{}
	h := newHarness(t, testConversationConfig(), backend, platform)
	ctx := context.Background()

	if err := h.orch.HandleEvent(ctx, textEvent("first miss")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if asking, _ := h.sess.GetBool(ctx, keyAskingForEscalation); asking {
		t.Fatalf("one miss must not trigger the prompt")
	}

	if err := h.orch.HandleEvent(ctx, textEvent("second miss")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if asking, _ := h.sess.GetBool(ctx, keyAskingForEscalation); !asking {
		t.Fatalf("escalation flag not set after reaching the threshold")
	}
	pushed := platform.pushes[len(platform.pushes)-1]
	prompt := pushed[len(pushed)-1]
	if prompt.QuickReply == nil || !strings.Contains(prompt.Text, "human agent") {
		t.Fatalf("expected an escalation prompt, got %+v", prompt)
	}
}

func TestEscalationRejected(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	platform := &fakePlatform{}
	h := newHarness(t, testConversationConfig(), backend, platform)
	ctx := context.Background()

	if err := h.sess.SetBool(ctx, keyAskingForEscalation, true); err != nil {
		t.Fatalf("seed flag: %v", err)
	}
	if err := h.sess.SetInt(ctx, keyNoResultsCount, 2); err != nil {
		t.Fatalf("seed counter: %v", err)
	}

	if err := h.orch.HandleEvent(ctx, postbackEvent(`{"escalateOption":false}`)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if asking, _ := h.sess.GetBool(ctx, keyAskingForEscalation); asking {
		t.Fatalf("flag must clear once the prompt is answered")
	}
	if n, _ := h.sess.GetInt(ctx, keyNoResultsCount); n != 0 {
		t.Fatalf("no-results counter = %d, want reset", n)
	}
	types := backend.eventTypes()
	if len(types) != 1 || types[0] != bot.ContactRejected {
		t.Fatalf("tracked events = %v", types)
	}
	pushed := platform.allPushed()
	if len(pushed) != 1 || !strings.Contains(pushed[0].Text, "here if you need me") {
		t.Fatalf("pushed = %+v", pushed)
	}
}

func TestEscalationAcceptedWithSwitcher(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	platform := &fakePlatform{hasSwitcher: true}
	h := newHarness(t, testConversationConfig(), backend, platform)
	ctx := context.Background()

	if err := h.sess.SetBool(ctx, keyAskingForEscalation, true); err != nil {
		t.Fatalf("seed flag: %v", err)
	}
	if err := h.orch.HandleEvent(ctx, postbackEvent(`{"escalateOption":true}`)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if platform.switches != 1 || platform.notices != 1 {
		t.Fatalf("switcher calls = %d/%d, want 1/1", platform.switches, platform.notices)
	}
	types := backend.eventTypes()
	if len(types) != 1 || types[0] != bot.ContactAttended {
		t.Fatalf("tracked events = %v", types)
	}
	pushed := platform.allPushed()
	if len(pushed) != 1 || !strings.Contains(pushed[0].Text, "connect you with an agent") {
		t.Fatalf("pushed = %+v", pushed)
	}
}

func TestEscalationAcceptedWithoutSwitcher(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	platform := &fakePlatform{}
	h := newHarness(t, testConversationConfig(), backend, platform)
	ctx := context.Background()

	if err := h.sess.SetBool(ctx, keyAskingForEscalation, true); err != nil {
		t.Fatalf("seed flag: %v", err)
	}
	if err := h.orch.HandleEvent(ctx, postbackEvent(`{"escalateOption":true}`)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if platform.switches != 0 || platform.notices != 0 {
		t.Fatalf("switcher must not be called without a destination")
	}
	pushed := platform.allPushed()
	if len(pushed) != 1 || !strings.Contains(pushed[0].Text, "error creating the chat") {
		t.Fatalf("pushed = %+v", pushed)
	}
}

func TestEscalationPromptUnanswered(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{answers: []bot.Answer{{Type: bot.AnswerPlain, Message: "Regular answer."}}}
	platform := &fakePlatform{}
	h := newHarness(t, testConversationConfig(), backend, platform)
	ctx := context.Background()

	if err := h.sess.SetBool(ctx, keyAskingForEscalation, true); err != nil {
		t.Fatalf("seed flag: %v", err)
	}
	// A plain question instead of a yes/no tap: the pipeline continues and the
	// prompt stays pending.
	if err := h.orch.HandleEvent(ctx, textEvent("actually, another question")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(backend.requests) != 1 {
		t.Fatalf("backend requests = %+v", backend.requests)
	}
	if asking, _ := h.sess.GetBool(ctx, keyAskingForEscalation); !asking {
		t.Fatalf("flag must stay set while the prompt is unanswered")
	}
}

func TestFederatedFollowUp(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{answers: []bot.Answer{{
		Type:    bot.AnswerExtendedContents,
		Message: "Related articles:",
		SubAnswers: []bot.Answer{
			{Type: bot.AnswerPlain, Message: "Stored article body"},
		},
	}}}
	platform := &fakePlatform{}
	h := newHarness(t, testConversationConfig(), backend, platform)
	ctx := context.Background()

	if err := h.orch.HandleEvent(ctx, textEvent("search for articles")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	first := platform.allPushed()
	if len(first) != 1 || first[0].Template == nil {
		t.Fatalf("pushed = %+v", first)
	}
	key := first[0].Template.Actions[0].Data

	// Tapping the button renders the stored sub-answer without a backend call.
	if err := h.orch.HandleEvent(ctx, postbackEvent(key)); err != nil {
		t.Fatalf("handle follow-up: %v", err)
	}
	if len(backend.requests) != 1 {
		t.Fatalf("follow-up must not hit the backend, requests = %+v", backend.requests)
	}
	followUp := platform.pushes[len(platform.pushes)-1]
	if len(followUp) != 1 || followUp[0].Text != "Stored article body" {
		t.Fatalf("follow-up push = %+v", followUp)
	}
}

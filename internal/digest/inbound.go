package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/bridgeworks/linegw/internal/config"
	"github.com/bridgeworks/linegw/internal/lang"
	"github.com/bridgeworks/linegw/internal/line"
	"github.com/bridgeworks/linegw/internal/session"
)

// RandFunc picks a uniform index in [0, n). Injected so tests can pin the
// selection.
type RandFunc func(n int) int

// Request is the canonical outcome of digesting one inbound event. SkipBot
// means the backend must not be called: Replies already holds the final
// payloads. Payload carries the decoded postback object for flow-level checks
// (escalation answers, rating data, federated follow-ups).
type Request struct {
	Message string
	Option  string
	SkipBot bool
	Replies []line.Message
	Payload map[string]json.RawMessage
}

// HasPayloadKey reports whether the decoded postback carries the given key.
func (r Request) HasPayloadKey(key string) bool {
	_, ok := r.Payload[key]
	return ok
}

// Inbound digests classified platform events into canonical requests.
type Inbound struct {
	logger   *slog.Logger
	lang     *lang.Manager
	conf     config.DigesterConfig
	payloads *session.PayloadStore
	rand     RandFunc
}

// NewInbound creates an inbound digester. random may be nil, defaulting to
// math/rand.
func NewInbound(log *slog.Logger, langs *lang.Manager, conf config.DigesterConfig, payloads *session.PayloadStore, random RandFunc) *Inbound {
	if log == nil {
		log = slog.Default()
	}
	if random == nil {
		random = rand.Intn
	}
	return &Inbound{
		logger:   log.With(slog.String("digester", "inbound")),
		lang:     langs,
		conf:     conf,
		payloads: payloads,
		rand:     random,
	}
}

// Digest converts one raw event. It never fails for a syntactically valid
// event except on malformed postback state, which is a hard error: the client
// referenced session data that cannot be decoded.
func (d *Inbound) Digest(ctx context.Context, ev line.Event) (Request, error) {
	switch kind := line.Classify(ev); kind {
	case line.EventText:
		return Request{Message: ev.Message.Text}, nil
	case line.EventPostback:
		return d.digestPostback(ctx, ev)
	case line.EventSticker:
		return d.digestSticker(ev), nil
	default:
		if d.logger != nil && kind != line.EventUnknown {
			d.logger.Debug("unsupported message type", slog.String("kind", string(kind)))
		}
		return d.unsupported(), nil
	}
}

// digestPostback decodes the postback payload, resolving session indirection
// keys first. Both a dangling reference and undecodable JSON are terminal.
func (d *Inbound) digestPostback(ctx context.Context, ev line.Event) (Request, error) {
	data := ev.Postback.Data
	raw := json.RawMessage(data)
	if session.IsPayloadRef(data) {
		resolved, err := d.payloads.Resolve(ctx, data)
		if err != nil {
			return Request{}, fmt.Errorf("resolve postback: %w", err)
		}
		raw = resolved
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Request{}, fmt.Errorf("decode postback payload: %w", err)
	}
	req := Request{Payload: payload}
	if value, ok := payload["message"]; ok {
		_ = json.Unmarshal(value, &req.Message)
	}
	if value, ok := payload["option"]; ok {
		_ = json.Unmarshal(value, &req.Option)
	}
	return req, nil
}

// digestSticker echoes an allow-listed sticker back, or substitutes a random
// entry from the configured unknown-sticker list. Either way the backend is
// skipped.
func (d *Inbound) digestSticker(ev line.Event) Request {
	packageID := ev.Message.PackageID
	stickerID := ev.Message.StickerID
	if !d.packageAllowed(packageID) {
		replies := d.conf.StickerReplies.UnknownStickerReplies
		if len(replies) > 0 {
			pick := replies[d.rand(len(replies))]
			packageID = pick.PackageID
			stickerID = pick.StickerID
		}
	}
	return Request{
		SkipBot: true,
		Replies: []line.Message{line.NewSticker(packageID, stickerID)},
	}
}

func (d *Inbound) packageAllowed(packageID string) bool {
	for _, pkg := range d.conf.StickerReplies.AvailablePackages {
		if pkg == packageID {
			return true
		}
	}
	return false
}

func (d *Inbound) unsupported() Request {
	return Request{
		SkipBot: true,
		Replies: []line.Message{line.NewText(d.lang.Translate("unknownMessageType"))},
	}
}

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// Payload namespaces. Keys look like "extendedContentAnswer-0".
const (
	NamespaceExtendedContent = "extendedContentAnswer"
	NamespaceRateCode        = "rateCode"
)

var refPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*-\d+$`)

// IsPayloadRef reports whether a postback data string is an indirection key
// rather than an inline JSON payload.
func IsPayloadRef(data string) bool {
	return refPattern.MatchString(data)
}

// PayloadStore stashes structured payloads behind short opaque keys in the
// session. The platform caps inline postback data, so anything larger is
// stored here and referenced by key. Counters are per instance; create one
// PayloadStore per digestion pass so keys never collide within it.
type PayloadStore struct {
	sess     *Session
	counters map[string]int
}

func NewPayloadStore(sess *Session) *PayloadStore {
	return &PayloadStore{sess: sess, counters: make(map[string]int)}
}

// Save stores payload as JSON under the next key in namespace and returns the key.
func (p *PayloadStore) Save(ctx context.Context, namespace string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload for %s: %w", namespace, err)
	}
	n := p.counters[namespace]
	p.counters[namespace] = n + 1
	key := namespace + "-" + strconv.Itoa(n)
	if err := p.sess.Set(ctx, key, string(raw)); err != nil {
		return "", fmt.Errorf("store payload %s: %w", key, err)
	}
	return key, nil
}

// Resolve loads the JSON blob stored under key. A missing key is a hard error:
// it means the client referenced state this conversation never stored.
func (p *PayloadStore) Resolve(ctx context.Context, key string) (json.RawMessage, error) {
	raw, ok, err := p.sess.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("payload reference %q not found in session", key)
	}
	return json.RawMessage(raw), nil
}

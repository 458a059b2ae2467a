package line

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TokenRefreshOffset is the safety window before expiry. A token expiring
// within the offset is treated as already expired so it cannot lapse mid-call.
const TokenRefreshOffset = 180 * time.Second

// ErrUnauthorized means the credential endpoint rejected the channel id or
// secret. It is fatal for the current request; no outbound call may proceed.
var ErrUnauthorized = errors.New("line: invalid channel credentials")

// TokenRecord is a cached channel access token with its absolute expiry.
type TokenRecord struct {
	AccessToken string `json:"access_token"`
	ExpiresAtMs int64  `json:"expiration"`
}

// ValidAt reports whether the record can still be used at now, honoring the
// refresh offset.
func (r TokenRecord) ValidAt(now time.Time) bool {
	return r.AccessToken != "" && r.ExpiresAtMs > now.Add(TokenRefreshOffset).UnixMilli()
}

// TokenStore persists token records under a conversation-identity key, shared
// across requests. Concurrent refreshes for the same key are last-writer-wins;
// both writers hold individually valid tokens, so no locking is done here.
type TokenStore interface {
	Load(ctx context.Context, key string) (TokenRecord, bool, error)
	Store(ctx context.Context, key string, record TokenRecord) error
}

// TokenIssuer requests a fresh token from the platform credential endpoint.
type TokenIssuer interface {
	Issue(ctx context.Context) (TokenRecord, error)
}

// TokenCache guards outbound platform calls with a valid bearer token. It is
// bound to one conversation identity and consults the shared TokenStore before
// hitting the credential endpoint.
type TokenCache struct {
	store  TokenStore
	issuer TokenIssuer
	key    string
	now    func() time.Time

	current TokenRecord
}

// NewTokenCache creates a cache for the given identity key. now may be nil.
func NewTokenCache(store TokenStore, issuer TokenIssuer, key string, now func() time.Time) *TokenCache {
	if now == nil {
		now = time.Now
	}
	return &TokenCache{store: store, issuer: issuer, key: key, now: now}
}

// EnsureValid returns a usable access token, refreshing if the current record
// is absent or inside the expiry offset. Refresh order: adopt a still-valid
// persisted record, else issue a new one and persist it.
func (c *TokenCache) EnsureValid(ctx context.Context) (string, error) {
	now := c.now()
	if c.current.ValidAt(now) {
		return c.current.AccessToken, nil
	}
	record, ok, err := c.store.Load(ctx, c.key)
	if err != nil {
		return "", fmt.Errorf("load cached token: %w", err)
	}
	if ok && record.ValidAt(now) {
		c.current = record
		return record.AccessToken, nil
	}
	record, err = c.issuer.Issue(ctx)
	if err != nil {
		return "", err
	}
	if err := c.store.Store(ctx, c.key, record); err != nil {
		return "", fmt.Errorf("persist token: %w", err)
	}
	c.current = record
	return record.AccessToken, nil
}

// CredentialsClient issues channel access tokens via the platform's
// client_credentials endpoint.
type CredentialsClient struct {
	baseURL       string
	channelID     string
	channelSecret string
	http          *http.Client
	now           func() time.Time
}

// NewCredentialsClient builds a TokenIssuer for the given channel credentials.
// httpClient and now may be nil.
func NewCredentialsClient(baseURL, channelID, channelSecret string, httpClient *http.Client, now func() time.Time) *CredentialsClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if now == nil {
		now = time.Now
	}
	return &CredentialsClient{
		baseURL:       strings.TrimRight(baseURL, "/") + "/",
		channelID:     channelID,
		channelSecret: channelSecret,
		http:          httpClient,
		now:           now,
	}
}

// Issue requests a new access token. The expiry is stored as an absolute
// epoch-millisecond timestamp computed from the endpoint's expires_in.
func (c *CredentialsClient) Issue(ctx context.Context) (TokenRecord, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.channelID)
	form.Set("client_secret", c.channelSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"oauth/accessToken", strings.NewReader(form.Encode()))
	if err != nil {
		return TokenRecord{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return TokenRecord{}, fmt.Errorf("request access token: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return TokenRecord{}, fmt.Errorf("read token response: %w", err)
	}
	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
		Message     string `json:"message"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return TokenRecord{}, fmt.Errorf("decode token response: %w", err)
	}
	if strings.EqualFold(strings.TrimSpace(body.Message), "Unauthorized") || resp.StatusCode == http.StatusUnauthorized {
		return TokenRecord{}, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK || body.AccessToken == "" {
		return TokenRecord{}, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}
	return TokenRecord{
		AccessToken: body.AccessToken,
		ExpiresAtMs: (c.now().Unix() + body.ExpiresIn) * 1000,
	}, nil
}

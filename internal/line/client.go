package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// pushChunkSize is the platform ceiling on messages per delivery call.
const pushChunkSize = 5

// ClientConfig carries the per-channel settings the Client needs.
type ClientConfig struct {
	BaseURL             string
	SwitcherDestination string
	SwitcherSecret      string
	ServiceCode         string
}

// Client delivers outgoing messages to one reply target and drives the
// switcher hand-off. Every call is gated by the token cache.
type Client struct {
	logger *slog.Logger
	http   *http.Client
	tokens *TokenCache
	target ReplyTarget
	cfg    ClientConfig
}

// NewClient builds a Client bound to target. httpClient may be nil.
func NewClient(log *slog.Logger, cfg ClientConfig, target ReplyTarget, tokens *TokenCache, httpClient *http.Client) *Client {
	if log == nil {
		log = slog.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/") + "/"
	return &Client{
		logger: log.With(slog.String("client", "line")),
		http:   httpClient,
		tokens: tokens,
		target: target,
		cfg:    cfg,
	}
}

// Target returns the reply target this client delivers to.
func (c *Client) Target() ReplyTarget {
	return c.target
}

// HasSwitcher reports whether a switcher destination is configured for
// agent hand-off.
func (c *Client) HasSwitcher() bool {
	return strings.TrimSpace(c.cfg.SwitcherDestination) != ""
}

// Push delivers messages to the reply target, chunked at the platform ceiling
// of five messages per call. Chunks are sent in order; a failed chunk aborts
// the remainder.
func (c *Client) Push(ctx context.Context, messages []Message) error {
	for _, chunk := range chunkMessages(messages, pushChunkSize) {
		body := map[string]any{
			"to":       c.target.ID,
			"messages": chunk,
		}
		if err := c.post(ctx, "bot/message/push", body); err != nil {
			return fmt.Errorf("push messages: %w", err)
		}
	}
	if c.logger != nil && len(messages) > 0 {
		c.logger.Info("push delivered",
			slog.String("target", c.target.ID),
			slog.Int("messages", len(messages)),
		)
	}
	return nil
}

// SwitcherSwitch hands the conversation over to the manual reply partner.
func (c *Client) SwitcherSwitch(ctx context.Context) error {
	if err := c.post(ctx, "bot/admin/switcher/switch", c.switcherParams()); err != nil {
		return fmt.Errorf("switcher switch: %w", err)
	}
	return nil
}

// SwitcherNotice notifies the manual reply partner about the hand-off.
func (c *Client) SwitcherNotice(ctx context.Context) error {
	if err := c.post(ctx, "bot/admin/switcher/notice", c.switcherParams()); err != nil {
		return fmt.Errorf("switcher notice: %w", err)
	}
	return nil
}

func (c *Client) switcherParams() map[string]any {
	return map[string]any{
		"destinationId":      c.cfg.SwitcherDestination,
		c.target.SourceKey(): c.target.ID,
	}
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	token, err := c.tokens.EnsureValid(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Line-Retry-Key", uuid.NewString())
	if c.cfg.SwitcherSecret != "" {
		req.Header.Set("X-Line-SwitcherSecret", c.cfg.SwitcherSecret)
	}
	if c.cfg.ServiceCode != "" {
		req.Header.Set("X-Line-ServiceCode", c.cfg.ServiceCode)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if c.logger != nil {
			c.logger.Error("platform call failed",
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.String("body", string(detail)),
			)
		}
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	return nil
}

// chunkMessages splits messages into batches of at most size, preserving order.
func chunkMessages(messages []Message, size int) [][]Message {
	if size <= 0 || len(messages) == 0 {
		return nil
	}
	chunks := make([][]Message, 0, (len(messages)+size-1)/size)
	for start := 0; start < len(messages); start += size {
		end := start + size
		if end > len(messages) {
			end = len(messages)
		}
		chunks = append(chunks, messages[start:end])
	}
	return chunks
}

package bot

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
)

// Client is the backend capability set the orchestrator depends on.
type Client interface {
	// SendMessage posts a canonical request and returns zero or more answers.
	SendMessage(ctx context.Context, conversationID string, req Request) ([]Answer, error)
	// TrackEvent logs a tracking event (ratings, contact outcomes).
	TrackEvent(ctx context.Context, conversationID string, ev Event) error
}

// HTTPClient talks to the backend over plain JSON HTTP.
type HTTPClient struct {
	logger  *slog.Logger
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPClient builds an HTTPClient. timeout zero means 30 seconds.
func NewHTTPClient(log *slog.Logger, baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		logger:  log.With(slog.String("client", "bot")),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) SendMessage(ctx context.Context, conversationID string, req Request) ([]Answer, error) {
	var out struct {
		Answers []Answer `json:"answers"`
	}
	if err := c.post(ctx, "/conversations/"+conversationID+"/message", req, &out); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return out.Answers, nil
}

func (c *HTTPClient) TrackEvent(ctx context.Context, conversationID string, ev Event) error {
	if err := c.post(ctx, "/conversations/"+conversationID+"/events", ev, nil); err != nil {
		return fmt.Errorf("track event: %w", err)
	}
	return nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if c.logger != nil {
			c.logger.Error("backend call failed",
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)
		}
		return fmt.Errorf("backend returned status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

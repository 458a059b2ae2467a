// Package handlers exposes the gateway's HTTP endpoints.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bridgeworks/linegw/internal/bot"
	"github.com/bridgeworks/linegw/internal/config"
	"github.com/bridgeworks/linegw/internal/digest"
	"github.com/bridgeworks/linegw/internal/flow"
	"github.com/bridgeworks/linegw/internal/lang"
	"github.com/bridgeworks/linegw/internal/line"
	"github.com/bridgeworks/linegw/internal/session"
)

const webhookMaxBodyBytes int64 = 1 << 20 // 1 MiB

// WebhookHandler receives Messaging API webhook callbacks and runs the flow
// pipeline for each batch. Signature verification happens upstream of this
// handler.
type WebhookHandler struct {
	logger   *slog.Logger
	cfg      config.Config
	lang     *lang.Manager
	sessions session.Store
	tokens   line.TokenStore
	backend  bot.Client
	rand     digest.RandFunc
}

// NewWebhookHandler wires the webhook endpoint. random may be nil.
func NewWebhookHandler(log *slog.Logger, cfg config.Config, langs *lang.Manager, sessions session.Store, tokens line.TokenStore, backend bot.Client, random digest.RandFunc) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		logger:   log.With(slog.String("handler", "webhook")),
		cfg:      cfg,
		lang:     langs,
		sessions: sessions,
		tokens:   tokens,
		backend:  backend,
		rand:     random,
	}
}

// Register registers webhook callback routes.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhook", h.Handle)
}

// Handle processes one webhook delivery. Hard errors terminate the request
// with a single JSON error payload; anything already pushed in the current
// loop stays delivered.
func (h *WebhookHandler) Handle(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, webhookMaxBodyBytes+1))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(fmt.Errorf("read body: %w", err)))
	}
	if int64(len(payload)) > webhookMaxBodyBytes {
		return c.JSON(http.StatusRequestEntityTooLarge, errorBody(fmt.Errorf("payload too large: max %d bytes", webhookMaxBodyBytes)))
	}
	body, err := line.ParseWebhookBody(payload)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err))
	}
	if body.IsVerification() {
		return c.String(http.StatusOK, "Webhook active")
	}
	target, err := line.TargetFromBody(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err))
	}

	orchestrator := h.buildOrchestrator(target)
	if err := orchestrator.HandleEvents(c.Request().Context(), body.Events); err != nil {
		if h.logger != nil {
			h.logger.Error("webhook processing failed",
				slog.String("target", target.ID),
				slog.Any("error", err),
			)
		}
		status := http.StatusInternalServerError
		if errors.Is(err, line.ErrUnauthorized) {
			status = http.StatusBadGateway
		}
		return c.JSON(status, errorBody(err))
	}
	return c.NoContent(http.StatusOK)
}

// buildOrchestrator assembles the per-batch pipeline: every component is bound
// to the batch's reply target, session, and payload store.
func (h *WebhookHandler) buildOrchestrator(target line.ReplyTarget) *flow.Orchestrator {
	externalID := target.ExternalID()
	sess := session.New(h.sessions, externalID)
	payloads := session.NewPayloadStore(sess)

	issuer := line.NewCredentialsClient(h.cfg.Line.APIBaseURL, h.cfg.Line.ChannelID, h.cfg.Line.ChannelSecret, nil, nil)
	tokens := line.NewTokenCache(h.tokens, issuer, externalID, nil)
	platform := line.NewClient(h.logger, line.ClientConfig{
		BaseURL:             h.cfg.Line.APIBaseURL,
		SwitcherDestination: h.cfg.Line.SwitcherDestination,
		SwitcherSecret:      h.cfg.Line.SwitcherSecret,
		ServiceCode:         h.cfg.Line.ServiceCode,
	}, target, tokens, nil)

	digesterConf := h.cfg.Conversation.Digester
	return flow.New(flow.Deps{
		Logger:         h.logger,
		Conf:           h.cfg.Conversation,
		Lang:           h.lang,
		Session:        sess,
		Inbound:        digest.NewInbound(h.logger, h.lang, digesterConf, payloads, h.rand),
		Outbound:       digest.NewOutbound(h.logger, h.lang, digesterConf, payloads),
		Backend:        h.backend,
		Platform:       platform,
		ConversationID: externalID,
		Rand:           h.rand,
	})
}

func errorBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}

package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v5"

	"ticket-checkout/internal/relay"
)

const maxWebhookBody = 64 << 10

type WebhookHandler struct {
	relay *relay.Relay
}

func NewWebhookHandler(r *relay.Relay) *WebhookHandler {
	return &WebhookHandler{relay: r}
}

// GatewayWebhook - Receive a signed payment event from the gateway
func (h *WebhookHandler) GatewayWebhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "Invalid body"})
	}

	handled, err := h.relay.VerifyAndDispatch(body, c.Request().Header.Get(relay.SignatureHeader))
	switch {
	case errors.Is(err, relay.ErrNotConfigured):
		slog.Error("webhook received but WEBHOOK_SECRET is not set")
		return c.JSON(http.StatusServiceUnavailable, errorBody{Error: "Webhook not configured"})
	case errors.Is(err, relay.ErrInvalidSignature):
		slog.Warn("webhook with invalid signature", "ip", c.RealIP())
		return c.JSON(http.StatusUnauthorized, errorBody{Error: "Invalid signature"})
	case err != nil:
		return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
	}

	if !handled {
		return c.JSON(http.StatusAccepted, map[string]any{"received": true, "ignored": true})
	}
	return c.JSON(http.StatusOK, map[string]any{"received": true})
}

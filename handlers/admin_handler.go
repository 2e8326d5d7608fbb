package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"golang.org/x/crypto/bcrypt"

	"ticket-checkout/internal/events"
	payments "ticket-checkout/internal/services"
	"ticket-checkout/models"
)

type AdminHandler struct {
	payments  payments.PaymentLifecycle
	hub       *events.Hub
	tokenHash []byte
}

func NewAdminHandler(lifecycle payments.PaymentLifecycle, hub *events.Hub, tokenHash string) *AdminHandler {
	return &AdminHandler{
		payments:  lifecycle,
		hub:       hub,
		tokenHash: []byte(tokenHash),
	}
}

// RequireAdmin checks the bearer token against the bcrypt hash in
// ADMIN_TOKEN_HASH. Without a hash every request is refused.
func (h *AdminHandler) RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(h.tokenHash) == 0 {
				return c.JSON(http.StatusForbidden, errorBody{Error: "Admin access disabled"})
			}

			token, ok := strings.CutPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				return c.JSON(http.StatusUnauthorized, errorBody{Error: "Admin access required"})
			}
			if err := bcrypt.CompareHashAndPassword(h.tokenHash, []byte(token)); err != nil {
				return c.JSON(http.StatusUnauthorized, errorBody{Error: "Admin access required"})
			}

			return next(c)
		}
	}
}

// ListPayments - Cached payments, newest first, optionally filtered by status
func (h *AdminHandler) ListPayments(c echo.Context) error {
	records := h.payments.Payments()

	if raw := c.QueryParam("status"); raw != "" {
		want, ok := models.ParsePaymentStatus(raw)
		if !ok {
			return c.JSON(http.StatusBadRequest, errorBody{Error: "Unknown status"})
		}
		filtered := records[:0]
		for _, rec := range records {
			if rec.Status == want {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	counts := map[models.PaymentStatus]int{}
	for _, rec := range h.payments.Payments() {
		counts[rec.Status]++
	}

	return c.JSON(http.StatusOK, map[string]any{
		"mode":      h.payments.Mode(),
		"payments":  records,
		"count":     len(records),
		"by_status": counts,
		"observers": h.hub.Observers(),
	})
}

// EvictStale - Drop stale payments now instead of waiting for the janitor
func (h *AdminHandler) EvictStale(c echo.Context) error {
	n := h.payments.EvictStale(time.Now())

	return c.JSON(http.StatusOK, map[string]any{
		"message": "Stale payments evicted",
		"evicted": n,
	})
}

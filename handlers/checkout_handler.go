package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v5"

	"ticket-checkout/internal/status"
	"ticket-checkout/models"
	"ticket-checkout/services"
)

type CheckoutHandler struct {
	checkout *services.CheckoutService
}

func NewCheckoutHandler(checkout *services.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout}
}

type checkoutRequest struct {
	Items    []models.TicketSelection `json:"items"`
	Customer *models.Customer         `json:"customer,omitempty"`
}

// GetTickets - List the ticket categories on sale
func (h *CheckoutHandler) GetTickets(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"categories": h.checkout.Catalog().Categories(),
	})
}

// Checkout - Create the Pix charge for a ticket selection
func (h *CheckoutHandler) Checkout(c echo.Context) error {
	var req checkoutRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{
			Error: "Invalid request",
			Kind:  "invalid_request",
		})
	}

	rec, err := h.checkout.Checkout(c.Request().Context(), req.Items, req.Customer)
	if err != nil {
		code, body := checkoutError(err)
		if code >= http.StatusInternalServerError {
			slog.Error("checkout failed", "error", err, "kind", body.Kind)
		}
		return c.JSON(code, body)
	}

	return c.JSON(http.StatusCreated, rec)
}

type errorBody struct {
	Error       string             `json:"error"`
	Kind        string             `json:"kind,omitempty"`
	Remediation status.Remediation `json:"remediation,omitempty"`
}

// checkoutError tells apart failures the operator must fix, failures the
// buyer can retry right away, and gateway trouble worth waiting out.
func checkoutError(err error) (int, errorBody) {
	if errors.Is(err, status.ErrInvalidRequest) {
		return http.StatusBadRequest, errorBody{
			Error: err.Error(),
			Kind:  "invalid_request",
		}
	}

	kind := status.KindOf(err)
	remediation := status.RemediationFor(err)

	switch remediation {
	case status.RemediationOperator:
		return http.StatusServiceUnavailable, errorBody{
			Error:       "Payments are temporarily unavailable. The store has been notified.",
			Kind:        string(kind),
			Remediation: remediation,
		}
	case status.RemediationRetry:
		code := http.StatusBadGateway
		if kind == status.KindTimeout {
			code = http.StatusGatewayTimeout
		}
		return code, errorBody{
			Error:       "Could not reach the payment provider. Check your connection and try again.",
			Kind:        string(kind),
			Remediation: remediation,
		}
	case status.RemediationWait:
		return http.StatusBadGateway, errorBody{
			Error:       "The payment provider is having trouble. Please wait a moment and try again.",
			Kind:        string(kind),
			Remediation: remediation,
		}
	default:
		return http.StatusInternalServerError, errorBody{
			Error: "Failed to create payment",
			Kind:  "internal",
		}
	}
}

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"ticket-checkout/internal/events"
	payments "ticket-checkout/internal/services"
	"ticket-checkout/models"
)

const streamKeepAlive = 15 * time.Second

type PaymentHandler struct {
	payments payments.PaymentLifecycle
	hub      *events.Hub
}

func NewPaymentHandler(lifecycle payments.PaymentLifecycle, hub *events.Hub) *PaymentHandler {
	return &PaymentHandler{
		payments: lifecycle,
		hub:      hub,
	}
}

// GetPayment - Current state of a payment
func (h *PaymentHandler) GetPayment(c echo.Context) error {
	rec, ok := h.payments.GetPaymentStatus(c.Request().Context(), c.PathParam("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, errorBody{Error: "Payment not found"})
	}

	return c.JSON(http.StatusOK, rec)
}

type statusEvent struct {
	PaymentID string               `json:"payment_id"`
	Status    models.PaymentStatus `json:"status"`
	ExpiresAt *time.Time           `json:"expires_at,omitempty"`
	At        time.Time            `json:"at"`
}

// StreamPayment - Server-sent events with every status applied to a payment.
// The stream ends once the payment reaches a terminal status.
func (h *PaymentHandler) StreamPayment(c echo.Context) error {
	id := c.PathParam("id")
	ctx := c.Request().Context()

	updates, cancel := h.hub.Subscribe(id)
	defer cancel()

	rec, ok := h.payments.GetPaymentStatus(ctx, id)
	if !ok {
		return c.JSON(http.StatusNotFound, errorBody{Error: "Payment not found"})
	}

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	expiresAt := rec.ExpiresAt
	if err := writeEvent(w, statusEvent{
		PaymentID: rec.ID,
		Status:    rec.Status,
		ExpiresAt: &expiresAt,
		At:        time.Now(),
	}); err != nil || rec.Status.IsTerminal() {
		return nil
	}

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case u, open := <-updates:
			if !open {
				return nil
			}
			if err := writeEvent(w, statusEvent{PaymentID: u.PaymentID, Status: u.Status, At: u.At}); err != nil {
				return nil
			}
			if u.Status.IsTerminal() {
				return nil
			}

		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

func writeEvent(w *echo.Response, ev statusEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: status\ndata: %s\n\n", data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// SimulatePayment - Apply a status by hand (development only)
func (h *PaymentHandler) SimulatePayment(c echo.Context) error {
	var req struct {
		PaymentID string `json:"payment_id"`
		Status    string `json:"status"`
	}
	if err := c.Bind(&req); err != nil || req.PaymentID == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "Invalid request"})
	}

	if req.Status == "" {
		req.Status = string(models.StatusPaid)
	}
	st, ok := models.ParsePaymentStatus(req.Status)
	if !ok {
		return c.JSON(http.StatusBadRequest, errorBody{Error: fmt.Sprintf("Unknown status %q", req.Status)})
	}

	if _, ok := h.payments.GetPaymentStatus(c.Request().Context(), req.PaymentID); !ok {
		return c.JSON(http.StatusNotFound, errorBody{Error: "Payment not found"})
	}

	h.payments.ApplyStatusUpdate(req.PaymentID, st)

	return c.JSON(http.StatusOK, map[string]any{
		"message":    "Payment simulated",
		"payment_id": req.PaymentID,
		"status":     st,
	})
}

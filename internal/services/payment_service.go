package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"ticket-checkout/internal/events"
	"ticket-checkout/internal/pix"
	"ticket-checkout/internal/services/gateway"
	"ticket-checkout/internal/status"
	"ticket-checkout/models"
	"ticket-checkout/monitoring"
	"ticket-checkout/utils"
)

const (
	ModeGateway   = "gateway"
	ModeSimulated = "simulated"
)

// Gateway is the remote service that issues and settles Pix charges.
type Gateway interface {
	CreatePayment(ctx context.Context, req *gateway.CreatePaymentRequest) (*gateway.PaymentResponse, error)
	GetPayment(ctx context.Context, id string) (*gateway.PaymentResponse, error)
}

// GatewayPaymentService creates payments on the remote gateway and keeps a
// local view of their status, fed by webhooks, polling and queries.
type GatewayPaymentService struct {
	*lifecycle

	gateway     Gateway
	breaker     *utils.CircuitBreaker
	callbackURL string
}

func NewGatewayPaymentService(gw Gateway, callbackURL string, opts Options, hub *events.Hub, monitor *monitoring.Monitor) *GatewayPaymentService {
	s := &GatewayPaymentService{
		lifecycle:   newLifecycle(opts, hub, monitor),
		gateway:     gw,
		callbackURL: callbackURL,
		breaker: utils.NewCircuitBreaker("gateway-status", utils.BreakerSettings{
			OnStateChange: func(name string, from, to utils.State) {
				slog.Warn("circuit breaker state changed", "breaker", name, "from", from, "to", to)
			},
		}),
	}
	s.query = s.lookup

	return s
}

func (s *GatewayPaymentService) Mode() string {
	return ModeGateway
}

// CreatePayment registers the charge with the gateway and caches the
// resulting record. Nothing is cached when the gateway call fails.
func (s *GatewayPaymentService) CreatePayment(ctx context.Context, amount decimal.Decimal, description string, items []models.LineItem, customer *models.Customer) (*models.PaymentRecord, error) {
	if err := validatePayment(amount, items); err != nil {
		s.monitor.TrackPaymentCreated(ModeGateway, "invalid")
		return nil, err
	}

	req := gateway.NewCreatePaymentRequest(amount, description, s.opts.ExpiresIn, s.callbackURL, customer, map[string]any{
		"line_items": items,
	})

	resp, err := s.gateway.CreatePayment(ctx, req)
	if err != nil {
		s.monitor.TrackPaymentCreated(ModeGateway, string(status.KindOf(err)))
		slog.Error("failed to create payment", "amount", amount.StringFixed(2), "kind", status.KindOf(err), "error", err)
		return nil, fmt.Errorf("create payment: %w", err)
	}

	rec := s.recordFrom(resp, amount, description, items)
	s.insert(rec)
	s.monitor.TrackPaymentCreated(ModeGateway, "ok")

	slog.Info("payment created", "payment_id", rec.ID, "amount", rec.Amount.StringFixed(2), "expires_at", rec.ExpiresAt)

	return rec, nil
}

func (s *GatewayPaymentService) recordFrom(resp *gateway.PaymentResponse, amount decimal.Decimal, description string, items []models.LineItem) *models.PaymentRecord {
	st, ok := models.ParsePaymentStatus(resp.Status)
	if !ok {
		if resp.Status != "" {
			slog.Warn("unknown gateway status, assuming pending", "payment_id", resp.ID, "status", resp.Status)
		}
		st = models.StatusPending
	}

	rec := &models.PaymentRecord{
		ID:          resp.ID,
		Amount:      amount,
		Description: description,
		LineItems:   append([]models.LineItem(nil), items...),
		Status:      st,
		PixPayload:  resp.PixCode,
		QRImage:     resp.QRCodeURL,
		CreatedAt:   time.Now(),
	}
	if !resp.Amount.IsZero() {
		rec.Amount = resp.Amount
	}
	if resp.CreatedAt != nil {
		rec.CreatedAt = *resp.CreatedAt
	}
	if resp.ExpiresAt != nil {
		rec.ExpiresAt = *resp.ExpiresAt
	} else {
		rec.ExpiresAt = rec.CreatedAt.Add(s.opts.ExpiresIn)
	}

	if rec.QRImage == "" && rec.PixPayload != "" {
		img, err := pix.RenderQR(rec.PixPayload)
		if err != nil {
			slog.Warn("failed to render qr code", "payment_id", rec.ID, "error", err)
		}
		rec.QRImage = img
	}

	return rec
}

// GetPaymentStatus asks the gateway for the current status and merges it
// into the cache. When the gateway cannot answer, the cached record is
// returned as is.
func (s *GatewayPaymentService) GetPaymentStatus(ctx context.Context, id string) (*models.PaymentRecord, bool) {
	rec, ok := s.lookup(ctx, id)
	if !ok {
		return nil, false
	}

	if prev, cached := s.cached(id); cached && prev.Status != rec.Status {
		if !s.apply(id, rec.Status, SourceQuery, false) {
			if cur, ok := s.cached(id); ok {
				return cur, true
			}
		}
	}

	return rec, true
}

// lookup returns the cached record with the gateway's status applied to a
// copy. A payment the gateway knows but this process does not is returned
// without being cached.
func (s *GatewayPaymentService) lookup(ctx context.Context, id string) (*models.PaymentRecord, bool) {
	rec, cached := s.cached(id)

	var resp *gateway.PaymentResponse
	err := s.breaker.Execute(func() error {
		var err error
		resp, err = s.gateway.GetPayment(ctx, id)
		return err
	})
	if err != nil {
		slog.Warn("status query failed, using cached state", "payment_id", id, "cached", cached, "error", err)
		return rec, cached
	}

	st, ok := models.ParsePaymentStatus(resp.Status)
	if !ok {
		slog.Warn("unknown gateway status", "payment_id", id, "status", resp.Status)
		return rec, cached
	}

	// A gateway read that lags behind a verified push does not reopen a
	// finished payment.
	if cached && rec.Status.IsTerminal() && !st.IsTerminal() {
		return rec, true
	}

	if !cached {
		rec = &models.PaymentRecord{
			ID:         id,
			Amount:     resp.Amount,
			PixPayload: resp.PixCode,
			QRImage:    resp.QRCodeURL,
		}
		if resp.CreatedAt != nil {
			rec.CreatedAt = *resp.CreatedAt
		}
		if resp.ExpiresAt != nil {
			rec.ExpiresAt = *resp.ExpiresAt
		}
	}
	rec.Status = st

	return rec, true
}

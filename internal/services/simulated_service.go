package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ticket-checkout/internal/events"
	"ticket-checkout/internal/pix"
	"ticket-checkout/internal/status"
	"ticket-checkout/models"
	"ticket-checkout/monitoring"
	"ticket-checkout/utils"
)

// PixSettings identify the receiver in locally built Pix payloads.
type PixSettings struct {
	Key          string
	MerchantName string
	MerchantCity string
}

// SimulatedPaymentService fabricates payments without a gateway and approves
// each one after a fixed delay. It is used when no gateway credential is
// configured.
type SimulatedPaymentService struct {
	*lifecycle

	pix           PixSettings
	approvalDelay time.Duration
}

func NewSimulatedPaymentService(settings PixSettings, approvalDelay time.Duration, opts Options, hub *events.Hub, monitor *monitoring.Monitor) *SimulatedPaymentService {
	if approvalDelay <= 0 {
		approvalDelay = 10 * time.Second
	}
	return &SimulatedPaymentService{
		lifecycle:     newLifecycle(opts, hub, monitor),
		pix:           settings,
		approvalDelay: approvalDelay,
	}
}

func (s *SimulatedPaymentService) Mode() string {
	return ModeSimulated
}

func (s *SimulatedPaymentService) CreatePayment(ctx context.Context, amount decimal.Decimal, description string, items []models.LineItem, customer *models.Customer) (*models.PaymentRecord, error) {
	if err := validatePayment(amount, items); err != nil {
		s.monitor.TrackPaymentCreated(ModeSimulated, "invalid")
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	txID, err := utils.GenerateTxID(25)
	if err != nil {
		return nil, fmt.Errorf("simulated payment: txid: %w", err)
	}

	payload, err := (&pix.Payload{
		Key:          s.pix.Key,
		Description:  description,
		MerchantName: s.pix.MerchantName,
		MerchantCity: s.pix.MerchantCity,
		Amount:       amount,
		TxID:         txID,
		OneTime:      true,
	}).Build()
	if err != nil {
		s.monitor.TrackPaymentCreated(ModeSimulated, "configuration")
		return nil, fmt.Errorf("simulated payment: %w: %w", status.ErrConfiguration, err)
	}

	img, err := pix.RenderQR(payload)
	if err != nil {
		return nil, fmt.Errorf("simulated payment: %w", err)
	}

	now := time.Now()
	rec := &models.PaymentRecord{
		ID:          uuid.NewString(),
		Amount:      amount,
		Description: description,
		LineItems:   append([]models.LineItem(nil), items...),
		Status:      models.StatusPending,
		PixPayload:  payload,
		QRImage:     img,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.opts.ExpiresIn),
	}
	s.insert(rec)
	s.monitor.TrackPaymentCreated(ModeSimulated, "ok")

	slog.Info("simulated payment created", "payment_id", rec.ID, "amount", amount.StringFixed(2), "approves_in", s.approvalDelay)

	s.scheduleApproval(rec.ID)

	return rec, nil
}

func (s *SimulatedPaymentService) scheduleApproval(id string) {
	s.spawn(id, taskApprove, func(ctx context.Context) {
		timer := time.NewTimer(s.approvalDelay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
		case <-timer.C:
			if s.apply(id, models.StatusPaid, SourceSimulated, true) {
				slog.Info("simulated payment approved", "payment_id", id)
			}
		}
	})
}

// GetPaymentStatus returns the cached record; there is nothing remote to ask.
func (s *SimulatedPaymentService) GetPaymentStatus(ctx context.Context, id string) (*models.PaymentRecord, bool) {
	return s.cached(id)
}

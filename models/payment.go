package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	StatusPending PaymentStatus = "pending"
	StatusPaid    PaymentStatus = "paid"
	StatusFailed  PaymentStatus = "failed"
	StatusExpired PaymentStatus = "expired"
)

// IsTerminal reports whether no further transition is expected after s.
func (s PaymentStatus) IsTerminal() bool {
	return s == StatusPaid || s == StatusFailed || s == StatusExpired
}

func (s PaymentStatus) IsValid() bool {
	return s == StatusPending || s.IsTerminal()
}

// ParsePaymentStatus accepts the gateway's spelling of a status.
func ParsePaymentStatus(raw string) (PaymentStatus, bool) {
	switch raw {
	case "pending", "waiting", "created", "processing":
		return StatusPending, true
	case "paid", "approved", "completed", "success":
		return StatusPaid, true
	case "failed", "rejected", "cancelled", "canceled":
		return StatusFailed, true
	case "expired":
		return StatusExpired, true
	default:
		return "", false
	}
}

type LineItem struct {
	Category  string          `json:"category"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// NewLineItem computes LineTotal from quantity and unit price.
func NewLineItem(category string, quantity int, unitPrice decimal.Decimal) LineItem {
	return LineItem{
		Category:  category,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		LineTotal: unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

type Customer struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Document string `json:"document,omitempty"` // CPF/CNPJ
	Phone    string `json:"phone,omitempty"`
}

type PaymentRecord struct {
	ID          string          `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	LineItems   []LineItem      `json:"line_items"`
	Status      PaymentStatus   `json:"status"`
	PixPayload  string          `json:"pix_payload,omitempty"`
	QRImage     string          `json:"qr_image,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// Clone returns a copy that shares nothing mutable with r.
func (r *PaymentRecord) Clone() *PaymentRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.LineItems = append([]LineItem(nil), r.LineItems...)
	return &c
}

// PaymentUpdate is broadcast every time a status is applied to a payment.
type PaymentUpdate struct {
	PaymentID string        `json:"payment_id"`
	Status    PaymentStatus `json:"status"`
	Source    string        `json:"source,omitempty"` // webhook, poll, query, simulated, expiry, manual
	At        time.Time     `json:"at"`
}

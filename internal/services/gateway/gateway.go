// Package gateway is the HTTP client of the remote Pix payment gateway.
package gateway

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"ticket-checkout/models"
)

const PaymentMethodPix = "pix"

type CreatePaymentRequest struct {
	Amount        json.Number      `json:"amount"`
	Description   string           `json:"description"`
	PaymentMethod string           `json:"payment_method"`
	ExpiresIn     int              `json:"expires_in"`
	CallbackURL   string           `json:"callback_url"`
	Customer      *models.Customer `json:"customer,omitempty"`
	Metadata      map[string]any   `json:"metadata"`
}

// NewCreatePaymentRequest fills in the Pix method and renders amount with
// two decimal places.
func NewCreatePaymentRequest(amount decimal.Decimal, description string, expiresIn time.Duration, callbackURL string, customer *models.Customer, metadata map[string]any) *CreatePaymentRequest {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &CreatePaymentRequest{
		Amount:        json.Number(amount.StringFixed(2)),
		Description:   description,
		PaymentMethod: PaymentMethodPix,
		ExpiresIn:     int(expiresIn / time.Second),
		CallbackURL:   callbackURL,
		Customer:      customer,
		Metadata:      metadata,
	}
}

// PaymentResponse is the gateway's view of a payment. Both endpoints return it.
type PaymentResponse struct {
	ID        string          `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	PixCode   string          `json:"pix_code"`
	QRCodeURL string          `json:"qr_code_url,omitempty"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	CreatedAt *time.Time      `json:"created_at,omitempty"`
}

type errorReply struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (e errorReply) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// Package relay verifies payment events pushed by the gateway and forwards
// them to the payment lifecycle. Nothing reaches the lifecycle unverified.
package relay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"ticket-checkout/models"
)

const (
	SignatureHeader = "X-Signature"

	EventPaid    = "payment.paid"
	EventFailed  = "payment.failed"
	EventExpired = "payment.expired"
)

var (
	ErrNotConfigured    = errors.New("relay: webhook secret is not configured")
	ErrInvalidSignature = errors.New("relay: invalid signature")
	ErrMalformedEvent   = errors.New("relay: malformed event")
)

// Receiver is the lifecycle side of the relay.
type Receiver interface {
	ReceiveExternalEvent(id string, status models.PaymentStatus, rawPayload []byte)
}

// Event is the body the gateway posts to the callback url.
type Event struct {
	Event string    `json:"event"`
	Data  EventData `json:"data"`
}

type EventData struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status,omitempty"`
}

func (d EventData) paymentID() string {
	if d.ID != "" {
		return d.ID
	}
	return d.PaymentID
}

type Relay struct {
	receiver Receiver
	secret   []byte
}

func New(receiver Receiver, secret string) *Relay {
	return &Relay{
		receiver: receiver,
		secret:   []byte(secret),
	}
}

// Hmac256 returns the hex encoded HMAC-SHA256 of body.
func Hmac256(body, key []byte) string {
	hash := hmac.New(sha256.New, key)
	hash.Write(body)
	return hex.EncodeToString(hash.Sum(nil))
}

// Verify checks signature against the HMAC of body. A "sha256=" prefix on
// the signature is accepted.
func (r *Relay) Verify(body []byte, signature string) error {
	if len(r.secret) == 0 {
		return ErrNotConfigured
	}

	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	expected := Hmac256(body, r.secret)
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}

// Dispatch decodes a verified event and forwards it. It reports false for
// events that carry no status change.
func (r *Relay) Dispatch(body []byte) (bool, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return false, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	st, ok := StatusForEvent(ev.Event)
	if !ok {
		slog.Info("ignoring gateway event", "event", ev.Event)
		return false, nil
	}

	id := ev.Data.paymentID()
	if id == "" {
		return false, fmt.Errorf("%w: event %s without payment id", ErrMalformedEvent, ev.Event)
	}

	r.receiver.ReceiveExternalEvent(id, st, body)
	return true, nil
}

// VerifyAndDispatch is Verify followed by Dispatch.
func (r *Relay) VerifyAndDispatch(body []byte, signature string) (bool, error) {
	if err := r.Verify(body, signature); err != nil {
		return false, err
	}
	return r.Dispatch(body)
}

func StatusForEvent(event string) (models.PaymentStatus, bool) {
	switch event {
	case EventPaid:
		return models.StatusPaid, true
	case EventFailed:
		return models.StatusFailed, true
	case EventExpired:
		return models.StatusExpired, true
	default:
		return "", false
	}
}

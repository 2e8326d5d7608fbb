package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pubnub "github.com/pubnub/go"

	"ticket-checkout/models"
	"ticket-checkout/utils"
)

// PubNubPublisher forwards payment updates to browser clients listening on
// "<prefix>-<payment id>".
type PubNubPublisher struct {
	prefix  string
	backoff time.Duration
	publish func(channel string, message any) error
}

const publishAttempts = 3

func NewPubNubPublisher(pn *pubnub.PubNub, prefix string) *PubNubPublisher {
	return &PubNubPublisher{
		prefix:  prefix,
		backoff: 250 * time.Millisecond,
		publish: func(channel string, message any) error {
			_, _, err := pn.Publish().
				Channel(channel).
				Message(message).
				Execute()
			return err
		},
	}
}

// NewPubNubClient builds the publishing client from keys.
func NewPubNubClient(publishKey, subscribeKey, secretKey, userID string) *pubnub.PubNub {
	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = publishKey
	pnConfig.SubscribeKey = subscribeKey
	pnConfig.SecretKey = secretKey
	pnConfig.UUID = userID

	return pubnub.NewPubNub(pnConfig)
}

func (p *PubNubPublisher) Channel(paymentID string) string {
	return fmt.Sprintf("%s-%s", p.prefix, paymentID)
}

// Publish sends the update in the background so the hub is never held up by
// the network.
func (p *PubNubPublisher) Publish(update models.PaymentUpdate) {
	channel := p.Channel(update.PaymentID)
	message := map[string]any{
		"type":       "payment_status",
		"payment_id": update.PaymentID,
		"status":     string(update.Status),
		"at":         update.At.Unix(),
	}

	go func() {
		attempts, err := utils.Retry(context.Background(), func(context.Context) error {
			return p.publish(channel, message)
		},
			utils.Limit(publishAttempts),
			utils.Backoff(utils.ExponentialBackoff(p.backoff, 2), 5*time.Second),
		)
		if err != nil {
			slog.Error("pubnub publish failed", "channel", channel, "attempts", attempts, "error", err)
		}
	}()
}

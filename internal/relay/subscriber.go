package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	pubnub "github.com/pubnub/go/v7"
)

// SubscriberConfig points at the PubNub channel the gateway pushes events to.
type SubscriberConfig struct {
	SubscribeKey string
	SecretKey    string
	UserID       string
	Channel      string
}

// envelope is a pushed event: the raw event body and its signature.
type envelope struct {
	Body      string `json:"body"`
	Signature string `json:"signature"`
}

// Subscriber receives gateway events over PubNub and runs them through the
// same verification as the webhook.
type Subscriber struct {
	pn       *pubnub.PubNub
	lis      *pubnub.Listener
	channels []string
	relay    *Relay
}

func NewSubscriber(cfg SubscriberConfig, relay *Relay) *Subscriber {
	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.UserID))
	pnCfg.SubscribeKey = cfg.SubscribeKey
	pnCfg.SecretKey = cfg.SecretKey

	return &Subscriber{
		pn:       pubnub.NewPubNub(pnCfg),
		lis:      pubnub.NewListener(),
		channels: []string{cfg.Channel},
		relay:    relay,
	}
}

// Run subscribes and forwards events until ctx is done.
func (s *Subscriber) Run(ctx context.Context) {
	s.pn.AddListener(s.lis)
	s.pn.Subscribe().Channels(s.channels).Execute()

	defer func() {
		s.pn.Unsubscribe().Channels(s.channels).Execute()
		s.pn.RemoveListener(s.lis)
	}()

	for {
		select {
		case status := <-s.lis.Status:
			switch status.Category {
			case pubnub.PNConnectedCategory:
				slog.Info("connected to pubnub", "channels", s.channels)
			case pubnub.PNReconnectedCategory:
				slog.Info("reconnected to pubnub", "channels", s.channels)
			case pubnub.PNDisconnectedCategory:
				slog.Warn("disconnected from pubnub", "channels", s.channels)
			case pubnub.PNAccessDeniedCategory:
				slog.Error("access denied by pubnub", "channels", s.channels)
			case pubnub.PNTimeoutCategory:
				slog.Warn("pubnub subscribe timed out", "channels", s.channels)
			default:
				slog.Debug("pubnub status", "category", status.Category)
			}

		case message := <-s.lis.Message:
			if err := s.handle(message.Message); err != nil {
				slog.Warn("dropping pushed gateway event", "channel", message.Channel, "error", err)
			}

		case <-ctx.Done():
			slog.Info("closing gateway subscription")
			return
		}
	}
}

func (s *Subscriber) handle(message any) error {
	env, err := decodeEnvelope(message)
	if err != nil {
		return err
	}

	_, err = s.relay.VerifyAndDispatch([]byte(env.Body), env.Signature)
	return err
}

// decodeEnvelope accepts the envelope as a JSON string or as the object
// PubNub already decoded.
func decodeEnvelope(message any) (*envelope, error) {
	var raw []byte
	switch m := message.(type) {
	case string:
		raw = []byte(m)
	case []byte:
		raw = m
	default:
		b, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
		}
		raw = b
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if env.Body == "" {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, errors.New("empty body"))
	}
	return &env, nil
}

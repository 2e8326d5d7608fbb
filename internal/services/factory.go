package services

import (
	"log/slog"

	"ticket-checkout/config"
	"ticket-checkout/internal/events"
	"ticket-checkout/internal/services/gateway"
	"ticket-checkout/monitoring"
)

// NewPaymentLifecycle picks the implementation once, at startup: the
// gateway backed one when a credential is configured, the simulated one
// otherwise.
func NewPaymentLifecycle(cfg *config.Config, hub *events.Hub, monitor *monitoring.Monitor) PaymentLifecycle {
	opts := Options{
		ExpiresIn:    cfg.PaymentExpiresIn,
		PollInterval: cfg.PollInterval,
		PollCeiling:  cfg.PollCeiling,
		Retention:    cfg.PaymentRetention,
	}

	if cfg.UseSimulatedPayments() {
		slog.Warn("GATEWAY_API_KEY is not set, payments are simulated", "approval_delay", cfg.SimulatedApprovalDelay)
		return NewSimulatedPaymentService(PixSettings{
			Key:          cfg.PixKey,
			MerchantName: cfg.PixMerchantName,
			MerchantCity: cfg.PixMerchantCity,
		}, cfg.SimulatedApprovalDelay, opts, hub, monitor)
	}

	client := gateway.NewClient(gateway.ClientConfig{
		BaseURL:        cfg.GatewayBaseURL,
		APIKey:         cfg.GatewayAPIKey,
		RequestTimeout: cfg.RequestTimeout,
		MaxRetries:     cfg.MaxRetries,
		RetryBackoff:   cfg.RetryBackoff,
	}, monitor)

	slog.Info("payments go through the gateway", "base_url", cfg.GatewayBaseURL)
	return NewGatewayPaymentService(client, cfg.GatewayCallbackURL, opts, hub, monitor)
}

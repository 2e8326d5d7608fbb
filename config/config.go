package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Gateway configuration
	GatewayBaseURL     string
	GatewayAPIKey      string
	GatewayCallbackURL string
	RequestTimeout     time.Duration
	MaxRetries         int
	RetryBackoff       time.Duration

	// Payment lifecycle
	PaymentExpiresIn       time.Duration
	PollInterval           time.Duration
	PollCeiling            time.Duration
	SimulatedApprovalDelay time.Duration
	PaymentRetention       time.Duration
	CleanupInterval        time.Duration

	// Pix payload used in simulated mode
	PixKey          string
	PixMerchantName string
	PixMerchantCity string

	// Storefront
	TicketCatalog string

	// Redis configuration
	RedisURL string

	// PubNub configuration
	PubNubPublishKey     string
	PubNubSubscribeKey   string
	PubNubSecretKey      string
	PubNubUserID         string
	PubNubUpdatesChannel string
	PubNubGatewayChannel string

	// Webhook relay
	WebhookSecret string

	// Admin
	AdminTokenHash string

	// Monitoring
	EnableMetrics bool
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, relying on environment variables")
	}

	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Gateway
		GatewayBaseURL:     getEnv("GATEWAY_BASE_URL", "https://api.pixgateway.com.br/v1"),
		GatewayAPIKey:      getEnv("GATEWAY_API_KEY", ""),
		GatewayCallbackURL: getEnv("GATEWAY_CALLBACK_URL", "http://localhost:8090/api/v1/webhooks/gateway"),
		RequestTimeout:     getEnvAsDuration("GATEWAY_REQUEST_TIMEOUT", "15s"),
		MaxRetries:         getEnvAsInt("GATEWAY_MAX_RETRIES", 3),
		RetryBackoff:       getEnvAsDuration("GATEWAY_RETRY_BACKOFF", "1s"),

		// Lifecycle
		PaymentExpiresIn:       getEnvAsDuration("PAYMENT_EXPIRES_IN", "15m"),
		PollInterval:           getEnvAsDuration("POLL_INTERVAL", "5s"),
		PollCeiling:            getEnvAsDuration("POLL_CEILING", "20m"),
		SimulatedApprovalDelay: getEnvAsDuration("SIMULATED_APPROVAL_DELAY", "10s"),
		PaymentRetention:       getEnvAsDuration("PAYMENT_RETENTION", "1h"),
		CleanupInterval:        getEnvAsDuration("CLEANUP_INTERVAL", "5m"),

		// Pix
		PixKey:          getEnv("PIX_KEY", "checkout@example.com.br"),
		PixMerchantName: getEnv("PIX_MERCHANT_NAME", "TICKETS"),
		PixMerchantCity: getEnv("PIX_MERCHANT_CITY", "SAO PAULO"),

		// Storefront
		TicketCatalog: getEnv("TICKET_CATALOG", "VIP:50.00,Pista:25.00,Meia:12.50"),

		// Redis
		RedisURL: getEnv("REDIS_URL", ""),

		// PubNub
		PubNubPublishKey:     getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey:   getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:      getEnv("PUBNUB_SECRET_KEY", ""),
		PubNubUserID:         getEnv("PUBNUB_USER_ID", "ticket-checkout"),
		PubNubUpdatesChannel: getEnv("PUBNUB_UPDATES_CHANNEL", "payment"),
		PubNubGatewayChannel: getEnv("PUBNUB_GATEWAY_CHANNEL", ""),

		// Webhook
		WebhookSecret: getEnv("WEBHOOK_SECRET", ""),

		// Admin
		AdminTokenHash: getEnv("ADMIN_TOKEN_HASH", ""),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
	}
}

// UseSimulatedPayments reports whether no gateway credential is configured,
// in which case payments are fabricated locally.
func (c *Config) UseSimulatedPayments() bool {
	return c.GatewayAPIKey == ""
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

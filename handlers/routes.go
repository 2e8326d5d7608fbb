package handlers

import (
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"ticket-checkout/security"
	"ticket-checkout/utils"
)

// Routes collects everything the HTTP API is built from. Limiter, Redis and
// Webhook may be nil.
type Routes struct {
	Checkout *CheckoutHandler
	Payment  *PaymentHandler
	Webhook  *WebhookHandler
	Admin    *AdminHandler
	Limiter  *security.RateLimiter
	Redis    *redis.Client

	Mode          string
	Development   bool
	EnableMetrics bool
}

func Register(e *echo.Echo, r Routes) {
	api := e.Group("/api/v1")

	// Storefront endpoints
	var checkoutMiddleware []echo.MiddlewareFunc
	if r.Limiter != nil {
		checkoutMiddleware = append(checkoutMiddleware, r.Limiter.AntiBotMiddleware(), r.Limiter.CheckoutRateLimit())
	}
	api.GET("/tickets", r.Checkout.GetTickets)
	api.POST("/checkout", r.Checkout.Checkout, checkoutMiddleware...)

	// Payment endpoints
	api.GET("/payments/:id", r.Payment.GetPayment)
	api.GET("/payments/:id/stream", r.Payment.StreamPayment)

	// Gateway push
	if r.Webhook != nil {
		api.POST("/webhooks/gateway", r.Webhook.GatewayWebhook)
	}

	// Admin endpoints
	admin := api.Group("/admin", r.Admin.RequireAdmin())
	admin.GET("/payments", r.Admin.ListPayments)
	admin.POST("/payments/evict", r.Admin.EvictStale)

	// Test endpoint for payment simulation
	if r.Development {
		api.POST("/test/simulate-payment", r.Payment.SimulatePayment)
	}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		if r.Redis != nil {
			if err := utils.RedisHealthCheck(r.Redis); err != nil {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
			"mode":   r.Mode,
		})
	})

	if r.EnableMetrics {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}
}

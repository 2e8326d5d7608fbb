package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/redis/go-redis/v9"

	"ticket-checkout/config"
	"ticket-checkout/handlers"
	"ticket-checkout/internal/events"
	"ticket-checkout/internal/relay"
	payments "ticket-checkout/internal/services"
	"ticket-checkout/monitoring"
	"ticket-checkout/security"
	"ticket-checkout/services"
	"ticket-checkout/utils"
)

const shutdownTimeout = 10 * time.Second

func Start() error {
	// Load configuration
	cfg := config.LoadConfig()
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Redis, only the rate limiter needs it
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		rc, err := utils.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			slog.Warn("redis unavailable, rate limiting disabled", "error", err)
		} else {
			redisClient = rc
			defer redisClient.Close()
		}
	}

	var monitor *monitoring.Monitor
	if cfg.EnableMetrics {
		monitor = monitoring.NewMonitor()
	}

	// Status broadcast, forwarded to browsers over PubNub when configured
	hub := events.NewHub(0)
	if cfg.PubNubPublishKey != "" && cfg.PubNubSubscribeKey != "" {
		pn := events.NewPubNubClient(cfg.PubNubPublishKey, cfg.PubNubSubscribeKey, cfg.PubNubSecretKey, cfg.PubNubUserID)
		hub.AddPublisher(events.NewPubNubPublisher(pn, cfg.PubNubUpdatesChannel))
	}

	// Initialize services
	lifecycle := payments.NewPaymentLifecycle(cfg, hub, monitor)
	defer lifecycle.Close()

	catalog, err := services.ParseCatalog(cfg.TicketCatalog, 0)
	if err != nil {
		return fmt.Errorf("TICKET_CATALOG: %w", err)
	}
	checkoutService := services.NewCheckoutService(lifecycle, catalog, cfg.PollInterval)

	paymentRelay := relay.New(lifecycle, cfg.WebhookSecret)
	if cfg.WebhookSecret == "" {
		slog.Warn("WEBHOOK_SECRET is not set, gateway push events are refused; status relies on polling")
	}

	// Start background tasks
	go lifecycle.CleanupStalePayments(ctx, cfg.CleanupInterval)

	if cfg.PubNubGatewayChannel != "" && cfg.PubNubSubscribeKey != "" {
		sub := relay.NewSubscriber(relay.SubscriberConfig{
			SubscribeKey: cfg.PubNubSubscribeKey,
			SecretKey:    cfg.PubNubSecretKey,
			UserID:       cfg.PubNubUserID,
			Channel:      cfg.PubNubGatewayChannel,
		}, paymentRelay)
		go sub.Run(ctx)
	}

	var limiter *security.RateLimiter
	if redisClient != nil {
		limiter = security.NewRateLimiter(redisClient, 0, 0, time.Minute)
	}

	e := echo.New()
	e.Use(middleware.Recover())
	e.Use(handlers.RequestLogger())

	// Register routes
	handlers.Register(e, handlers.Routes{
		Checkout:      handlers.NewCheckoutHandler(checkoutService),
		Payment:       handlers.NewPaymentHandler(lifecycle, hub),
		Webhook:       handlers.NewWebhookHandler(paymentRelay),
		Admin:         handlers.NewAdminHandler(lifecycle, hub, cfg.AdminTokenHash),
		Limiter:       limiter,
		Redis:         redisClient,
		Mode:          lifecycle.Mode(),
		Development:   cfg.IsDevelopment(),
		EnableMetrics: cfg.EnableMetrics,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
		// request contexts end with the process so event streams close on shutdown
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", srv.Addr, "mode", lifecycle.Mode(), "environment", cfg.Environment)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received, cleaning up")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func setupLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	var handler slog.Handler
	if cfg.IsDevelopment() {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

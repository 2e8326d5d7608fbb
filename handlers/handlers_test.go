package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"ticket-checkout/internal/events"
	"ticket-checkout/internal/relay"
	payments "ticket-checkout/internal/services"
	"ticket-checkout/internal/status"
	"ticket-checkout/models"
	"ticket-checkout/services"
)

const (
	testWebhookSecret = "whsec_test"
	testAdminToken    = "admin-secret-token"
)

type testServer struct {
	e         *echo.Echo
	hub       *events.Hub
	lifecycle *payments.SimulatedPaymentService
}

func newTestServer(t *testing.T, development bool, adminHash string) *testServer {
	t.Helper()

	hub := events.NewHub(8)
	lifecycle := payments.NewSimulatedPaymentService(payments.PixSettings{
		Key:          "checkout@example.com.br",
		MerchantName: "TICKETS",
		MerchantCity: "SAO PAULO",
	}, time.Hour, payments.Options{}, hub, nil)
	t.Cleanup(lifecycle.Close)

	catalog, err := services.ParseCatalog("VIP:50.00,Pista:25.00", 0)
	require.NoError(t, err)

	e := echo.New()
	Register(e, Routes{
		Checkout:    NewCheckoutHandler(services.NewCheckoutService(lifecycle, catalog, time.Hour)),
		Payment:     NewPaymentHandler(lifecycle, hub),
		Webhook:     NewWebhookHandler(relay.New(lifecycle, testWebhookSecret)),
		Admin:       NewAdminHandler(lifecycle, hub, adminHash),
		Mode:        lifecycle.Mode(),
		Development: development,
	})

	return &testServer{e: e, hub: hub, lifecycle: lifecycle}
}

func (s *testServer) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) checkout(t *testing.T) *models.PaymentRecord {
	t.Helper()

	rec := s.do(http.MethodPost, "/api/v1/checkout", []byte(`{"items":[{"category":"VIP","quantity":2}]}`), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var payment models.PaymentRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payment))
	return &payment
}

func TestGetTickets(t *testing.T) {
	s := newTestServer(t, false, "")

	rec := s.do(http.MethodGet, "/api/v1/tickets", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Categories []models.TicketCategory `json:"categories"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Categories, 2)
	assert.Equal(t, "VIP", body.Categories[0].Name)
}

func TestCheckout(t *testing.T) {
	s := newTestServer(t, false, "")

	payment := s.checkout(t)

	assert.NotEmpty(t, payment.ID)
	assert.Equal(t, models.StatusPending, payment.Status)
	assert.Equal(t, "2 tickets", payment.Description)
	assert.NotEmpty(t, payment.PixPayload)
	assert.True(t, strings.HasPrefix(payment.QRImage, "data:image/png;base64,"))
}

func TestCheckout_InvalidSelection(t *testing.T) {
	s := newTestServer(t, false, "")

	rec := s.do(http.MethodPost, "/api/v1/checkout", []byte(`{"items":[{"category":"Camarote","quantity":1}]}`), nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"kind":"invalid_request"`)
}

func TestCheckoutError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		code        int
		remediation status.Remediation
	}{
		{"configuration", status.NewGatewayError(status.KindConfiguration, 0, "", nil), http.StatusServiceUnavailable, status.RemediationOperator},
		{"auth", status.NewGatewayError(status.KindAuth, 401, "", nil), http.StatusServiceUnavailable, status.RemediationOperator},
		{"permission", status.NewGatewayError(status.KindPermission, 403, "", nil), http.StatusServiceUnavailable, status.RemediationOperator},
		{"timeout", status.NewGatewayError(status.KindTimeout, 0, "", nil), http.StatusGatewayTimeout, status.RemediationRetry},
		{"network", status.NewGatewayError(status.KindNetwork, 0, "", nil), http.StatusBadGateway, status.RemediationRetry},
		{"gateway", status.NewGatewayError(status.KindGateway, 502, "", nil), http.StatusBadGateway, status.RemediationWait},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, status.RemediationNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := checkoutError(tt.err)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.remediation, body.Remediation)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestGetPayment(t *testing.T) {
	s := newTestServer(t, false, "")
	payment := s.checkout(t)

	rec := s.do(http.MethodGet, "/api/v1/payments/"+payment.ID, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), payment.ID)

	rec = s.do(http.MethodGet, "/api/v1/payments/pay_missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamPayment(t *testing.T) {
	s := newTestServer(t, false, "")
	payment := s.checkout(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/"+payment.ID+"/stream", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.e.ServeHTTP(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return s.hub.Observers() == 1
	}, time.Second, 5*time.Millisecond)

	s.lifecycle.ApplyStatusUpdate(payment.ID, models.StatusPaid)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after terminal status")
	}

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "event: status")
	assert.Contains(t, rec.Body.String(), `"status":"paid"`)
}

func TestGatewayWebhook(t *testing.T) {
	s := newTestServer(t, false, "")
	payment := s.checkout(t)

	body := []byte(`{"event":"payment.paid","data":{"id":"` + payment.ID + `"}}`)
	sig := relay.Hmac256(body, []byte(testWebhookSecret))

	rec := s.do(http.MethodPost, "/api/v1/webhooks/gateway", body, map[string]string{relay.SignatureHeader: sig})
	assert.Equal(t, http.StatusOK, rec.Code)

	got, ok := s.lifecycle.GetPaymentStatus(context.Background(), payment.ID)
	require.True(t, ok)
	assert.Equal(t, models.StatusPaid, got.Status)
}

func TestGatewayWebhook_Rejections(t *testing.T) {
	s := newTestServer(t, false, "")
	payment := s.checkout(t)

	body := []byte(`{"event":"payment.failed","data":{"id":"` + payment.ID + `"}}`)
	rec := s.do(http.MethodPost, "/api/v1/webhooks/gateway", body, map[string]string{relay.SignatureHeader: "forged"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	got, _ := s.lifecycle.GetPaymentStatus(context.Background(), payment.ID)
	assert.Equal(t, models.StatusPending, got.Status)

	ignored := []byte(`{"event":"payment.created","data":{"id":"` + payment.ID + `"}}`)
	rec = s.do(http.MethodPost, "/api/v1/webhooks/gateway", ignored, map[string]string{
		relay.SignatureHeader: relay.Hmac256(ignored, []byte(testWebhookSecret)),
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestAdminPayments(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminToken), bcrypt.MinCost)
	require.NoError(t, err)

	s := newTestServer(t, false, string(hash))
	s.checkout(t)

	rec := s.do(http.MethodGet, "/api/v1/admin/payments", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/admin/payments", nil, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/admin/payments?status=pending", nil, map[string]string{"Authorization": "Bearer " + testAdminToken})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Mode  string `json:"mode"`
		Count int    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, payments.ModeSimulated, body.Mode)
	assert.Equal(t, 1, body.Count)

	rec = s.do(http.MethodPost, "/api/v1/admin/payments/evict", nil, map[string]string{"Authorization": "Bearer " + testAdminToken})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"evicted":0`)
}

func TestAdminPayments_DisabledWithoutHash(t *testing.T) {
	s := newTestServer(t, false, "")

	rec := s.do(http.MethodGet, "/api/v1/admin/payments", nil, map[string]string{"Authorization": "Bearer " + testAdminToken})

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSimulatePayment(t *testing.T) {
	s := newTestServer(t, true, "")
	payment := s.checkout(t)

	rec := s.do(http.MethodPost, "/api/v1/test/simulate-payment", []byte(`{"payment_id":"`+payment.ID+`","status":"approved"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got, _ := s.lifecycle.GetPaymentStatus(context.Background(), payment.ID)
	assert.Equal(t, models.StatusPaid, got.Status)

	rec = s.do(http.MethodPost, "/api/v1/test/simulate-payment", []byte(`{"payment_id":"pay_missing"}`), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSimulatePayment_OnlyInDevelopment(t *testing.T) {
	s := newTestServer(t, false, "")
	payment := s.checkout(t)

	rec := s.do(http.MethodPost, "/api/v1/test/simulate-payment", []byte(`{"payment_id":"`+payment.ID+`"}`), nil)

	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, false, "")

	rec := s.do(http.MethodGet, "/health", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"mode":"simulated"`)
}

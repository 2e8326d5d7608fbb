package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"ticket-checkout/internal/status"
	"ticket-checkout/monitoring"
	"ticket-checkout/utils"
)

const (
	operationCreate = "create"
	operationStatus = "status"

	maxErrorBody = 4 << 10
)

type ClientConfig struct {
	BaseURL string
	APIKey  string

	// RequestTimeout bounds every single attempt.
	RequestTimeout time.Duration
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// RetryBackoff is multiplied by the attempt number between attempts.
	RetryBackoff time.Duration

	HTTPClient *http.Client
}

type Client struct {
	// baseURL is the base url of the gateway API.
	baseURL string

	// apiKey is sent as a bearer token.
	apiKey string

	// timeout bounds each attempt.
	timeout time.Duration

	maxRetries   int
	retryBackoff time.Duration

	// hc is the http client.
	hc *http.Client

	monitor *monitoring.Monitor
}

// NewClient creates new instance of gateway client.
func NewClient(c ClientConfig, monitor *monitoring.Monitor) *Client {
	hc := c.HTTPClient
	if hc == nil {
		// per-attempt deadlines come from the request context
		hc = &http.Client{}
	}
	timeout := c.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	retries := c.MaxRetries
	if retries < 0 {
		retries = 0
	}

	return &Client{
		baseURL:      strings.TrimRight(c.BaseURL, "/"),
		apiKey:       c.APIKey,
		timeout:      timeout,
		maxRetries:   retries,
		retryBackoff: c.RetryBackoff,
		hc:           hc,
		monitor:      monitor,
	}
}

// CreatePayment posts a new Pix charge. The same idempotency key is sent on
// every attempt so a retried request cannot create two charges.
func (c *Client) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*PaymentResponse, error) {
	if c.apiKey == "" {
		return nil, status.NewGatewayError(status.KindConfiguration, 0, "GATEWAY_API_KEY is empty", nil)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("gateway.CreatePayment: json.Marshal: %w", err)
	}

	idempotencyKey := uuid.NewString()
	var reply PaymentResponse
	err = c.withRetry(ctx, operationCreate, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, "/payments", body, idempotencyKey, &reply)
	})
	if err != nil {
		return nil, err
	}
	if reply.ID == "" {
		return nil, status.NewGatewayError(status.KindGateway, http.StatusOK, "response without payment id", nil)
	}

	return &reply, nil
}

// GetPayment fetches the current state of a payment.
func (c *Client) GetPayment(ctx context.Context, id string) (*PaymentResponse, error) {
	if c.apiKey == "" {
		return nil, status.NewGatewayError(status.KindConfiguration, 0, "GATEWAY_API_KEY is empty", nil)
	}

	var reply PaymentResponse
	err := c.withRetry(ctx, operationStatus, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(id), nil, "", &reply)
	})
	if err != nil {
		return nil, err
	}

	return &reply, nil
}

// withRetry runs attempt up to maxRetries+1 times, waiting i*retryBackoff
// after attempt i. Each attempt gets its own timeout.
func (c *Client) withRetry(ctx context.Context, operation string, attempt func(ctx context.Context) error) error {
	start := time.Now()

	_, err := utils.Retry(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return attempt(attemptCtx)
	},
		utils.NonRetriableErrors(status.ErrConfiguration, status.ErrAuth, status.ErrPermission),
		utils.RetriableIf(retriable),
		utils.Limit(uint(c.maxRetries+1)),
		utils.Backoff(utils.LinearBackoff(c.retryBackoff), 0),
	)

	outcome := "ok"
	if err != nil {
		outcome = string(status.KindOf(err))
	}
	c.monitor.TrackGatewayRequest(operation, outcome, time.Since(start))

	return err
}

// retriable reports whether a gateway rejection could go away on retry.
// Client errors other than 408 and 429 will not.
func retriable(err error) bool {
	var gerr *status.GatewayError
	if !errors.As(err, &gerr) || gerr.Kind != status.KindGateway {
		return true
	}

	code := gerr.StatusCode
	return code < 400 || code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, idempotencyKey string, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return status.NewGatewayError(status.KindNetwork, 0, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if isTimeout(err) {
			return status.NewGatewayError(status.KindTimeout, 0, "reading response", err)
		}
		return status.NewGatewayError(status.KindGateway, resp.StatusCode, "malformed response", err)
	}

	return nil
}

func responseError(resp *http.Response) error {
	var reply errorReply
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err := json.Unmarshal(raw, &reply); err != nil || reply.text() == "" {
		reply.Message = strings.TrimSpace(string(raw))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return status.NewGatewayError(status.KindAuth, resp.StatusCode, reply.text(), nil)
	case resp.StatusCode == http.StatusForbidden:
		return status.NewGatewayError(status.KindPermission, resp.StatusCode, reply.text(), nil)
	default:
		return status.NewGatewayError(status.KindGateway, resp.StatusCode, reply.text(), nil)
	}
}

func transportError(err error) error {
	if isTimeout(err) {
		return status.NewGatewayError(status.KindTimeout, 0, "no response", err)
	}
	return status.NewGatewayError(status.KindNetwork, 0, "", err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// Client is a minimal HTTP client for the backend payments API. Requests
// carry a hard timeout so a hung call can never wedge the sync loop.
type Client struct {
	httpClient *http.Client
	baseURL    string
	terminalID string
	debug      bool
}

// NewClient constructs a backend client with sane defaults.
func NewClient(baseURL, terminalID string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		terminalID: terminalID,
		debug:      os.Getenv("ENV") == "development",
	}
}

// Health probes the backend health endpoint. Used by the connectivity
// monitor as the reachability signal.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health probe failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		return &APIError{StatusCode: resp.StatusCode}
	}
	return nil
}

// CreatePayment records a payment capture. Safe to call repeatedly with the
// same idempotency key.
func (c *Client) CreatePayment(ctx context.Context, reqBody PaymentRequest) (*PaymentResponse, error) {
	var resp PaymentResponse
	headers := map[string]string{"Idempotency-Key": reqBody.IdempotencyKey}
	if err := c.doRequest(ctx, http.MethodPost, "/payments", headers, reqBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreatePaymentIntent creates a remote payment intent for an online card capture.
func (c *Client) CreatePaymentIntent(ctx context.Context, reqBody IntentRequest) (*IntentResponse, error) {
	var resp IntentResponse
	if err := c.doRequest(ctx, http.MethodPost, "/payment-intents", nil, reqBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateOrder replays a buffered order document.
func (c *Client) CreateOrder(ctx context.Context, reqBody OrderRequest) (*OrderResponse, error) {
	var resp OrderResponse
	headers := map[string]string{"Idempotency-Key": reqBody.IdempotencyKey}
	if err := c.doRequest(ctx, http.MethodPost, "/orders", headers, reqBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LookupPayment asks the backend whether it already recorded a payment for
// the given idempotency key. Returns ErrPaymentNotFound on 404.
func (c *Client) LookupPayment(ctx context.Context, idempotencyKey string) (*PaymentResponse, error) {
	endpoint := "/payments/lookup?idempotency_key=" + url.QueryEscape(idempotencyKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Terminal-ID", c.terminalID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrPaymentNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, apiErrorFrom(resp.StatusCode, body)
	}

	var out PaymentResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

// doRequest performs an HTTP request with a JSON payload and decodes the
// JSON response into result. Non-2xx responses become *APIError.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, headers map[string]string, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	if c.debug {
		log.Debug().
			Str("endpoint", c.baseURL+endpoint).
			RawJSON("request", payload).
			Msg("[GATEWAY] Outgoing request")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Terminal-ID", c.terminalID)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if c.debug {
		log.Debug().
			Str("endpoint", endpoint).
			Int("status_code", resp.StatusCode).
			RawJSON("response", respBody).
			Msg("[GATEWAY] Incoming response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiErrorFrom(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func apiErrorFrom(status int, body []byte) *APIError {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	return &APIError{StatusCode: status, Detail: eb.Detail}
}

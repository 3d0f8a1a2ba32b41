package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"paychat/internal/domain"
)

// BackendConfig configures the backend REST client.
type BackendConfig struct {
	BaseURL      string
	Timeout      time.Duration
	Client       *http.Client
	RetryBackoff time.Duration
	Logger       *slog.Logger
}

// Backend talks to the payment backend: order minting, signature
// verification and payment lookups.
type Backend struct {
	baseURL      string
	client       *http.Client
	retryBackoff time.Duration
	logger       *slog.Logger
}

func NewBackend(cfg BackendConfig) (*Backend, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", cfg.BaseURL)
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(cfg.Timeout)
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Backend{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		client:       cfg.Client,
		retryBackoff: cfg.RetryBackoff,
		logger:       cfg.Logger,
	}, nil
}

type createOrderRequest struct {
	Amount domain.Amount `json:"amount"`
}

type createOrderResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Order   domain.Order `json:"order"`
}

// CreateOrder asks the backend to mint an order for the amount. It is never
// retried, so a slow backend cannot produce two orders.
func (b *Backend) CreateOrder(ctx context.Context, amount domain.Amount) (domain.Order, error) {
	var resp createOrderResponse
	status, err := b.post(ctx, "/payment/create-order", createOrderRequest{Amount: amount}, &resp)
	if err != nil {
		return domain.Order{}, &Error{Kind: KindOrder, Message: resp.Message, Err: err}
	}
	if !resp.Success || resp.Order.ID == "" {
		msg := resp.Message
		if msg == "" {
			msg = fmt.Sprintf("backend returned HTTP %d without an order", status)
		}
		return domain.Order{}, &Error{Kind: KindOrder, Message: msg}
	}
	b.logger.Debug("order created", "order_id", resp.Order.ID, "amount", resp.Order.Amount)
	return resp.Order, nil
}

// Verify forwards the checkout credentials for signature verification. A
// rejected signature is a Verification with Success false, not an error.
func (b *Backend) Verify(ctx context.Context, creds domain.Credentials) (domain.Verification, error) {
	var v domain.Verification
	status, err := b.post(ctx, "/payment/verify", creds, &v)
	if err != nil {
		if status >= 400 && status < 500 {
			v.Success = false
			return v, nil
		}
		return domain.Verification{}, &Error{Kind: KindVerify, Message: v.Message, Err: err}
	}
	if v.PaymentID == "" {
		v.PaymentID = creds.PaymentID
	}
	if v.OrderID == "" {
		v.OrderID = creds.OrderID
	}
	return v, nil
}

// PaymentDetails is the backend's view of a captured payment. Amount is in
// minor units.
type PaymentDetails struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	Method    string `json:"method,omitempty"`
	VPA       string `json:"vpa,omitempty"`
	Email     string `json:"email,omitempty"`
	Contact   string `json:"contact,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
}

type paymentDetailsResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Payment PaymentDetails `json:"payment"`
}

// PaymentDetails looks up a payment. Lookups are idempotent and retried on
// transient failures.
func (b *Backend) PaymentDetails(ctx context.Context, paymentID string) (PaymentDetails, error) {
	endpoint := b.baseURL + "/payment/details/" + url.PathEscape(paymentID)
	resp, err := doWithRetry(ctx, b.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, b.retryBackoff, b.logger)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("payment details %s: %w", paymentID, err)
	}
	defer resp.Body.Close()

	var out paymentDetailsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return PaymentDetails{}, fmt.Errorf("decode payment details: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !out.Success {
		return PaymentDetails{}, fmt.Errorf("payment details %s: HTTP %d: %s", paymentID, resp.StatusCode, out.Message)
	}
	return out.Payment, nil
}

// post sends a JSON body and decodes the JSON answer into out, also for
// error statuses so the backend's message is available to the caller.
func (b *Backend) post(ctx context.Context, path string, body, out any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	decodeErr := json.Unmarshal(raw, out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("POST %s: HTTP %d", path, resp.StatusCode)
	}
	if decodeErr != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", decodeErr)
	}
	return resp.StatusCode, nil
}

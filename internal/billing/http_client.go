package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPClient talks to the billing system over its JSON API.
//
// Endpoints:
//
//	GET  /api/invoices/{id}
//	GET  /api/transactions?external_id=...
//	POST /api/invoices/{id}/payments
//	POST /api/gateway-log
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient overrides the underlying http.Client, mainly for tests.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) { h.client = c }
}

// NewHTTPClient creates a billing client. The token is sent as a bearer
// token on every request.
func NewHTTPClient(baseURL, token string, opts ...HTTPOption) *HTTPClient {
	h := &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var _ Service = (*HTTPClient)(nil)

func (h *HTTPClient) FindInvoice(ctx context.Context, id int64) (*Invoice, error) {
	var inv Invoice
	err := h.do(ctx, http.MethodGet, "/api/invoices/"+strconv.FormatInt(id, 10), nil, &inv)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func (h *HTTPClient) FindTransactionByExternalID(ctx context.Context, externalID string) (*Transaction, error) {
	path := "/api/transactions?external_id=" + url.QueryEscape(externalID)
	var tx Transaction
	err := h.do(ctx, http.MethodGet, path, nil, &tx)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (h *HTTPClient) ApplyPayment(ctx context.Context, p Payment) error {
	body := struct {
		ExternalID string          `json:"externalId"`
		Amount     decimal.Decimal `json:"amount"`
		Fee        decimal.Decimal `json:"fee"`
		Gateway    string          `json:"gateway"`
	}{p.ExternalID, p.Amount, p.Fee, p.Gateway}

	path := "/api/invoices/" + strconv.FormatInt(p.InvoiceID, 10) + "/payments"
	err := h.do(ctx, http.MethodPost, path, body, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return ErrInvoiceNotFound
		}
		if isStatus(err, http.StatusConflict) || isStatus(err, http.StatusUnprocessableEntity) {
			return ErrPaymentRejected
		}
		return err
	}
	return nil
}

func (h *HTTPClient) LogEvent(ctx context.Context, gateway string, payload interface{}, message string) {
	body := struct {
		Gateway string      `json:"gateway"`
		Payload interface{} `json:"payload"`
		Message string      `json:"message"`
	}{gateway, payload, message}

	// Best effort: the audit log must never block payment processing.
	_ = h.do(ctx, http.MethodPost, "/api/gateway-log", body, nil)
}

// statusError carries a non-2xx response so callers can map well-known
// statuses onto package sentinels.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("billing: unexpected status %d: %s", e.status, e.body)
}

func isStatus(err error, status int) bool {
	se, ok := err.(*statusError)
	return ok && se.status == status
}

func (h *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("billing: marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("billing: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("billing: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{status: resp.StatusCode, body: string(snippet)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("billing: decode response: %w", err)
		}
	}
	return nil
}

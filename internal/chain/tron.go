package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// USDT TRC20 contract on Tron mainnet.
const TronUSDTContract = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"

const (
	defaultTronBaseURL = "https://api.trongrid.io"
	tronPageLimit      = 5
	tronDecimals       = 6
)

// TronClient reads confirmed USDT transfers from the TronGrid API.
//
// Confirmation policy is delegated to the explorer: the query asks for
// only_confirmed transfers, so everything returned is spendable.
type TronClient struct {
	http     *http.Client
	baseURL  string
	contract string
	apiKey   string
}

// TronOption configures a TronClient.
type TronOption func(*TronClient)

// WithTronBaseURL overrides the TronGrid endpoint (used by tests).
func WithTronBaseURL(u string) TronOption {
	return func(c *TronClient) { c.baseURL = u }
}

// WithTronAPIKey sets the TRON-PRO-API-KEY header for higher rate limits.
func WithTronAPIKey(key string) TronOption {
	return func(c *TronClient) { c.apiKey = key }
}

// WithTronHTTPClient overrides the HTTP client.
func WithTronHTTPClient(h *http.Client) TronOption {
	return func(c *TronClient) { c.http = h }
}

// NewTronClient creates a TRC20 explorer client.
func NewTronClient(opts ...TronOption) *TronClient {
	c := &TronClient{
		http:     &http.Client{Timeout: 30 * time.Second},
		baseURL:  defaultTronBaseURL,
		contract: TronUSDTContract,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *TronClient) Chain() Chain           { return TRC20 }
func (c *TronClient) DecimalExponent() int32 { return tronDecimals }

// tronTransfer mirrors one element of TronGrid's trc20 transaction list.
type tronTransfer struct {
	TransactionID  string `json:"transaction_id"`
	From           string `json:"from"`
	To             string `json:"to"`
	Value          string `json:"value"`
	BlockTimestamp int64  `json:"block_timestamp"` // milliseconds
}

func (c *TronClient) FetchInbound(ctx context.Context, address string, since time.Time) ([]Transfer, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(tronPageLimit))
	q.Set("only_to", "true")
	q.Set("only_confirmed", "true")
	q.Set("contract_address", c.contract)
	q.Set("min_timestamp", strconv.FormatInt(since.UnixMilli(), 10))

	endpoint := fmt.Sprintf("%s/v1/accounts/%s/transactions/trc20?%s", c.baseURL, url.PathEscape(address), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &QueryError{Chain: TRC20, Address: address, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("TRON-PRO-API-KEY", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &QueryError{Chain: TRC20, Address: address, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &QueryError{Chain: TRC20, Address: address, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var body struct {
		Data []tronTransfer `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &QueryError{Chain: TRC20, Address: address, Err: fmt.Errorf("decode response: %w", err)}
	}

	transfers := make([]Transfer, 0, len(body.Data))
	for _, tx := range body.Data {
		transfers = append(transfers, Transfer{
			ID:        tx.TransactionID,
			From:      tx.From,
			To:        tx.To,
			RawValue:  tx.Value,
			Timestamp: time.UnixMilli(tx.BlockTimestamp).UTC(),
			// only_confirmed=true: TronGrid returns solidified transfers only.
			Confirmations: 1,
		})
	}
	return transfers, nil
}

// Compile-time assertion.
var _ Client = (*TronClient)(nil)

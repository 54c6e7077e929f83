package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPolygonBaseURL = "https://api.polygonscan.com"
	polygonPageOffset     = 10
	polygonDecimals       = 18

	// PolygonMinConfirmations is the confirmation threshold below which a
	// reported transaction is not trusted. PolygonScan returns transfers
	// immediately after inclusion; reorgs at this depth are negligible.
	PolygonMinConfirmations = 25
)

// PolygonClient reads inbound transactions from the PolygonScan API.
//
// PolygonScan has no server-side confirmation filter, so the confirmation
// policy is applied client-side against the reported confirmation count.
type PolygonClient struct {
	http    *http.Client
	baseURL string
	apiKey  string
	minConf int64
}

// PolygonOption configures a PolygonClient.
type PolygonOption func(*PolygonClient)

// WithPolygonBaseURL overrides the PolygonScan endpoint (used by tests).
func WithPolygonBaseURL(u string) PolygonOption {
	return func(c *PolygonClient) { c.baseURL = u }
}

// WithPolygonHTTPClient overrides the HTTP client.
func WithPolygonHTTPClient(h *http.Client) PolygonOption {
	return func(c *PolygonClient) { c.http = h }
}

// WithPolygonMinConfirmations overrides the confirmation threshold.
func WithPolygonMinConfirmations(n int64) PolygonOption {
	return func(c *PolygonClient) { c.minConf = n }
}

// NewPolygonClient creates a Polygon explorer client. The API key is
// required by PolygonScan for any meaningful rate limit.
func NewPolygonClient(apiKey string, opts ...PolygonOption) *PolygonClient {
	c := &PolygonClient{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: defaultPolygonBaseURL,
		apiKey:  apiKey,
		minConf: PolygonMinConfirmations,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *PolygonClient) Chain() Chain           { return Polygon }
func (c *PolygonClient) DecimalExponent() int32 { return polygonDecimals }

// polygonTx mirrors one element of PolygonScan's account txlist result.
type polygonTx struct {
	Hash          string `json:"hash"`
	From          string `json:"from"`
	To            string `json:"to"`
	Value         string `json:"value"`
	TimeStamp     string `json:"timeStamp"`     // unix seconds, as string
	Confirmations string `json:"confirmations"` // count, as string
}

func (c *PolygonClient) FetchInbound(ctx context.Context, address string, since time.Time) ([]Transfer, error) {
	q := url.Values{}
	q.Set("module", "account")
	q.Set("action", "txlist")
	q.Set("address", address)
	q.Set("page", "1")
	q.Set("offset", strconv.Itoa(polygonPageOffset))
	q.Set("sort", "desc")
	q.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api?"+q.Encode(), nil)
	if err != nil {
		return nil, &QueryError{Chain: Polygon, Address: address, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &QueryError{Chain: Polygon, Address: address, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &QueryError{Chain: Polygon, Address: address, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var body struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &QueryError{Chain: Polygon, Address: address, Err: fmt.Errorf("decode response: %w", err)}
	}

	// An empty history is a normal state, not a failure. Any other non-OK
	// message (rate limit, bad key) aborts this address.
	if body.Message != "OK" {
		if body.Message == "No transactions found" {
			return nil, nil
		}
		return nil, &QueryError{Chain: Polygon, Address: address, Err: fmt.Errorf("explorer: %s", body.Message)}
	}

	var txs []polygonTx
	if err := json.Unmarshal(body.Result, &txs); err != nil {
		return nil, &QueryError{Chain: Polygon, Address: address, Err: fmt.Errorf("decode result: %w", err)}
	}

	var transfers []Transfer
	for _, tx := range txs {
		ts, err := strconv.ParseInt(tx.TimeStamp, 10, 64)
		if err != nil {
			return nil, &QueryError{Chain: Polygon, Address: address, Err: fmt.Errorf("bad timestamp %q: %w", tx.TimeStamp, err)}
		}
		conf, err := strconv.ParseInt(tx.Confirmations, 10, 64)
		if err != nil {
			return nil, &QueryError{Chain: Polygon, Address: address, Err: fmt.Errorf("bad confirmations %q: %w", tx.Confirmations, err)}
		}

		if ts < since.Unix() {
			continue
		}
		if !strings.EqualFold(tx.To, address) {
			continue
		}
		if conf < c.minConf {
			continue
		}

		transfers = append(transfers, Transfer{
			ID:            tx.Hash,
			From:          tx.From,
			To:            tx.To,
			RawValue:      tx.Value,
			Timestamp:     time.Unix(ts, 0).UTC(),
			Confirmations: conf,
		})
	}
	return transfers, nil
}

// Compile-time assertion.
var _ Client = (*PolygonClient)(nil)

// Package chain reads inbound token transfers from third-party blockchain
// explorer APIs.
//
// Explorers are untrusted, rate-limited and eventually consistent; every
// client call is a fresh bounded HTTP request and every failure is wrapped
// in *QueryError so callers can isolate it per address.
package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Chain identifies a supported network/token combination.
type Chain string

const (
	TRC20   Chain = "TRC20"
	Polygon Chain = "POLYGON"
)

// Parse returns the Chain for a request tag, defaulting to TRC20 for the
// empty string (the original gateway's behavior for untagged addresses).
func Parse(s string) (Chain, error) {
	switch s {
	case "", string(TRC20):
		return TRC20, nil
	case string(Polygon):
		return Polygon, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedChain, s)
}

// Valid reports whether c is a known chain tag.
func (c Chain) Valid() bool {
	return c == TRC20 || c == Polygon
}

// ErrUnsupportedChain is returned for chain tags outside the closed set.
var ErrUnsupportedChain = errors.New("chain: unsupported chain")

// Transfer is one inbound transfer reported by an explorer. It is
// append-only evidence from an external source and is never persisted.
type Transfer struct {
	ID            string // transaction id (TRC20) or tx hash (Polygon)
	From          string
	To            string
	RawValue      string // integer token units, as reported
	Timestamp     time.Time
	Confirmations int64
}

// Amount converts the raw token units to a decimal amount using the
// chain's token exponent (6 for TRC20 USDT, 18 for the Polygon token).
func (t Transfer) Amount(exponent int32) (decimal.Decimal, error) {
	raw, err := decimal.NewFromString(t.RawValue)
	if err != nil {
		return decimal.Zero, fmt.Errorf("chain: bad transfer value %q: %w", t.RawValue, err)
	}
	return raw.Shift(-exponent), nil
}

// Client fetches inbound transfers for one chain.
//
// Implementations apply their own confirmation policy: the TRC20 client
// delegates to the explorer (only_confirmed), the Polygon client requires
// a minimum confirmation count client-side.
type Client interface {
	// Chain returns the tag this client serves.
	Chain() Chain

	// FetchInbound returns transfers to address at or after since,
	// in the order the explorer reports them. The sequence is finite
	// and non-restartable; no cursor is kept between calls.
	FetchInbound(ctx context.Context, address string, since time.Time) ([]Transfer, error)

	// DecimalExponent is the fixed token decimal exponent for amounts.
	DecimalExponent() int32
}

// QueryError reports a transport failure, a non-success HTTP status or a
// malformed explorer response. It aborts reconciliation of the one lease
// being processed, never the whole pass.
type QueryError struct {
	Chain   Chain
	Address string
	Err     error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("chain %s: query %s: %v", e.Chain, e.Address, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// IsQueryError reports whether err is (or wraps) a *QueryError.
func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}

// Registry maps chain tags to their explorer clients.
type Registry map[Chain]Client

// Get returns the client for c.
func (r Registry) Get(c Chain) (Client, error) {
	client, ok := r[c]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedChain, c)
	}
	return client, nil
}

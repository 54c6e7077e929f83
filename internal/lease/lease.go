// Package lease assigns scarce receiving addresses to invoices.
//
// A lease is a time-bounded, exclusive assignment of one chain address to
// one invoice. The store is the source of truth for mutual exclusion: at
// most one non-released lease per (chain, address) and at most one per
// invoice may exist, enforced by the store's uniqueness constraints rather
// than in-process locks, because interactive allocation and the scheduled
// reconciler run as independent processes.
package lease

import (
	"errors"
	"time"

	"github.com/beefpay/beefpay/internal/chain"
)

// Errors
var (
	// ErrNoAddressAvailable means the pool for the requested chain is
	// exhausted. Surfaced to the payer as "try again later"; never
	// retried automatically.
	ErrNoAddressAvailable = errors.New("lease: no address available")

	// ErrAlreadyLeased means the invoice already holds an active lease.
	// Callers should reuse that lease instead of allocating.
	ErrAlreadyLeased = errors.New("lease: invoice already has an active lease")

	// ErrAddressBusy means another allocation won the race for an
	// address. The manager retries with a different candidate.
	ErrAddressBusy = errors.New("lease: address already leased")

	// ErrNotFound means no matching lease exists.
	ErrNotFound = errors.New("lease: not found")

	// ErrReleased means the lease was already released and is immutable.
	ErrReleased = errors.New("lease: already released")
)

// Lease is one assignment of an address to an invoice.
//
// Once TransactionID is set the lease is paid, released, and immutable.
// Released leases are kept as history; retention is not this package's
// concern.
type Lease struct {
	ID            int64       `json:"id"`
	Chain         chain.Chain `json:"chain"`
	Address       string      `json:"address"`
	InvoiceID     int64       `json:"invoiceId"`
	FromAddress   string      `json:"fromAddress,omitempty"`   // payer, set on payment
	TransactionID string      `json:"transactionId,omitempty"` // set when paid in full
	ExpiresAt     time.Time   `json:"expiresAt"`
	Released      bool        `json:"released"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// Active reports whether the lease still holds its address at the given
// instant.
func (l *Lease) Active(now time.Time) bool {
	return !l.Released && l.ExpiresAt.After(now)
}

// Paid reports whether a settling transaction has been recorded.
func (l *Lease) Paid() bool {
	return l.TransactionID != ""
}

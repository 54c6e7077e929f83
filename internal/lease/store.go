package lease

import (
	"context"
	"time"

	"github.com/beefpay/beefpay/internal/chain"
)

// Store persists leases. Implementations must uphold the exclusivity
// invariants atomically: Create fails with ErrAddressBusy when a
// non-released lease already holds the same (chain, address) and with
// ErrAlreadyLeased when the invoice already holds a non-released lease.
type Store interface {
	// Create inserts the lease and fills in its ID.
	Create(ctx context.Context, l *Lease) error

	// Get returns the lease by id, or ErrNotFound.
	Get(ctx context.Context, id int64) (*Lease, error)

	// ActiveByInvoice returns the most recent non-released,
	// non-expired lease for the invoice, or ErrNotFound.
	ActiveByInvoice(ctx context.Context, invoiceID int64) (*Lease, error)

	// ListActive returns every non-released lease that has not expired
	// at the given instant, oldest first.
	ListActive(ctx context.Context, now time.Time) ([]*Lease, error)

	// InUseAddresses returns the addresses of all non-released leases
	// on the chain, expired or not. Expired-but-unreleased leases still
	// hold their address until the expiry sweep releases them.
	InUseAddresses(ctx context.Context, ch chain.Chain) ([]string, error)

	// Renew extends the lease's expiry. The expiry never decreases:
	// an earlier expiresAt than the current one is a no-op. Renewing a
	// released lease returns ErrReleased.
	Renew(ctx context.Context, id int64, expiresAt time.Time) error

	// MarkPaid records the payer and settling transaction and releases
	// the lease permanently. Returns ErrReleased if already released.
	MarkPaid(ctx context.Context, id int64, fromAddress, transactionID string) error

	// ReleaseExpired releases every non-released lease with
	// expires_at <= now and returns how many were released.
	ReleaseExpired(ctx context.Context, now time.Time) (int64, error)
}

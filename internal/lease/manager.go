package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/beefpay/beefpay/internal/chain"
)

// Manager allocates, renews and releases leases against a static address
// pool. All mutual-exclusion decisions are delegated to the store's
// constraints; the manager only narrows the candidate set and retries
// lost races.
type Manager struct {
	pool    map[chain.Chain][]string
	store   Store
	timeout time.Duration
	logger  *slog.Logger
}

// NewManager creates a lease manager. timeout is the lifetime granted on
// allocation and on each renewal.
func NewManager(pool map[chain.Chain][]string, store Store, timeout time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	for ch, addresses := range pool {
		poolSize.WithLabelValues(string(ch)).Set(float64(len(addresses)))
	}
	return &Manager{
		pool:    pool,
		store:   store,
		timeout: timeout,
		logger:  logger,
	}
}

// Timeout returns the configured lease lifetime.
func (m *Manager) Timeout() time.Duration { return m.timeout }

// SupportedChains returns the chains with a non-empty pool, sorted for
// stable rendering.
func (m *Manager) SupportedChains() []chain.Chain {
	var chains []chain.Chain
	for ch, addresses := range m.pool {
		if len(addresses) > 0 {
			chains = append(chains, ch)
		}
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i] < chains[j] })
	return chains
}

// Allocate assigns a free address on the chain to the invoice.
//
// It fails with ErrAlreadyLeased when the invoice already holds an active
// lease and with ErrNoAddressAvailable when every pool address is in use.
// The address is picked uniformly at random among the free ones so that
// concurrent allocations don't pile onto a predictable candidate; a lost
// insert race (ErrAddressBusy) moves on to the next candidate.
func (m *Manager) Allocate(ctx context.Context, ch chain.Chain, invoiceID int64) (*Lease, error) {
	if _, err := m.store.ActiveByInvoice(ctx, invoiceID); err == nil {
		allocationFailures.WithLabelValues(string(ch), "already_leased").Inc()
		return nil, ErrAlreadyLeased
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lease: look up active lease: %w", err)
	}

	inUse, err := m.store.InUseAddresses(ctx, ch)
	if err != nil {
		return nil, fmt.Errorf("lease: list in-use addresses: %w", err)
	}

	busy := make(map[string]bool, len(inUse))
	for _, a := range inUse {
		busy[a] = true
	}

	var available []string
	for _, a := range m.pool[ch] {
		if !busy[a] {
			available = append(available, a)
		}
	}
	if len(available) == 0 {
		allocationFailures.WithLabelValues(string(ch), "pool_exhausted").Inc()
		return nil, ErrNoAddressAvailable
	}

	rand.Shuffle(len(available), func(i, j int) {
		available[i], available[j] = available[j], available[i]
	})

	now := time.Now().UTC()
	for _, address := range available {
		l := &Lease{
			Chain:     ch,
			Address:   address,
			InvoiceID: invoiceID,
			ExpiresAt: now.Add(m.timeout),
			CreatedAt: now,
			UpdatedAt: now,
		}

		err := m.store.Create(ctx, l)
		switch {
		case err == nil:
			leasesAllocated.WithLabelValues(string(ch)).Inc()
			m.logger.Info("lease allocated",
				"lease", l.ID, "invoice", invoiceID, "chain", ch, "address", address)
			return l, nil
		case errors.Is(err, ErrAddressBusy):
			// Lost the race for this address; try another.
			continue
		case errors.Is(err, ErrAlreadyLeased):
			allocationFailures.WithLabelValues(string(ch), "already_leased").Inc()
			return nil, ErrAlreadyLeased
		default:
			return nil, fmt.Errorf("lease: create: %w", err)
		}
	}

	allocationFailures.WithLabelValues(string(ch), "pool_exhausted").Inc()
	return nil, ErrNoAddressAvailable
}

// Renew extends the lease's expiry to now + timeout. Idempotent; the
// stored expiry never moves backwards.
func (m *Manager) Renew(ctx context.Context, l *Lease) error {
	expiresAt := time.Now().UTC().Add(m.timeout)
	if err := m.store.Renew(ctx, l.ID, expiresAt); err != nil {
		return fmt.Errorf("lease: renew %d: %w", l.ID, err)
	}
	if expiresAt.After(l.ExpiresAt) {
		l.ExpiresAt = expiresAt
	}
	leasesRenewed.WithLabelValues(string(l.Chain)).Inc()
	return nil
}

// ActiveLeaseFor returns the invoice's active lease, or ErrNotFound.
func (m *Manager) ActiveLeaseFor(ctx context.Context, invoiceID int64) (*Lease, error) {
	return m.store.ActiveByInvoice(ctx, invoiceID)
}

// ListActive returns every currently-active lease.
func (m *Manager) ListActive(ctx context.Context) ([]*Lease, error) {
	return m.store.ListActive(ctx, time.Now().UTC())
}

// MarkPaid records the payer and settling transaction on the lease and
// releases its address permanently.
func (m *Manager) MarkPaid(ctx context.Context, l *Lease, fromAddress, transactionID string) error {
	if err := m.store.MarkPaid(ctx, l.ID, fromAddress, transactionID); err != nil {
		return fmt.Errorf("lease: mark paid %d: %w", l.ID, err)
	}
	l.FromAddress = fromAddress
	l.TransactionID = transactionID
	l.Released = true
	leasesReleased.WithLabelValues(string(l.Chain), "paid").Inc()
	m.logger.Info("lease paid",
		"lease", l.ID, "invoice", l.InvoiceID, "chain", l.Chain, "tx", transactionID)
	return nil
}

// ExpireStale releases every lease whose expiry has passed, freeing the
// addresses back into the pool. Safe to run on every scheduler tick.
func (m *Manager) ExpireStale(ctx context.Context) (int64, error) {
	released, err := m.store.ReleaseExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("lease: release expired: %w", err)
	}
	if released > 0 {
		leasesExpired.Add(float64(released))
		m.logger.Info("expired leases released", "count", released)
	}
	return released, nil
}

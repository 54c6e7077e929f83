package lease

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/beefpay/beefpay/internal/chain"
)

// MemoryStore is an in-memory lease store for demo/development mode.
// It enforces the same exclusivity rules as the Postgres store, with a
// single mutex standing in for the database's constraints.
type MemoryStore struct {
	leases map[int64]*Lease
	nextID int64
	mu     sync.Mutex
}

// NewMemoryStore creates a new in-memory lease store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{leases: make(map[int64]*Lease)}
}

func (m *MemoryStore) Create(_ context.Context, l *Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.leases {
		if existing.Released {
			continue
		}
		if existing.Chain == l.Chain && existing.Address == l.Address {
			return ErrAddressBusy
		}
		if existing.InvoiceID == l.InvoiceID {
			return ErrAlreadyLeased
		}
	}

	m.nextID++
	l.ID = m.nextID
	cp := *l
	m.leases[l.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id int64) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leases[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *MemoryStore) ActiveByInvoice(_ context.Context, invoiceID int64) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var latest *Lease
	for _, l := range m.leases {
		if l.InvoiceID != invoiceID || !l.Active(now) {
			continue
		}
		if latest == nil || l.ID > latest.ID {
			latest = l
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryStore) ListActive(_ context.Context, now time.Time) ([]*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*Lease
	for _, l := range m.leases {
		if !l.Released && l.ExpiresAt.After(now) {
			cp := *l
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryStore) InUseAddresses(_ context.Context, ch chain.Chain) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var addresses []string
	for _, l := range m.leases {
		if !l.Released && l.Chain == ch {
			addresses = append(addresses, l.Address)
		}
	}
	return addresses, nil
}

func (m *MemoryStore) Renew(_ context.Context, id int64, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leases[id]
	if !ok {
		return ErrNotFound
	}
	if l.Released {
		return ErrReleased
	}
	if expiresAt.After(l.ExpiresAt) {
		l.ExpiresAt = expiresAt
		l.UpdatedAt = time.Now()
	}
	return nil
}

func (m *MemoryStore) MarkPaid(_ context.Context, id int64, fromAddress, transactionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leases[id]
	if !ok {
		return ErrNotFound
	}
	if l.Released {
		return ErrReleased
	}
	l.FromAddress = fromAddress
	l.TransactionID = transactionID
	l.Released = true
	l.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ReleaseExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var released int64
	for _, l := range m.leases {
		if !l.Released && !l.ExpiresAt.After(now) {
			l.Released = true
			l.UpdatedAt = time.Now()
			released++
		}
	}
	return released, nil
}

// Compile-time assertion.
var _ Store = (*MemoryStore)(nil)

package billing

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryService is an in-memory billing system used in development mode
// and in tests. It enforces the same external-id uniqueness the real
// billing system does and flips invoices to paid once the applied total
// covers the invoice amount.
type MemoryService struct {
	mu       sync.Mutex
	invoices map[int64]*Invoice
	byExtID  map[string]*Transaction
	nextTxID int64
}

// NewMemoryService creates an empty in-memory billing system.
func NewMemoryService() *MemoryService {
	return &MemoryService{
		invoices: make(map[int64]*Invoice),
		byExtID:  make(map[string]*Transaction),
	}
}

var _ Service = (*MemoryService)(nil)

// SeedInvoice registers an unpaid invoice. Existing entries are replaced.
func (m *MemoryService) SeedInvoice(id int64, total decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[id] = &Invoice{
		ID:     id,
		Status: StatusUnpaid,
		Total:  total,
	}
}

func (m *MemoryService) FindInvoice(ctx context.Context, id int64) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *MemoryService) FindTransactionByExternalID(ctx context.Context, externalID string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.byExtID[externalID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (m *MemoryService) ApplyPayment(ctx context.Context, p Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invoices[p.InvoiceID]
	if !ok {
		return ErrInvoiceNotFound
	}
	if _, dup := m.byExtID[p.ExternalID]; dup {
		return ErrPaymentRejected
	}

	m.nextTxID++
	m.byExtID[p.ExternalID] = &Transaction{
		ID:         m.nextTxID,
		InvoiceID:  p.InvoiceID,
		ExternalID: p.ExternalID,
		Amount:     p.Amount,
		Fee:        p.Fee,
		Gateway:    p.Gateway,
		CreatedAt:  time.Now().UTC(),
	}

	inv.AmountIn = inv.AmountIn.Add(p.Amount)
	if inv.Status == StatusUnpaid && inv.AmountIn.GreaterThanOrEqual(inv.Total) {
		inv.Status = StatusPaid
	}
	return nil
}

func (m *MemoryService) LogEvent(ctx context.Context, gateway string, payload interface{}, message string) {
	// No audit trail in memory mode.
}

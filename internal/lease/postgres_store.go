package lease

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/beefpay/beefpay/internal/chain"
)

// Partial unique index names from migrations/0001_create_leases.sql.
// Violations are mapped to the package's sentinel errors so the manager
// can distinguish a lost address race from a duplicate invoice lease.
const (
	activeAddressIdx = "leases_active_address_idx"
	activeInvoiceIdx = "leases_active_invoice_idx"
)

// PostgresStore persists leases in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed lease store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const leaseColumns = `id, chain, to_address, invoice_id,
	COALESCE(from_address, ''), COALESCE(transaction_id, ''),
	expires_at, is_released, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, l *Lease) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO leases (chain, to_address, invoice_id, expires_at, is_released, created_at, updated_at)
		VALUES ($1, $2, $3, $4, FALSE, $5, $6)
		RETURNING id`,
		string(l.Chain), l.Address, l.InvoiceID, l.ExpiresAt, l.CreatedAt, l.UpdatedAt,
	).Scan(&l.ID)
	if err != nil {
		return mapUniqueViolation(err)
	}
	return nil
}

// mapUniqueViolation translates constraint violations on the partial
// unique indexes into sentinel errors.
func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		switch pqErr.Constraint {
		case activeAddressIdx:
			return ErrAddressBusy
		case activeInvoiceIdx:
			return ErrAlreadyLeased
		}
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id int64) (*Lease, error) {
	l, err := scanLease(p.db.QueryRowContext(ctx, `
		SELECT `+leaseColumns+` FROM leases WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

func (p *PostgresStore) ActiveByInvoice(ctx context.Context, invoiceID int64) (*Lease, error) {
	l, err := scanLease(p.db.QueryRowContext(ctx, `
		SELECT `+leaseColumns+` FROM leases
		WHERE invoice_id = $1 AND NOT is_released AND expires_at > NOW()
		ORDER BY id DESC
		LIMIT 1`, invoiceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

func (p *PostgresStore) ListActive(ctx context.Context, now time.Time) ([]*Lease, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+leaseColumns+` FROM leases
		WHERE NOT is_released AND expires_at > $1
		ORDER BY id ASC`, now)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanLeases(rows)
}

func (p *PostgresStore) InUseAddresses(ctx context.Context, ch chain.Chain) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT to_address FROM leases
		WHERE chain = $1 AND NOT is_released`, string(ch))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var addresses []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		addresses = append(addresses, a)
	}
	return addresses, rows.Err()
}

func (p *PostgresStore) Renew(ctx context.Context, id int64, expiresAt time.Time) error {
	// GREATEST keeps the expiry monotonically non-decreasing.
	result, err := p.db.ExecContext(ctx, `
		UPDATE leases
		SET expires_at = GREATEST(expires_at, $1), updated_at = NOW()
		WHERE id = $2 AND NOT is_released`,
		expiresAt, id)
	if err != nil {
		return err
	}
	return p.checkMutated(ctx, result, id)
}

func (p *PostgresStore) MarkPaid(ctx context.Context, id int64, fromAddress, transactionID string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE leases
		SET from_address = $1, transaction_id = $2, is_released = TRUE, updated_at = NOW()
		WHERE id = $3 AND NOT is_released`,
		fromAddress, transactionID, id)
	if err != nil {
		return err
	}
	return p.checkMutated(ctx, result, id)
}

func (p *PostgresStore) ReleaseExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE leases
		SET is_released = TRUE, updated_at = NOW()
		WHERE expires_at <= $1 AND NOT is_released`, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// checkMutated distinguishes a missing lease from an already-released one
// when an update matched no rows.
func (p *PostgresStore) checkMutated(ctx context.Context, result sql.Result, id int64) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	var released bool
	err = p.db.QueryRowContext(ctx, `SELECT is_released FROM leases WHERE id = $1`, id).Scan(&released)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if released {
		return ErrReleased
	}
	return nil
}

// --- scanners ---

type leaseScanner interface {
	Scan(dest ...interface{}) error
}

func scanLease(sc leaseScanner) (*Lease, error) {
	l := &Lease{}
	var ch string

	err := sc.Scan(
		&l.ID, &ch, &l.Address, &l.InvoiceID,
		&l.FromAddress, &l.TransactionID,
		&l.ExpiresAt, &l.Released, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.Chain = chain.Chain(ch)
	return l, nil
}

func scanLeases(rows *sql.Rows) ([]*Lease, error) {
	var result []*Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

// Compile-time assertion.
var _ Store = (*PostgresStore)(nil)

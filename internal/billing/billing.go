// Package billing defines the gateway's view of the host billing system,
// the external collaborator that owns invoice and transaction records.
//
// The gateway never mutates invoices directly; it only applies payments
// and reads status back. The billing system's uniqueness constraint on
// the external transaction id is the final backstop against
// double-crediting.
package billing

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Errors
var (
	ErrInvoiceNotFound     = errors.New("billing: invoice not found")
	ErrTransactionNotFound = errors.New("billing: transaction not found")
	ErrPaymentRejected     = errors.New("billing: payment rejected")
)

// Status is an invoice's payment state as reported by the billing system.
type Status string

const (
	StatusUnpaid    Status = "unpaid"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// Invoice is the billing system's record of one invoice.
type Invoice struct {
	ID       int64           `json:"id"`
	Status   Status          `json:"status"`
	Total    decimal.Decimal `json:"total"`
	AmountIn decimal.Decimal `json:"amountIn"` // sum of applied payments
}

// Paid reports whether the invoice is settled in full.
func (i *Invoice) Paid() bool {
	return i.Status == StatusPaid
}

// Transaction is one payment recorded against an invoice.
type Transaction struct {
	ID         int64           `json:"id"`
	InvoiceID  int64           `json:"invoiceId"`
	ExternalID string          `json:"externalId"` // chain transaction id
	Amount     decimal.Decimal `json:"amount"`
	Fee        decimal.Decimal `json:"fee"`
	Gateway    string          `json:"gateway"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Payment is a request to credit an invoice.
type Payment struct {
	InvoiceID  int64
	ExternalID string
	Amount     decimal.Decimal
	Fee        decimal.Decimal
	Gateway    string
}

// Service is the billing collaborator consumed by the reconciler and the
// payment handlers.
type Service interface {
	// FindInvoice returns the invoice, or ErrInvoiceNotFound.
	FindInvoice(ctx context.Context, id int64) (*Invoice, error)

	// FindTransactionByExternalID returns the recorded transaction for
	// a chain transaction id, or ErrTransactionNotFound.
	FindTransactionByExternalID(ctx context.Context, externalID string) (*Transaction, error)

	// ApplyPayment credits the invoice. Calling it twice with the same
	// ExternalID must not double-credit; the second call returns
	// ErrPaymentRejected.
	ApplyPayment(ctx context.Context, p Payment) error

	// LogEvent writes an audit-trail entry. Fire-and-forget: failures
	// are swallowed by implementations.
	LogEvent(ctx context.Context, gateway string, payload interface{}, message string)
}

// Package reconcile matches inbound chain transfers against active
// address leases and credits them to invoices.
//
// The loop is driven by polling: every pass lists active leases, asks
// the chain explorer for transfers into each leased address since the
// lease began, and applies anything new to the billing system. A failed
// explorer query aborts that one lease only; the rest of the pass
// continues.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/beefpay/beefpay/internal/billing"
	"github.com/beefpay/beefpay/internal/chain"
	"github.com/beefpay/beefpay/internal/lease"
	"github.com/beefpay/beefpay/internal/realtime"
	"github.com/beefpay/beefpay/internal/traces"
)

// Reconciler drives payment detection for all active leases.
type Reconciler struct {
	leases     *lease.Manager
	chains     chain.Registry
	billing    billing.Service
	hub        *realtime.Hub
	gatewayTag string
	logger     *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithHub attaches a realtime hub; lifecycle events are broadcast to it.
func WithHub(h *realtime.Hub) Option {
	return func(r *Reconciler) { r.hub = h }
}

// NewReconciler creates a reconciler. gatewayTag identifies this gateway
// in billing transactions and audit logs.
func NewReconciler(leases *lease.Manager, chains chain.Registry, bill billing.Service, gatewayTag string, logger *slog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		leases:     leases,
		chains:     chains,
		billing:    bill,
		gatewayTag: gatewayTag,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs one reconciliation pass over all active leases.
//
// Per-lease failures are logged and skipped so that one broken explorer
// or one bad invoice cannot stall payment detection for everyone else.
func (r *Reconciler) Run(ctx context.Context) error {
	ctx, span := traces.StartSpan(ctx, "reconcile.run")
	defer span.End()

	runsTotal.Inc()
	start := time.Now()
	defer func() { runDuration.Observe(time.Since(start).Seconds()) }()

	active, err := r.leases.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active leases: %w", err)
	}

	for _, l := range active {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := r.ReconcileLease(ctx, l); err != nil {
			if chain.IsQueryError(err) {
				r.logger.Warn("explorer query failed",
					"chain", l.Chain,
					"address", l.Address,
					"invoiceId", l.InvoiceID,
					"error", err,
				)
			} else {
				r.logger.Error("lease reconciliation failed",
					"leaseId", l.ID,
					"invoiceId", l.InvoiceID,
					"error", err,
				)
			}
			leaseErrors.WithLabelValues(string(l.Chain)).Inc()
		}
	}
	return nil
}

// ReconcileLease checks one lease for new inbound transfers and credits
// them. It returns true once the invoice is settled and the lease has
// been released.
//
// The status endpoint calls this directly so a payer sees their payment
// without waiting for the next timer tick.
func (r *Reconciler) ReconcileLease(ctx context.Context, l *lease.Lease) (bool, error) {
	ctx, span := traces.StartSpan(ctx, "reconcile.lease",
		traces.LeaseID(l.ID),
		traces.InvoiceID(l.InvoiceID),
		traces.Chain(string(l.Chain)),
		traces.Address(l.Address),
	)
	defer span.End()

	client, err := r.chains.Get(l.Chain)
	if err != nil {
		return false, err
	}

	transfers, err := client.FetchInbound(ctx, l.Address, l.CreatedAt)
	if err != nil {
		return false, err
	}

	applied := false
	for _, tx := range transfers {
		// Dedup before touching the invoice. A transfer the billing
		// system already knows about was credited in an earlier pass.
		_, err := r.billing.FindTransactionByExternalID(ctx, tx.ID)
		switch {
		case err == nil:
			continue
		case !errors.Is(err, billing.ErrTransactionNotFound):
			return false, fmt.Errorf("dedup check for %s: %w", tx.ID, err)
		}

		inv, err := r.billing.FindInvoice(ctx, l.InvoiceID)
		if err != nil {
			return false, fmt.Errorf("find invoice %d: %w", l.InvoiceID, err)
		}
		if inv.Paid() {
			// Settled through another gateway. Stop crediting; the
			// lease will be swept when it expires.
			break
		}

		amount, err := tx.Amount(client.DecimalExponent())
		if err != nil {
			r.logger.Warn("unparseable transfer value",
				"chain", l.Chain,
				"transactionId", tx.ID,
				"rawValue", tx.RawValue,
				"error", err,
			)
			continue
		}
		if !amount.IsPositive() {
			continue
		}

		err = r.billing.ApplyPayment(ctx, billing.Payment{
			InvoiceID:  l.InvoiceID,
			ExternalID: tx.ID,
			Amount:     amount,
			Gateway:    r.gatewayTag,
		})
		if errors.Is(err, billing.ErrPaymentRejected) {
			// The billing uniqueness constraint is the backstop when
			// two passes race past the dedup check.
			duplicatesTotal.WithLabelValues(string(l.Chain)).Inc()
			continue
		}
		if err != nil {
			return false, fmt.Errorf("apply payment %s: %w", tx.ID, err)
		}
		applied = true
		paymentsApplied.WithLabelValues(string(l.Chain)).Inc()

		r.billing.LogEvent(ctx, r.gatewayTag, tx, "payment applied")
		r.logger.Info("payment applied",
			"invoiceId", l.InvoiceID,
			"chain", l.Chain,
			"address", l.Address,
			"transactionId", tx.ID,
			"amount", amount.String(),
		)
		r.notify(realtime.EventPaymentReceived, l, tx.ID, amount.String())

		inv, err = r.billing.FindInvoice(ctx, l.InvoiceID)
		if err != nil {
			return false, fmt.Errorf("re-read invoice %d: %w", l.InvoiceID, err)
		}
		if inv.Paid() {
			if err := r.leases.MarkPaid(ctx, l, tx.From, tx.ID); err != nil {
				return false, fmt.Errorf("mark lease %d paid: %w", l.ID, err)
			}
			invoicesPaid.WithLabelValues(string(l.Chain)).Inc()
			r.notify(realtime.EventInvoicePaid, l, tx.ID, amount.String())
			r.notify(realtime.EventLeaseReleased, l, tx.ID, "")
			return true, nil
		}
	}

	if applied {
		// A partial payment keeps the lease alive so the payer can
		// send the remainder to the same address.
		if err := r.leases.Renew(ctx, l); err != nil && !errors.Is(err, lease.ErrReleased) {
			r.logger.Warn("renew after partial payment failed", "leaseId", l.ID, "error", err)
		}
	}
	return false, nil
}

func (r *Reconciler) notify(typ realtime.EventType, l *lease.Lease, txID, amount string) {
	if r.hub == nil {
		return
	}
	ev := realtime.PaymentEvent{
		InvoiceID:     l.InvoiceID,
		Chain:         string(l.Chain),
		Address:       l.Address,
		TransactionID: txID,
		Amount:        amount,
	}
	switch typ {
	case realtime.EventPaymentReceived:
		r.hub.PaymentReceived(ev)
	case realtime.EventInvoicePaid:
		r.hub.InvoicePaid(ev)
	case realtime.EventLeaseReleased:
		r.hub.LeaseReleased(ev)
	}
}

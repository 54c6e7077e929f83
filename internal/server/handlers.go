package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/beefpay/beefpay/internal/billing"
	"github.com/beefpay/beefpay/internal/chain"
	"github.com/beefpay/beefpay/internal/config"
	"github.com/beefpay/beefpay/internal/lease"
	"github.com/beefpay/beefpay/internal/logging"
)

// renewThreshold is how close to expiry a watched lease gets renewed.
// While a payer keeps the payment page open, the lease slides forward
// instead of expiring underneath them.
const renewThreshold = 3 * time.Minute

// leaseResponse is the JSON shape shared by the create and status routes.
type leaseResponse struct {
	InvoiceID   int64  `json:"invoiceId"`
	Chain       string `json:"chain"`
	Address     string `json:"address"`
	ExpiresAt   string `json:"expiresAt"`
	SecondsLeft int64  `json:"secondsLeft"`
}

func toLeaseResponse(l *lease.Lease) leaseResponse {
	left := time.Until(l.ExpiresAt)
	if left < 0 {
		left = 0
	}
	return leaseResponse{
		InvoiceID:   l.InvoiceID,
		Chain:       string(l.Chain),
		Address:     l.Address,
		ExpiresAt:   l.ExpiresAt.UTC().Format(time.RFC3339),
		SecondsLeft: int64(left.Seconds()),
	}
}

func parseInvoiceID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("invoiceid"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_invoice",
			"message": "invoice id must be a positive integer",
		})
		return 0, false
	}
	return id, true
}

// createLeaseHandler handles POST /pay/:invoiceid/create?chain=TRC20.
// Allocating is idempotent per invoice: a repeat call returns the
// existing lease instead of burning a second address.
func (s *Server) createLeaseHandler(c *gin.Context) {
	ctx := c.Request.Context()

	invoiceID, ok := parseInvoiceID(c)
	if !ok {
		return
	}

	ch, err := chain.Parse(c.Query("chain"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "unsupported_chain",
			"message": "chain must be TRC20 or POLYGON",
		})
		return
	}

	inv, err := s.billing.FindInvoice(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, billing.ErrInvoiceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "invoice_not_found",
				"message": "No such invoice",
			})
			return
		}
		logging.L(ctx).Error("billing lookup failed", "invoiceId", invoiceID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "billing_unavailable",
			"message": "Could not verify the invoice. Please try again later.",
		})
		return
	}
	if inv.Paid() {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invoice_paid",
			"message": "This invoice is already paid",
		})
		return
	}

	l, err := s.leases.Allocate(ctx, ch, invoiceID)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, toLeaseResponse(l))

	case errors.Is(err, lease.ErrAlreadyLeased):
		existing, err := s.leases.ActiveLeaseFor(ctx, invoiceID)
		if err != nil {
			logging.L(ctx).Error("lookup after ErrAlreadyLeased failed", "invoiceId", invoiceID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "An unexpected error occurred",
			})
			return
		}
		c.JSON(http.StatusOK, toLeaseResponse(existing))

	case errors.Is(err, lease.ErrNoAddressAvailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "no_address_available",
			"message": "All payment addresses are busy. Please try again later.",
		})

	default:
		logging.L(ctx).Error("lease allocation failed", "invoiceId", invoiceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}
}

// statusHandler handles GET /pay/:invoiceid/status.
//
// Each poll triggers an on-demand reconciliation of the one lease so a
// payer sees their payment confirmed without waiting for the next timer
// tick, and renews the lease when it is close to expiring.
func (s *Server) statusHandler(c *gin.Context) {
	ctx := c.Request.Context()

	invoiceID, ok := parseInvoiceID(c)
	if !ok {
		return
	}

	l, err := s.leases.ActiveLeaseFor(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, lease.ErrNotFound) {
			// The lease may have been released by payment already.
			if inv, berr := s.billing.FindInvoice(ctx, invoiceID); berr == nil && inv.Paid() {
				c.JSON(http.StatusOK, gin.H{"status": "paid"})
				return
			}
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "no_active_lease",
				"message": "No active payment address for this invoice",
			})
			return
		}
		logging.L(ctx).Error("lease lookup failed", "invoiceId", invoiceID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
		return
	}

	paid, err := s.reconciler.ReconcileLease(ctx, l)
	if err != nil {
		// Explorer or billing hiccups must not break the poll; answer
		// from the state we have.
		logging.L(ctx).Warn("on-demand reconciliation failed",
			"invoiceId", invoiceID,
			"chain", l.Chain,
			"error", err,
		)
	}
	if paid {
		c.JSON(http.StatusOK, gin.H{
			"status":        "paid",
			"transactionId": l.TransactionID,
		})
		return
	}

	if time.Until(l.ExpiresAt) < renewThreshold {
		if err := s.leases.Renew(ctx, l); err != nil && !errors.Is(err, lease.ErrReleased) {
			logging.L(ctx).Warn("lease renewal failed", "leaseId", l.ID, "error", err)
		}
	}

	resp := gin.H{
		"status": "waiting",
		"lease":  toLeaseResponse(l),
	}
	if inv, err := s.billing.FindInvoice(ctx, invoiceID); err == nil {
		resp["amountIn"] = inv.AmountIn
		resp["total"] = inv.Total
	}
	c.JSON(http.StatusOK, resp)
}

// installHandler handles GET /install: the configuration contract the
// host billing system needs to set this gateway up.
func (s *Server) installHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"gateway": s.cfg.GatewayTag,
		"version": "0.1.0",
		"chains":  s.leases.SupportedChains(),
		"timeout": s.leases.Timeout().String(),
		"fields":  config.Schema(),
	})
}

// cronHandler handles POST /v1/cron/run: a manual reconciliation pass
// plus expiry sweep, for hosts that drive polling from an external cron
// instead of the built-in timer.
func (s *Server) cronHandler(c *gin.Context) {
	ctx := c.Request.Context()

	if err := s.reconciler.Run(ctx); err != nil {
		logging.L(ctx).Error("manual reconciliation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Reconciliation pass failed",
		})
		return
	}

	released, err := s.leases.ExpireStale(ctx)
	if err != nil {
		logging.L(ctx).Error("expiry sweep failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Expiry sweep failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"released": released,
	})
}

// listLeasesHandler handles GET /v1/leases: active leases for operators.
func (s *Server) listLeasesHandler(c *gin.Context) {
	ctx := c.Request.Context()

	active, err := s.leases.ListActive(ctx)
	if err != nil {
		logging.L(ctx).Error("list leases failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
		return
	}

	out := make([]leaseResponse, 0, len(active))
	for _, l := range active {
		out = append(out, toLeaseResponse(l))
	}
	c.JSON(http.StatusOK, gin.H{"leases": out, "count": len(out)})
}

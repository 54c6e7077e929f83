package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func TestHTTPClient_FindInvoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Path != "/api/invoices/42" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(Invoice{
			ID:       42,
			Status:   StatusUnpaid,
			Total:    decimal.RequireFromString("10"),
			AmountIn: decimal.RequireFromString("2.5"),
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "secret")
	inv, err := c.FindInvoice(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.ID != 42 || inv.Paid() {
		t.Errorf("unexpected invoice: %+v", inv)
	}
	if !inv.AmountIn.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("AmountIn = %s", inv.AmountIn)
	}
}

func TestHTTPClient_FindInvoiceNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	if _, err := c.FindInvoice(context.Background(), 1); !errors.Is(err, ErrInvoiceNotFound) {
		t.Fatalf("want ErrInvoiceNotFound, got %v", err)
	}
}

func TestHTTPClient_FindTransactionByExternalID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("external_id") {
		case "tx-known":
			_ = json.NewEncoder(w).Encode(Transaction{ID: 7, InvoiceID: 42, ExternalID: "tx-known"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")

	tx, err := c.FindTransactionByExternalID(context.Background(), "tx-known")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.InvoiceID != 42 {
		t.Errorf("InvoiceID = %d", tx.InvoiceID)
	}

	if _, err := c.FindTransactionByExternalID(context.Background(), "tx-missing"); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("want ErrTransactionNotFound, got %v", err)
	}
}

func TestHTTPClient_ApplyPayment(t *testing.T) {
	var got struct {
		ExternalID string          `json:"externalId"`
		Amount     decimal.Decimal `json:"amount"`
		Gateway    string          `json:"gateway"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/invoices/42/payments" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "secret")
	err := c.ApplyPayment(context.Background(), Payment{
		InvoiceID:  42,
		ExternalID: "tx-1",
		Amount:     decimal.RequireFromString("5"),
		Gateway:    "beefpay",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ExternalID != "tx-1" || got.Gateway != "beefpay" || !got.Amount.Equal(decimal.RequireFromString("5")) {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestHTTPClient_ApplyPaymentDuplicate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	err := c.ApplyPayment(context.Background(), Payment{InvoiceID: 42, ExternalID: "tx-1"})
	if !errors.Is(err, ErrPaymentRejected) {
		t.Fatalf("want ErrPaymentRejected, got %v", err)
	}
}

func TestHTTPClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	_, err := c.FindInvoice(context.Background(), 1)
	if err == nil || errors.Is(err, ErrInvoiceNotFound) {
		t.Fatalf("want a generic error, got %v", err)
	}
}

func TestMemoryService_PaymentLifecycle(t *testing.T) {
	m := NewMemoryService()
	ctx := context.Background()
	m.SeedInvoice(1, decimal.RequireFromString("10"))

	if _, err := m.FindTransactionByExternalID(ctx, "tx-1"); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("want ErrTransactionNotFound, got %v", err)
	}

	pay := Payment{InvoiceID: 1, ExternalID: "tx-1", Amount: decimal.RequireFromString("4"), Gateway: "beefpay"}
	if err := m.ApplyPayment(ctx, pay); err != nil {
		t.Fatal(err)
	}
	if err := m.ApplyPayment(ctx, pay); !errors.Is(err, ErrPaymentRejected) {
		t.Fatalf("duplicate payment: want ErrPaymentRejected, got %v", err)
	}

	inv, err := m.FindInvoice(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if inv.Paid() {
		t.Error("invoice paid after partial payment")
	}
	if !inv.AmountIn.Equal(decimal.RequireFromString("4")) {
		t.Errorf("AmountIn = %s, want 4", inv.AmountIn)
	}

	pay2 := Payment{InvoiceID: 1, ExternalID: "tx-2", Amount: decimal.RequireFromString("6"), Gateway: "beefpay"}
	if err := m.ApplyPayment(ctx, pay2); err != nil {
		t.Fatal(err)
	}
	inv, err = m.FindInvoice(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !inv.Paid() {
		t.Errorf("invoice not paid after covering total: %+v", inv)
	}
}

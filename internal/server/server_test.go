package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/beefpay/beefpay/internal/billing"
	"github.com/beefpay/beefpay/internal/chain"
	"github.com/beefpay/beefpay/internal/config"
)

const testTronAddress = "TAbcdefghijklmnopqrstuvwxyz1234567"

// stubExplorer satisfies chain.Client with a scripted transfer feed.
type stubExplorer struct {
	transfers []chain.Transfer
	err       error
}

func (s *stubExplorer) Chain() chain.Chain     { return chain.TRC20 }
func (s *stubExplorer) DecimalExponent() int32 { return 6 }
func (s *stubExplorer) FetchInbound(ctx context.Context, address string, since time.Time) ([]chain.Transfer, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.transfers, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Port:           "8080",
		Env:            "test",
		LogLevel:       "error",
		LogFormat:      "text",
		Addresses:      testTronAddress + "|TRC20",
		TimeoutMinutes: 30,
		GatewayTag:     "beefpay",
		PollInterval:   time.Minute,
	}
}

func newTestServer(t *testing.T) (*Server, *billing.MemoryService, *stubExplorer) {
	t.Helper()

	bill := billing.NewMemoryService()
	explorer := &stubExplorer{}

	srv, err := New(testConfig(),
		WithBilling(bill),
		WithChainClient(explorer),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv, bill, explorer
}

func doRequest(t *testing.T, srv *Server, method, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	srv.Router().ServeHTTP(w, req)

	var body map[string]interface{}
	if len(w.Body.Bytes()) > 0 && w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("unmarshal %s %s response: %v", method, path, err)
		}
	}
	return w, body
}

func TestCreateLease_FullPaymentFlow(t *testing.T) {
	srv, bill, explorer := newTestServer(t)
	bill.SeedInvoice(42, decimal.RequireFromString("5"))

	// First create allocates an address.
	w, body := doRequest(t, srv, http.MethodPost, "/pay/42/create?chain=TRC20")
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body = %s", w.Code, w.Body.String())
	}
	if body["address"] != testTronAddress {
		t.Errorf("address = %v", body["address"])
	}

	// Repeat create returns the same lease, not a second address.
	w, body = doRequest(t, srv, http.MethodPost, "/pay/42/create?chain=TRC20")
	if w.Code != http.StatusOK {
		t.Fatalf("repeat create: status = %d", w.Code)
	}
	if body["address"] != testTronAddress {
		t.Errorf("repeat create returned different address: %v", body["address"])
	}

	// Nothing received yet.
	w, body = doRequest(t, srv, http.MethodGet, "/pay/42/status")
	if w.Code != http.StatusOK || body["status"] != "waiting" {
		t.Fatalf("status = %d %v", w.Code, body)
	}

	// Payment lands on chain; the next poll settles the invoice.
	explorer.transfers = []chain.Transfer{
		{ID: "tx-1", From: "TPayer", To: testTronAddress, RawValue: "5000000", Timestamp: time.Now()},
	}
	w, body = doRequest(t, srv, http.MethodGet, "/pay/42/status")
	if w.Code != http.StatusOK || body["status"] != "paid" {
		t.Fatalf("status after payment = %d %v", w.Code, body)
	}
	if body["transactionId"] != "tx-1" {
		t.Errorf("transactionId = %v", body["transactionId"])
	}

	// The invoice is settled in billing.
	inv, err := bill.FindInvoice(context.Background(), 42)
	if err != nil {
		t.Fatal(err)
	}
	if !inv.Paid() {
		t.Errorf("invoice not paid: %+v", inv)
	}

	// Subsequent polls report paid from billing even though the lease is gone.
	w, body = doRequest(t, srv, http.MethodGet, "/pay/42/status")
	if w.Code != http.StatusOK || body["status"] != "paid" {
		t.Fatalf("status after release = %d %v", w.Code, body)
	}
}

func TestCreateLease_Validation(t *testing.T) {
	srv, bill, _ := newTestServer(t)
	bill.SeedInvoice(1, decimal.RequireFromString("5"))

	tests := []struct {
		name string
		path string
		want int
	}{
		{"invalid invoice id", "/pay/abc/create", http.StatusBadRequest},
		{"zero invoice id", "/pay/0/create", http.StatusBadRequest},
		{"unknown chain", "/pay/1/create?chain=DOGE", http.StatusBadRequest},
		{"unknown invoice", "/pay/99/create?chain=TRC20", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := doRequest(t, srv, http.MethodPost, tt.path)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestCreateLease_PaidInvoiceRejected(t *testing.T) {
	srv, bill, _ := newTestServer(t)
	bill.SeedInvoice(1, decimal.RequireFromString("5"))
	err := bill.ApplyPayment(context.Background(), billing.Payment{
		InvoiceID: 1, ExternalID: "card-1", Amount: decimal.RequireFromString("5"), Gateway: "card",
	})
	if err != nil {
		t.Fatal(err)
	}

	w, body := doRequest(t, srv, http.MethodPost, "/pay/1/create?chain=TRC20")
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	if body["error"] != "invoice_paid" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestCreateLease_PoolExhausted(t *testing.T) {
	srv, bill, _ := newTestServer(t)
	bill.SeedInvoice(1, decimal.RequireFromString("5"))
	bill.SeedInvoice(2, decimal.RequireFromString("5"))

	if w, _ := doRequest(t, srv, http.MethodPost, "/pay/1/create?chain=TRC20"); w.Code != http.StatusCreated {
		t.Fatalf("first create: %d", w.Code)
	}

	// Single-address pool: the second invoice has to wait.
	w, body := doRequest(t, srv, http.MethodPost, "/pay/2/create?chain=TRC20")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if body["error"] != "no_address_available" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestStatus_NoActiveLease(t *testing.T) {
	srv, bill, _ := newTestServer(t)
	bill.SeedInvoice(1, decimal.RequireFromString("5"))

	w, body := doRequest(t, srv, http.MethodGet, "/pay/1/status")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if body["error"] != "no_active_lease" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestStatus_ExplorerDownStillAnswers(t *testing.T) {
	srv, bill, explorer := newTestServer(t)
	bill.SeedInvoice(1, decimal.RequireFromString("5"))

	if w, _ := doRequest(t, srv, http.MethodPost, "/pay/1/create?chain=TRC20"); w.Code != http.StatusCreated {
		t.Fatalf("create failed: %d", w.Code)
	}

	explorer.err = &chain.QueryError{Chain: chain.TRC20, Address: testTronAddress, Err: context.DeadlineExceeded}

	w, body := doRequest(t, srv, http.MethodGet, "/pay/1/status")
	if w.Code != http.StatusOK || body["status"] != "waiting" {
		t.Fatalf("status = %d %v, want 200 waiting", w.Code, body)
	}
}

func TestCronRun(t *testing.T) {
	srv, bill, explorer := newTestServer(t)
	bill.SeedInvoice(1, decimal.RequireFromString("5"))

	if w, _ := doRequest(t, srv, http.MethodPost, "/pay/1/create?chain=TRC20"); w.Code != http.StatusCreated {
		t.Fatalf("create failed: %d", w.Code)
	}
	explorer.transfers = []chain.Transfer{
		{ID: "tx-1", From: "TPayer", To: testTronAddress, RawValue: "5000000", Timestamp: time.Now()},
	}

	w, body := doRequest(t, srv, http.MethodPost, "/v1/cron/run")
	if w.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("cron = %d %v", w.Code, body)
	}

	inv, _ := bill.FindInvoice(context.Background(), 1)
	if !inv.Paid() {
		t.Errorf("cron pass did not settle the invoice: %+v", inv)
	}
}

func TestInstallSchema(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w, body := doRequest(t, srv, http.MethodGet, "/install")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body["gateway"] != "beefpay" {
		t.Errorf("gateway = %v", body["gateway"])
	}
	fields, ok := body["fields"].([]interface{})
	if !ok || len(fields) == 0 {
		t.Errorf("fields missing: %v", body["fields"])
	}
}

func TestListLeases(t *testing.T) {
	srv, bill, _ := newTestServer(t)
	bill.SeedInvoice(1, decimal.RequireFromString("5"))

	if w, _ := doRequest(t, srv, http.MethodPost, "/pay/1/create?chain=TRC20"); w.Code != http.StatusCreated {
		t.Fatalf("create failed: %d", w.Code)
	}

	w, body := doRequest(t, srv, http.MethodGet, "/v1/leases")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body["count"].(float64) != 1 {
		t.Errorf("count = %v, want 1", body["count"])
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w, body := doRequest(t, srv, http.MethodGet, "/health")
	if w.Code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("health = %d %v", w.Code, body)
	}

	w, _ = doRequest(t, srv, http.MethodGet, "/health/live")
	if w.Code != http.StatusOK {
		t.Errorf("live = %d", w.Code)
	}

	// Not ready until Run marks it so.
	w, _ = doRequest(t, srv, http.MethodGet, "/health/ready")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("ready = %d, want 503 before Run", w.Code)
	}
}

func TestPaymentPageServed(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/pay/42", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("content type = %s", ct)
	}
}

func TestMetricsExposed(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Errorf("metrics = %d", w.Code)
	}
}

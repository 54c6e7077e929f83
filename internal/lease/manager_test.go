package lease

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/beefpay/beefpay/internal/chain"
)

func testPool() map[chain.Chain][]string {
	return map[chain.Chain][]string{
		chain.TRC20:   {"TAddrA", "TAddrB"},
		chain.Polygon: {"0xaddr1"},
	}
}

func newTestManager(t *testing.T, pool map[chain.Chain][]string) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewManager(pool, store, 30*time.Minute, slog.Default()), store
}

func TestAllocate_OnlyFreeAddressIsReturned(t *testing.T) {
	mgr, _ := newTestManager(t, testPool())
	ctx := context.Background()

	// Invoice 2 takes one of the two TRC20 addresses.
	first, err := mgr.Allocate(ctx, chain.TRC20, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// With one address left, invoice 1 must get the other one.
	second, err := mgr.Allocate(ctx, chain.TRC20, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Address == first.Address {
		t.Fatalf("address %s leased twice", second.Address)
	}
	if second.ExpiresAt.Before(time.Now().Add(29 * time.Minute)) {
		t.Errorf("expiry not set from timeout: %v", second.ExpiresAt)
	}
}

func TestAllocate_AlreadyLeased(t *testing.T) {
	mgr, _ := newTestManager(t, testPool())
	ctx := context.Background()

	lease, err := mgr.Allocate(ctx, chain.TRC20, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := mgr.Allocate(ctx, chain.TRC20, 1); !errors.Is(err, ErrAlreadyLeased) {
		t.Fatalf("want ErrAlreadyLeased, got %v", err)
	}

	// The caller is expected to reuse the existing lease.
	existing, err := mgr.ActiveLeaseFor(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if existing.Address != lease.Address {
		t.Errorf("existing lease address = %s, want %s", existing.Address, lease.Address)
	}
}

func TestAllocate_PoolExhausted(t *testing.T) {
	mgr, _ := newTestManager(t, testPool())
	ctx := context.Background()

	if _, err := mgr.Allocate(ctx, chain.TRC20, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Allocate(ctx, chain.TRC20, 2); err != nil {
		t.Fatal(err)
	}

	if _, err := mgr.Allocate(ctx, chain.TRC20, 3); !errors.Is(err, ErrNoAddressAvailable) {
		t.Fatalf("want ErrNoAddressAvailable, got %v", err)
	}
}

func TestAllocate_ConcurrentNeverDoubleLeasesAnAddress(t *testing.T) {
	pool := map[chain.Chain][]string{
		chain.TRC20: {"TAddr1", "TAddr2", "TAddr3", "TAddr4", "TAddr5"},
	}
	mgr, store := newTestManager(t, pool)
	ctx := context.Background()

	const requests = 40
	var wg sync.WaitGroup
	errs := make([]error, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = mgr.Allocate(ctx, chain.TRC20, int64(i+1))
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrNoAddressAvailable):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != len(pool[chain.TRC20]) {
		t.Errorf("succeeded = %d, want %d", succeeded, len(pool[chain.TRC20]))
	}

	inUse, err := store.InUseAddresses(ctx, chain.TRC20)
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[string]bool)
	for _, a := range inUse {
		if seen[a] {
			t.Fatalf("address %s held by two active leases", a)
		}
		seen[a] = true
	}
}

func TestAllocate_ConcurrentSameInvoice(t *testing.T) {
	mgr, _ := newTestManager(t, testPool())
	ctx := context.Background()

	const requests = 20
	var wg sync.WaitGroup
	errs := make([]error, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = mgr.Allocate(ctx, chain.TRC20, 1)
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrAlreadyLeased):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("succeeded = %d, want exactly 1", succeeded)
	}
}

func TestRenew_ExpiryNeverDecreases(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	long := NewManager(testPool(), store, time.Hour, slog.Default())
	short := NewManager(testPool(), store, time.Minute, slog.Default())

	l, err := long.Allocate(ctx, chain.TRC20, 1)
	if err != nil {
		t.Fatal(err)
	}
	firstExpiry := l.ExpiresAt

	// A renewal computed from a shorter timeout must not pull the
	// expiry backwards.
	if err := short.Renew(ctx, l); err != nil {
		t.Fatal(err)
	}
	stored, err := store.Get(ctx, l.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ExpiresAt.Before(firstExpiry) {
		t.Errorf("expiry decreased: %v -> %v", firstExpiry, stored.ExpiresAt)
	}

	if err := long.Renew(ctx, l); err != nil {
		t.Fatal(err)
	}
	stored2, err := store.Get(ctx, l.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored2.ExpiresAt.Before(stored.ExpiresAt) {
		t.Errorf("expiry decreased on renewal: %v -> %v", stored.ExpiresAt, stored2.ExpiresAt)
	}
}

func TestMarkPaid_ReleasesAndFreezesLease(t *testing.T) {
	mgr, store := newTestManager(t, testPool())
	ctx := context.Background()

	l, err := mgr.Allocate(ctx, chain.TRC20, 1)
	if err != nil {
		t.Fatal(err)
	}

	if err := mgr.MarkPaid(ctx, l, "TPayer", "tx-123"); err != nil {
		t.Fatal(err)
	}

	stored, err := store.Get(ctx, l.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.Released || stored.TransactionID != "tx-123" || stored.FromAddress != "TPayer" {
		t.Errorf("unexpected lease state: %+v", stored)
	}

	// Paid leases are immutable.
	if err := mgr.Renew(ctx, l); !errors.Is(err, ErrReleased) {
		t.Errorf("renew after paid: want ErrReleased, got %v", err)
	}
	if err := store.MarkPaid(ctx, l.ID, "other", "tx-456"); !errors.Is(err, ErrReleased) {
		t.Errorf("second MarkPaid: want ErrReleased, got %v", err)
	}

	// The address is free again for another invoice.
	if _, err := mgr.Allocate(ctx, chain.TRC20, 2); err != nil {
		t.Errorf("address not freed after payment: %v", err)
	}
}

func TestExpireStale_FreesAddresses(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	pool := map[chain.Chain][]string{chain.TRC20: {"TAddrA"}}
	expired := NewManager(pool, store, -time.Second, slog.Default())
	mgr := NewManager(pool, store, 30*time.Minute, slog.Default())

	l, err := expired.Allocate(ctx, chain.TRC20, 1)
	if err != nil {
		t.Fatal(err)
	}

	// Expired but not yet swept: the address stays held.
	if _, err := mgr.Allocate(ctx, chain.TRC20, 2); !errors.Is(err, ErrNoAddressAvailable) {
		t.Fatalf("want ErrNoAddressAvailable before sweep, got %v", err)
	}

	released, err := mgr.ExpireStale(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if released != 1 {
		t.Errorf("released = %d, want 1", released)
	}

	stored, err := store.Get(ctx, l.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.Released {
		t.Error("expired lease not released")
	}

	// Sweep only touches expired leases.
	fresh, err := mgr.Allocate(ctx, chain.TRC20, 2)
	if err != nil {
		t.Fatalf("address not allocatable after sweep: %v", err)
	}
	if _, err := mgr.ExpireStale(ctx); err != nil {
		t.Fatal(err)
	}
	stored, err = store.Get(ctx, fresh.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Released {
		t.Error("sweep released a non-expired lease")
	}
}

func TestSupportedChains(t *testing.T) {
	mgr, _ := newTestManager(t, map[chain.Chain][]string{
		chain.TRC20:   {"TAddrA"},
		chain.Polygon: {},
	})

	chains := mgr.SupportedChains()
	if len(chains) != 1 || chains[0] != chain.TRC20 {
		t.Errorf("SupportedChains = %v, want [TRC20]", chains)
	}
}

package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"caredesk/backend/internal/cache"
	"caredesk/backend/internal/domain"
	"caredesk/backend/internal/store"
)

func TestReconcilerAppliesOptimisticUpdateThenRefetches(t *testing.T) {
	jan1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stale := []domain.Invoice{
		outstandingInvoice("inv-1", 30000, jan1),
		outstandingInvoice("inv-2", 50000, jan1.AddDate(0, 0, 4)),
	}

	repo := newFakeInvoiceStore(stale...)
	c := cache.NewMemoryInvoiceCache()
	if err := c.Store(context.Background(), stale); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	// Apply the payments remotely first, as the allocator would have.
	alloc := NewAllocator(repo)
	result, err := alloc.PayAcross(context.Background(), stale, domain.PaymentRequest{
		AmountCents: 60000,
		Method:      domain.PaymentMethodCash,
	})
	if err != nil {
		t.Fatalf("allocation failed: %v", err)
	}

	rec := NewReconciler(repo, c)
	if err := rec.ApplyApplied(context.Background(), result.AppliedCents); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	snapshot, ok, err := c.Snapshot(context.Background())
	if err != nil || !ok {
		t.Fatalf("cache should hold the reconciled snapshot: ok=%v err=%v", ok, err)
	}
	byID := map[string]domain.Invoice{}
	for _, inv := range snapshot {
		byID[inv.ID] = inv
	}
	if byID["inv-1"].Status != domain.InvoiceStatusPaid || byID["inv-1"].DueCents != 0 {
		t.Fatalf("inv-1 should be paid after reconcile: %+v", byID["inv-1"])
	}
	if byID["inv-2"].Status != domain.InvoiceStatusPartial || byID["inv-2"].DueCents != 20000 {
		t.Fatalf("inv-2 should be partial with 20000 due: %+v", byID["inv-2"])
	}
}

func TestReconcilerFailurePathRefreshesCache(t *testing.T) {
	jan1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	authoritative := outstandingInvoice("inv-1", 30000, jan1)

	repo := newFakeInvoiceStore(authoritative)
	c := cache.NewMemoryInvoiceCache()

	// Seed the cache with a divergent optimistic guess.
	guess := authoritative
	guess.PaidCents = 30000
	guess.DueCents = 0
	guess.Status = domain.InvoiceStatusPaid
	if err := c.Store(context.Background(), []domain.Invoice{guess}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	rec := NewReconciler(repo, c)
	fresh, err := rec.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if len(fresh) != 1 || fresh[0].DueCents != 30000 {
		t.Fatalf("reconcile must return authoritative state: %+v", fresh)
	}

	snapshot, ok, _ := c.Snapshot(context.Background())
	if !ok || snapshot[0].PaidCents != 0 || snapshot[0].Status != domain.InvoiceStatusPending {
		t.Fatalf("optimistic guess must be discarded: %+v", snapshot)
	}
}

func TestReconcilerListFailureInvalidatesCache(t *testing.T) {
	repo := newFakeInvoiceStore()
	repo.listErr = store.ErrRemoteStore
	c := cache.NewMemoryInvoiceCache()
	_ = c.Store(context.Background(), []domain.Invoice{outstandingInvoice("inv-1", 100, time.Now().UTC())})

	rec := NewReconciler(repo, c)
	_, err := rec.Reconcile(context.Background())
	if !errors.Is(err, store.ErrRemoteStore) {
		t.Fatalf("expected remote store error, got %v", err)
	}

	if _, ok, _ := c.Snapshot(context.Background()); ok {
		t.Fatalf("cache must stay invalidated when the refetch fails")
	}
}

func TestApplyPaymentDeltaStatusRules(t *testing.T) {
	base := domain.Invoice{TotalCents: 1000, PaidCents: 0, DueCents: 1000, Status: domain.InvoiceStatusPending}

	settled := applyPaymentDelta(base, 1000)
	if settled.Status != domain.InvoiceStatusPaid || settled.DueCents != 0 {
		t.Fatalf("full payment should settle: %+v", settled)
	}

	partial := applyPaymentDelta(base, 400)
	if partial.Status != domain.InvoiceStatusPartial || partial.DueCents != 600 {
		t.Fatalf("partial payment: %+v", partial)
	}

	overdue := base
	overdue.Status = domain.InvoiceStatusOverdue
	touched := applyPaymentDelta(overdue, 400)
	if touched.Status != domain.InvoiceStatusPartial {
		t.Fatalf("overdue invoice receiving a payment becomes partial: %+v", touched)
	}

	// Paid can never exceed total even with an oversized delta.
	capped := applyPaymentDelta(base, 5000)
	if capped.PaidCents != 1000 || capped.DueCents != 0 {
		t.Fatalf("paid must be capped at total: %+v", capped)
	}
}

package billing

import (
	"context"

	"caredesk/backend/internal/cache"
	"caredesk/backend/internal/domain"
)

// InvoiceLister is the slice of the store the reconciler needs.
type InvoiceLister interface {
	ListInvoices(ctx context.Context) ([]domain.Invoice, error)
}

// Reconciler keeps the invoice cache converged with the store. After a
// successful allocation it patches the cached invoices optimistically so the
// dashboard updates immediately, then invalidates and refetches so any
// divergence from the authoritative state self-heals. This is
// cache-then-reconcile, not a transaction: between the optimistic write and
// the refetch the cache may briefly disagree with the store.
type Reconciler struct {
	invoices InvoiceLister
	cache    cache.InvoiceCache
}

func NewReconciler(invoices InvoiceLister, c cache.InvoiceCache) *Reconciler {
	return &Reconciler{invoices: invoices, cache: c}
}

// ApplyApplied writes the allocation result into the cached snapshot, then
// reconciles. Invoices absent from applied are left untouched.
func (r *Reconciler) ApplyApplied(ctx context.Context, applied map[string]int64) error {
	snapshot, ok, err := r.cache.Snapshot(ctx)
	if err == nil && ok {
		for i := range snapshot {
			delta, hit := applied[snapshot[i].ID]
			if !hit || delta <= 0 {
				continue
			}
			snapshot[i] = applyPaymentDelta(snapshot[i], delta)
		}
		_ = r.cache.Store(ctx, snapshot)
	}

	_, err = r.Reconcile(ctx)
	return err
}

// Reconcile discards the cached snapshot and repopulates it from the store,
// returning the authoritative list. Used on every failure path too, so the
// cache never holds a stale optimistic guess when an error is surfaced.
func (r *Reconciler) Reconcile(ctx context.Context) ([]domain.Invoice, error) {
	_ = r.cache.Invalidate(ctx)

	fresh, err := r.invoices.ListInvoices(ctx)
	if err != nil {
		return nil, err
	}
	_ = r.cache.Store(ctx, fresh)
	return fresh, nil
}

// applyPaymentDelta is the optimistic per-invoice update: paid is capped at
// total, due is floored at zero, and the status tracks the payment state. An
// invoice that was overdue and received nothing stays overdue.
func applyPaymentDelta(inv domain.Invoice, delta int64) domain.Invoice {
	nextPaid := inv.PaidCents + delta
	if nextPaid > inv.TotalCents {
		nextPaid = inv.TotalCents
	}
	nextDue := inv.TotalCents - nextPaid
	if nextDue < 0 {
		nextDue = 0
	}

	switch {
	case nextDue <= 0:
		inv.Status = domain.InvoiceStatusPaid
	case nextPaid > 0:
		inv.Status = domain.InvoiceStatusPartial
	case inv.Status == domain.InvoiceStatusOverdue:
		// keep overdue
	default:
		inv.Status = domain.InvoiceStatusPending
	}

	inv.PaidCents = nextPaid
	inv.DueCents = nextDue
	return inv
}

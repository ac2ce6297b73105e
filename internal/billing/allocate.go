package billing

import (
	"context"
	"fmt"
	"sort"

	"caredesk/backend/internal/domain"
	"caredesk/backend/internal/store"
)

// Allocator posts payments against the invoice store, either to a single
// invoice or split across a patient's outstanding invoices oldest-first.
type Allocator struct {
	invoices store.InvoiceStore
}

func NewAllocator(invoices store.InvoiceStore) *Allocator {
	return &Allocator{invoices: invoices}
}

// PayInvoice applies the full amount to one invoice with a single
// add-payment call.
func (a *Allocator) PayInvoice(ctx context.Context, invoiceID string, req domain.PaymentRequest) (domain.PaymentResult, error) {
	if invoiceID == "" || req.AmountCents <= 0 {
		return domain.PaymentResult{}, fmt.Errorf("%w: payment amount must be positive", store.ErrValidation)
	}
	if !domain.IsPaymentMethod(req.Method) {
		return domain.PaymentResult{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrValidation, req.Method)
	}

	if _, err := a.invoices.AddPayment(ctx, invoiceID, req); err != nil {
		return domain.PaymentResult{}, err
	}

	return domain.PaymentResult{
		AppliedCents: map[string]int64{invoiceID: req.AmountCents},
		TotalCents:   req.AmountCents,
	}, nil
}

// PayAcross splits one amount across the given invoices, oldest debt first.
// Add-payment calls are issued strictly sequentially, each awaited before
// the next, so no two payments race against a stale view of the same
// invoice. The calls run on a cancel-detached context: once allocation
// starts it runs to completion even if the initiating request is torn down.
//
// For any amount not exceeding the summed due, the returned applied amounts
// sum to the request exactly and no invoice is paid past its total. If the
// amount exceeds the summed due, every invoice is settled, then
// ErrAmountExceedsDue is returned together with the applied map; payments
// already posted are not rolled back. The same applies when a later call
// fails after earlier ones succeeded — the error surfaces and the partial
// remote state stands. Callers must reconcile the cache on every return.
func (a *Allocator) PayAcross(ctx context.Context, invoices []domain.Invoice, req domain.PaymentRequest) (domain.PaymentResult, error) {
	if req.AmountCents <= 0 {
		return domain.PaymentResult{}, fmt.Errorf("%w: payment amount must be positive", store.ErrValidation)
	}
	if !domain.IsPaymentMethod(req.Method) {
		return domain.PaymentResult{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrValidation, req.Method)
	}

	outstanding := make([]domain.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if inv.DueCents > 0 {
			outstanding = append(outstanding, inv)
		}
	}
	sort.Slice(outstanding, func(i, j int) bool {
		if outstanding[i].CreatedAt.Equal(outstanding[j].CreatedAt) {
			return outstanding[i].ID < outstanding[j].ID
		}
		return outstanding[i].CreatedAt.Before(outstanding[j].CreatedAt)
	})

	ctx = context.WithoutCancel(ctx)

	applied := make(map[string]int64)
	remaining := req.AmountCents
	for _, inv := range outstanding {
		if remaining <= 0 {
			break
		}
		pay := inv.DueCents
		if remaining < pay {
			pay = remaining
		}
		if pay <= 0 {
			continue
		}

		_, err := a.invoices.AddPayment(ctx, inv.ID, domain.PaymentRequest{
			AmountCents: pay,
			Method:      req.Method,
			Reference:   req.Reference,
		})
		if err != nil {
			return domain.PaymentResult{AppliedCents: applied, TotalCents: req.AmountCents - remaining}, err
		}

		applied[inv.ID] += pay
		remaining -= pay
	}

	result := domain.PaymentResult{AppliedCents: applied, TotalCents: req.AmountCents - remaining}
	if remaining > 0 {
		return result, fmt.Errorf("%w: requested %d, outstanding %d", ErrAmountExceedsDue, req.AmountCents, req.AmountCents-remaining)
	}
	return result, nil
}

package billing

import "caredesk/backend/internal/domain"

// AggregatePatientStatus derives one display status for a patient's invoice
// set. Precedence, first match wins:
//
//  1. paid    — non-empty set, every invoice paid
//  2. overdue — any invoice overdue, even if others are paid
//  3. partial — any invoice with due > 0
//  4. pending — everything else, including the empty set
//
// Overdue outranks partial so a patient with one late bill is never shown as
// merely "partial". Pure function of its input.
func AggregatePatientStatus(invoices []domain.Invoice) string {
	if len(invoices) > 0 {
		allPaid := true
		for _, inv := range invoices {
			if inv.Status != domain.InvoiceStatusPaid {
				allPaid = false
				break
			}
		}
		if allPaid {
			return domain.InvoiceStatusPaid
		}
	}

	for _, inv := range invoices {
		if inv.Status == domain.InvoiceStatusOverdue {
			return domain.InvoiceStatusOverdue
		}
	}

	for _, inv := range invoices {
		if inv.DueCents > 0 {
			return domain.InvoiceStatusPartial
		}
	}

	return domain.InvoiceStatusPending
}

package billing

import (
	"testing"

	"caredesk/backend/internal/domain"
)

func statusOnly(status string, due int64) domain.Invoice {
	return domain.Invoice{Status: status, DueCents: due, TotalCents: due}
}

func TestAggregatePatientStatusPrecedence(t *testing.T) {
	cases := []struct {
		name     string
		invoices []domain.Invoice
		want     string
	}{
		{"all paid", []domain.Invoice{statusOnly(domain.InvoiceStatusPaid, 0), statusOnly(domain.InvoiceStatusPaid, 0)}, domain.InvoiceStatusPaid},
		{"overdue beats paid", []domain.Invoice{statusOnly(domain.InvoiceStatusPaid, 0), statusOnly(domain.InvoiceStatusOverdue, 500)}, domain.InvoiceStatusOverdue},
		{"overdue beats partial", []domain.Invoice{statusOnly(domain.InvoiceStatusPartial, 100), statusOnly(domain.InvoiceStatusOverdue, 500)}, domain.InvoiceStatusOverdue},
		{"due means partial", []domain.Invoice{statusOnly(domain.InvoiceStatusPaid, 0), statusOnly(domain.InvoiceStatusPending, 100)}, domain.InvoiceStatusPartial},
		{"pending with no due", []domain.Invoice{statusOnly(domain.InvoiceStatusPending, 0)}, domain.InvoiceStatusPending},
		{"empty set", nil, domain.InvoiceStatusPending},
	}

	for _, tc := range cases {
		if got := AggregatePatientStatus(tc.invoices); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestAggregatePatientStatusIdempotent(t *testing.T) {
	invoices := []domain.Invoice{
		statusOnly(domain.InvoiceStatusPartial, 300),
		statusOnly(domain.InvoiceStatusPaid, 0),
	}

	first := AggregatePatientStatus(invoices)
	second := AggregatePatientStatus(invoices)
	if first != second {
		t.Fatalf("derivation must be pure: %s then %s", first, second)
	}
}

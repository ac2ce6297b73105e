package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"caredesk/backend/internal/domain"
	"caredesk/backend/internal/store"
)

func TestAddPaymentSettlesInvoice(t *testing.T) {
	databaseURL := os.Getenv("CAREDESK_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set CAREDESK_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	patientID := fmt.Sprintf("pat-pay-it-%d", stamp)
	invoiceID := fmt.Sprintf("inv-pay-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM payments WHERE invoice_id = $1`, invoiceID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM invoices WHERE id = $1`, invoiceID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM patients WHERE id = $1`, patientID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO patients (id, code, name, registration_type, created_at)
		VALUES ($1, $2, 'Payment IT Patient', 'routine', now())
	`, patientID, fmt.Sprintf("P-IT-%d", stamp)); err != nil {
		t.Fatalf("insert patient: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices (
			id, invoice_number, patient_id, type, items,
			subtotal_cents, discount_cents, tax_cents, total_cents,
			paid_cents, due_cents, status, due_date, created_at, updated_at
		)
		VALUES (
			$1, $2, $3, 'opd', '[]',
			50000, 0, 0, 50000,
			0, 50000, 'pending', now() + interval '7 days', now(), now()
		)
	`, invoiceID, fmt.Sprintf("INV-IT-%d", stamp), patientID); err != nil {
		t.Fatalf("insert invoice: %v", err)
	}

	inv, err := s.AddPayment(ctx, invoiceID, domain.PaymentRequest{AmountCents: 20000, Method: domain.PaymentMethodCash})
	if err != nil {
		t.Fatalf("first payment: %v", err)
	}
	if inv.PaidCents != 20000 || inv.DueCents != 30000 || inv.Status != domain.InvoiceStatusPartial {
		t.Fatalf("after partial payment: paid=%d due=%d status=%s", inv.PaidCents, inv.DueCents, inv.Status)
	}

	if _, err := s.AddPayment(ctx, invoiceID, domain.PaymentRequest{AmountCents: 40000, Method: domain.PaymentMethodCard}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for over-payment, got %v", err)
	}

	inv, err = s.AddPayment(ctx, invoiceID, domain.PaymentRequest{AmountCents: 30000, Method: domain.PaymentMethodUPI})
	if err != nil {
		t.Fatalf("settling payment: %v", err)
	}
	if inv.PaidCents != 50000 || inv.DueCents != 0 || inv.Status != domain.InvoiceStatusPaid {
		t.Fatalf("after settlement: paid=%d due=%d status=%s", inv.PaidCents, inv.DueCents, inv.Status)
	}

	payments, err := s.ListPayments(ctx, invoiceID)
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	if len(payments) != 2 {
		t.Fatalf("expected 2 payment records, got %d", len(payments))
	}
}

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"caredesk/backend/internal/billing"
	"caredesk/backend/internal/cache"
	"caredesk/backend/internal/domain"
	"caredesk/backend/internal/store"
	"caredesk/backend/internal/store/memory"
)

func newTestService() *Service {
	repo := memory.NewSeeded()
	return New(repo, nil, cache.NewMemoryInvoiceCache())
}

func fullPolicy() domain.AccessPolicy {
	return domain.AccessPolicy{
		BillingOptions: map[string]bool{
			domain.BillingOptionOPD:       true,
			domain.BillingOptionIPD:       true,
			domain.BillingOptionEmergency: true,
			domain.BillingOptionLab:       true,
			domain.BillingOptionRadiology: true,
			domain.BillingOptionPharmacy:  true,
			domain.BillingOptionOther:     true,
		},
		CanCreate: true,
		CanEdit:   true,
	}
}

func billingCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		Username: "billing",
		Role:     "billing",
		Policy:   fullPolicy(),
	})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		Username: "admin",
		Role:     "admin",
		Policy:   fullPolicy(),
	})
}

func newPatientWithInvoices(t *testing.T, svc *Service, ctx context.Context, totals ...int64) domain.Patient {
	t.Helper()

	patient, err := svc.CreatePatient(ctx, domain.PatientCreateRequest{Name: "Bulk Pay Patient"})
	if err != nil {
		t.Fatalf("create patient: %v", err)
	}

	now := time.Now().UTC()
	for i, total := range totals {
		_, err := svc.CreateInvoice(ctx, domain.NewInvoice{
			PatientID:     patient.ID,
			Type:          domain.InvoiceTypeOPD,
			SubtotalCents: total,
			TotalCents:    total,
			DueDate:       now.Add(7 * 24 * time.Hour),
			Items: []domain.InvoiceItem{{
				Description:    "Consultation",
				Category:       domain.ItemCategoryDoctorFee,
				Quantity:       1,
				UnitPriceCents: total,
				AmountCents:    total,
			}},
		})
		if err != nil {
			t.Fatalf("create invoice %d: %v", i, err)
		}
	}
	return patient
}

func TestPatientBillingRowsRequiresActor(t *testing.T) {
	svc := newTestService()

	if _, err := svc.PatientBillingRows(context.Background()); err == nil {
		t.Fatal("expected error without authenticated actor")
	}
}

func TestPatientBillingRowsFiltersByPolicy(t *testing.T) {
	svc := newTestService()

	opdOnly := WithActor(context.Background(), domain.Actor{
		Username: "frontdesk",
		Role:     "frontdesk",
		Policy: domain.AccessPolicy{
			BillingOptions: map[string]bool{domain.BillingOptionOPD: true},
		},
	})

	rows, err := svc.PatientBillingRows(opdOnly)
	if err != nil {
		t.Fatalf("billing rows: %v", err)
	}
	for _, row := range rows {
		for _, inv := range row.Invoices {
			if opt := billing.BillingOption(inv); opt != domain.BillingOptionOPD {
				t.Fatalf("policy leak: row for %s contains %s invoice", row.PatientID, opt)
			}
		}
	}

	full, err := svc.PatientBillingRows(billingCtx())
	if err != nil {
		t.Fatalf("billing rows full policy: %v", err)
	}
	if len(full) <= len(rows) {
		t.Fatalf("expected full policy to see more rows: full=%d limited=%d", len(full), len(rows))
	}
}

func TestPayPatientSplitsOldestFirst(t *testing.T) {
	svc := newTestService()
	ctx := billingCtx()

	patient := newPatientWithInvoices(t, svc, ctx, 30000, 50000)

	result, err := svc.PayPatient(ctx, patient.ID, domain.BulkPaymentRequest{
		AmountCents: 60000,
		Method:      domain.PaymentMethodCash,
	})
	if err != nil {
		t.Fatalf("pay patient: %v", err)
	}
	if result.TotalCents != 60000 {
		t.Fatalf("expected 60000 applied, got %d", result.TotalCents)
	}

	var sum int64
	for _, amount := range result.AppliedCents {
		sum += amount
	}
	if sum != 60000 {
		t.Fatalf("applied amounts sum to %d, want 60000", sum)
	}

	rows, err := svc.PatientBillingRows(ctx)
	if err != nil {
		t.Fatalf("billing rows: %v", err)
	}
	for _, row := range rows {
		if row.PatientID != patient.ID {
			continue
		}
		if row.PaidCents != 60000 || row.DueCents != 20000 {
			t.Fatalf("row after bulk payment: paid=%d due=%d", row.PaidCents, row.DueCents)
		}
		if row.Status != domain.InvoiceStatusPartial {
			t.Fatalf("expected partial aggregate status, got %s", row.Status)
		}
		return
	}
	t.Fatalf("patient %s missing from billing rows", patient.ID)
}

func TestPayPatientOverAllocationSettlesThenErrors(t *testing.T) {
	svc := newTestService()
	ctx := billingCtx()

	patient := newPatientWithInvoices(t, svc, ctx, 10000, 15000)

	result, err := svc.PayPatient(ctx, patient.ID, domain.BulkPaymentRequest{
		AmountCents: 30000,
		Method:      domain.PaymentMethodUPI,
	})
	if !errors.Is(err, billing.ErrAmountExceedsDue) {
		t.Fatalf("expected ErrAmountExceedsDue, got %v", err)
	}
	if result.TotalCents != 25000 {
		t.Fatalf("expected 25000 applied before error, got %d", result.TotalCents)
	}

	rows, err := svc.PatientBillingRows(ctx)
	if err != nil {
		t.Fatalf("billing rows: %v", err)
	}
	for _, row := range rows {
		if row.PatientID == patient.ID {
			if row.DueCents != 0 || row.Status != domain.InvoiceStatusPaid {
				t.Fatalf("expected settled patient, got due=%d status=%s", row.DueCents, row.Status)
			}
			return
		}
	}
	t.Fatalf("patient %s missing from billing rows", patient.ID)
}

func TestPayPatientRequiresEditPermission(t *testing.T) {
	svc := newTestService()

	readOnly := WithActor(context.Background(), domain.Actor{
		Username: "frontdesk",
		Role:     "frontdesk",
		Policy: domain.AccessPolicy{
			BillingOptions: map[string]bool{domain.BillingOptionOPD: true},
		},
	})

	if _, err := svc.PayPatient(readOnly, "pat-any", domain.BulkPaymentRequest{
		AmountCents: 1000,
		Method:      domain.PaymentMethodCash,
	}); err == nil {
		t.Fatal("expected permission error for read-only actor")
	}
}

func TestCreateAdjustmentBill(t *testing.T) {
	svc := newTestService()
	ctx := billingCtx()

	patient, err := svc.CreatePatient(ctx, domain.PatientCreateRequest{Name: "Adjustment Patient"})
	if err != nil {
		t.Fatalf("create patient: %v", err)
	}

	inv, err := svc.CreateAdjustmentBill(ctx, domain.AdjustmentBillRequest{
		PatientID: patient.ID,
		Rows: []domain.AdjustmentRow{
			{Label: "Extra dressing kit", AmountCents: 12000},
			{Label: "  ", AmountCents: 5000},
			{Label: "Ward transfer fee", AmountCents: 8000},
		},
		DiscountCents: 4000,
	})
	if err != nil {
		t.Fatalf("create adjustment bill: %v", err)
	}
	if inv.SubtotalCents != 20000 || inv.TotalCents != 16000 {
		t.Fatalf("adjustment totals: subtotal=%d total=%d", inv.SubtotalCents, inv.TotalCents)
	}
	if len(inv.Items) != 2 {
		t.Fatalf("expected 2 valid rows, got %d items", len(inv.Items))
	}
	if inv.Status != domain.InvoiceStatusPending || inv.DueCents != 16000 {
		t.Fatalf("fresh adjustment bill: status=%s due=%d", inv.Status, inv.DueCents)
	}
}

func TestCreateAdjustmentBillRejectsForeignAdmission(t *testing.T) {
	svc := newTestService()
	ctx := billingCtx()

	patient, err := svc.CreatePatient(ctx, domain.PatientCreateRequest{Name: "Outsider"})
	if err != nil {
		t.Fatalf("create patient: %v", err)
	}

	admissions, err := svc.ListAdmissions(ctx, domain.AdmissionStatusActive, 10)
	if err != nil {
		t.Fatalf("list admissions: %v", err)
	}
	if len(admissions) == 0 {
		t.Fatal("expected a seeded active admission")
	}

	_, err = svc.CreateAdjustmentBill(ctx, domain.AdjustmentBillRequest{
		PatientID:   patient.ID,
		AdmissionID: admissions[0].ID,
		Rows:        []domain.AdjustmentRow{{Label: "Dressing", AmountCents: 5000}},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for foreign admission, got %v", err)
	}
}

func TestAdmitAndDischargeLifecycle(t *testing.T) {
	svc := newTestService()
	ctx := billingCtx()

	patient, err := svc.CreatePatient(ctx, domain.PatientCreateRequest{Name: "Ward Patient"})
	if err != nil {
		t.Fatalf("create patient: %v", err)
	}

	beds, err := svc.ListBeds(ctx, "")
	if err != nil {
		t.Fatalf("list beds: %v", err)
	}
	var free *domain.Bed
	for i := range beds {
		if beds[i].Status == domain.BedStatusAvailable {
			free = &beds[i]
			break
		}
	}
	if free == nil {
		t.Fatal("expected at least one available bed in seed data")
	}

	admission, err := svc.AdmitPatient(ctx, domain.AdmissionCreateRequest{
		PatientID: patient.ID,
		BedID:     free.ID,
		Diagnosis: "observation",
	})
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if admission.Status != domain.AdmissionStatusActive {
		t.Fatalf("expected active admission, got %s", admission.Status)
	}

	// The bed is now occupied, a second admission into it must fail.
	if _, err := svc.AdmitPatient(ctx, domain.AdmissionCreateRequest{
		PatientID: patient.ID,
		BedID:     free.ID,
	}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for occupied bed, got %v", err)
	}

	discharged, err := svc.DischargePatient(ctx, admission.ID)
	if err != nil {
		t.Fatalf("discharge: %v", err)
	}
	if discharged.Status != domain.AdmissionStatusDischarged || discharged.DischargedAt == nil {
		t.Fatalf("discharge state: %+v", discharged)
	}

	beds, err = svc.ListBeds(ctx, "")
	if err != nil {
		t.Fatalf("list beds: %v", err)
	}
	for _, bed := range beds {
		if bed.ID == free.ID && bed.Status != domain.BedStatusAvailable {
			t.Fatalf("expected bed freed after discharge, got %s", bed.Status)
		}
	}
}

func TestLabOrderCompletionRaisesNotification(t *testing.T) {
	svc := newTestService()
	ctx := billingCtx()

	patient, err := svc.CreatePatient(ctx, domain.PatientCreateRequest{Name: "Lab Patient"})
	if err != nil {
		t.Fatalf("create patient: %v", err)
	}

	order, err := svc.CreateLabOrder(ctx, domain.LabOrderCreateRequest{
		PatientID: patient.ID,
		TestName:  "CBC",
	})
	if err != nil {
		t.Fatalf("create lab order: %v", err)
	}

	before, err := svc.ListNotifications(ctx, true, 100)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}

	if _, err := svc.UpdateLabOrderStatus(ctx, order.ID, domain.LabOrderStatusRequest{Status: domain.LabOrderStatusCompleted}); err != nil {
		t.Fatalf("complete lab order: %v", err)
	}

	after, err := svc.ListNotifications(ctx, true, 100)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(after) != len(before)+1 {
		t.Fatalf("expected one new notification, before=%d after=%d", len(before), len(after))
	}
}

func TestUpdateBedStatusRejectsOccupied(t *testing.T) {
	svc := newTestService()
	ctx := billingCtx()

	beds, err := svc.ListBeds(ctx, "")
	if err != nil {
		t.Fatalf("list beds: %v", err)
	}
	var occupied *domain.Bed
	for i := range beds {
		if beds[i].Status == domain.BedStatusOccupied {
			occupied = &beds[i]
			break
		}
	}
	if occupied == nil {
		t.Fatal("expected an occupied bed in seed data")
	}

	status := domain.BedStatusMaintenance
	if _, err := svc.UpdateBedStatus(ctx, occupied.ID, domain.BedUpdateRequest{Status: &status}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for occupied bed, got %v", err)
	}
}

func TestOverdueSweepDeduplicates(t *testing.T) {
	svc := newTestService()

	first, err := svc.OverdueSweep(context.Background())
	if err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if first < 1 {
		t.Fatal("expected seed data to contain an overdue invoice")
	}

	second, err := svc.OverdueSweep(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if second != 0 {
		t.Fatalf("expected second sweep to raise nothing, got %d", second)
	}
}

func TestListAuditLogsRequiresAdmin(t *testing.T) {
	svc := newTestService()

	if _, err := svc.ListAuditLogs(billingCtx(), "", 10); err == nil {
		t.Fatal("expected admin requirement for audit logs")
	}

	logs, err := svc.ListAuditLogs(adminCtx(), "", 10)
	if err != nil {
		t.Fatalf("admin audit logs: %v", err)
	}
	_ = logs
}

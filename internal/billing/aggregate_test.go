package billing

import (
	"testing"
	"time"

	"caredesk/backend/internal/domain"
)

func billedInvoice(id, patientID, invType string, total, paid int64, status string, createdAt time.Time) domain.Invoice {
	due := total - paid
	if due < 0 {
		due = 0
	}
	return domain.Invoice{
		ID:          id,
		PatientID:   patientID,
		PatientName: "Patient " + patientID,
		Type:        invType,
		TotalCents:  total,
		PaidCents:   paid,
		DueCents:    due,
		Status:      status,
		CreatedAt:   createdAt,
	}
}

func TestBuildPatientRowsGroupsAndSorts(t *testing.T) {
	day1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	day3 := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)

	invoices := []domain.Invoice{
		billedInvoice("inv-1", "pat-a", domain.InvoiceTypeOPD, 10000, 10000, domain.InvoiceStatusPaid, day1),
		billedInvoice("inv-2", "pat-b", domain.InvoiceTypeLab, 5000, 0, domain.InvoiceStatusPending, day3),
		billedInvoice("inv-3", "pat-a", domain.InvoiceTypePharmacy, 2000, 500, domain.InvoiceStatusPartial, day2),
	}

	rows := BuildPatientRows(invoices)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	// pat-b has the most recent invoice and must come first.
	if rows[0].PatientID != "pat-b" || rows[1].PatientID != "pat-a" {
		t.Fatalf("rows out of order: %s, %s", rows[0].PatientID, rows[1].PatientID)
	}

	patA := rows[1]
	if patA.TotalCents != 12000 || patA.PaidCents != 10500 || patA.DueCents != 1500 {
		t.Fatalf("pat-a aggregates wrong: total=%d paid=%d due=%d", patA.TotalCents, patA.PaidCents, patA.DueCents)
	}
	if !patA.LastDate.Equal(day2) {
		t.Fatalf("pat-a lastDate should be %v, got %v", day2, patA.LastDate)
	}
	// Within a patient, invoices are newest-first for display.
	if patA.Invoices[0].ID != "inv-3" || patA.Invoices[1].ID != "inv-1" {
		t.Fatalf("pat-a invoices out of order: %s, %s", patA.Invoices[0].ID, patA.Invoices[1].ID)
	}
	if patA.Status != domain.InvoiceStatusPartial {
		t.Fatalf("pat-a status should be partial, got %s", patA.Status)
	}
}

func TestBuildPatientRowsUnknownBucket(t *testing.T) {
	inv := billedInvoice("inv-x", "", domain.InvoiceTypeOPD, 100, 0, domain.InvoiceStatusPending, time.Now().UTC())
	inv.PatientName = ""

	rows := BuildPatientRows([]domain.Invoice{inv})
	if len(rows) != 1 || rows[0].PatientID != "unknown" {
		t.Fatalf("missing patient reference should fall into the unknown bucket, got %+v", rows)
	}
}

func TestCareLabelDerivation(t *testing.T) {
	admitted := domain.Invoice{AdmissionID: "adm-1", RegistrationType: domain.RegistrationTypeEmergency}
	if CareLabel(admitted) != domain.CareLabelIPD {
		t.Fatalf("admission-linked invoice must be IPD")
	}

	emergency := domain.Invoice{RegistrationType: domain.RegistrationTypeEmergency}
	if CareLabel(emergency) != domain.CareLabelEmergency {
		t.Fatalf("emergency registration without admission must be Emergency")
	}

	walkIn := domain.Invoice{RegistrationType: domain.RegistrationTypeRoutine}
	if CareLabel(walkIn) != domain.CareLabelOPD {
		t.Fatalf("routine outpatient must be OPD")
	}
}

func TestBillingOptionDerivation(t *testing.T) {
	typed := domain.Invoice{Type: domain.InvoiceTypePharmacy}
	if BillingOption(typed) != domain.BillingOptionPharmacy {
		t.Fatalf("recognised invoice type must be used verbatim")
	}

	untypedAdmitted := domain.Invoice{Type: "misc", AdmissionID: "adm-1"}
	if BillingOption(untypedAdmitted) != domain.BillingOptionIPD {
		t.Fatalf("unrecognised type falls back to admission heuristic")
	}

	untypedEmergency := domain.Invoice{Type: "", RegistrationType: domain.RegistrationTypeEmergency}
	if BillingOption(untypedEmergency) != domain.BillingOptionEmergency {
		t.Fatalf("unrecognised type falls back to emergency heuristic")
	}

	untyped := domain.Invoice{Type: ""}
	if BillingOption(untyped) != domain.BillingOptionOPD {
		t.Fatalf("unrecognised type defaults to opd")
	}
}

func TestFilterByPolicy(t *testing.T) {
	invoices := []domain.Invoice{
		billedInvoice("inv-1", "pat-a", domain.InvoiceTypeOPD, 100, 0, domain.InvoiceStatusPending, time.Now().UTC()),
		billedInvoice("inv-2", "pat-a", domain.InvoiceTypeLab, 100, 0, domain.InvoiceStatusPending, time.Now().UTC()),
		billedInvoice("inv-3", "pat-a", domain.InvoiceTypeIPD, 100, 0, domain.InvoiceStatusPending, time.Now().UTC()),
	}

	policy := domain.AccessPolicy{BillingOptions: map[string]bool{
		domain.BillingOptionOPD: true,
		domain.BillingOptionLab: true,
	}}

	kept := FilterByPolicy(invoices, policy)
	if len(kept) != 2 {
		t.Fatalf("expected 2 invoices after filtering, got %d", len(kept))
	}
	for _, inv := range kept {
		if inv.Type == domain.InvoiceTypeIPD {
			t.Fatalf("ipd invoice must be filtered out")
		}
	}
}

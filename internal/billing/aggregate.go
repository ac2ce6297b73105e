// Package billing holds the patient-centric billing consolidation and
// payment-allocation engine behind the billing dashboard: per-patient
// invoice rollups, deterministic oldest-first payment allocation, and
// reconciliation of the optimistic invoice cache against the store.
package billing

import (
	"sort"

	"caredesk/backend/internal/domain"
)

// unknownPatientKey buckets invoices whose patient reference is absent;
// malformed data degrades to this bucket instead of erroring.
const unknownPatientKey = "unknown"

// CareLabel classifies an invoice for display: admission-linked invoices are
// IPD, emergency registrations are Emergency, everything else is OPD.
func CareLabel(inv domain.Invoice) string {
	if inv.AdmissionID != "" {
		return domain.CareLabelIPD
	}
	if inv.RegistrationType == domain.RegistrationTypeEmergency {
		return domain.CareLabelEmergency
	}
	return domain.CareLabelOPD
}

// BillingOption resolves the permission category for an invoice. A
// recognised invoice type wins verbatim; otherwise the care-label heuristic
// decides.
func BillingOption(inv domain.Invoice) string {
	if domain.IsInvoiceType(inv.Type) {
		return inv.Type
	}
	if inv.AdmissionID != "" {
		return domain.BillingOptionIPD
	}
	if inv.RegistrationType == domain.RegistrationTypeEmergency {
		return domain.BillingOptionEmergency
	}
	return domain.BillingOptionOPD
}

// FilterByPolicy keeps only the invoices whose billing option the policy
// allows. The policy is supplied by the authorization layer; this function
// never derives permissions itself.
func FilterByPolicy(invoices []domain.Invoice, policy domain.AccessPolicy) []domain.Invoice {
	kept := make([]domain.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if policy.Allows(BillingOption(inv)) {
			kept = append(kept, inv)
		}
	}
	return kept
}

// BuildPatientRows folds a flat invoice list into per-patient rollups. Each
// patient's invoices are ordered newest-first for display and the rows are
// ordered by most recent activity. Pure transform: no store access, no
// errors.
func BuildPatientRows(invoices []domain.Invoice) []domain.PatientBillingRow {
	byPatient := make(map[string]*domain.PatientBillingRow)
	careSets := make(map[string]map[string]bool)

	for _, inv := range invoices {
		key := inv.PatientID
		if key == "" {
			key = unknownPatientKey
		}

		row, ok := byPatient[key]
		if !ok {
			row = &domain.PatientBillingRow{
				PatientID:   key,
				PatientName: inv.PatientName,
				PatientCode: inv.PatientCode,
			}
			byPatient[key] = row
			careSets[key] = make(map[string]bool)
		}
		if row.PatientName == "" {
			row.PatientName = inv.PatientName
		}
		if row.PatientCode == "" {
			row.PatientCode = inv.PatientCode
		}

		row.Invoices = append(row.Invoices, inv)
		row.TotalCents += inv.TotalCents
		row.PaidCents += inv.PaidCents
		row.DueCents += inv.DueCents
		careSets[key][CareLabel(inv)] = true
		if inv.CreatedAt.After(row.LastDate) {
			row.LastDate = inv.CreatedAt
		}
	}

	rows := make([]domain.PatientBillingRow, 0, len(byPatient))
	for key, row := range byPatient {
		sort.Slice(row.Invoices, func(i, j int) bool {
			return row.Invoices[i].CreatedAt.After(row.Invoices[j].CreatedAt)
		})

		labels := make([]string, 0, len(careSets[key]))
		for label := range careSets[key] {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		row.CareTypes = labels

		row.Status = AggregatePatientStatus(row.Invoices)
		rows = append(rows, *row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].LastDate.Equal(rows[j].LastDate) {
			return rows[i].PatientID < rows[j].PatientID
		}
		return rows[i].LastDate.After(rows[j].LastDate)
	})

	return rows
}

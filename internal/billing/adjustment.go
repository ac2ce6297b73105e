package billing

import (
	"fmt"
	"strings"
	"time"

	"caredesk/backend/internal/domain"
	"caredesk/backend/internal/store"
)

// adjustmentDueDays is how long an adjustment bill has until it falls due.
const adjustmentDueDays = 7

// BuildAdjustmentInvoice turns free-form (label, amount) rows plus a flat
// discount into a new invoice for the patient. Rows with an empty label or a
// non-positive amount are dropped, not summed. The flat discount reduces the
// invoice total only; item amounts keep their raw values.
func BuildAdjustmentInvoice(patientID string, admissionID string, rows []domain.AdjustmentRow, discountCents int64, now time.Time) (domain.NewInvoice, error) {
	if patientID == "" {
		return domain.NewInvoice{}, fmt.Errorf("%w: patient required", store.ErrValidation)
	}

	items := make([]domain.InvoiceItem, 0, len(rows))
	subtotal := int64(0)
	for _, row := range rows {
		label := strings.TrimSpace(row.Label)
		if label == "" || row.AmountCents <= 0 {
			continue
		}
		items = append(items, domain.InvoiceItem{
			Description:    label,
			Category:       domain.ItemCategoryOther,
			Quantity:       1,
			UnitPriceCents: row.AmountCents,
			AmountCents:    row.AmountCents,
		})
		subtotal += row.AmountCents
	}
	if len(items) == 0 {
		return domain.NewInvoice{}, fmt.Errorf("%w: %s", store.ErrValidation, ErrNoValidRows)
	}

	if discountCents < 0 {
		discountCents = 0
	}
	total := subtotal - discountCents
	if total < 0 {
		total = 0
	}
	if total <= 0 {
		return domain.NewInvoice{}, fmt.Errorf("%w: adjustment total must be positive", store.ErrValidation)
	}

	return domain.NewInvoice{
		PatientID:     patientID,
		AdmissionID:   admissionID,
		Type:          domain.InvoiceTypeOther,
		Items:         items,
		SubtotalCents: subtotal,
		DiscountCents: discountCents,
		TotalCents:    total,
		DueDate:       now.Add(adjustmentDueDays * 24 * time.Hour),
	}, nil
}

package domain

import "time"

// Invoice types. Anything outside this set is treated as uncategorised and
// classified by the care-label heuristic instead.
const (
	InvoiceTypeOPD      = "opd"
	InvoiceTypeIPD      = "ipd"
	InvoiceTypePharmacy = "pharmacy"
	InvoiceTypeLab      = "lab"
	InvoiceTypeOther    = "other"
)

const (
	InvoiceStatusDraft     = "draft"
	InvoiceStatusPending   = "pending"
	InvoiceStatusPartial   = "partial"
	InvoiceStatusPaid      = "paid"
	InvoiceStatusOverdue   = "overdue"
	InvoiceStatusCancelled = "cancelled"
	InvoiceStatusRefunded  = "refunded"
)

const (
	ItemCategoryBedCharges = "bed_charges"
	ItemCategoryDoctorFee  = "doctor_fee"
	ItemCategoryNursing    = "nursing"
	ItemCategoryMedication = "medication"
	ItemCategoryProcedure  = "procedure"
	ItemCategoryLabTest    = "lab_test"
	ItemCategoryRadiology  = "radiology"
	ItemCategorySurgery    = "surgery"
	ItemCategoryOther      = "other"
)

const (
	PaymentMethodCash       = "cash"
	PaymentMethodCard       = "card"
	PaymentMethodUPI        = "upi"
	PaymentMethodNetBanking = "net_banking"
	PaymentMethodCheque     = "cheque"
	PaymentMethodInsurance  = "insurance"
)

// Billing options are the permission-gated categories a user may see.
const (
	BillingOptionOPD       = "opd"
	BillingOptionIPD       = "ipd"
	BillingOptionEmergency = "emergency"
	BillingOptionLab       = "lab"
	BillingOptionRadiology = "radiology"
	BillingOptionPharmacy  = "pharmacy"
	BillingOptionOther     = "other"
)

const (
	RegistrationTypeRoutine   = "routine"
	RegistrationTypeEmergency = "emergency"
)

const (
	CareLabelIPD       = "IPD"
	CareLabelOPD       = "OPD"
	CareLabelEmergency = "Emergency"
)

type InvoiceItem struct {
	Description    string `json:"description"`
	Category       string `json:"category"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	DiscountCents  int64  `json:"discount_cents"`
	TaxCents       int64  `json:"tax_cents"`
	AmountCents    int64  `json:"amount_cents"`
}

type Invoice struct {
	ID               string        `json:"id"`
	InvoiceNumber    string        `json:"invoice_number"`
	PatientID        string        `json:"patient_id"`
	PatientName      string        `json:"patient_name"`
	PatientCode      string        `json:"patient_code"`
	RegistrationType string        `json:"registration_type"`
	Type             string        `json:"type"`
	AdmissionID      string        `json:"admission_id,omitempty"`
	Items            []InvoiceItem `json:"items"`
	SubtotalCents    int64         `json:"subtotal_cents"`
	DiscountCents    int64         `json:"discount_cents"`
	TaxCents         int64         `json:"tax_cents"`
	TotalCents       int64         `json:"total_cents"`
	PaidCents        int64         `json:"paid_cents"`
	DueCents         int64         `json:"due_cents"`
	Status           string        `json:"status"`
	DueDate          time.Time     `json:"due_date"`
	CreatedAt        time.Time     `json:"created_at"`
}

// NewInvoice is the create shape accepted by the invoice store. Totals are
// provided by the caller; the store assigns identity and payment state.
type NewInvoice struct {
	PatientID     string        `json:"patient_id"`
	AdmissionID   string        `json:"admission_id,omitempty"`
	Type          string        `json:"type"`
	Items         []InvoiceItem `json:"items"`
	SubtotalCents int64         `json:"subtotal_cents"`
	DiscountCents int64         `json:"discount_cents"`
	TaxCents      int64         `json:"tax_cents"`
	TotalCents    int64         `json:"total_cents"`
	DueDate       time.Time     `json:"due_date"`
}

// InvoiceUpdate carries the mutable invoice fields; nil means unchanged.
type InvoiceUpdate struct {
	Status  *string    `json:"status,omitempty"`
	DueDate *time.Time `json:"due_date,omitempty"`
	Type    *string    `json:"type,omitempty"`
}

// Payment is an applied payment record. Payments attach to exactly one
// invoice and are append-only.
type Payment struct {
	ID          string    `json:"id"`
	InvoiceID   string    `json:"invoice_id"`
	AmountCents int64     `json:"amount_cents"`
	Method      string    `json:"method"`
	Reference   string    `json:"reference,omitempty"`
	ReceivedBy  string    `json:"received_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type PaymentRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Method      string `json:"method"`
	Reference   string `json:"reference,omitempty"`
}

// PatientBillingRow is the derived per-patient rollup for the billing
// dashboard. Never persisted; rebuilt on every invoice fetch.
type PatientBillingRow struct {
	PatientID   string    `json:"patient_id"`
	PatientName string    `json:"patient_name"`
	PatientCode string    `json:"patient_code"`
	Invoices    []Invoice `json:"invoices"`
	CareTypes   []string  `json:"care_types"`
	TotalCents  int64     `json:"total_cents"`
	PaidCents   int64     `json:"paid_cents"`
	DueCents    int64     `json:"due_cents"`
	LastDate    time.Time `json:"last_date"`
	Status      string    `json:"status"`
}

// AdjustmentRow is a free-form (label, amount) line used only to build an
// adjustment invoice; discarded after submission.
type AdjustmentRow struct {
	Label       string `json:"label"`
	AmountCents int64  `json:"amount_cents"`
}

type AdjustmentBillRequest struct {
	PatientID     string          `json:"patient_id"`
	AdmissionID   string          `json:"admission_id,omitempty"`
	Rows          []AdjustmentRow `json:"rows"`
	DiscountCents int64           `json:"discount_cents"`
}

type BulkPaymentRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Method      string `json:"method"`
	Reference   string `json:"reference,omitempty"`
}

// PaymentResult reports how an amount was split across invoices.
type PaymentResult struct {
	AppliedCents map[string]int64 `json:"applied_cents"`
	TotalCents   int64            `json:"total_cents"`
}

// AccessPolicy is the authorization input the billing engine consumes. It is
// resolved outside the engine (from the authenticated role); the engine only
// filters by it and never computes it.
type AccessPolicy struct {
	BillingOptions map[string]bool
	CanCreate      bool
	CanEdit        bool
}

// Allows reports whether the policy permits the given billing option.
func (p AccessPolicy) Allows(option string) bool {
	return p.BillingOptions[option]
}

// Actor is the authenticated caller carried through context.
type Actor struct {
	Username string
	Role     string
	Policy   AccessPolicy
}

type Patient struct {
	ID               string    `json:"id"`
	Code             string    `json:"code"`
	Name             string    `json:"name"`
	Phone            string    `json:"phone,omitempty"`
	RegistrationType string    `json:"registration_type"`
	CreatedAt        time.Time `json:"created_at"`
}

type PatientCreateRequest struct {
	Name             string `json:"name"`
	Phone            string `json:"phone"`
	RegistrationType string `json:"registration_type"`
}

const (
	BedStatusAvailable   = "available"
	BedStatusOccupied    = "occupied"
	BedStatusMaintenance = "maintenance"
)

type Bed struct {
	ID        string `json:"id"`
	Ward      string `json:"ward"`
	Number    string `json:"number"`
	Status    string `json:"status"`
	PatientID string `json:"patient_id,omitempty"`
}

type BedUpdateRequest struct {
	Status *string `json:"status,omitempty"`
}

const (
	AdmissionStatusActive     = "active"
	AdmissionStatusDischarged = "discharged"
)

type Admission struct {
	ID           string     `json:"id"`
	PatientID    string     `json:"patient_id"`
	BedID        string     `json:"bed_id"`
	Diagnosis    string     `json:"diagnosis,omitempty"`
	Status       string     `json:"status"`
	AdmittedAt   time.Time  `json:"admitted_at"`
	DischargedAt *time.Time `json:"discharged_at,omitempty"`
}

type AdmissionCreateRequest struct {
	PatientID string `json:"patient_id"`
	BedID     string `json:"bed_id"`
	Diagnosis string `json:"diagnosis"`
}

const (
	LabOrderStatusOrdered    = "ordered"
	LabOrderStatusInProgress = "in_progress"
	LabOrderStatusCompleted  = "completed"
)

type LabOrder struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patient_id"`
	TestName  string    `json:"test_name"`
	Status    string    `json:"status"`
	OrderedBy string    `json:"ordered_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type LabOrderCreateRequest struct {
	PatientID string `json:"patient_id"`
	TestName  string `json:"test_name"`
}

type LabOrderStatusRequest struct {
	Status string `json:"status"`
}

type Notification struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken    string   `json:"access_token"`
	Role           string   `json:"role"`
	BillingOptions []string `json:"billing_options"`
	CanCreate      bool     `json:"can_create"`
	CanEdit        bool     `json:"can_edit"`
	ExpiresAt      string   `json:"expires_at"`
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// StaffUser is the API-facing view of a user account, without credentials.
type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

// IsInvoiceType reports whether t is a member of the fixed invoice-type enum.
func IsInvoiceType(t string) bool {
	switch t {
	case InvoiceTypeOPD, InvoiceTypeIPD, InvoiceTypePharmacy, InvoiceTypeLab, InvoiceTypeOther:
		return true
	}
	return false
}

// IsPaymentMethod reports whether m is a supported payment method.
func IsPaymentMethod(m string) bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodUPI,
		PaymentMethodNetBanking, PaymentMethodCheque, PaymentMethodInsurance:
		return true
	}
	return false
}

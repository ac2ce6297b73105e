package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"caredesk/backend/internal/billing"
	"caredesk/backend/internal/cache"
	"caredesk/backend/internal/domain"
	"caredesk/backend/internal/store"
	"caredesk/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service orchestrates the billing engine and the hospital records. Invoices
// and payments go through the invoice store, which may live in a separate
// service; everything else goes to the repository directly.
type Service struct {
	repo       store.Repository
	invoices   store.InvoiceStore
	cache      cache.InvoiceCache
	allocator  *billing.Allocator
	reconciler *billing.Reconciler

	sweepMu   sync.Mutex
	sweepSeen map[string]struct{}
}

// New wires the service. invoices may be nil, in which case the repository
// itself serves as the invoice store.
func New(repo store.Repository, invoices store.InvoiceStore, invoiceCache cache.InvoiceCache) *Service {
	if invoices == nil {
		invoices = repo
	}
	if invoiceCache == nil {
		invoiceCache = cache.NoopInvoiceCache{}
	}

	return &Service{
		repo:       repo,
		invoices:   invoices,
		cache:      invoiceCache,
		allocator:  billing.NewAllocator(invoices),
		reconciler: billing.NewReconciler(invoices, invoiceCache),
		sweepSeen:  map[string]struct{}{},
	}
}

// snapshotInvoices serves the cached snapshot when present, refilling from
// the invoice store on a miss.
func (s *Service) snapshotInvoices(ctx context.Context) ([]domain.Invoice, error) {
	snapshot, ok, err := s.cache.Snapshot(ctx)
	if err != nil {
		log.Printf("[service] WARN: invoice cache read failed, falling back to store: %v", err)
	}
	if ok && err == nil {
		return snapshot, nil
	}
	return s.reconciler.Reconcile(ctx)
}

// PatientBillingRows builds the consolidated per-patient billing view for the
// calling user, filtered down to the billing options their role grants.
func (s *Service) PatientBillingRows(ctx context.Context) ([]domain.PatientBillingRow, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authenticated user required")
	}

	invoices, err := s.snapshotInvoices(ctx)
	if err != nil {
		return nil, err
	}

	visible := billing.FilterByPolicy(invoices, actor.Policy)
	return billing.BuildPatientRows(visible), nil
}

// ListInvoices returns the raw invoice snapshot filtered by the caller's
// policy, optionally narrowed to a single patient.
func (s *Service) ListInvoices(ctx context.Context, patientID string) ([]domain.Invoice, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authenticated user required")
	}

	invoices, err := s.snapshotInvoices(ctx)
	if err != nil {
		return nil, err
	}

	visible := billing.FilterByPolicy(invoices, actor.Policy)
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return visible, nil
	}
	filtered := make([]domain.Invoice, 0, len(visible))
	for _, inv := range visible {
		if inv.PatientID == patientID {
			filtered = append(filtered, inv)
		}
	}
	return filtered, nil
}

func (s *Service) GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return nil, store.ErrValidation
	}

	inv, err := s.invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	if actor, ok := ActorFromContext(ctx); ok && !actor.Policy.Allows(billing.BillingOption(*inv)) {
		return nil, store.ErrNotFound
	}
	return inv, nil
}

func (s *Service) ListInvoicePayments(ctx context.Context, invoiceID string) ([]domain.Payment, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return nil, store.ErrValidation
	}
	return s.invoices.ListPayments(ctx, invoiceID)
}

func (s *Service) CreateInvoice(ctx context.Context, in domain.NewInvoice) (*domain.Invoice, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !actor.Policy.CanCreate {
		return nil, fmt.Errorf("create permission required")
	}
	if !domain.IsInvoiceType(in.Type) {
		return nil, fmt.Errorf("%w: unknown invoice type %q", store.ErrValidation, in.Type)
	}

	created, err := s.invoices.CreateInvoice(ctx, in)
	if err != nil {
		return nil, err
	}

	if _, err := s.reconciler.Reconcile(ctx); err != nil {
		log.Printf("[service] WARN: cache reconcile after invoice create failed: %v", err)
	}
	s.logAudit(ctx, "invoice_create", "invoice", created.ID, fmt.Sprintf("patient=%s,type=%s,total=%d", created.PatientID, created.Type, created.TotalCents))
	return created, nil
}

func (s *Service) UpdateInvoice(ctx context.Context, invoiceID string, upd domain.InvoiceUpdate) (*domain.Invoice, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !actor.Policy.CanEdit {
		return nil, fmt.Errorf("edit permission required")
	}

	updated, err := s.invoices.UpdateInvoice(ctx, invoiceID, upd)
	if err != nil {
		return nil, err
	}

	if _, err := s.reconciler.Reconcile(ctx); err != nil {
		log.Printf("[service] WARN: cache reconcile after invoice update failed: %v", err)
	}
	s.logAudit(ctx, "invoice_update", "invoice", updated.ID, fmt.Sprintf("status=%s", updated.Status))
	return updated, nil
}

// PayInvoice posts one payment against one invoice, then converges the cache.
func (s *Service) PayInvoice(ctx context.Context, invoiceID string, req domain.PaymentRequest) (domain.PaymentResult, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !actor.Policy.CanEdit {
		return domain.PaymentResult{}, fmt.Errorf("edit permission required")
	}

	result, err := s.allocator.PayInvoice(ctx, invoiceID, req)
	if err != nil {
		if _, rerr := s.reconciler.Reconcile(ctx); rerr != nil {
			log.Printf("[service] WARN: cache reconcile after failed payment: %v", rerr)
		}
		return domain.PaymentResult{}, err
	}

	if err := s.reconciler.ApplyApplied(ctx, result.AppliedCents); err != nil {
		log.Printf("[service] WARN: cache reconcile after payment failed: %v", err)
	}
	s.logAudit(ctx, "payment_apply", "invoice", invoiceID, fmt.Sprintf("amount=%d,method=%s", req.AmountCents, req.Method))
	return result, nil
}

// PayPatient splits one amount across the patient's outstanding invoices,
// oldest first. Payments already posted are never rolled back: a mid-sequence
// failure or an amount exceeding the summed due surfaces as an error with the
// applied amounts alongside, and the cache is reconciled either way.
func (s *Service) PayPatient(ctx context.Context, patientID string, req domain.BulkPaymentRequest) (domain.PaymentResult, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !actor.Policy.CanEdit {
		return domain.PaymentResult{}, fmt.Errorf("edit permission required")
	}
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return domain.PaymentResult{}, store.ErrValidation
	}

	// Allocation works off the authoritative store, never the cached snapshot.
	all, err := s.invoices.ListInvoices(ctx)
	if err != nil {
		return domain.PaymentResult{}, err
	}

	visible := billing.FilterByPolicy(all, actor.Policy)
	mine := make([]domain.Invoice, 0, 8)
	for _, inv := range visible {
		if inv.PatientID == patientID {
			mine = append(mine, inv)
		}
	}

	result, allocErr := s.allocator.PayAcross(ctx, mine, domain.PaymentRequest{
		AmountCents: req.AmountCents,
		Method:      req.Method,
		Reference:   req.Reference,
	})

	if len(result.AppliedCents) > 0 {
		if err := s.reconciler.ApplyApplied(ctx, result.AppliedCents); err != nil {
			log.Printf("[service] WARN: cache reconcile after bulk payment: %v", err)
		}
		s.logAudit(ctx, "bulk_payment_apply", "patient", patientID, fmt.Sprintf("amount=%d,applied=%d,invoices=%d,method=%s", req.AmountCents, result.TotalCents, len(result.AppliedCents), req.Method))
	} else if allocErr != nil {
		if _, rerr := s.reconciler.Reconcile(ctx); rerr != nil {
			log.Printf("[service] WARN: cache reconcile after failed bulk payment: %v", rerr)
		}
	}

	return result, allocErr
}

// CreateAdjustmentBill builds an ad-hoc invoice from free-form rows and posts
// it to the invoice store.
func (s *Service) CreateAdjustmentBill(ctx context.Context, req domain.AdjustmentBillRequest) (*domain.Invoice, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !actor.Policy.CanCreate {
		return nil, fmt.Errorf("create permission required")
	}

	if admissionID := strings.TrimSpace(req.AdmissionID); admissionID != "" {
		admission, err := s.repo.GetAdmission(ctx, admissionID)
		if err != nil {
			return nil, err
		}
		if admission.PatientID != strings.TrimSpace(req.PatientID) {
			return nil, fmt.Errorf("%w: admission belongs to another patient", store.ErrValidation)
		}
	}

	in, err := billing.BuildAdjustmentInvoice(req.PatientID, req.AdmissionID, req.Rows, req.DiscountCents, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	created, err := s.invoices.CreateInvoice(ctx, in)
	if err != nil {
		return nil, err
	}

	if _, err := s.reconciler.Reconcile(ctx); err != nil {
		log.Printf("[service] WARN: cache reconcile after adjustment bill failed: %v", err)
	}
	s.logAudit(ctx, "adjustment_bill_create", "invoice", created.ID, fmt.Sprintf("patient=%s,total=%d,rows=%d", created.PatientID, created.TotalCents, len(created.Items)))
	return created, nil
}

func (s *Service) CreatePatient(ctx context.Context, req domain.PatientCreateRequest) (domain.Patient, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !actor.Policy.CanCreate {
		return domain.Patient{}, fmt.Errorf("create permission required")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Patient{}, store.ErrValidation
	}
	registrationType := strings.ToLower(strings.TrimSpace(req.RegistrationType))
	if registrationType == "" {
		registrationType = domain.RegistrationTypeRoutine
	}
	if registrationType != domain.RegistrationTypeRoutine && registrationType != domain.RegistrationTypeEmergency {
		return domain.Patient{}, store.ErrValidation
	}

	created, err := s.repo.CreatePatient(ctx, domain.Patient{
		Name:             req.Name,
		Phone:            strings.TrimSpace(req.Phone),
		RegistrationType: registrationType,
	})
	if err != nil {
		return domain.Patient{}, err
	}

	s.logAudit(ctx, "patient_create", "patient", created.ID, fmt.Sprintf("code=%s,registration=%s", created.Code, created.RegistrationType))
	return *created, nil
}

func (s *Service) GetPatient(ctx context.Context, patientID string) (domain.Patient, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return domain.Patient{}, store.ErrValidation
	}
	patient, err := s.repo.GetPatient(ctx, patientID)
	if err != nil {
		return domain.Patient{}, err
	}
	return *patient, nil
}

func (s *Service) ListPatients(ctx context.Context, search string, limit int) ([]domain.Patient, error) {
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListPatients(ctx, search, limit)
}

func (s *Service) AdmitPatient(ctx context.Context, req domain.AdmissionCreateRequest) (domain.Admission, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !actor.Policy.CanCreate {
		return domain.Admission{}, fmt.Errorf("create permission required")
	}
	if strings.TrimSpace(req.PatientID) == "" || strings.TrimSpace(req.BedID) == "" {
		return domain.Admission{}, store.ErrValidation
	}

	created, err := s.repo.CreateAdmission(ctx, domain.Admission{
		PatientID: strings.TrimSpace(req.PatientID),
		BedID:     strings.TrimSpace(req.BedID),
		Diagnosis: strings.TrimSpace(req.Diagnosis),
	})
	if err != nil {
		return domain.Admission{}, err
	}

	s.logAudit(ctx, "patient_admit", "admission", created.ID, fmt.Sprintf("patient=%s,bed=%s", created.PatientID, created.BedID))
	return *created, nil
}

func (s *Service) DischargePatient(ctx context.Context, admissionID string) (domain.Admission, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !actor.Policy.CanEdit {
		return domain.Admission{}, fmt.Errorf("edit permission required")
	}
	admissionID = strings.TrimSpace(admissionID)
	if admissionID == "" {
		return domain.Admission{}, store.ErrValidation
	}

	discharged, err := s.repo.DischargeAdmission(ctx, admissionID, time.Now().UTC())
	if err != nil {
		return domain.Admission{}, err
	}

	s.logAudit(ctx, "patient_discharge", "admission", discharged.ID, fmt.Sprintf("patient=%s,bed=%s", discharged.PatientID, discharged.BedID))
	return *discharged, nil
}

func (s *Service) ListAdmissions(ctx context.Context, status string, limit int) ([]domain.Admission, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status != "" && status != domain.AdmissionStatusActive && status != domain.AdmissionStatusDischarged {
		return nil, store.ErrValidation
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListAdmissions(ctx, status, limit)
}

func (s *Service) ListBeds(ctx context.Context, ward string) ([]domain.Bed, error) {
	return s.repo.ListBeds(ctx, strings.ToLower(strings.TrimSpace(ward)))
}

func (s *Service) UpdateBedStatus(ctx context.Context, bedID string, req domain.BedUpdateRequest) (domain.Bed, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !actor.Policy.CanEdit {
		return domain.Bed{}, fmt.Errorf("edit permission required")
	}
	if req.Status == nil {
		return domain.Bed{}, store.ErrValidation
	}
	status := strings.ToLower(strings.TrimSpace(*req.Status))
	switch status {
	case domain.BedStatusAvailable, domain.BedStatusMaintenance:
	default:
		// occupied is only reachable through an admission
		return domain.Bed{}, store.ErrValidation
	}

	bed, err := s.repo.GetBed(ctx, strings.TrimSpace(bedID))
	if err != nil {
		return domain.Bed{}, err
	}
	if bed.Status == domain.BedStatusOccupied {
		return domain.Bed{}, fmt.Errorf("%w: bed %s is occupied", store.ErrValidation, bed.Number)
	}

	bed.Status = status
	bed.PatientID = ""
	updated, err := s.repo.UpdateBed(ctx, *bed)
	if err != nil {
		return domain.Bed{}, err
	}

	s.logAudit(ctx, "bed_update", "bed", updated.ID, fmt.Sprintf("status=%s", updated.Status))
	return *updated, nil
}

func (s *Service) CreateLabOrder(ctx context.Context, req domain.LabOrderCreateRequest) (domain.LabOrder, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !actor.Policy.CanCreate {
		return domain.LabOrder{}, fmt.Errorf("create permission required")
	}
	req.TestName = strings.TrimSpace(req.TestName)
	if strings.TrimSpace(req.PatientID) == "" || req.TestName == "" {
		return domain.LabOrder{}, store.ErrValidation
	}

	created, err := s.repo.CreateLabOrder(ctx, domain.LabOrder{
		PatientID: strings.TrimSpace(req.PatientID),
		TestName:  req.TestName,
		OrderedBy: actor.Username,
	})
	if err != nil {
		return domain.LabOrder{}, err
	}

	s.logAudit(ctx, "lab_order_create", "lab_order", created.ID, fmt.Sprintf("patient=%s,test=%s", created.PatientID, created.TestName))
	return *created, nil
}

func (s *Service) ListLabOrders(ctx context.Context, patientID string, limit int) ([]domain.LabOrder, error) {
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListLabOrders(ctx, strings.TrimSpace(patientID), limit)
}

// UpdateLabOrderStatus moves a lab order through its lifecycle; completion
// raises a notification for the front desk.
func (s *Service) UpdateLabOrderStatus(ctx context.Context, orderID string, req domain.LabOrderStatusRequest) (domain.LabOrder, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !actor.Policy.CanEdit {
		return domain.LabOrder{}, fmt.Errorf("edit permission required")
	}

	status := strings.ToLower(strings.TrimSpace(req.Status))
	updated, err := s.repo.UpdateLabOrderStatus(ctx, strings.TrimSpace(orderID), status, time.Now().UTC())
	if err != nil {
		return domain.LabOrder{}, err
	}

	if updated.Status == domain.LabOrderStatusCompleted {
		if err := s.repo.CreateNotification(ctx, domain.Notification{
			ID:        xid.New("ntf"),
			Kind:      "lab_result_ready",
			Message:   fmt.Sprintf("Lab result ready: %s (patient %s)", updated.TestName, updated.PatientID),
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			log.Printf("[service] WARN: failed to create lab completion notification order=%s: %v", updated.ID, err)
		}
	}

	s.logAudit(ctx, "lab_order_status", "lab_order", updated.ID, fmt.Sprintf("status=%s", updated.Status))
	return *updated, nil
}

func (s *Service) ListNotifications(ctx context.Context, unreadOnly bool, limit int) ([]domain.Notification, error) {
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListNotifications(ctx, unreadOnly, limit)
}

func (s *Service) MarkNotificationRead(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return store.ErrValidation
	}
	return s.repo.MarkNotificationRead(ctx, id)
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, fmt.Errorf("admin role required")
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrValidation
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

// OverdueSweep raises one notification per newly overdue invoice. Intended to
// run periodically from main; invoices already notified are skipped.
func (s *Service) OverdueSweep(ctx context.Context) (int, error) {
	invoices, err := s.invoices.ListInvoices(ctx)
	if err != nil {
		return 0, err
	}

	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	raised := 0
	for _, inv := range invoices {
		if inv.Status != domain.InvoiceStatusOverdue {
			continue
		}
		if _, seen := s.sweepSeen[inv.ID]; seen {
			continue
		}
		if err := s.repo.CreateNotification(ctx, domain.Notification{
			ID:        xid.New("ntf"),
			Kind:      "invoice_overdue",
			Message:   fmt.Sprintf("Invoice %s for %s is overdue (due %d)", inv.InvoiceNumber, inv.PatientName, inv.DueCents),
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return raised, err
		}
		s.sweepSeen[inv.ID] = struct{}{}
		raised++
	}
	return raised, nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"caredesk/backend/internal/domain"
	"caredesk/backend/internal/store"
	"caredesk/backend/internal/xid"
)

type Store struct {
	mu             sync.RWMutex
	invoicesByID   map[string]*domain.Invoice
	paymentsByInv  map[string][]domain.Payment
	invoiceSeq     int
	patientsByID   map[string]*domain.Patient
	patientSeq     int
	admissionsByID map[string]*domain.Admission
	bedsByID       map[string]*domain.Bed
	labOrdersByID  map[string]*domain.LabOrder
	notifications  []domain.Notification
	auditLogs      []domain.AuditLog
	usersByName    map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		invoicesByID:   map[string]*domain.Invoice{},
		paymentsByInv:  map[string][]domain.Payment{},
		patientsByID:   map[string]*domain.Patient{},
		admissionsByID: map[string]*domain.Admission{},
		bedsByID:       map[string]*domain.Bed{},
		labOrdersByID:  map[string]*domain.LabOrder{},
		usersByName:    map[string]domain.UserAccount{},
	}
}

// seedUsers builds the initial accounts for dev/demo mode. Credentials come
// from SEED_ADMIN_PASSWORD and SEED_BILLING_PASSWORD; hardcoded dev defaults
// are used with a warning when unset.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	billingPwd := envOr("SEED_BILLING_PASSWORD", "billing123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_BILLING_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_BILLING_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"billing", billingPwd, "billing"},
		{"frontdesk", "frontdesk123", "frontdesk"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key string, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// NewSeeded returns a store populated with a small ward: a few patients,
// beds, one active admission and a mixed bag of invoices so the dashboard
// has something to show in dev mode.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	s.usersByName = seedUsers()

	for _, ward := range []string{"general", "general", "icu", "icu"} {
		bed := &domain.Bed{
			ID:     xid.New("bed"),
			Ward:   ward,
			Number: fmt.Sprintf("%s-%d", strings.ToUpper(ward[:1]), len(s.bedsByID)+1),
			Status: domain.BedStatusAvailable,
		}
		s.bedsByID[bed.ID] = bed
	}

	patients := []*domain.Patient{
		{Name: "Asha Nair", Phone: "98200-11111", RegistrationType: domain.RegistrationTypeRoutine},
		{Name: "Ravi Menon", Phone: "98200-22222", RegistrationType: domain.RegistrationTypeEmergency},
		{Name: "Meera Pillai", Phone: "98200-33333", RegistrationType: domain.RegistrationTypeRoutine},
	}
	for _, p := range patients {
		p.ID = xid.New("pat")
		s.patientSeq++
		p.Code = fmt.Sprintf("P-%04d", s.patientSeq)
		p.CreatedAt = now
		s.patientsByID[p.ID] = p
	}

	// Admit the second patient into the first available bed.
	var admission *domain.Admission
	for _, bed := range s.bedsByID {
		admission = &domain.Admission{
			ID:         xid.New("adm"),
			PatientID:  patients[1].ID,
			BedID:      bed.ID,
			Diagnosis:  "observation",
			Status:     domain.AdmissionStatusActive,
			AdmittedAt: now.Add(-48 * time.Hour),
		}
		bed.Status = domain.BedStatusOccupied
		bed.PatientID = patients[1].ID
		s.admissionsByID[admission.ID] = admission
		break
	}

	seedInvoices := []struct {
		patient   *domain.Patient
		admission string
		invType   string
		total     int64
		paid      int64
		age       time.Duration
		overdue   bool
	}{
		{patients[0], "", domain.InvoiceTypeOPD, 120000, 120000, 96 * time.Hour, false},
		{patients[0], "", domain.InvoiceTypeLab, 45000, 0, 72 * time.Hour, false},
		{patients[1], admission.ID, domain.InvoiceTypeIPD, 860000, 200000, 40 * time.Hour, false},
		{patients[1], admission.ID, domain.InvoiceTypePharmacy, 63000, 0, 12 * time.Hour, false},
		{patients[2], "", domain.InvoiceTypeOPD, 30000, 0, 30 * 24 * time.Hour, true},
	}
	for _, seed := range seedInvoices {
		inv := s.buildInvoiceLocked(domain.NewInvoice{
			PatientID:     seed.patient.ID,
			AdmissionID:   seed.admission,
			Type:          seed.invType,
			SubtotalCents: seed.total,
			TotalCents:    seed.total,
			DueDate:       now.Add(-seed.age).Add(7 * 24 * time.Hour),
			Items: []domain.InvoiceItem{{
				Description:    "Seeded charges",
				Category:       domain.ItemCategoryOther,
				Quantity:       1,
				UnitPriceCents: seed.total,
				AmountCents:    seed.total,
			}},
		}, *seed.patient, now.Add(-seed.age))
		if seed.paid > 0 {
			inv.PaidCents = seed.paid
			inv.DueCents = inv.TotalCents - seed.paid
			inv.Status = domain.InvoiceStatusPartial
			if inv.DueCents <= 0 {
				inv.DueCents = 0
				inv.Status = domain.InvoiceStatusPaid
			}
		}
		if seed.overdue {
			inv.Status = domain.InvoiceStatusOverdue
			inv.DueDate = now.Add(-10 * 24 * time.Hour)
		}
		s.invoicesByID[inv.ID] = inv
	}

	return s
}

// buildInvoiceLocked assigns identity and initial payment state; callers
// hold the lock (or own the store exclusively during seeding).
func (s *Store) buildInvoiceLocked(in domain.NewInvoice, patient domain.Patient, createdAt time.Time) *domain.Invoice {
	s.invoiceSeq++
	return &domain.Invoice{
		ID:               xid.New("inv"),
		InvoiceNumber:    fmt.Sprintf("INV-%s-%05d", createdAt.Format("2006"), s.invoiceSeq),
		PatientID:        patient.ID,
		PatientName:      patient.Name,
		PatientCode:      patient.Code,
		RegistrationType: patient.RegistrationType,
		Type:             in.Type,
		AdmissionID:      in.AdmissionID,
		Items:            in.Items,
		SubtotalCents:    in.SubtotalCents,
		DiscountCents:    in.DiscountCents,
		TaxCents:         in.TaxCents,
		TotalCents:       in.TotalCents,
		PaidCents:        0,
		DueCents:         in.TotalCents,
		Status:           domain.InvoiceStatusPending,
		DueDate:          in.DueDate,
		CreatedAt:        createdAt,
	}
}

// withDerivedStatus flips pending/partial invoices past their due date to
// overdue at read time.
func withDerivedStatus(inv domain.Invoice, now time.Time) domain.Invoice {
	if inv.DueCents > 0 && !inv.DueDate.IsZero() && inv.DueDate.Before(now) {
		if inv.Status == domain.InvoiceStatusPending || inv.Status == domain.InvoiceStatusPartial {
			inv.Status = domain.InvoiceStatusOverdue
		}
	}
	return inv
}

func (s *Store) ListInvoices(_ context.Context) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	out := make([]domain.Invoice, 0, len(s.invoicesByID))
	for _, inv := range s.invoicesByID {
		out = append(out, withDerivedStatus(*inv, now))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoicesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := withDerivedStatus(*inv, time.Now().UTC())
	return &copied, nil
}

func (s *Store) CreateInvoice(_ context.Context, in domain.NewInvoice) (*domain.Invoice, error) {
	if in.PatientID == "" || len(in.Items) == 0 || in.TotalCents <= 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	patient, ok := s.patientsByID[in.PatientID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if in.AdmissionID != "" {
		if _, ok := s.admissionsByID[in.AdmissionID]; !ok {
			return nil, store.ErrNotFound
		}
	}

	inv := s.buildInvoiceLocked(in, *patient, time.Now().UTC())
	s.invoicesByID[inv.ID] = inv
	copied := *inv
	return &copied, nil
}

func (s *Store) UpdateInvoice(_ context.Context, id string, upd domain.InvoiceUpdate) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoicesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if upd.Status != nil {
		inv.Status = *upd.Status
	}
	if upd.DueDate != nil {
		inv.DueDate = *upd.DueDate
	}
	if upd.Type != nil {
		if !domain.IsInvoiceType(*upd.Type) {
			return nil, store.ErrValidation
		}
		inv.Type = *upd.Type
	}
	copied := *inv
	return &copied, nil
}

func (s *Store) AddPayment(_ context.Context, invoiceID string, p domain.PaymentRequest) (*domain.Invoice, error) {
	if p.AmountCents <= 0 || !domain.IsPaymentMethod(p.Method) {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoicesByID[invoiceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if p.AmountCents > inv.DueCents {
		return nil, fmt.Errorf("%w: payment exceeds due amount", store.ErrValidation)
	}

	inv.PaidCents += p.AmountCents
	inv.DueCents = inv.TotalCents - inv.PaidCents
	if inv.DueCents < 0 {
		inv.DueCents = 0
	}
	if inv.DueCents == 0 {
		inv.Status = domain.InvoiceStatusPaid
	} else {
		inv.Status = domain.InvoiceStatusPartial
	}

	s.paymentsByInv[invoiceID] = append(s.paymentsByInv[invoiceID], domain.Payment{
		ID:          xid.New("pay"),
		InvoiceID:   invoiceID,
		AmountCents: p.AmountCents,
		Method:      p.Method,
		Reference:   p.Reference,
		CreatedAt:   time.Now().UTC(),
	})

	copied := *inv
	return &copied, nil
}

func (s *Store) ListPayments(_ context.Context, invoiceID string) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.invoicesByID[invoiceID]; !ok {
		return nil, store.ErrNotFound
	}
	payments := s.paymentsByInv[invoiceID]
	out := make([]domain.Payment, len(payments))
	copy(out, payments)
	return out, nil
}

func (s *Store) CreatePatient(_ context.Context, p domain.Patient) (*domain.Patient, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = xid.New("pat")
	}
	if p.Code == "" {
		s.patientSeq++
		p.Code = fmt.Sprintf("P-%04d", s.patientSeq)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	stored := p
	s.patientsByID[p.ID] = &stored
	return &p, nil
}

func (s *Store) GetPatient(_ context.Context, id string) (*domain.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patientsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (s *Store) ListPatients(_ context.Context, search string, limit int) ([]domain.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search = strings.ToLower(strings.TrimSpace(search))
	out := make([]domain.Patient, 0, len(s.patientsByID))
	for _, p := range s.patientsByID {
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.Code), search) {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateAdmission(_ context.Context, a domain.Admission) (*domain.Admission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patientsByID[a.PatientID]; !ok {
		return nil, store.ErrNotFound
	}
	bed, ok := s.bedsByID[a.BedID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if bed.Status != domain.BedStatusAvailable {
		return nil, fmt.Errorf("%w: bed %s is not available", store.ErrValidation, bed.Number)
	}

	if a.ID == "" {
		a.ID = xid.New("adm")
	}
	a.Status = domain.AdmissionStatusActive
	if a.AdmittedAt.IsZero() {
		a.AdmittedAt = time.Now().UTC()
	}
	bed.Status = domain.BedStatusOccupied
	bed.PatientID = a.PatientID

	stored := a
	s.admissionsByID[a.ID] = &stored
	return &a, nil
}

func (s *Store) GetAdmission(_ context.Context, id string) (*domain.Admission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.admissionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (s *Store) DischargeAdmission(_ context.Context, id string, at time.Time) (*domain.Admission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.admissionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if a.Status == domain.AdmissionStatusDischarged {
		return nil, fmt.Errorf("%w: already discharged", store.ErrValidation)
	}

	a.Status = domain.AdmissionStatusDischarged
	discharged := at
	a.DischargedAt = &discharged

	if bed, ok := s.bedsByID[a.BedID]; ok {
		bed.Status = domain.BedStatusAvailable
		bed.PatientID = ""
	}

	copied := *a
	return &copied, nil
}

func (s *Store) ListAdmissions(_ context.Context, status string, limit int) ([]domain.Admission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Admission, 0, len(s.admissionsByID))
	for _, a := range s.admissionsByID {
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AdmittedAt.After(out[j].AdmittedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListBeds(_ context.Context, ward string) ([]domain.Bed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Bed, 0, len(s.bedsByID))
	for _, bed := range s.bedsByID {
		if ward != "" && bed.Ward != ward {
			continue
		}
		out = append(out, *bed)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *Store) GetBed(_ context.Context, id string) (*domain.Bed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bed, ok := s.bedsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *bed
	return &copied, nil
}

func (s *Store) UpdateBed(_ context.Context, bed domain.Bed) (*domain.Bed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.bedsByID[bed.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	existing.Status = bed.Status
	existing.PatientID = bed.PatientID
	copied := *existing
	return &copied, nil
}

func (s *Store) CreateLabOrder(_ context.Context, o domain.LabOrder) (*domain.LabOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patientsByID[o.PatientID]; !ok {
		return nil, store.ErrNotFound
	}
	if o.ID == "" {
		o.ID = xid.New("lab")
	}
	if o.Status == "" {
		o.Status = domain.LabOrderStatusOrdered
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	o.UpdatedAt = o.CreatedAt

	stored := o
	s.labOrdersByID[o.ID] = &stored
	return &o, nil
}

func (s *Store) ListLabOrders(_ context.Context, patientID string, limit int) ([]domain.LabOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.LabOrder, 0, len(s.labOrdersByID))
	for _, o := range s.labOrdersByID {
		if patientID != "" && o.PatientID != patientID {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateLabOrderStatus(_ context.Context, id string, status string, at time.Time) (*domain.LabOrder, error) {
	switch status {
	case domain.LabOrderStatusOrdered, domain.LabOrderStatusInProgress, domain.LabOrderStatusCompleted:
	default:
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.labOrdersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = at
	copied := *o
	return &copied, nil
}

func (s *Store) CreateNotification(_ context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == "" {
		n.ID = xid.New("ntf")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *Store) ListNotifications(_ context.Context, unreadOnly bool, limit int) ([]domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		if unreadOnly && n.Read {
			continue
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Read != out[j].Read {
			return !out[i].Read
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.notifications {
		if s.notifications[i].ID == id {
			s.notifications[i].Read = true
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditLog, 0, len(s.auditLogs))
	for _, entry := range s.auditLogs {
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !entry.CreatedAt.Before(to) {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.Password == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByName[username]; exists {
		return store.ErrValidation
	}
	user.Username = username
	s.usersByName[username] = user
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	username = strings.ToLower(strings.TrimSpace(username))

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByName[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := user
	return &copied, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.UserAccount, 0, len(s.usersByName))
	for _, user := range s.usersByName {
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByName[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByName[username] = user
	return nil
}

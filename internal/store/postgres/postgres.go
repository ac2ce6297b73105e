package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"caredesk/backend/internal/domain"
	"caredesk/backend/internal/store"
	"caredesk/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const invoiceColumns = `
	i.id, i.invoice_number, i.patient_id, p.name, p.code, p.registration_type,
	i.type, COALESCE(i.admission_id,''), i.items, i.subtotal_cents, i.discount_cents,
	i.tax_cents, i.total_cents, i.paid_cents, i.due_cents, i.status, i.due_date, i.created_at
`

func scanInvoice(row interface{ Scan(...any) error }) (*domain.Invoice, error) {
	var inv domain.Invoice
	var itemsRaw []byte
	err := row.Scan(
		&inv.ID,
		&inv.InvoiceNumber,
		&inv.PatientID,
		&inv.PatientName,
		&inv.PatientCode,
		&inv.RegistrationType,
		&inv.Type,
		&inv.AdmissionID,
		&itemsRaw,
		&inv.SubtotalCents,
		&inv.DiscountCents,
		&inv.TaxCents,
		&inv.TotalCents,
		&inv.PaidCents,
		&inv.DueCents,
		&inv.Status,
		&inv.DueDate,
		&inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.DueDate = inv.DueDate.UTC()
	inv.CreatedAt = inv.CreatedAt.UTC()
	if len(itemsRaw) > 0 {
		if err := json.Unmarshal(itemsRaw, &inv.Items); err != nil {
			return nil, err
		}
	}
	deriveOverdue(&inv, time.Now().UTC())
	return &inv, nil
}

// deriveOverdue flips pending/partial invoices past their due date at read
// time; the stored status stays untouched.
func deriveOverdue(inv *domain.Invoice, now time.Time) {
	if inv.DueCents > 0 && !inv.DueDate.IsZero() && inv.DueDate.Before(now) {
		if inv.Status == domain.InvoiceStatusPending || inv.Status == domain.InvoiceStatusPartial {
			inv.Status = domain.InvoiceStatusOverdue
		}
	}
}

func (s *Store) ListInvoices(ctx context.Context) ([]domain.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices i
		JOIN patients p ON p.id = i.patient_id
		ORDER BY i.created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, 128)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return invoices, nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	inv, err := scanInvoice(s.db.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices i
		JOIN patients p ON p.id = i.patient_id
		WHERE i.id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return inv, nil
}

func (s *Store) CreateInvoice(ctx context.Context, in domain.NewInvoice) (*domain.Invoice, error) {
	if in.PatientID == "" || len(in.Items) == 0 || in.TotalCents <= 0 {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var patient domain.Patient
	err = tx.QueryRowContext(ctx, `
		SELECT id, code, name, registration_type
		FROM patients
		WHERE id = $1
	`, in.PatientID).Scan(&patient.ID, &patient.Code, &patient.Name, &patient.RegistrationType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if in.AdmissionID != "" {
		var exists bool
		err = tx.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM admissions WHERE id = $1)
		`, in.AdmissionID).Scan(&exists)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, store.ErrNotFound
		}
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT nextval('invoice_number_seq')`).Scan(&seq); err != nil {
		return nil, err
	}

	itemsJSON, err := json.Marshal(in.Items)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	inv := domain.Invoice{
		ID:               xid.New("inv"),
		InvoiceNumber:    fmt.Sprintf("INV-%s-%05d", now.Format("2006"), seq),
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
		DueCents:         in.TotalCents,
		Status:           domain.InvoiceStatusPending,
		DueDate:          in.DueDate,
		CreatedAt:        now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoices (
			id, invoice_number, patient_id, admission_id, type, items,
			subtotal_cents, discount_cents, tax_cents, total_cents,
			paid_cents, due_cents, status, due_date, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,now())
	`, inv.ID, inv.InvoiceNumber, inv.PatientID, nullIfEmpty(inv.AdmissionID), inv.Type, itemsJSON,
		inv.SubtotalCents, inv.DiscountCents, inv.TaxCents, inv.TotalCents,
		inv.PaidCents, inv.DueCents, inv.Status, inv.DueDate, inv.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *Store) UpdateInvoice(ctx context.Context, id string, upd domain.InvoiceUpdate) (*domain.Invoice, error) {
	if upd.Type != nil && !domain.IsInvoiceType(*upd.Type) {
		return nil, store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE invoices
		SET status = COALESCE($2, status),
			due_date = COALESCE($3, due_date),
			type = COALESCE($4, type),
			updated_at = now()
		WHERE id = $1
	`, id, upd.Status, upd.DueDate, upd.Type)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	return s.GetInvoice(ctx, id)
}

func (s *Store) AddPayment(ctx context.Context, invoiceID string, p domain.PaymentRequest) (*domain.Invoice, error) {
	if p.AmountCents <= 0 || !domain.IsPaymentMethod(p.Method) {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var totalCents, paidCents int64
	err = tx.QueryRowContext(ctx, `
		SELECT total_cents, paid_cents
		FROM invoices
		WHERE id = $1
		FOR UPDATE
	`, invoiceID).Scan(&totalCents, &paidCents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	dueCents := totalCents - paidCents
	if dueCents < 0 {
		dueCents = 0
	}
	if p.AmountCents > dueCents {
		return nil, fmt.Errorf("%w: payment exceeds due amount", store.ErrValidation)
	}

	nextPaid := paidCents + p.AmountCents
	nextDue := totalCents - nextPaid
	if nextDue < 0 {
		nextDue = 0
	}
	nextStatus := domain.InvoiceStatusPartial
	if nextDue == 0 {
		nextStatus = domain.InvoiceStatusPaid
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE invoices
		SET paid_cents = $2, due_cents = $3, status = $4, updated_at = now()
		WHERE id = $1
	`, invoiceID, nextPaid, nextDue, nextStatus)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (id, invoice_id, amount_cents, method, reference, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, xid.New("pay"), invoiceID, p.AmountCents, p.Method, nullIfEmpty(p.Reference), time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.GetInvoice(ctx, invoiceID)
}

func (s *Store) ListPayments(ctx context.Context, invoiceID string) ([]domain.Payment, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM invoices WHERE id = $1)
	`, invoiceID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_id, amount_cents, method, COALESCE(reference,''), created_at
		FROM payments
		WHERE invoice_id = $1
		ORDER BY created_at ASC
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 8)
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.AmountCents, &p.Method, &p.Reference, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

func (s *Store) CreatePatient(ctx context.Context, p domain.Patient) (*domain.Patient, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return nil, store.ErrValidation
	}
	if p.ID == "" {
		p.ID = xid.New("pat")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if p.Code == "" {
		var seq int64
		if err := tx.QueryRowContext(ctx, `SELECT nextval('patient_code_seq')`).Scan(&seq); err != nil {
			return nil, err
		}
		p.Code = fmt.Sprintf("P-%04d", seq)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO patients (id, code, name, phone, registration_type, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, p.ID, p.Code, p.Name, nullIfEmpty(p.Phone), p.RegistrationType, p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetPatient(ctx context.Context, id string) (*domain.Patient, error) {
	var p domain.Patient
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, name, COALESCE(phone,''), registration_type, created_at
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Code, &p.Name, &p.Phone, &p.RegistrationType, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (s *Store) ListPatients(ctx context.Context, search string, limit int) ([]domain.Patient, error) {
	if limit < 1 {
		limit = 100
	}
	search = strings.TrimSpace(search)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, name, COALESCE(phone,''), registration_type, created_at
		FROM patients
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' OR code ILIKE '%' || $1 || '%')
		ORDER BY code ASC
		LIMIT $2
	`, search, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	patients := make([]domain.Patient, 0, limit)
	for rows.Next() {
		var p domain.Patient
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Phone, &p.RegistrationType, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return patients, nil
}

func (s *Store) CreateAdmission(ctx context.Context, a domain.Admission) (*domain.Admission, error) {
	if a.ID == "" {
		a.ID = xid.New("adm")
	}
	a.Status = domain.AdmissionStatusActive
	if a.AdmittedAt.IsZero() {
		a.AdmittedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var bedStatus, bedNumber string
	err = tx.QueryRowContext(ctx, `
		SELECT status, number
		FROM beds
		WHERE id = $1
		FOR UPDATE
	`, a.BedID).Scan(&bedStatus, &bedNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if bedStatus != domain.BedStatusAvailable {
		return nil, fmt.Errorf("%w: bed %s is not available", store.ErrValidation, bedNumber)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO admissions (id, patient_id, bed_id, diagnosis, status, admitted_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, a.ID, a.PatientID, a.BedID, strings.TrimSpace(a.Diagnosis), a.Status, a.AdmittedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE beds
		SET status = $2, patient_id = $3, updated_at = now()
		WHERE id = $1
	`, a.BedID, domain.BedStatusOccupied, a.PatientID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) GetAdmission(ctx context.Context, id string) (*domain.Admission, error) {
	var a domain.Admission
	var dischargedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, patient_id, bed_id, COALESCE(diagnosis,''), status, admitted_at, discharged_at
		FROM admissions
		WHERE id = $1
	`, id).Scan(&a.ID, &a.PatientID, &a.BedID, &a.Diagnosis, &a.Status, &a.AdmittedAt, &dischargedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	a.AdmittedAt = a.AdmittedAt.UTC()
	if dischargedAt.Valid {
		at := dischargedAt.Time.UTC()
		a.DischargedAt = &at
	}
	return &a, nil
}

func (s *Store) DischargeAdmission(ctx context.Context, id string, at time.Time) (*domain.Admission, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var a domain.Admission
	err = tx.QueryRowContext(ctx, `
		SELECT id, patient_id, bed_id, COALESCE(diagnosis,''), status, admitted_at
		FROM admissions
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&a.ID, &a.PatientID, &a.BedID, &a.Diagnosis, &a.Status, &a.AdmittedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if a.Status == domain.AdmissionStatusDischarged {
		return nil, fmt.Errorf("%w: already discharged", store.ErrValidation)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE admissions
		SET status = $2, discharged_at = $3
		WHERE id = $1
	`, id, domain.AdmissionStatusDischarged, at)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE beds
		SET status = $2, patient_id = NULL, updated_at = now()
		WHERE id = $1
	`, a.BedID, domain.BedStatusAvailable)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	a.Status = domain.AdmissionStatusDischarged
	a.AdmittedAt = a.AdmittedAt.UTC()
	discharged := at
	a.DischargedAt = &discharged
	return &a, nil
}

func (s *Store) ListAdmissions(ctx context.Context, status string, limit int) ([]domain.Admission, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, patient_id, bed_id, COALESCE(diagnosis,''), status, admitted_at, discharged_at
		FROM admissions
		WHERE ($1 = '' OR status = $1)
		ORDER BY admitted_at DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	admissions := make([]domain.Admission, 0, limit)
	for rows.Next() {
		var a domain.Admission
		var dischargedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.PatientID, &a.BedID, &a.Diagnosis, &a.Status, &a.AdmittedAt, &dischargedAt); err != nil {
			return nil, err
		}
		a.AdmittedAt = a.AdmittedAt.UTC()
		if dischargedAt.Valid {
			at := dischargedAt.Time.UTC()
			a.DischargedAt = &at
		}
		admissions = append(admissions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return admissions, nil
}

func (s *Store) ListBeds(ctx context.Context, ward string) ([]domain.Bed, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ward, number, status, COALESCE(patient_id,'')
		FROM beds
		WHERE ($1 = '' OR ward = $1)
		ORDER BY number ASC
	`, ward)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	beds := make([]domain.Bed, 0, 32)
	for rows.Next() {
		var bed domain.Bed
		if err := rows.Scan(&bed.ID, &bed.Ward, &bed.Number, &bed.Status, &bed.PatientID); err != nil {
			return nil, err
		}
		beds = append(beds, bed)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return beds, nil
}

func (s *Store) GetBed(ctx context.Context, id string) (*domain.Bed, error) {
	var bed domain.Bed
	err := s.db.QueryRowContext(ctx, `
		SELECT id, ward, number, status, COALESCE(patient_id,'')
		FROM beds
		WHERE id = $1
	`, id).Scan(&bed.ID, &bed.Ward, &bed.Number, &bed.Status, &bed.PatientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &bed, nil
}

func (s *Store) UpdateBed(ctx context.Context, bed domain.Bed) (*domain.Bed, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE beds
		SET status = $2, patient_id = $3, updated_at = now()
		WHERE id = $1
	`, bed.ID, bed.Status, nullIfEmpty(bed.PatientID))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetBed(ctx, bed.ID)
}

func (s *Store) CreateLabOrder(ctx context.Context, o domain.LabOrder) (*domain.LabOrder, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lab_orders (id, patient_id, test_name, status, ordered_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, o.ID, o.PatientID, o.TestName, o.Status, nullIfEmpty(o.OrderedBy), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (s *Store) ListLabOrders(ctx context.Context, patientID string, limit int) ([]domain.LabOrder, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, patient_id, test_name, status, COALESCE(ordered_by,''), created_at, updated_at
		FROM lab_orders
		WHERE ($1 = '' OR patient_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, patientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.LabOrder, 0, limit)
	for rows.Next() {
		var o domain.LabOrder
		if err := rows.Scan(&o.ID, &o.PatientID, &o.TestName, &o.Status, &o.OrderedBy, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.CreatedAt = o.CreatedAt.UTC()
		o.UpdatedAt = o.UpdatedAt.UTC()
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) UpdateLabOrderStatus(ctx context.Context, id string, status string, at time.Time) (*domain.LabOrder, error) {
	switch status {
	case domain.LabOrderStatusOrdered, domain.LabOrderStatusInProgress, domain.LabOrderStatusCompleted:
	default:
		return nil, store.ErrValidation
	}

	var o domain.LabOrder
	var orderedBy sql.NullString
	err := s.db.QueryRowContext(ctx, `
		UPDATE lab_orders
		SET status = $2, updated_at = $3
		WHERE id = $1
		RETURNING id, patient_id, test_name, status, ordered_by, created_at, updated_at
	`, id, status, at).Scan(&o.ID, &o.PatientID, &o.TestName, &o.Status, &orderedBy, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if orderedBy.Valid {
		o.OrderedBy = orderedBy.String
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}

func (s *Store) CreateNotification(ctx context.Context, n domain.Notification) error {
	if n.ID == "" {
		n.ID = xid.New("ntf")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, kind, message, read, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, n.ID, n.Kind, n.Message, n.Read, n.CreatedAt)
	return err
}

func (s *Store) ListNotifications(ctx context.Context, unreadOnly bool, limit int) ([]domain.Notification, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, message, read, created_at
		FROM notifications
		WHERE ($1 = false OR read = false)
		ORDER BY read ASC, created_at DESC
		LIMIT $2
	`, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := make([]domain.Notification, 0, limit)
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.Kind, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.CreatedAt = n.CreatedAt.UTC()
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notifications, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET read = true
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
			AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, nullTimeValue(from), nullTimeValue(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if user.Role == "" {
		user.Role = "frontdesk"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrValidation
		}
		return err
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	username = strings.ToLower(strings.TrimSpace(username))

	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		WHERE username = $1
	`, username).Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTimeValue(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val
}

package store

import (
	"context"
	"errors"
	"time"

	"caredesk/backend/internal/domain"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("validation failed")
	ErrRemoteStore = errors.New("invoice store unavailable")
)

// InvoiceStore is the authoritative home of invoices and payments. The
// billing engine talks only to this interface; implementations may be local
// (memory, postgres) or a client for a remote invoice service.
type InvoiceStore interface {
	ListInvoices(ctx context.Context) ([]domain.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	CreateInvoice(ctx context.Context, inv domain.NewInvoice) (*domain.Invoice, error)
	UpdateInvoice(ctx context.Context, id string, upd domain.InvoiceUpdate) (*domain.Invoice, error)
	// AddPayment applies one payment to one invoice. Implementations must
	// reject non-positive amounts and amounts exceeding the invoice due, and
	// must keep DueCents == max(0, TotalCents-PaidCents) after the mutation.
	AddPayment(ctx context.Context, invoiceID string, p domain.PaymentRequest) (*domain.Invoice, error)
	ListPayments(ctx context.Context, invoiceID string) ([]domain.Payment, error)
}

// Repository is the full persistence surface for the dashboard: the invoice
// store plus the routine hospital records and auth/audit storage.
type Repository interface {
	InvoiceStore

	CreatePatient(ctx context.Context, p domain.Patient) (*domain.Patient, error)
	GetPatient(ctx context.Context, id string) (*domain.Patient, error)
	ListPatients(ctx context.Context, search string, limit int) ([]domain.Patient, error)

	CreateAdmission(ctx context.Context, a domain.Admission) (*domain.Admission, error)
	GetAdmission(ctx context.Context, id string) (*domain.Admission, error)
	DischargeAdmission(ctx context.Context, id string, at time.Time) (*domain.Admission, error)
	ListAdmissions(ctx context.Context, status string, limit int) ([]domain.Admission, error)

	ListBeds(ctx context.Context, ward string) ([]domain.Bed, error)
	GetBed(ctx context.Context, id string) (*domain.Bed, error)
	UpdateBed(ctx context.Context, bed domain.Bed) (*domain.Bed, error)

	CreateLabOrder(ctx context.Context, o domain.LabOrder) (*domain.LabOrder, error)
	ListLabOrders(ctx context.Context, patientID string, limit int) ([]domain.LabOrder, error)
	UpdateLabOrderStatus(ctx context.Context, id string, status string, at time.Time) (*domain.LabOrder, error)

	CreateNotification(ctx context.Context, n domain.Notification) error
	ListNotifications(ctx context.Context, unreadOnly bool, limit int) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

package cache

import (
	"context"
	"sync"

	"caredesk/backend/internal/domain"
)

// InvoiceCache holds a transient copy of the invoice list. The remote store
// stays authoritative; the cache only exists so dashboard reads and
// optimistic payment updates do not wait on a refetch. There is no version
// check between writers: last snapshot stored wins.
type InvoiceCache interface {
	Snapshot(ctx context.Context) ([]domain.Invoice, bool, error)
	Store(ctx context.Context, invoices []domain.Invoice) error
	Invalidate(ctx context.Context) error
}

type NoopInvoiceCache struct{}

func (NoopInvoiceCache) Snapshot(_ context.Context) ([]domain.Invoice, bool, error) {
	return nil, false, nil
}

func (NoopInvoiceCache) Store(_ context.Context, _ []domain.Invoice) error {
	return nil
}

func (NoopInvoiceCache) Invalidate(_ context.Context) error {
	return nil
}

// MemoryInvoiceCache is a process-local snapshot cache used in dev mode and
// in tests that need to observe optimistic state.
type MemoryInvoiceCache struct {
	mu       sync.RWMutex
	invoices []domain.Invoice
	valid    bool
}

func NewMemoryInvoiceCache() *MemoryInvoiceCache {
	return &MemoryInvoiceCache{}
}

func (c *MemoryInvoiceCache) Snapshot(_ context.Context) ([]domain.Invoice, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.valid {
		return nil, false, nil
	}
	out := make([]domain.Invoice, len(c.invoices))
	copy(out, c.invoices)
	return out, true, nil
}

func (c *MemoryInvoiceCache) Store(_ context.Context, invoices []domain.Invoice) error {
	kept := make([]domain.Invoice, len(invoices))
	copy(kept, invoices)
	c.mu.Lock()
	c.invoices = kept
	c.valid = true
	c.mu.Unlock()
	return nil
}

func (c *MemoryInvoiceCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	c.invoices = nil
	c.valid = false
	c.mu.Unlock()
	return nil
}

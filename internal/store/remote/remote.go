// Package remote implements the invoice store against a separate invoice
// service over HTTP. The billing engine stays unaware of which backend it is
// talking to; transport failures surface as store.ErrRemoteStore so callers
// can fall back to cached snapshots.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"caredesk/backend/internal/domain"
	"caredesk/backend/internal/store"
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL string, apiKey string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("remote invoice store: base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("remote invoice store: invalid base URL: %w", err)
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}, nil
}

func (c *Client) ListInvoices(ctx context.Context) ([]domain.Invoice, error) {
	var invoices []domain.Invoice
	if err := c.do(ctx, http.MethodGet, "/api/invoices", nil, &invoices); err != nil {
		return nil, err
	}
	return invoices, nil
}

func (c *Client) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	var inv domain.Invoice
	if err := c.do(ctx, http.MethodGet, "/api/invoices/"+url.PathEscape(id), nil, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (c *Client) CreateInvoice(ctx context.Context, in domain.NewInvoice) (*domain.Invoice, error) {
	var inv domain.Invoice
	if err := c.do(ctx, http.MethodPost, "/api/invoices", in, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (c *Client) UpdateInvoice(ctx context.Context, id string, upd domain.InvoiceUpdate) (*domain.Invoice, error) {
	var inv domain.Invoice
	if err := c.do(ctx, http.MethodPatch, "/api/invoices/"+url.PathEscape(id), upd, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (c *Client) AddPayment(ctx context.Context, invoiceID string, p domain.PaymentRequest) (*domain.Invoice, error) {
	var inv domain.Invoice
	path := "/api/invoices/" + url.PathEscape(invoiceID) + "/payments"
	if err := c.do(ctx, http.MethodPost, path, p, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (c *Client) ListPayments(ctx context.Context, invoiceID string) ([]domain.Payment, error) {
	var payments []domain.Payment
	path := "/api/invoices/" + url.PathEscape(invoiceID) + "/payments"
	if err := c.do(ctx, http.MethodGet, path, nil, &payments); err != nil {
		return nil, err
	}
	return payments, nil
}

func (c *Client) do(ctx context.Context, method string, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", store.ErrRemoteStore, method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return store.ErrNotFound
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", store.ErrValidation, readErrorMessage(resp.Body))
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s %s returned %d", store.ErrRemoteStore, method, path, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%s %s returned unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s %s response: %v", store.ErrRemoteStore, method, path, err)
	}
	return nil
}

func readErrorMessage(body io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(body, 4096)).Decode(&payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return "request rejected"
}

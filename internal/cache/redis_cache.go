package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"caredesk/backend/internal/domain"
)

const invoiceSnapshotKey = "caredesk:invoices:snapshot"

// RedisInvoiceCache shares the invoice snapshot across dashboard instances.
type RedisInvoiceCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisInvoiceCache(addr string, password string, db int, ttl time.Duration) *RedisInvoiceCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if ttl <= 0 {
		ttl = time.Minute
	}

	return &RedisInvoiceCache{client: client, ttl: ttl}
}

func (c *RedisInvoiceCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisInvoiceCache) Close() error {
	return c.client.Close()
}

func (c *RedisInvoiceCache) Snapshot(ctx context.Context) ([]domain.Invoice, bool, error) {
	val, err := c.client.Get(ctx, invoiceSnapshotKey).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var invoices []domain.Invoice
	if err := json.Unmarshal([]byte(val), &invoices); err != nil {
		return nil, false, err
	}
	return invoices, true, nil
}

func (c *RedisInvoiceCache) Store(ctx context.Context, invoices []domain.Invoice) error {
	payload, err := json.Marshal(invoices)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, invoiceSnapshotKey, payload, c.ttl).Err()
}

func (c *RedisInvoiceCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, invoiceSnapshotKey).Err()
}

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"caredesk/backend/internal/cache"
	"caredesk/backend/internal/config"
	"caredesk/backend/internal/httpapi"
	"caredesk/backend/internal/service"
	"caredesk/backend/internal/store"
	"caredesk/backend/internal/store/memory"
	pgstore "caredesk/backend/internal/store/postgres"
	"caredesk/backend/internal/store/remote"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		} else {
			repo = pg
			closers = append(closers, pg.Close)
			log.Println("repository: postgres")
		}
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	var invoices store.InvoiceStore
	if cfg.RemoteInvoiceURL != "" {
		remoteStore, err := remote.New(cfg.RemoteInvoiceURL, cfg.RemoteInvoiceAPIKey)
		if err != nil {
			log.Fatalf("invalid REMOTE_INVOICE_URL: %v", err)
		}
		invoices = remoteStore
		log.Println("invoice store: remote billing system")
	} else {
		log.Println("invoice store: repository")
	}

	invoiceCache := cache.InvoiceCache(cache.NewMemoryInvoiceCache())
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisInvoiceCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, time.Duration(cfg.InvoiceCacheTTLSeconds)*time.Second)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using in-process cache", err)
		} else {
			invoiceCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: in-process")
	}

	svc := service.New(repo, invoices, invoiceCache)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go runOverdueSweep(sweepCtx, svc, time.Duration(cfg.OverdueSweepMinutes)*time.Minute)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("caredesk backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	sweepCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

// runOverdueSweep periodically raises notifications for invoices whose due
// date has passed. One run fires immediately so a restart does not wait a
// full interval before surfacing overdue work.
func runOverdueSweep(ctx context.Context, svc *service.Service, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	sweep := func() {
		count, err := svc.OverdueSweep(ctx)
		if err != nil {
			log.Printf("[sweep] WARN: overdue sweep failed: %v", err)
			return
		}
		if count > 0 {
			log.Printf("[sweep] raised %d overdue notifications", count)
		}
	}

	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}

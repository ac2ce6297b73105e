package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadClampsBadNumericValues(t *testing.T) {
	t.Setenv("INVOICE_CACHE_TTL_SECONDS", "not-a-number")
	t.Setenv("OVERDUE_SWEEP_MINUTES", "-3")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "0")

	cfg := Load()
	if cfg.InvoiceCacheTTLSeconds != 60 {
		t.Fatalf("expected cache TTL fallback 60, got %d", cfg.InvoiceCacheTTLSeconds)
	}
	if cfg.OverdueSweepMinutes != 15 {
		t.Fatalf("expected sweep fallback 15, got %d", cfg.OverdueSweepMinutes)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected token TTL fallback 480, got %d", cfg.AccessTokenTTLMinutes)
	}
}

func TestAddressUsesPort(t *testing.T) {
	t.Setenv("PORT", "9001")

	cfg := Load()
	if cfg.Address() != ":9001" {
		t.Fatalf("expected :9001, got %s", cfg.Address())
	}
}

package postgres

import (
	"strings"
	"testing"
	"time"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if !strings.Contains(cfg.URL, "patchlab") {
		t.Fatalf("default URL = %q", cfg.URL)
	}
	if cfg.PingTimeout != 2*time.Second {
		t.Fatalf("ping timeout = %v", cfg.PingTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}

func TestConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://other:5432/ledger")
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "3")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.URL != "postgres://other:5432/ledger" || cfg.MaxOpenConns != 3 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	cfg.URL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty URL must be rejected")
	}
}

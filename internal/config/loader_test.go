package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.DBName != "marketsync" {
		t.Fatalf("expected default dbname, got %q", cfg.Database.DBName)
	}
	if cfg.Reports.PollInterval != time.Minute || cfg.Reports.MaxAttempts != 60 {
		t.Fatalf("unexpected poll defaults: %+v", cfg.Reports)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if cfg.Marketplace.Configured() {
		t.Fatalf("expected marketplace credentials to be absent")
	}
	if cfg.Marketplace.RequestsPerSecond != 1 || cfg.Marketplace.Burst != 5 {
		t.Fatalf("unexpected fallback rate limit: %v/%d", cfg.Marketplace.RequestsPerSecond, cfg.Marketplace.Burst)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	yaml := `
database:
  host: db.internal
  port: 6543
marketplace:
  region: na
  client_id: amzn1.application-oa2-client.x
  client_secret: secret
  refresh_token: Atzr|token
  aws_access_key_id: AKID
  aws_secret_access_key: SECRET
reports:
  poll_interval: 30s
  workers: 4
server:
  allowed_origins:
    - https://app.example.com
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MARKETSYNC_DATABASE_PASSWORD", "from-env")
	t.Setenv("MARKETSYNC_REPORTS_MAX_ATTEMPTS", "5")

	cfg, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Host != "db.internal" || cfg.Database.Port != 6543 {
		t.Fatalf("unexpected database section: %+v", cfg.Database)
	}
	if cfg.Database.Password != "from-env" {
		t.Fatalf("expected env password override, got %q", cfg.Database.Password)
	}
	if cfg.Reports.PollInterval != 30*time.Second || cfg.Reports.Workers != 4 || cfg.Reports.MaxAttempts != 5 {
		t.Fatalf("unexpected reports section: %+v", cfg.Reports)
	}
	if cfg.Marketplace.Region != "na" || !cfg.Marketplace.Configured() {
		t.Fatalf("unexpected marketplace section: %+v", cfg.Marketplace)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://app.example.com" {
		t.Fatalf("unexpected origins: %v", cfg.Server.AllowedOrigins)
	}
}

func TestLoadRejectsUnknownRegion(t *testing.T) {
	t.Setenv("MARKETSYNC_MARKETPLACE_REGION", "mars")
	_, err := Load(t.TempDir(), nil)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "Region") {
		t.Fatalf("expected region in error, got %v", err)
	}
}

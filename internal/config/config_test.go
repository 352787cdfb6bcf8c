package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validYAML = `
system:
  instance_id: "test-01"
  mode: "simulated"
  log_level: "DEBUG"
  timezone: "UTC"

server:
  addr: ":8080"
  dashboard_url: "http://localhost:3000"

venues:
  binance:
    enabled: true
    rest_url: "https://api.binance.com"

realtime:
  poll_interval_ms: 2500

persistence:
  order_log_db: "data/gateway.db"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.System.InstanceID != "test-01" || cfg.System.Mode != "simulated" {
		t.Fatalf("system config: %+v", cfg.System)
	}
	if cfg.Realtime.PollInterval() != 2500*time.Millisecond {
		t.Fatalf("poll interval: %v", cfg.Realtime.PollInterval())
	}
	if !cfg.Venues["binance"].Enabled {
		t.Fatal("binance venue not enabled")
	}
	if Get() != cfg {
		t.Fatal("global config pointer not updated")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Persistence.ColdStorePoolSize != 10 {
		t.Fatalf("cold store pool default: %d", cfg.Persistence.ColdStorePoolSize)
	}
	if cfg.Persistence.RetentionDays != 30 {
		t.Fatalf("retention default: %d", cfg.Persistence.RetentionDays)
	}
	if cfg.Persistence.WriteBufferSize != 256 {
		t.Fatalf("write buffer default: %d", cfg.Persistence.WriteBufferSize)
	}
	if cfg.Realtime.BackoffBase() != 0 {
		t.Fatalf("backoff default: %v", cfg.Realtime.BackoffBase())
	}
}

func TestLoadRejectsBadMode(t *testing.T) {
	bad := `
system:
  instance_id: "test-01"
  mode: "paper"
  log_level: "INFO"
  timezone: "UTC"

server:
  addr: ":8080"
  dashboard_url: "http://localhost:3000"

venues:
  binance:
    enabled: false

realtime:
  poll_interval_ms: 2500

persistence:
  order_log_db: "data/gateway.db"
`
	if _, err := Load(writeConfig(t, bad)); err == nil {
		t.Fatal("invalid mode accepted")
	}
}

func TestLoadRejectsEnabledVenueWithoutURL(t *testing.T) {
	bad := `
system:
  instance_id: "test-01"
  mode: "live"
  log_level: "INFO"
  timezone: "UTC"

server:
  addr: ":8080"
  dashboard_url: "http://localhost:3000"

venues:
  binance:
    enabled: true

realtime:
  poll_interval_ms: 2500

persistence:
  order_log_db: "data/gateway.db"
`
	if _, err := Load(writeConfig(t, bad)); err == nil {
		t.Fatal("enabled venue without rest_url accepted")
	}
}

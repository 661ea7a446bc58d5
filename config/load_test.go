package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
env: test
server:
  addr: ":8081"
store:
  inMemory: true
queue:
  inMemory: true
  maxAttempts: 2
  backoffBaseMs: 10
  completedRetention: 5
  failedRetention: 5
worker:
  concurrency: 4
  windowLimit: 20
  windowIntervalMs: 1000
routing:
  confirmationDelayMs: 5
  execMinDelayMs: 1
  execMaxDelayMs: 2
  venues:
    - name: VenueA
      priceMin: 0.9
      priceMax: 1.1
      feeRate: 0.003
      quoteLatencyMs: 1
    - name: VenueB
      priceMin: 0.8
      priceMax: 1.2
      feeRate: 0.002
      quoteLatencyMs: 1
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeTemp(t, sampleYAML))
	if err != nil {
		t.Fatalf("load err: %v", err)
	}
	if cfg.Env != "test" {
		t.Fatalf("expected env test, got %s", cfg.Env)
	}
	if cfg.Worker.Concurrency != 4 {
		t.Fatalf("expected concurrency 4, got %d", cfg.Worker.Concurrency)
	}
	if len(cfg.Routing.Venues) != 2 {
		t.Fatalf("expected 2 venues, got %d", len(cfg.Routing.Venues))
	}
	if cfg.Routing.Venues[1].FeeRate != 0.002 {
		t.Fatalf("unexpected feeRate: %v", cfg.Routing.Venues[1].FeeRate)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	minimal := `
env: test
store:
  inMemory: true
queue:
  inMemory: true
routing:
  venues:
    - name: Only
      priceMin: 1
      priceMax: 2
      feeRate: 0.001
`
	cfg, err := Load(writeTemp(t, minimal))
	if err != nil {
		t.Fatalf("load err: %v", err)
	}
	if cfg.Queue.MaxAttempts != 3 {
		t.Fatalf("expected default maxAttempts 3, got %d", cfg.Queue.MaxAttempts)
	}
	if cfg.Worker.WindowLimit != 100 || cfg.Worker.WindowIntervalMs != 60000 {
		t.Fatalf("expected default admission window 100/60s")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("TR_SERVER_ADDR", ":9999")
	cfg, err := LoadWithEnvOverrides(writeTemp(t, sampleYAML))
	if err != nil {
		t.Fatalf("load err: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Fatalf("expected env override addr, got %s", cfg.Server.Addr)
	}
}

func TestValidateRejectsBadVenue(t *testing.T) {
	cfg := Default()
	cfg.Routing.Venues[0].PriceMin = -1
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected price range error")
	}

	cfg = Default()
	cfg.Routing.Venues[1].FeeRate = 1.5
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected feeRate error")
	}

	cfg = Default()
	cfg.Routing.Venues[1].Name = cfg.Routing.Venues[0].Name
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected duplicate venue error")
	}
}

func TestValidateRejectsBadWorker(t *testing.T) {
	cfg := Default()
	cfg.Worker.Concurrency = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected concurrency error")
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	return path
}

const minimalConfig = `
app:
  environment: development
brokers:
  - name: paper-main
    kind: paper
    commission_rate: 0.0005
    avg_latency_ms: 20
    liquidity_score: 0.9
database:
  in_memory: true
`

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Ledger.InitialCash != 100000 {
		t.Errorf("expected default initial cash, got %f", cfg.Ledger.InitialCash)
	}
	if cfg.Execution.Mode != "dryrun" {
		t.Errorf("expected default execution mode dryrun, got %q", cfg.Execution.Mode)
	}
	if cfg.Router.AttemptTimeout != 5*time.Second {
		t.Errorf("expected default attempt timeout 5s, got %v", cfg.Router.AttemptTimeout)
	}
	if cfg.IsProduction() {
		t.Errorf("development environment must not be production")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoad_RejectsInvalidMode(t *testing.T) {
	body := strings.Replace(minimalConfig, "database:", "execution:\n  mode: turbo\ndatabase:", 1)
	_, err := Load(writeConfig(t, body))
	if err == nil {
		t.Fatalf("expected validation error for execution.mode")
	}
	if !strings.Contains(err.Error(), "execution.mode") {
		t.Errorf("error should name execution.mode, got %v", err)
	}
}

func TestValidate_SentimentNeedsFeed(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg.Sentiment.Enabled = true
	cfg.Sentiment.FeedURL = ""
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "sentiment.feed_url") {
		t.Errorf("expected feed_url validation error, got %v", err)
	}

	cfg.Sentiment.FeedURL = "http://127.0.0.1:9000/headlines"
	if err := cfg.Validate(); err != nil {
		t.Errorf("feed_url set should pass validation, got %v", err)
	}
}

func TestLoad_SimFillForbiddenInProduction(t *testing.T) {
	body := strings.Replace(minimalConfig, "environment: development", "environment: production", 1)
	body = strings.Replace(body, "database:", "router:\n  allow_sim_fill: true\ndatabase:", 1)

	_, err := Load(writeConfig(t, body))
	if err == nil || !strings.Contains(err.Error(), "allow_sim_fill") {
		t.Errorf("expected sim fill rejected in production, got %v", err)
	}
}

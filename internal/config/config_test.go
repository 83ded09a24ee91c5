package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/allenlavoie/topic-pov/internal/store"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if cfg.Model.Topics != 10 || cfg.Model.PovsPerTopic != 2 {
		t.Errorf("expected 10 topics x 2 povs, got %d x %d", cfg.Model.Topics, cfg.Model.PovsPerTopic)
	}
	if cfg.Sampler.OpenMode != "staged" {
		t.Errorf("expected open mode 'staged', got %q", cfg.Sampler.OpenMode)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Server.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
model:
  topics: 3
sampler:
  threads: 4
server:
  port: 9000
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.Model.Topics != 3 {
		t.Errorf("expected 3 topics, got %d", cfg.Model.Topics)
	}
	if cfg.Sampler.Threads != 4 {
		t.Errorf("expected 4 threads, got %d", cfg.Sampler.Threads)
	}
	// Defaults should still be set for unspecified fields
	if cfg.Model.PovsPerTopic != 2 || cfg.Model.Alpha != 0.1 {
		t.Errorf("expected default povs and alpha, got %d and %g", cfg.Model.PovsPerTopic, cfg.Model.Alpha)
	}
	if !cfg.Inference.ComputeLikelihood {
		t.Error("expected compute_likelihood to default on")
	}
	if cfg.Factions.DistanceThreshold != 0.5 || cfg.Factions.MaxUsers != 2000 {
		t.Errorf("expected default faction settings, got %+v", cfg.Factions)
	}
}

func TestHyperparameters(t *testing.T) {
	cfg, err := parse([]byte("model:\n  topics: 4\n  povs_per_topic: 3\n  gamma_beta: 2.5\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := store.Hyperparameters{
		Topics: 4, Povs: 3,
		PsiAlpha: 1, PsiBeta: 1, GammaAlpha: 1, GammaBeta: 2.5,
		Beta: 0.1, Alpha: 0.1,
	}
	if got := cfg.Hyperparameters(); got != want {
		t.Errorf("Hyperparameters() = %+v, want %+v", got, want)
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cfg, err := parse([]byte(`
model:
  povs_per_topic: 1
  beta: 0
sampler:
  open_mode: sideways
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	if !errors.Is(err, store.ErrUnknownMode) {
		t.Errorf("expected ErrUnknownMode in %v", err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("inference:\n  iterations: 7\n"), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Inference.Iterations != 7 {
		t.Errorf("expected 7 iterations from file, got %d", cfg.Inference.Iterations)
	}
}

func TestLoadEmbeddedDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("failed to load defaults: %v", err)
	}
	if cfg.Inference.Iterations != 100 {
		t.Errorf("expected 100 iterations, got %d", cfg.Inference.Iterations)
	}
}

func TestResolveConfigPathExplicit(t *testing.T) {
	if _, err := ResolveConfigPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing explicit config")
	}
	path := filepath.Join(t.TempDir(), "c.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ResolveConfigPath(path)
	if err != nil || got != path {
		t.Errorf("ResolveConfigPath(%q) = %q, %v", path, got, err)
	}
}

func TestLedgerPath(t *testing.T) {
	cfg := &Config{}
	if got := cfg.LedgerPath("/models/a"); got != filepath.Join("/models/a", "ledger.db") {
		t.Errorf("expected ledger inside the model dir, got %q", got)
	}

	cfg.Ledger.Path = "/custom/ledger.db"
	if cfg.LedgerPath("/models/a") != "/custom/ledger.db" {
		t.Errorf("expected '/custom/ledger.db', got %q", cfg.LedgerPath("/models/a"))
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ServiceName != "sidechat" {
		t.Fatalf("unexpected service name %q", cfg.ServiceName)
	}
	if cfg.TransportMode != "inproc" {
		t.Fatalf("unexpected transport mode %q", cfg.TransportMode)
	}
	if cfg.Addr() != ":8190" {
		t.Fatalf("unexpected addr %q", cfg.Addr())
	}
}

func TestLoadRejectsUnknownTransportMode(t *testing.T) {
	t.Setenv("TRANSPORT_MODE", "carrier-pigeon")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown transport mode")
	}
}

func TestLoadRequiresDatabaseURLWhenEnabled(t *testing.T) {
	t.Setenv("DB_ENABLED", "true")
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when DB enabled without URL")
	}
}

func TestCatalogResolution(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	data := []byte("models:\n  - name: fast-model\n    api_mode: chat_completions\n    base_url: http://localhost:9001/v1\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	t.Setenv("MODEL_CATALOG_FILE", path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	catalog, err := cfg.LoadCatalog()
	if err != nil {
		t.Fatalf("load catalog failed: %v", err)
	}

	mode, base := cfg.Resolve(catalog, "fast-model")
	if mode != "chat_completions" || base != "http://localhost:9001/v1" {
		t.Fatalf("unexpected resolution %q %q", mode, base)
	}

	// Unknown models fall back to the configured defaults.
	mode, base = cfg.Resolve(catalog, "other")
	if mode != cfg.DefaultAPIMode || base != cfg.ProviderBaseURL {
		t.Fatalf("expected defaults, got %q %q", mode, base)
	}
}

func TestCatalogEntryWithoutName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	if err := os.WriteFile(path, []byte("models:\n  - api_mode: chat_completions\n"), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	t.Setenv("MODEL_CATALOG_FILE", path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if _, err := cfg.LoadCatalog(); err == nil {
		t.Fatal("expected error for nameless catalog entry")
	}
}

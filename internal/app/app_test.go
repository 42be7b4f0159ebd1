package app

import (
	"context"
	"path/filepath"
	"testing"

	"property-monitor/internal/config"
)

func TestNewWiresSQLitePipeline(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Database.SQLite.Path = filepath.Join(t.TempDir(), "nested", "listings.db")
	cfg.LLM.Provider = "openai"
	cfg.LLM.APIKey = "sk-test"
	cfg.Email.Provider = "log"
	cfg.Scraper.FetchMissingContent = true

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if a.Search != nil {
		t.Error("index should be disabled without a host")
	}
	if a.Job == nil || a.Job.IsRunning() {
		t.Error("job should be built and idle")
	}
	if err := a.DB.Ping(); err != nil {
		t.Errorf("store should be reachable: %v", err)
	}
	if run, err := a.DB.LatestRun(); err != nil || run != nil {
		t.Errorf("fresh store should have no runs: %v %v", run, err)
	}
}

func TestNewGeminiRequiresKey(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Database.SQLite.Path = filepath.Join(t.TempDir(), "listings.db")
	cfg.LLM.APIKey = ""

	if _, err := New(context.Background(), cfg); err == nil {
		t.Error("expected error without a Gemini key")
	}
}

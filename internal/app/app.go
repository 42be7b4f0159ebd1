// Package app wires the pipeline components from configuration. Both the
// API server and the one-shot runner build on it.
package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"property-monitor/internal/config"
	"property-monitor/internal/database"
	"property-monitor/internal/digest"
	"property-monitor/internal/discovery"
	"property-monitor/internal/extractor"
	"property-monitor/internal/notifier"
	"property-monitor/internal/scheduler"
	"property-monitor/internal/search"
)

// App holds the wired components
type App struct {
	Config *config.Config
	DB     *database.GormDB
	Job    *scheduler.Job
	// Search is nil when no Meilisearch host is configured
	Search *search.SearchClient
}

// New opens the store and builds the job
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := database.Open(cfg.Database, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	gen, err := newGenerator(ctx, cfg.LLM)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	a := &App{Config: cfg, DB: db}

	deps := scheduler.Deps{
		Searcher:  newSearcher(cfg),
		Extractor: extractor.New(gen, cfg.LLM.MaxContentChars),
		Store:     db,
		Digest:    digest.NewDispatcher(db, newNotifier(cfg.Email), cfg.Email.From, cfg.Email.To),
		Recorder:  db,
	}

	if host := cfg.Search.Meilisearch.Host; host != "" {
		a.Search = search.NewSearchClient(host, cfg.Search.Meilisearch.APIKey, cfg.Search.Meilisearch.Index)
		if err := a.Search.InitIndex(); err != nil {
			log.Printf("Warning: Failed to initialize search index: %v", err)
		}
		deps.Indexer = a.Search
		log.Printf("Listing index enabled at %s", host)
	}

	a.Job = scheduler.NewJob(scheduler.NewJobConfig(cfg), deps)
	return a, nil
}

// Close releases the database
func (a *App) Close() error {
	return a.DB.Close()
}

func newSearcher(cfg *config.Config) discovery.Searcher {
	var s discovery.Searcher = discovery.NewFirecrawlClient(cfg.Firecrawl.APIKey, cfg.Firecrawl.BaseURL, cfg.Firecrawl.GetTimeout())
	if cfg.Firecrawl.BreakerThreshold > 0 {
		s = discovery.NewCircuitBreaker(s, cfg.Firecrawl.BreakerThreshold, 30*time.Minute)
	}
	if !cfg.Scraper.FetchMissingContent {
		return s
	}

	var fetcher discovery.ContentFetcher
	if cfg.Scraper.HeadlessBrowser {
		fetcher = discovery.NewBrowserFetcher(cfg.Scraper.ChromePath, cfg.Scraper.GetFetchTimeout())
		log.Println("Content fetching enabled (headless Chrome)")
	} else {
		fetcher = discovery.NewHTTPFetcher(cfg.Scraper.GetFetchTimeout())
		log.Println("Content fetching enabled (HTTP)")
	}
	return discovery.NewFetchingSearcher(s, fetcher)
}

func newGenerator(ctx context.Context, cfg config.LLMConfig) (extractor.Generator, error) {
	switch cfg.Provider {
	case "openai":
		model := cfg.Model
		if strings.HasPrefix(model, "gemini") {
			model = ""
		}
		return extractor.NewChatGenerator(cfg.APIKey, cfg.BaseURL, model, cfg.GetTimeout()), nil
	default:
		return extractor.NewGeminiGenerator(ctx, cfg.APIKey, cfg.Model, cfg.GetTimeout())
	}
}

func newNotifier(cfg config.EmailConfig) notifier.Notifier {
	if cfg.Provider == "log" {
		log.Println("Email provider is 'log': digests are logged, not sent")
		return notifier.LogNotifier{}
	}
	return notifier.NewResendNotifier(cfg.APIKey)
}

package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"property-monitor/internal/config"
	"property-monitor/internal/digest"
	"property-monitor/internal/discovery"
	"property-monitor/internal/extractor"
	"property-monitor/internal/models"
)

// Per-item outcomes. Any of these skips the item; the cycle continues.
var (
	ErrNoContent  = errors.New("item has no content")
	ErrNoURL      = errors.New("item has no url")
	ErrItemFailed = errors.New("provider reported an error for item")
	ErrExtraction = extractor.ErrExtraction
	ErrNoIdentity = errors.New("listing has no identity")
)

// maxRecordedFailures caps the failure list stored on a run
const maxRecordedFailures = 50

// Extractor turns page content into a listing
type Extractor interface {
	Extract(ctx context.Context, content, url, hint string) (*models.Listing, error)
}

// ListingStore persists a cycle's batch
type ListingStore interface {
	UpsertBatch(listings []models.Listing) error
}

// DigestSender emails unsent listings
type DigestSender interface {
	SendDigest(ctx context.Context) (digest.Result, error)
}

// ListingIndexer mirrors saved listings into the search index
type ListingIndexer interface {
	IndexListings(listings []models.Listing) error
	MarkSent(ids []uint) error
}

// RunRecorder stores cycle history
type RunRecorder interface {
	CreateRun(run *models.ScrapeRun) error
	FinishRun(run *models.ScrapeRun) error
}

// JobConfig holds the settings a cycle reads
type JobConfig struct {
	Targets     []string
	Criteria    string
	SearchLimit int
	Formats     []string
	Delay       time.Duration
	Location    *time.Location
}

// NewJobConfig builds the job settings from the application config
func NewJobConfig(cfg *config.Config) JobConfig {
	return JobConfig{
		Targets:     cfg.Scraper.Targets,
		Criteria:    cfg.Scraper.CriteriaText(),
		SearchLimit: cfg.Scraper.SearchLimit,
		Formats:     cfg.Firecrawl.Formats,
		Delay:       cfg.Scraper.GetRateLimitDelay(),
		Location:    cfg.Location(),
	}
}

// Deps are the collaborators of a job. Indexer and Recorder are optional.
type Deps struct {
	Searcher  discovery.Searcher
	Extractor Extractor
	Store     ListingStore
	Digest    DigestSender
	Indexer   ListingIndexer
	Recorder  RunRecorder
}

// Job runs the search, extract, persist and notify cycle. At most one cycle
// runs at a time per Job.
type Job struct {
	cfg  JobConfig
	deps Deps

	running atomic.Bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// NewJob creates a job
func NewJob(cfg JobConfig, deps Deps) *Job {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Job{
		cfg:   cfg,
		deps:  deps,
		now:   time.Now,
		sleep: sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (j *Job) tryStart() bool {
	return j.running.CompareAndSwap(false, true)
}

func (j *Job) release() {
	j.running.Store(false)
}

// acquire takes the running flag. The returned func must be deferred.
func (j *Job) acquire() (func(), bool) {
	if !j.tryStart() {
		return nil, false
	}
	return j.release, true
}

// IsRunning reports whether a cycle is active
func (j *Job) IsRunning() bool {
	return j.running.Load()
}

// Run executes one cycle synchronously. It is a no-op when a cycle is
// already active.
func (j *Job) Run(ctx context.Context, trigger string) {
	release, ok := j.acquire()
	if !ok {
		log.Printf("Job: Already running, ignoring %s trigger", trigger)
		return
	}
	defer release()

	j.runCycle(ctx, trigger)
}

// StartAsync starts a cycle on a new goroutine. It returns false without
// scheduling anything when a cycle is already active.
func (j *Job) StartAsync(ctx context.Context, trigger string) bool {
	release, ok := j.acquire()
	if !ok {
		return false
	}
	go func() {
		defer release()
		j.runCycle(ctx, trigger)
	}()
	return true
}

type failure struct {
	Stage  string `json:"stage"`
	Target string `json:"target,omitempty"`
	Site   string `json:"site,omitempty"`
	URL    string `json:"url,omitempty"`
	Error  string `json:"error"`
}

type cycle struct {
	run      *models.ScrapeRun
	failures []failure
	batch    []models.Listing
}

func (c *cycle) fail(f failure) {
	if len(c.failures) < maxRecordedFailures {
		c.failures = append(c.failures, f)
	}
}

func (j *Job) runCycle(ctx context.Context, trigger string) {
	start := j.now()
	c := &cycle{run: &models.ScrapeRun{
		Trigger:   trigger,
		Status:    models.RunStatusRunning,
		StartedAt: start,
	}}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("Job: Panic during cycle: %v\n%s", r, debug.Stack())
			c.run.ErrorMessage = fmt.Sprintf("panic: %v", r)
			c.run.Status = models.RunStatusFailed
		}
		j.finish(c)
	}()

	c.run.RunID = uuid.New().String()
	log.Printf("--- Job Started: %s (trigger=%s, run=%s) ---", start.In(j.cfg.Location).Format(time.RFC3339), trigger, c.run.RunID)
	j.recordStart(c.run)

	j.discover(ctx, c)
	j.persist(c)

	res, err := j.deps.Digest.SendDigest(ctx)
	c.run.DigestListings = res.Listings
	c.run.DigestSent = res.Sent
	if err != nil {
		log.Printf("Job: Digest failed: %v", err)
		c.fail(failure{Stage: "digest", Error: err.Error()})
		c.run.ErrorMessage = appendMessage(c.run.ErrorMessage, err.Error())
	}
	if j.deps.Indexer != nil && len(res.IDs) > 0 {
		if err := j.deps.Indexer.MarkSent(res.IDs); err != nil {
			log.Printf("Job: Failed to update sent flags in index: %v", err)
		}
	}

	if err := ctx.Err(); err != nil {
		c.run.Status = models.RunStatusFailed
		c.run.ErrorMessage = appendMessage(c.run.ErrorMessage, err.Error())
	}
}

// discover walks every target on every site and collects extracted listings
func (j *Job) discover(ctx context.Context, c *cycle) {
	for _, target := range j.cfg.Targets {
		for _, site := range discovery.Sites {
			if ctx.Err() != nil {
				log.Printf("Job: Cancelled, stopping discovery: %v", ctx.Err())
				return
			}

			q := discovery.Query{
				Text:    discovery.BuildQuery(target, site, j.cfg.Criteria),
				Limit:   j.cfg.SearchLimit,
				Formats: j.cfg.Formats,
			}
			c.run.Queries++
			log.Printf("Job: Searching: %s", q.Text)

			items, err := j.deps.Searcher.Search(ctx, q)
			if err != nil {
				log.Printf("Job: Search failed for %s on %s: %v", target, site.Domain, err)
				c.run.SiteFailures++
				c.fail(failure{Stage: "search", Target: target, Site: site.Domain, Error: err.Error()})
				continue
			}
			log.Printf("Job: Found %d results for %s on %s", len(items), target, site.Domain)

			for _, item := range items {
				c.run.ItemsSeen++
				listing, err := j.processItem(ctx, item, target, site)
				switch {
				case err == nil:
					c.batch = append(c.batch, *listing)
					log.Printf("Job: Parsed %s/%s (%s)", listing.Platform, listing.ListingID, listing.CondoName)
				case errors.Is(err, ErrExtraction):
					c.run.ExtractFailures++
					c.fail(failure{Stage: "extract", Target: target, Site: site.Domain, URL: item.URL, Error: err.Error()})
				default:
					c.run.ItemsSkipped++
					log.Printf("Job: Skipping item %q: %v", item.URL, err)
				}
			}

			j.sleep(ctx, j.cfg.Delay)
		}
	}
}

// processItem validates one search hit and extracts its listing
func (j *Job) processItem(ctx context.Context, item discovery.Item, target string, site discovery.Site) (*models.Listing, error) {
	if item.Failed() {
		return nil, fmt.Errorf("%w: status=%d error=%q", ErrItemFailed, item.Metadata.StatusCode, item.Metadata.Error)
	}
	if strings.TrimSpace(item.Content) == "" {
		return nil, ErrNoContent
	}
	if item.URL == "" {
		return nil, ErrNoURL
	}

	listing, err := j.deps.Extractor.Extract(ctx, item.Content, item.URL, target)
	if err != nil {
		if !errors.Is(err, ErrExtraction) {
			err = fmt.Errorf("%w: %v", ErrExtraction, err)
		}
		return nil, err
	}
	if listing == nil {
		return nil, fmt.Errorf("%w: empty result", ErrExtraction)
	}

	j.stamp(listing, target, site)
	if !listing.HasIdentity() {
		return nil, ErrNoIdentity
	}
	return listing, nil
}

// stamp fills the fields the orchestrator owns
func (j *Job) stamp(l *models.Listing, target string, site discovery.Site) {
	l.ScrapedAt = j.now().In(j.cfg.Location)
	l.Target = target
	if l.CondoName == "" {
		l.CondoName = target
	}
	if l.Platform == "" {
		l.Platform = site.Platform
	}
}

// persist saves the batch and refreshes the index
func (j *Job) persist(c *cycle) {
	if len(c.batch) == 0 {
		log.Println("Job: No listings extracted this cycle")
		return
	}

	if err := j.deps.Store.UpsertBatch(c.batch); err != nil {
		log.Printf("Job: Failed to save %d listings: %v", len(c.batch), err)
		c.fail(failure{Stage: "store", Error: err.Error()})
		c.run.ErrorMessage = appendMessage(c.run.ErrorMessage, err.Error())
		c.run.Status = models.RunStatusFailed
		return
	}

	saved := make(map[uint]bool, len(c.batch))
	for _, l := range c.batch {
		if l.ID != 0 {
			saved[l.ID] = true
		}
	}
	c.run.ListingsSaved = len(saved)
	log.Printf("Job: Saved %d listings", len(saved))

	if j.deps.Indexer != nil {
		if err := j.deps.Indexer.IndexListings(c.batch); err != nil {
			log.Printf("Job: Failed to index listings: %v", err)
		}
	}
}

func (j *Job) recordStart(run *models.ScrapeRun) {
	if j.deps.Recorder == nil {
		return
	}
	if err := j.deps.Recorder.CreateRun(run); err != nil {
		log.Printf("Job: Failed to record run start: %v", err)
	}
}

func (j *Job) finish(c *cycle) {
	if c.run.Status == models.RunStatusRunning {
		c.run.Status = models.RunStatusCompleted
	}
	c.run.Finish(c.run.Status, j.now())
	if len(c.failures) > 0 {
		if data, err := json.Marshal(c.failures); err == nil {
			c.run.Failures = data
		}
	}

	log.Printf("--- Job Finished: status=%s queries=%d site_failures=%d items=%d skipped=%d extract_failures=%d saved=%d digest=%d/%t duration=%s ---",
		c.run.Status, c.run.Queries, c.run.SiteFailures, c.run.ItemsSeen, c.run.ItemsSkipped,
		c.run.ExtractFailures, c.run.ListingsSaved, c.run.DigestListings, c.run.DigestSent, c.run.Duration())

	if j.deps.Recorder == nil {
		return
	}
	if err := j.deps.Recorder.FinishRun(c.run); err != nil {
		log.Printf("Job: Failed to record run finish: %v", err)
	}
}

func appendMessage(existing, msg string) string {
	if existing == "" {
		return msg
	}
	return existing + "; " + msg
}

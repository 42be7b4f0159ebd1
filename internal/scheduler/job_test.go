package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"property-monitor/internal/digest"
	"property-monitor/internal/discovery"
	"property-monitor/internal/models"
)

type fakeSearcher struct {
	mu      sync.Mutex
	queries []string
	results map[string][]discovery.Item // keyed by site domain
	errs    map[string]error
	block   chan struct{}
	panic   bool
}

func (s *fakeSearcher) Search(ctx context.Context, q discovery.Query) ([]discovery.Item, error) {
	if s.block != nil {
		<-s.block
	}
	if s.panic {
		panic("search exploded")
	}
	s.mu.Lock()
	s.queries = append(s.queries, q.Text)
	s.mu.Unlock()

	for domain, err := range s.errs {
		if strings.Contains(q.Text, "site:"+domain+" ") {
			return nil, err
		}
	}
	for domain, items := range s.results {
		if strings.Contains(q.Text, "site:"+domain+" ") {
			return items, nil
		}
	}
	return nil, nil
}

type fakeExtractor struct {
	calls int
	fail  map[string]bool
}

func (e *fakeExtractor) Extract(ctx context.Context, content, url, hint string) (*models.Listing, error) {
	e.calls++
	if e.fail[url] {
		return nil, fmt.Errorf("%w: bad json", ErrExtraction)
	}
	parts := strings.Split(url, "/")
	return &models.Listing{ListingID: parts[len(parts)-1], URL: url}, nil
}

type fakeStore struct {
	batches [][]models.Listing
	err     error
}

func (s *fakeStore) UpsertBatch(listings []models.Listing) error {
	if s.err != nil {
		return s.err
	}
	for i := range listings {
		listings[i].ID = uint(i + 1)
	}
	s.batches = append(s.batches, append([]models.Listing(nil), listings...))
	return nil
}

type fakeDigest struct {
	calls int32
	ids   []uint
}

func (d *fakeDigest) SendDigest(ctx context.Context) (digest.Result, error) {
	atomic.AddInt32(&d.calls, 1)
	return digest.Result{Listings: len(d.ids), Sent: len(d.ids) > 0, IDs: d.ids}, nil
}

type fakeIndexer struct {
	events []string
}

func (x *fakeIndexer) IndexListings(listings []models.Listing) error {
	x.events = append(x.events, fmt.Sprintf("index:%d", len(listings)))
	return nil
}

func (x *fakeIndexer) MarkSent(ids []uint) error {
	x.events = append(x.events, fmt.Sprintf("sent:%v", ids))
	return nil
}

type fakeRecorder struct {
	started     []models.ScrapeRun
	finished    []models.ScrapeRun
	panicCreate bool
}

func (r *fakeRecorder) CreateRun(run *models.ScrapeRun) error {
	if r.panicCreate {
		panic("recorder exploded")
	}
	r.started = append(r.started, *run)
	return nil
}

func (r *fakeRecorder) FinishRun(run *models.ScrapeRun) error {
	r.finished = append(r.finished, *run)
	return nil
}

type fixture struct {
	job       *Job
	searcher  *fakeSearcher
	extractor *fakeExtractor
	store     *fakeStore
	digest    *fakeDigest
	recorder  *fakeRecorder
	sleeps    int
}

func newFixture(targets ...string) *fixture {
	f := &fixture{
		searcher:  &fakeSearcher{results: map[string][]discovery.Item{}, errs: map[string]error{}},
		extractor: &fakeExtractor{fail: map[string]bool{}},
		store:     &fakeStore{},
		digest:    &fakeDigest{},
		recorder:  &fakeRecorder{},
	}
	f.job = NewJob(JobConfig{
		Targets:     targets,
		Criteria:    "4+ bedrooms, for sale",
		SearchLimit: 5,
		Delay:       time.Second,
		Location:    time.UTC,
	}, Deps{
		Searcher:  f.searcher,
		Extractor: f.extractor,
		Store:     f.store,
		Digest:    f.digest,
		Recorder:  f.recorder,
	})
	f.job.sleep = func(ctx context.Context, d time.Duration) { f.sleeps++ }
	f.job.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	return f
}

func item(url string) discovery.Item {
	return discovery.Item{URL: url, Content: "listing text"}
}

func TestRunIsolatesItemFailures(t *testing.T) {
	f := newFixture("Flamingo Valley")
	f.searcher.results["99.co"] = []discovery.Item{
		item("https://www.99.co/l/1"),
		{URL: "https://www.99.co/l/2"}, // no content
		item("https://www.99.co/l/3"),
		{Content: "no url"},
		item("https://www.99.co/l/5"),
	}
	f.searcher.results["propertyguru.com.sg"] = []discovery.Item{
		item("https://www.propertyguru.com.sg/l/9"),
		{URL: "https://www.propertyguru.com.sg/l/10", Content: "x", Metadata: discovery.ItemMetadata{StatusCode: 403}},
	}
	f.extractor.fail["https://www.99.co/l/3"] = true

	f.job.Run(context.Background(), models.TriggerManual)

	if len(f.store.batches) != 1 {
		t.Fatalf("expected one batch, got %d", len(f.store.batches))
	}
	batch := f.store.batches[0]
	if len(batch) != 3 {
		t.Fatalf("expected 3 listings (9, 1, 5), got %d: %+v", len(batch), batch)
	}
	for _, l := range batch {
		if l.Target != "Flamingo Valley" || l.CondoName != "Flamingo Valley" {
			t.Errorf("target not stamped: %+v", l)
		}
		if l.Platform == "" || l.ScrapedAt.IsZero() {
			t.Errorf("platform or scraped_at missing: %+v", l)
		}
	}
	if batch[0].Platform != "propertyguru" || batch[1].Platform != "99.co" {
		t.Errorf("platform should default from the site: %s, %s", batch[0].Platform, batch[1].Platform)
	}
	if f.extractor.calls != 4 {
		t.Errorf("extractor should only see valid items, got %d calls", f.extractor.calls)
	}
	if f.digest.calls != 1 {
		t.Errorf("digest should run once, got %d", f.digest.calls)
	}

	run := f.recorder.finished[0]
	if run.Status != models.RunStatusCompleted || run.ItemsSeen != 7 || run.ItemsSkipped != 3 || run.ExtractFailures != 1 || run.ListingsSaved != 3 {
		t.Errorf("unexpected run counters: %+v", run)
	}
	if f.job.IsRunning() {
		t.Error("running flag should be released")
	}
}

func TestRunContinuesAfterSearchError(t *testing.T) {
	f := newFixture("Flamingo Valley", "Bedok Court")
	f.searcher.errs["propertyguru.com.sg"] = errors.New("402 payment required")
	f.searcher.results["99.co"] = []discovery.Item{item("https://www.99.co/l/1")}

	f.job.Run(context.Background(), models.TriggerSchedule)

	if len(f.searcher.queries) != 4 {
		t.Fatalf("expected 4 queries, got %v", f.searcher.queries)
	}
	want := "site:propertyguru.com.sg Flamingo Valley 4+ bedrooms, for sale"
	if f.searcher.queries[0] != want {
		t.Errorf("query: got %q, want %q", f.searcher.queries[0], want)
	}
	if f.sleeps != 2 {
		t.Errorf("delay should follow successful searches only, got %d sleeps", f.sleeps)
	}
	run := f.recorder.finished[0]
	if run.SiteFailures != 2 || run.Queries != 4 || len(run.Failures) == 0 {
		t.Errorf("unexpected run: %+v", run)
	}
	if f.digest.calls != 1 {
		t.Error("digest should still run")
	}
}

func TestRunWithNoListingsStillSendsDigest(t *testing.T) {
	f := newFixture("Flamingo Valley")

	f.job.Run(context.Background(), models.TriggerManual)

	if len(f.store.batches) != 0 {
		t.Error("empty batch should not be persisted")
	}
	if f.digest.calls != 1 {
		t.Error("digest should run on every cycle")
	}
}

func TestRunStoreFailureMarksRunFailed(t *testing.T) {
	f := newFixture("Flamingo Valley")
	f.searcher.results["99.co"] = []discovery.Item{item("https://www.99.co/l/1")}
	f.store.err = errors.New("database is locked")

	f.job.Run(context.Background(), models.TriggerManual)

	run := f.recorder.finished[0]
	if run.Status != models.RunStatusFailed || !strings.Contains(run.ErrorMessage, "locked") {
		t.Errorf("unexpected run: %+v", run)
	}
	if f.digest.calls != 1 {
		t.Error("digest should still run after a store failure")
	}
}

func TestPanicReleasesRunningFlag(t *testing.T) {
	f := newFixture("Flamingo Valley")
	f.searcher.panic = true

	f.job.Run(context.Background(), models.TriggerManual)

	if f.job.IsRunning() {
		t.Fatal("running flag should be released after a panic")
	}
	if run := f.recorder.finished[0]; run.Status != models.RunStatusFailed {
		t.Errorf("panicking run should be failed, got %s", run.Status)
	}

	f.searcher.panic = false
	if !f.job.StartAsync(context.Background(), models.TriggerManual) {
		t.Error("job should start again after a panic")
	}
	waitIdle(t, f.job)
}

func TestPanicWhileRecordingStartIsRecovered(t *testing.T) {
	f := newFixture("Flamingo Valley")
	f.recorder.panicCreate = true

	f.job.Run(context.Background(), models.TriggerManual)

	if f.job.IsRunning() {
		t.Fatal("running flag should be released")
	}
	if len(f.recorder.finished) != 1 || f.recorder.finished[0].Status != models.RunStatusFailed {
		t.Errorf("run should be finished as failed: %+v", f.recorder.finished)
	}
	if len(f.searcher.queries) != 0 {
		t.Error("discovery should not run after the cycle aborted")
	}
}

func TestRunUpdatesIndexAfterDigest(t *testing.T) {
	f := newFixture("Flamingo Valley")
	f.searcher.results["99.co"] = []discovery.Item{item("https://www.99.co/l/1"), item("https://www.99.co/l/2")}
	f.digest.ids = []uint{1, 2}
	indexer := &fakeIndexer{}
	f.job.deps.Indexer = indexer

	f.job.Run(context.Background(), models.TriggerManual)

	want := []string{"index:2", "sent:[1 2]"}
	if fmt.Sprint(indexer.events) != fmt.Sprint(want) {
		t.Errorf("index events = %v, want %v", indexer.events, want)
	}

	// Nothing marked sent, nothing to update
	indexer.events = nil
	f.digest.ids = nil
	f.job.Run(context.Background(), models.TriggerManual)
	for _, e := range indexer.events {
		if strings.HasPrefix(e, "sent:") {
			t.Errorf("unexpected sent update: %v", indexer.events)
		}
	}
}

func TestStartAsyncSingleFlight(t *testing.T) {
	f := newFixture("Flamingo Valley")
	f.searcher.block = make(chan struct{})

	if !f.job.StartAsync(context.Background(), models.TriggerManual) {
		t.Fatal("first trigger should start")
	}

	var started int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.job.StartAsync(context.Background(), models.TriggerManual) {
				atomic.AddInt32(&started, 1)
			}
		}()
	}
	wg.Wait()

	if started != 0 {
		t.Errorf("concurrent triggers should be refused, %d started", started)
	}
	if !f.job.IsRunning() {
		t.Error("job should report running")
	}

	// Synchronous run while busy is a no-op
	f.job.Run(context.Background(), models.TriggerSchedule)

	close(f.searcher.block)
	waitIdle(t, f.job)

	if got := atomic.LoadInt32(&f.digest.calls); got != 1 {
		t.Errorf("expected exactly one cycle, got %d", got)
	}
}

func TestCancelledContextStopsDiscovery(t *testing.T) {
	f := newFixture("Flamingo Valley", "Bedok Court")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f.job.Run(ctx, models.TriggerManual)

	if len(f.searcher.queries) != 0 {
		t.Errorf("no searches expected after cancel, got %v", f.searcher.queries)
	}
	if run := f.recorder.finished[0]; run.Status != models.RunStatusFailed {
		t.Errorf("cancelled run should be failed, got %s", run.Status)
	}
}

func TestParseDailyRunTime(t *testing.T) {
	tests := map[string]string{
		"08:00": "0 8 * * *",
		"23:45": "45 23 * * *",
		"7:05":  "5 7 * * *",
		"25:00": "0 8 * * *",
		"noon":  "0 8 * * *",
	}
	for in, want := range tests {
		if got := parseDailyRunTime(in); got != want {
			t.Errorf("parseDailyRunTime(%q) = %q, want %q", in, got, want)
		}
	}
}

func waitIdle(t *testing.T, j *Job) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for j.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("job did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

package database

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"property-monitor/internal/models"
)

func newTestDB(t *testing.T) *GormDB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)

	gdb := NewGormDBFromDB(db)
	if err := gdb.InitSchema(); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	t.Cleanup(func() { _ = gdb.Close() })
	return gdb
}

func intPtr(v int) *int { return &v }

var baseTime = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newListing(id, platform string, price int, minutes int) models.Listing {
	return models.Listing{
		ListingID: id,
		Platform:  platform,
		URL:       "https://www." + platform + ".example/listing/" + id,
		CondoName: "Flamingo Valley",
		Target:    "Flamingo Valley",
		PriceSGD:  intPtr(price),
		Bedrooms:  intPtr(4),
		ScrapedAt: baseTime.Add(time.Duration(minutes) * time.Minute),
	}
}

func countRows(t *testing.T, gdb *GormDB) int64 {
	t.Helper()
	var n int64
	if err := gdb.DB().Model(&models.Listing{}).Count(&n).Error; err != nil {
		t.Fatal(err)
	}
	return n
}

func TestUpsertBatchIdempotent(t *testing.T) {
	gdb := newTestDB(t)

	batch := func() []models.Listing {
		return []models.Listing{
			newListing("a1", "propertyguru", 2000000, 0),
			newListing("b2", "99.co", 2100000, 1),
		}
	}

	first := batch()
	if err := gdb.UpsertBatch(first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second := batch()
	if err := gdb.UpsertBatch(second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if n := countRows(t, gdb); n != 2 {
		t.Errorf("rows after double upsert: got %d, want 2", n)
	}
	for i := range first {
		if first[i].ID == 0 || first[i].ID != second[i].ID {
			t.Errorf("listing %d: ids %d vs %d should be equal and non-zero", i, first[i].ID, second[i].ID)
		}
	}

	all, err := gdb.All(10)
	if err != nil {
		t.Fatal(err)
	}
	for _, l := range all {
		if l.IsSent {
			t.Errorf("listing %s should be unsent", l.ListingID)
		}
	}
}

func TestUpsertBatchSameIdentityDifferentPlatform(t *testing.T) {
	gdb := newTestDB(t)

	batch := []models.Listing{
		newListing("same", "propertyguru", 1, 0),
		newListing("same", "99.co", 2, 0),
	}
	if err := gdb.UpsertBatch(batch); err != nil {
		t.Fatal(err)
	}
	if n := countRows(t, gdb); n != 2 {
		t.Errorf("rows: got %d, want 2", n)
	}
}

func TestUpsertBatchDuplicatesInBatch(t *testing.T) {
	gdb := newTestDB(t)

	batch := []models.Listing{
		newListing("dup", "propertyguru", 100, 0),
		newListing("other", "propertyguru", 200, 0),
		newListing("dup", "propertyguru", 150, 5),
		{URL: "https://x/y", Platform: "propertyguru"}, // no listing_id
	}
	if err := gdb.UpsertBatch(batch); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if n := countRows(t, gdb); n != 2 {
		t.Fatalf("rows: got %d, want 2", n)
	}
	if batch[0].ID != batch[2].ID {
		t.Errorf("duplicate identities should share id: %d vs %d", batch[0].ID, batch[2].ID)
	}
	if batch[3].ID != 0 {
		t.Errorf("unidentified listing should not be stored, got id %d", batch[3].ID)
	}

	stored, err := gdb.GetListingByID(batch[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.PriceSGD == nil || *stored.PriceSGD != 150 {
		t.Errorf("last duplicate should win, got price %v", stored.PriceSGD)
	}
}

func TestRediscoveryNeverResetsSentFlag(t *testing.T) {
	gdb := newTestDB(t)

	batch := []models.Listing{newListing("a1", "propertyguru", 2000000, 0)}
	if err := gdb.UpsertBatch(batch); err != nil {
		t.Fatal(err)
	}
	if err := gdb.MarkSent([]uint{batch[0].ID}); err != nil {
		t.Fatal(err)
	}

	again := []models.Listing{newListing("a1", "propertyguru", 1900000, 60)}
	again[0].IsSent = false
	if err := gdb.UpsertBatch(again); err != nil {
		t.Fatal(err)
	}

	stored, err := gdb.GetListingByID(batch[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.IsSent {
		t.Error("re-discovery must not reset is_sent")
	}
	if *stored.PriceSGD != 1900000 {
		t.Errorf("price should be overwritten, got %d", *stored.PriceSGD)
	}
	if !stored.ScrapedAt.Equal(baseTime.Add(60 * time.Minute)) {
		t.Errorf("scraped_at should be refreshed, got %v", stored.ScrapedAt)
	}

	unsent, err := gdb.Unsent()
	if err != nil {
		t.Fatal(err)
	}
	if len(unsent) != 0 {
		t.Errorf("expected no unsent listings, got %d", len(unsent))
	}

	history, err := gdb.History(batch[0].ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].ChangeType != models.ChangeTypePrice {
		t.Fatalf("expected one price change, got %+v", history)
	}
	if history[0].OldValue != "2000000" || history[0].NewValue != "1900000" {
		t.Errorf("change values: %s -> %s", history[0].OldValue, history[0].NewValue)
	}
}

func TestUnsentOrderingAndMarkSent(t *testing.T) {
	gdb := newTestDB(t)

	batch := []models.Listing{
		newListing("old", "propertyguru", 1, 0),
		newListing("new", "propertyguru", 2, 30),
		newListing("mid", "99.co", 3, 15),
	}
	if err := gdb.UpsertBatch(batch); err != nil {
		t.Fatal(err)
	}

	unsent, err := gdb.Unsent()
	if err != nil {
		t.Fatal(err)
	}
	var order []string
	for _, l := range unsent {
		order = append(order, l.ListingID)
	}
	if got := strings.Join(order, ","); got != "new,mid,old" {
		t.Errorf("unsent order: got %s, want new,mid,old", got)
	}

	if err := gdb.MarkSent(nil); err != nil {
		t.Errorf("empty mark sent should be a no-op: %v", err)
	}
	if err := gdb.MarkSent([]uint{batch[1].ID, 9999}); err != nil {
		t.Errorf("unknown ids should be ignored: %v", err)
	}

	unsent, err = gdb.Unsent()
	if err != nil {
		t.Fatal(err)
	}
	if len(unsent) != 2 {
		t.Errorf("unsent after mark: got %d, want 2", len(unsent))
	}

	stats, err := gdb.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 || stats.Unsent != 2 {
		t.Errorf("stats: got total=%d unsent=%d", stats.Total, stats.Unsent)
	}
	if stats.ByPlatform["propertyguru"] != 2 || stats.ByPlatform["99.co"] != 1 {
		t.Errorf("by platform: got %v", stats.ByPlatform)
	}
}

func TestAllLimit(t *testing.T) {
	gdb := newTestDB(t)

	var batch []models.Listing
	for i := 0; i < 5; i++ {
		batch = append(batch, newListing(fmt.Sprintf("l%d", i), "propertyguru", i, i))
	}
	if err := gdb.UpsertBatch(batch); err != nil {
		t.Fatal(err)
	}

	recent, err := gdb.All(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].ListingID != "l4" || recent[1].ListingID != "l3" {
		t.Errorf("All(2): got %+v", recent)
	}
}

func TestSchemaEvolution(t *testing.T) {
	gdb := newTestDB(t)

	plain := []models.Listing{newListing("keep", "propertyguru", 500, 0)}
	if err := gdb.UpsertBatch(plain); err != nil {
		t.Fatal(err)
	}

	withExtra := newListing("extra", "99.co", 600, 1)
	withExtra.Extra = map[string]any{
		"maintenance_fee":  float64(350),
		"Facing Direction": "North",
		"price_sgd":        "ignored",
	}
	batch := []models.Listing{withExtra}
	if err := gdb.UpsertBatch(batch); err != nil {
		t.Fatalf("batch with unseen attribute rejected: %v", err)
	}

	migrator := gdb.DB().Migrator()
	for _, col := range []string{"maintenance_fee", "facing_direction"} {
		if !migrator.HasColumn(&models.Listing{}, col) {
			t.Errorf("column %s was not added", col)
		}
	}

	var row struct {
		MaintenanceFee  string
		FacingDirection string
	}
	err := gdb.DB().Table("listings").
		Select("maintenance_fee, facing_direction").
		Where("id = ?", batch[0].ID).
		Scan(&row).Error
	if err != nil {
		t.Fatal(err)
	}
	if row.MaintenanceFee != "350" || row.FacingDirection != "North" {
		t.Errorf("extra values: got %+v", row)
	}

	kept, err := gdb.GetListingByID(plain[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if *kept.PriceSGD != 500 || kept.CondoName != "Flamingo Valley" || kept.URL != plain[0].URL {
		t.Errorf("existing row corrupted: %+v", kept)
	}

	stored, err := gdb.GetListingByID(batch[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if *stored.PriceSGD != 600 {
		t.Errorf("extra key colliding with a known column must not overwrite it, got %d", *stored.PriceSGD)
	}
}

func TestSanitizeColumnName(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"maintenance_fee", "maintenance_fee"},
		{"Facing Direction", "facing_direction"},
		{"  MRT-distance (m) ", "mrt_distance_m"},
		{"2nd_carpark", "x_2nd_carpark"},
		{"!!!", ""},
		{"is_sent", ""},
		{"Listing_ID", ""},
		{strings.Repeat("a", 80), strings.Repeat("a", 60)},
	}

	for _, tt := range tests {
		if got := SanitizeColumnName(tt.key); got != tt.want {
			t.Errorf("SanitizeColumnName(%q) = %q; want %q", tt.key, got, tt.want)
		}
	}
}

func TestRunHistory(t *testing.T) {
	gdb := newTestDB(t)

	latest, err := gdb.LatestRun()
	if err != nil || latest != nil {
		t.Fatalf("empty history: got %v, %v", latest, err)
	}

	run := &models.ScrapeRun{
		RunID:     uuid.NewString(),
		Trigger:   models.TriggerManual,
		Status:    models.RunStatusRunning,
		StartedAt: baseTime,
	}
	if err := gdb.CreateRun(run); err != nil {
		t.Fatal(err)
	}
	run.ListingsSaved = 3
	run.Finish(models.RunStatusCompleted, baseTime.Add(2*time.Minute))
	if err := gdb.FinishRun(run); err != nil {
		t.Fatal(err)
	}

	latest, err = gdb.LatestRun()
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || latest.Status != models.RunStatusCompleted || latest.ListingsSaved != 3 {
		t.Fatalf("latest run: %+v", latest)
	}
	if latest.Duration() != 2*time.Minute {
		t.Errorf("duration: got %v", latest.Duration())
	}

	runs, err := gdb.RecentRuns(5)
	if err != nil || len(runs) != 1 {
		t.Errorf("recent runs: got %d, %v", len(runs), err)
	}
}

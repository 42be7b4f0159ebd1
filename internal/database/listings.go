package database

import (
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"

	"property-monitor/internal/models"
	"property-monitor/internal/snapshot"
)

// Stats contains listing counts for display
type Stats struct {
	Total      int64            `json:"total"`
	Unsent     int64            `json:"unsent"`
	ByPlatform map[string]int64 `json:"by_platform"`
}

// UpsertBatch inserts or updates each listing keyed by (listing_id, platform).
// New rows start unsent; existing rows keep id, created_at and is_sent.
// Assigned row ids are written back into the slice.
func (gdb *GormDB) UpsertBatch(listings []models.Listing) error {
	if len(listings) == 0 {
		return nil
	}

	order, last := dedupeByIdentity(listings)
	if dropped := len(listings) - len(order); dropped > 0 {
		log.Printf("Database: Dropped %d duplicate or unidentified listings from batch", dropped)
	}

	// DDL must run outside the transaction (MySQL commits implicitly on ALTER)
	if err := gdb.ensureExtraColumns(listings); err != nil {
		return fmt.Errorf("failed to evolve listings schema: %w", err)
	}

	ids := make(map[models.Identity]uint, len(order))
	err := gdb.db.Transaction(func(tx *gorm.DB) error {
		for _, key := range order {
			l := &listings[last[key]]
			if err := upsertListing(tx, l); err != nil {
				return fmt.Errorf("upsert %s/%s: %w", l.Platform, l.ListingID, err)
			}
			ids[key] = l.ID
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i := range listings {
		listings[i].ID = ids[listings[i].Identity()]
	}
	return nil
}

func upsertListing(tx *gorm.DB, l *models.Listing) error {
	var existing models.Listing
	result := tx.Where("listing_id = ? AND platform = ?", l.ListingID, l.Platform).First(&existing)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		l.IsSent = false
		if err := tx.Create(l).Error; err != nil {
			return err
		}
		return writeExtras(tx, l)
	} else if result.Error != nil {
		return result.Error
	}

	changes := snapshot.DetectChanges(&existing, l, l.ScrapedAt)

	// Update existing (keep original ID, CreatedAt and IsSent)
	l.ID = existing.ID
	l.CreatedAt = existing.CreatedAt
	l.IsSent = existing.IsSent
	if err := tx.Model(&existing).Select(models.UpdatableColumns).Updates(l).Error; err != nil {
		return err
	}

	if len(changes) > 0 {
		if err := tx.Create(&changes).Error; err != nil {
			return err
		}
	}
	return writeExtras(tx, l)
}

// Unsent returns every listing not yet included in a delivered digest,
// most recently scraped first
func (gdb *GormDB) Unsent() ([]models.Listing, error) {
	var listings []models.Listing
	err := gdb.db.Where("is_sent = ?", false).Order("scraped_at DESC").Find(&listings).Error
	return listings, err
}

// MarkSent flips is_sent to true for the given row ids. Unknown ids are ignored.
func (gdb *GormDB) MarkSent(ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return gdb.db.Model(&models.Listing{}).
		Where("id IN ? AND is_sent = ?", ids, false).
		Update("is_sent", true).Error
}

// All returns the most recently scraped listings up to limit
func (gdb *GormDB) All(limit int) ([]models.Listing, error) {
	if limit <= 0 {
		limit = 100
	}
	var listings []models.Listing
	err := gdb.db.Order("scraped_at DESC").Limit(limit).Find(&listings).Error
	return listings, err
}

// GetListingByID retrieves a listing by row id
func (gdb *GormDB) GetListingByID(id uint) (*models.Listing, error) {
	var listing models.Listing
	if err := gdb.db.First(&listing, id).Error; err != nil {
		return nil, err
	}
	return &listing, nil
}

// Stats returns total, unsent and per-platform counts
func (gdb *GormDB) Stats() (*Stats, error) {
	stats := &Stats{ByPlatform: map[string]int64{}}

	if err := gdb.db.Model(&models.Listing{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	if err := gdb.db.Model(&models.Listing{}).Where("is_sent = ?", false).Count(&stats.Unsent).Error; err != nil {
		return nil, err
	}

	type platformCount struct {
		Platform string
		Count    int64
	}
	var rows []platformCount
	err := gdb.db.Model(&models.Listing{}).
		Select("platform, count(*) as count").
		Group("platform").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		stats.ByPlatform[row.Platform] = row.Count
	}

	return stats, nil
}

// History returns detected changes for a listing, newest first
func (gdb *GormDB) History(id uint, limit int) ([]models.ListingChange, error) {
	if limit <= 0 {
		limit = 30
	}
	var changes []models.ListingChange
	err := gdb.db.Where("listing_row_id = ?", id).
		Order("detected_at DESC, id DESC").
		Limit(limit).
		Find(&changes).Error
	return changes, err
}

// dedupeByIdentity returns identities in first-seen order and the index of
// the last listing carrying each identity. Listings without a full identity
// are skipped.
func dedupeByIdentity(listings []models.Listing) ([]models.Identity, map[models.Identity]int) {
	order := make([]models.Identity, 0, len(listings))
	last := make(map[models.Identity]int, len(listings))
	for i := range listings {
		if !listings[i].HasIdentity() {
			continue
		}
		key := listings[i].Identity()
		if _, seen := last[key]; !seen {
			order = append(order, key)
		}
		last[key] = i
	}
	return order, last
}

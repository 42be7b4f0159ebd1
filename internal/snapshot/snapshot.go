package snapshot

import (
	"fmt"
	"time"

	"property-monitor/internal/models"
)

// DetectChanges compares a stored listing with its re-discovered version.
// A nil stored listing means the listing is new and has no changes.
func DetectChanges(stored, incoming *models.Listing, at time.Time) []models.ListingChange {
	if stored == nil || incoming == nil {
		return nil
	}

	changes := []models.ListingChange{}

	fields := []struct {
		changeType string
		old, new   *int
	}{
		{models.ChangeTypePrice, stored.PriceSGD, incoming.PriceSGD},
		{models.ChangeTypePSF, stored.PricePSF, incoming.PricePSF},
		{models.ChangeTypeSize, stored.SizeSqft, incoming.SizeSqft},
		{models.ChangeTypeBedrooms, stored.Bedrooms, incoming.Bedrooms},
	}

	for _, f := range fields {
		// A value disappearing from a re-scrape is a page-rendering artifact
		// more often than a real change
		if f.new == nil || intPtrEqual(f.old, f.new) {
			continue
		}

		change := models.ListingChange{
			ListingRowID: stored.ID,
			ChangeType:   f.changeType,
			OldValue:     formatIntPtr(f.old),
			NewValue:     formatIntPtr(f.new),
			DetectedAt:   at,
		}
		if f.old != nil {
			magnitude := float64(*f.new - *f.old)
			change.ChangeMagnitude = &magnitude
		}
		changes = append(changes, change)
	}

	return changes
}

// PriceDropPercent returns the relative drop of a price change, or 0 when the
// change is not a drop
func PriceDropPercent(change models.ListingChange) float64 {
	if change.ChangeType != models.ChangeTypePrice || change.ChangeMagnitude == nil || *change.ChangeMagnitude >= 0 {
		return 0
	}
	var old float64
	if _, err := fmt.Sscanf(change.OldValue, "%f", &old); err != nil || old <= 0 {
		return 0
	}
	return -*change.ChangeMagnitude / old * 100
}

func intPtrEqual(a, b *int) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

func formatIntPtr(v *int) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%d", *v)
}

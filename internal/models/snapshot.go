package models

import "time"

// ListingChange records an attribute change detected when a stored listing
// is discovered again
type ListingChange struct {
	ID              uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ListingRowID    uint      `gorm:"not null;index" json:"listing_row_id"`
	ChangeType      string    `gorm:"type:varchar(50);not null" json:"change_type"`
	OldValue        string    `gorm:"type:text" json:"old_value,omitempty"`
	NewValue        string    `gorm:"type:text" json:"new_value,omitempty"`
	ChangeMagnitude *float64  `gorm:"type:decimal(14,2)" json:"change_magnitude,omitempty"` // For numerical changes
	DetectedAt      time.Time `gorm:"not null;index" json:"detected_at"`
}

// TableName specifies the table name
func (ListingChange) TableName() string {
	return "listing_changes"
}

// ChangeType constants
const (
	ChangeTypePrice    = "price_changed"
	ChangeTypePSF      = "psf_changed"
	ChangeTypeSize     = "size_changed"
	ChangeTypeBedrooms = "bedrooms_changed"
)

package models

import "time"

// Listing is one discovered property listing, unique by (listing_id, platform)
type Listing struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`

	// Identity
	ListingID string `gorm:"column:listing_id;type:varchar(191);not null;uniqueIndex:idx_listing_identity" json:"listing_id"`
	Platform  string `gorm:"column:platform;type:varchar(64);not null;uniqueIndex:idx_listing_identity;index" json:"platform"`
	URL       string `gorm:"column:url;type:text;not null" json:"url"`

	// Attributes
	CondoName   string `gorm:"column:condo_name;type:text" json:"condo_name,omitempty"`
	Target      string `gorm:"column:target;type:varchar(191);index" json:"target,omitempty"`
	Address     string `gorm:"column:address;type:text" json:"address,omitempty"`
	District    string `gorm:"column:district;type:varchar(32)" json:"district,omitempty"`
	PriceSGD    *int   `gorm:"column:price_sgd" json:"price_sgd,omitempty"`
	PricePSF    *int   `gorm:"column:price_psf" json:"price_psf,omitempty"`
	Bedrooms    *int   `gorm:"column:bedrooms" json:"bedrooms,omitempty"`
	Bathrooms   *int   `gorm:"column:bathrooms" json:"bathrooms,omitempty"`
	SizeSqft    *int   `gorm:"column:size_sqft" json:"size_sqft,omitempty"`
	FloorLevel  string `gorm:"column:floor_level;type:varchar(64)" json:"floor_level,omitempty"`
	Tenure      string `gorm:"column:tenure;type:varchar(128)" json:"tenure,omitempty"`
	TopYear     *int   `gorm:"column:top_year" json:"top_year,omitempty"`
	AgentName   string `gorm:"column:agent_name;type:varchar(191)" json:"agent_name,omitempty"`
	AgentPhone  string `gorm:"column:agent_phone;type:varchar(64)" json:"agent_phone,omitempty"`
	ListingDate string `gorm:"column:listing_date;type:varchar(64)" json:"listing_date,omitempty"`

	// Notification state
	ScrapedAt time.Time `gorm:"column:scraped_at;not null;index:idx_listings_scraped_at,sort:desc" json:"scraped_at"`
	IsSent    bool      `gorm:"column:is_sent;not null;default:false;index" json:"is_sent"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// Extra holds attributes returned by the model that have no struct field.
	// The storage layer persists them into dynamically added columns.
	Extra map[string]any `gorm:"-" json:"extra,omitempty"`
}

// TableName specifies the table name
func (Listing) TableName() string {
	return "listings"
}

// Identity is the composite key of a listing
type Identity struct {
	ListingID string
	Platform  string
}

// Identity returns the (listing_id, platform) pair
func (l *Listing) Identity() Identity {
	return Identity{ListingID: l.ListingID, Platform: l.Platform}
}

// HasIdentity reports whether both halves of the identity are set
func (l *Listing) HasIdentity() bool {
	return l.ListingID != "" && l.Platform != ""
}

// UpdatableColumns are overwritten on re-discovery. id, created_at and
// is_sent are never part of it.
var UpdatableColumns = []string{
	"url", "condo_name", "target", "address", "district",
	"price_sgd", "price_psf", "bedrooms", "bathrooms", "size_sqft",
	"floor_level", "tenure", "top_year", "agent_name", "agent_phone",
	"listing_date", "scraped_at", "updated_at",
}

// KnownColumns are the columns backed by struct fields
var KnownColumns = map[string]bool{
	"id": true, "listing_id": true, "platform": true, "is_sent": true,
	"created_at": true, "updated_at": true,
}

func init() {
	for _, col := range UpdatableColumns {
		KnownColumns[col] = true
	}
}

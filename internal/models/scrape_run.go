package models

import (
	"time"

	"gorm.io/datatypes"
)

// RunStatus is the lifecycle state of a pipeline cycle
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Trigger names the path that started a cycle
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
	TriggerStartup  = "startup"
	TriggerCLI      = "cli"
)

// ScrapeRun is the history row of one pipeline cycle
type ScrapeRun struct {
	ID         uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID      string     `gorm:"type:varchar(36);not null;uniqueIndex" json:"run_id"`
	Trigger    string     `gorm:"type:varchar(20);not null" json:"trigger"`
	Status     RunStatus  `gorm:"type:varchar(20);not null;default:'running';index" json:"status"`
	StartedAt  time.Time  `gorm:"not null;index:idx_runs_started_at,sort:desc" json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	Queries         int            `gorm:"not null;default:0" json:"queries"`
	SiteFailures    int            `gorm:"not null;default:0" json:"site_failures"`
	ItemsSeen       int            `gorm:"not null;default:0" json:"items_seen"`
	ItemsSkipped    int            `gorm:"not null;default:0" json:"items_skipped"`
	ExtractFailures int            `gorm:"not null;default:0" json:"extract_failures"`
	ListingsSaved   int            `gorm:"not null;default:0" json:"listings_saved"`
	DigestSent      bool           `gorm:"not null;default:false" json:"digest_sent"`
	DigestListings  int            `gorm:"not null;default:0" json:"digest_listings"`
	ErrorMessage    string         `gorm:"type:text" json:"error_message,omitempty"`
	Failures        datatypes.JSON `json:"failures,omitempty"`
}

// TableName specifies the table name
func (ScrapeRun) TableName() string {
	return "scrape_runs"
}

// Finish marks the run finished with the given status
func (r *ScrapeRun) Finish(status RunStatus, at time.Time) {
	r.Status = status
	r.FinishedAt = &at
}

// Duration returns how long the run took, or zero while running
func (r *ScrapeRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

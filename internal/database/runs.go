package database

import (
	"errors"

	"gorm.io/gorm"

	"property-monitor/internal/models"
)

// CreateRun stores the start of a pipeline cycle
func (gdb *GormDB) CreateRun(run *models.ScrapeRun) error {
	return gdb.db.Create(run).Error
}

// FinishRun stores the final state of a pipeline cycle
func (gdb *GormDB) FinishRun(run *models.ScrapeRun) error {
	return gdb.db.Save(run).Error
}

// LatestRun returns the most recently started run, or nil when none exists
func (gdb *GormDB) LatestRun() (*models.ScrapeRun, error) {
	var run models.ScrapeRun
	err := gdb.db.Order("started_at DESC, id DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// RecentRuns returns up to limit runs, newest first
func (gdb *GormDB) RecentRuns(limit int) ([]models.ScrapeRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []models.ScrapeRun
	err := gdb.db.Order("started_at DESC, id DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

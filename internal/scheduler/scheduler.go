package scheduler

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/robfig/cron/v3"

	"property-monitor/internal/config"
	"property-monitor/internal/models"
)

// Scheduler triggers the job once a day
type Scheduler struct {
	cron      *cron.Cron
	job       *Job
	config    *config.Config
	isRunning bool
}

// NewScheduler creates a new scheduler in the operator's timezone
func NewScheduler(job *Job, cfg *config.Config) *Scheduler {
	logger := cron.VerbosePrintfLogger(log.New(os.Stdout, "cron: ", log.LstdFlags))
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(cfg.Location()),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		job:    job,
		config: cfg,
	}
}

// Start registers the daily run and starts the cron loop. Cycles started
// by cron stop when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Scraper.DailyRunEnabled {
		log.Println("Scheduler: Daily run is disabled in configuration")
		return nil
	}

	cronSpec := parseDailyRunTime(s.config.Scraper.DailyRunTime)

	_, err := s.cron.AddFunc(cronSpec, func() {
		log.Println("Scheduler: Starting daily scraping job...")
		s.job.Run(ctx, models.TriggerSchedule)
	})
	if err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", cronSpec, err)
	}

	s.cron.Start()
	s.isRunning = true
	log.Printf("Scheduler: Started with daily run at %s %s (cron: %s)",
		s.config.Scraper.DailyRunTime, s.config.Location(), cronSpec)

	return nil
}

// Stop stops the scheduler and waits for a running cron callback
func (s *Scheduler) Stop() {
	if s.isRunning {
		<-s.cron.Stop().Done()
		s.isRunning = false
		log.Println("Scheduler: Stopped")
	}
}

// parseDailyRunTime converts HH:MM format to cron specification
// Example: "08:00" -> "0 8 * * *"
func parseDailyRunTime(timeStr string) string {
	var hour, minute int
	n, _ := fmt.Sscanf(timeStr, "%d:%d", &hour, &minute)
	if n == 2 && hour >= 0 && hour < 24 && minute >= 0 && minute < 60 {
		return fmt.Sprintf("%d %d * * *", minute, hour)
	}

	log.Printf("Scheduler: Failed to parse time '%s', using default 08:00", timeStr)
	return "0 8 * * *"
}

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"property-monitor/internal/app"
	"property-monitor/internal/config"
	"property-monitor/internal/models"
)

func main() {
	configPath := flag.String("config", getEnv("CONFIG_PATH", "config/monitor.yaml"), "path to the YAML config file")
	dryRun := flag.Bool("dry-run", false, "log the digest instead of emailing it")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config from %s: %v", *configPath, err)
	}
	if *dryRun {
		cfg.Email.Provider = "log"
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	log.Printf("Loaded configuration: %s", cfg.Summary())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	a.Job.Run(ctx, models.TriggerCLI)

	run, err := a.DB.LatestRun()
	if err != nil || run == nil {
		return
	}
	log.Printf("Run %s %s: saved=%d digest=%d sent=%v", run.RunID, run.Status, run.ListingsSaved, run.DigestListings, run.DigestSent)
	if run.Status == models.RunStatusFailed {
		a.Close()
		os.Exit(1)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

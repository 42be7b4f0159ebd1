package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"property-monitor/internal/app"
	"property-monitor/internal/config"
	"property-monitor/internal/handlers"
	"property-monitor/internal/models"
	"property-monitor/internal/ratelimit"
	"property-monitor/internal/scheduler"
)

func main() {
	// Load configuration
	configPath := getEnv("CONFIG_PATH", "config/monitor.yaml")
	appConfig, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config from %s: %v", configPath, err)
	}
	if err := appConfig.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	log.Printf("Loaded configuration: %s", appConfig.Summary())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, appConfig)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	// Initialize rate limiter
	rateLimiter := ratelimit.NewRateLimiter(
		appConfig.RateLimit.RequestsPerMinute,
		appConfig.RateLimit.RequestsPerHour,
		appConfig.RateLimit.Enabled,
	)
	log.Printf("Rate limiter initialized: %d req/min, %d req/hour (enabled: %v)",
		appConfig.RateLimit.RequestsPerMinute,
		appConfig.RateLimit.RequestsPerHour,
		appConfig.RateLimit.Enabled,
	)

	appScheduler := scheduler.NewScheduler(a.Job, appConfig)
	if err := appScheduler.Start(ctx); err != nil {
		log.Printf("Warning: Failed to start scheduler: %v", err)
	}

	if appConfig.Scraper.RunOnStartup {
		log.Println("Running job on startup...")
		a.Job.StartAsync(ctx, models.TriggerStartup)
	}

	// Setup Gin router
	r := gin.Default()

	corsConfig := cors.Config{
		AllowOrigins: appConfig.Server.AllowOrigins,
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
	}
	r.Use(cors.New(corsConfig))

	var listingSearcher handlers.ListingSearcher
	if a.Search != nil {
		listingSearcher = a.Search
	}
	handler := handlers.NewListingHandler(ctx, a.DB, a.Job, listingSearcher)
	handler.Register(r, rateLimiter.Middleware())

	srv := &http.Server{
		Addr:    ":" + appConfig.Server.Port,
		Handler: r,
	}

	go func() {
		log.Printf("Server starting on port %s", appConfig.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	appScheduler.Stop()

	// Give an in-flight cycle a moment to record its cancelled run
	deadline := time.Now().Add(10 * time.Second)
	for a.Job.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}
	log.Println("Server stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"property-monitor/internal/database"
	"property-monitor/internal/models"
	"property-monitor/internal/search"
	"property-monitor/internal/snapshot"
)

// Store is the read side of the storage layer
type Store interface {
	All(limit int) ([]models.Listing, error)
	GetListingByID(id uint) (*models.Listing, error)
	Stats() (*database.Stats, error)
	History(id uint, limit int) ([]models.ListingChange, error)
	LatestRun() (*models.ScrapeRun, error)
	RecentRuns(limit int) ([]models.ScrapeRun, error)
	Ping() error
}

// Trigger starts pipeline cycles
type Trigger interface {
	StartAsync(ctx context.Context, trigger string) bool
	IsRunning() bool
}

// ListingSearcher queries the listing index
type ListingSearcher interface {
	FilterSearch(params search.FilterParams) (*search.SearchResult, error)
}

// ListingHandler serves the trigger and listing endpoints
type ListingHandler struct {
	store    Store
	trigger  Trigger
	searcher ListingSearcher
	// ctx outlives requests; cycles started over HTTP run under it
	ctx context.Context
}

// NewListingHandler creates a handler. searcher may be nil when the index is
// not configured.
func NewListingHandler(ctx context.Context, store Store, trigger Trigger, searcher ListingSearcher) *ListingHandler {
	return &ListingHandler{
		store:    store,
		trigger:  trigger,
		searcher: searcher,
		ctx:      ctx,
	}
}

// Register mounts the routes. limit guards the trigger routes.
func (h *ListingHandler) Register(r *gin.Engine, limit gin.HandlerFunc) {
	r.GET("/health", h.Health)
	r.GET("/", h.Dashboard)
	r.POST("/run", limit, h.RunFromDashboard)

	api := r.Group("/api")
	{
		api.POST("/trigger", limit, h.TriggerRun)
		api.GET("/listings", h.GetListings)
		api.GET("/listings/search", h.SearchListings)
		api.GET("/listings/:id/history", h.GetListingHistory)
		api.GET("/stats", h.GetStats)
		api.GET("/runs", h.GetRuns)
	}
}

// TriggerRun starts a cycle in the background
func (h *ListingHandler) TriggerRun(c *gin.Context) {
	if !h.trigger.StartAsync(h.ctx, models.TriggerManual) {
		c.JSON(http.StatusConflict, gin.H{
			"status":  "already_running",
			"message": "Job is already running.",
		})
		return
	}

	log.Println("API: Manual scraping trigger accepted")
	c.JSON(http.StatusAccepted, gin.H{
		"status":  "started",
		"message": "Scraping started in background. Refresh in a few minutes.",
	})
}

// GetListings returns the most recent listings with stats
func (h *ListingHandler) GetListings(c *gin.Context) {
	limit := queryInt(c, "limit", 100)

	listings, err := h.store.All(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	stats, err := h.store.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"listings": listings,
		"count":    len(listings),
		"stats":    stats,
	})
}

// SearchListings queries the listing index
func (h *ListingHandler) SearchListings(c *gin.Context) {
	if h.searcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Search index is not configured"})
		return
	}

	params := search.FilterParams{
		Query:      c.Query("q"),
		Platform:   c.Query("platform"),
		SortBy:     c.Query("sort"),
		UnsentOnly: c.Query("unsent") == "true",
		Limit:      int64(queryInt(c, "limit", 20)),
	}
	if v, ok := optionalInt(c, "min_bedrooms"); ok {
		params.MinBedrooms = &v
	}
	if v, ok := optionalInt(c, "max_price"); ok {
		params.MaxPrice = &v
	}

	result, err := h.searcher.FilterSearch(params)
	if err != nil {
		log.Printf("API: Search failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// changeView is a listing change with the derived price drop
type changeView struct {
	models.ListingChange
	PriceDropPercent float64 `json:"price_drop_percent,omitempty"`
}

// GetListingHistory returns the change history of a listing
func (h *ListingHandler) GetListingHistory(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid listing id"})
		return
	}

	listing, err := h.store.GetListingByID(uint(id))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	changes, err := h.store.History(uint(id), queryInt(c, "limit", 30))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	views := make([]changeView, 0, len(changes))
	for _, ch := range changes {
		views = append(views, changeView{ListingChange: ch, PriceDropPercent: snapshot.PriceDropPercent(ch)})
	}

	c.JSON(http.StatusOK, gin.H{
		"listing": listing,
		"changes": views,
		"count":   len(views),
	})
}

// GetStats returns listing counts
func (h *ListingHandler) GetStats(c *gin.Context) {
	stats, err := h.store.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetRuns returns recent pipeline runs
func (h *ListingHandler) GetRuns(c *gin.Context) {
	runs, err := h.store.RecentRuns(queryInt(c, "limit", 20))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}

// Health reports store reachability and job state
func (h *ListingHandler) Health(c *gin.Context) {
	if err := h.store.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
			"time":   time.Now(),
		})
		return
	}

	resp := gin.H{
		"status":  "ok",
		"running": h.trigger.IsRunning(),
		"time":    time.Now(),
	}
	if stats, err := h.store.Stats(); err == nil {
		resp["stats"] = stats
	}
	if run, err := h.store.LatestRun(); err == nil && run != nil {
		resp["last_run"] = run
	}
	c.JSON(http.StatusOK, resp)
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if v, ok := optionalInt(c, key); ok && v > 0 {
		return v
	}
	return fallback
}

func optionalInt(c *gin.Context, key string) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

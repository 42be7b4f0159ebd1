package handlers

import (
	"html/template"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"property-monitor/internal/database"
	"property-monitor/internal/models"
)

var printer = message.NewPrinter(language.English)

var dashboardTemplate = template.Must(template.New("dashboard").Funcs(template.FuncMap{
	"price": func(v *int) string {
		if v == nil {
			return "-"
		}
		return printer.Sprintf("$%d", *v)
	},
	"num": func(v *int) string {
		if v == nil {
			return "-"
		}
		return printer.Sprintf("%d", *v)
	},
}).Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8">
  <title>Property Monitor</title>
  <style>
    body { font-family: sans-serif; margin: 2rem; }
    table { width: 100%; border-collapse: collapse; }
    th, td { padding: 6px 8px; border-bottom: 1px solid #ddd; text-align: left; }
    th { background: #f4f4f4; }
    .notice { padding: 8px; background: #eef6ff; margin-bottom: 1rem; }
  </style>
</head>
<body>
  <h1>Property Monitor</h1>
  {{if .Notice}}<div class="notice">{{.Notice}}</div>{{end}}
  <p>
    Total: {{.Stats.Total}} &middot; Unsent: {{.Stats.Unsent}}
    {{if .Running}}&middot; <strong>Job running</strong>{{end}}
    {{with .LastRun}}&middot; Last run: {{.StartedAt.Format "2006-01-02 15:04"}} ({{.Status}}){{end}}
  </p>
  <form method="post" action="/run"><button type="submit"{{if .Running}} disabled{{end}}>Run now</button></form>
  <table>
    <thead>
      <tr><th>Scraped</th><th>Condo</th><th>Price</th><th>PSF</th><th>Config</th><th>Size</th><th>Platform</th><th>Sent</th><th>Link</th></tr>
    </thead>
    <tbody>
    {{- range .Listings}}
      <tr>
        <td>{{.ScrapedAt.Format "2006-01-02 15:04"}}</td>
        <td>{{.CondoName}}</td>
        <td>{{price .PriceSGD}}</td>
        <td>{{price .PricePSF}}</td>
        <td>{{num .Bedrooms}} Bed / {{num .Bathrooms}} Bath</td>
        <td>{{num .SizeSqft}}</td>
        <td>{{.Platform}}</td>
        <td>{{if .IsSent}}yes{{else}}no{{end}}</td>
        <td><a href="{{.URL}}">Link</a></td>
      </tr>
    {{- else}}
      <tr><td colspan="9">No listings yet.</td></tr>
    {{- end}}
    </tbody>
  </table>
</body>
</html>
`))

type dashboardData struct {
	Notice   string
	Running  bool
	Stats    *database.Stats
	LastRun  *models.ScrapeRun
	Listings []models.Listing
}

var notices = map[string]string{
	"started": "Scraping started in background. Refresh in a few minutes.",
	"busy":    "Job is already running.",
}

// Dashboard renders the listing table
func (h *ListingHandler) Dashboard(c *gin.Context) {
	listings, err := h.store.All(100)
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to load listings: %v", err)
		return
	}
	stats, err := h.store.Stats()
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to load stats: %v", err)
		return
	}
	lastRun, err := h.store.LatestRun()
	if err != nil {
		log.Printf("API: Failed to load last run: %v", err)
	}

	data := dashboardData{
		Notice:   notices[c.Query("status")],
		Running:  h.trigger.IsRunning(),
		Stats:    stats,
		LastRun:  lastRun,
		Listings: listings,
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := dashboardTemplate.Execute(c.Writer, data); err != nil {
		log.Printf("API: Failed to render dashboard: %v", err)
	}
}

// RunFromDashboard handles the "Run now" form
func (h *ListingHandler) RunFromDashboard(c *gin.Context) {
	status := "busy"
	if h.trigger.StartAsync(h.ctx, models.TriggerManual) {
		status = "started"
		log.Println("API: Dashboard scraping trigger accepted")
	}
	c.Redirect(http.StatusSeeOther, "/?status="+status)
}

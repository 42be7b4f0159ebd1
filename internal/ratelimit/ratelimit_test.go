package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestAllowRequestSlidingWindows(t *testing.T) {
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, 3, true)
	rl.now = func() time.Time { return now }

	if !rl.AllowRequest() || !rl.AllowRequest() {
		t.Fatal("first two requests should pass")
	}
	if rl.AllowRequest() {
		t.Error("third request in the same minute should be refused")
	}

	now = now.Add(61 * time.Second)
	if !rl.AllowRequest() {
		t.Error("minute window should have slid")
	}
	if rl.AllowRequest() {
		t.Error("hourly limit of 3 should now apply")
	}

	stats := rl.GetStats()
	if stats.RequestsLastHour != 3 || stats.RemainingThisHour != 0 || stats.RemainingThisMinute != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	now = now.Add(time.Hour)
	if !rl.AllowRequest() {
		t.Error("hour window should have slid")
	}
}

func TestDisabledLimiterAllowsEverything(t *testing.T) {
	rl := NewRateLimiter(1, 1, false)
	for i := 0; i < 10; i++ {
		if !rl.AllowRequest() {
			t.Fatal("disabled limiter refused a request")
		}
	}
	if rl.GetStats().Enabled {
		t.Error("stats should report disabled")
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(1, 0, true)

	r := gin.New()
	r.POST("/trigger", rl.Middleware(), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/trigger", nil))
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusAccepted || codes[1] != http.StatusTooManyRequests {
		t.Errorf("unexpected status codes: %v", codes)
	}
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestRateLimiterPerIP(t *testing.T) {
	rl := NewRateLimiter(1, 2, time.Minute)

	if !rl.Allow("1.1.1.1") || !rl.Allow("1.1.1.1") {
		t.Fatal("burst requests must be allowed")
	}
	if rl.Allow("1.1.1.1") {
		t.Error("third immediate request must be limited")
	}
	if !rl.Allow("2.2.2.2") {
		t.Error("other clients have their own bucket")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1, -time.Second)
	rl.Allow("1.1.1.1")
	rl.Allow("2.2.2.2")
	if removed := rl.Cleanup(); removed != 2 {
		t.Errorf("expected 2 idle buckets removed, got %d", removed)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitMiddleware(NewRateLimiter(1, 1, time.Minute)))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	codes := make([]int, 2)
	for i := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes[i] = w.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("unexpected status codes %v", codes)
	}
}

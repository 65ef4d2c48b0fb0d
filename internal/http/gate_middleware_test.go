package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/router-for-me/chatgate/internal/clock"
	"github.com/router-for-me/chatgate/internal/db"
	"github.com/router-for-me/chatgate/internal/ratelimit"
	"github.com/router-for-me/chatgate/internal/reputation"
	"gorm.io/gorm"
)

func runRequestWithMiddleware(t *testing.T, router *gin.Engine, path, remoteAddr string) *httptest.ResponseRecorder {
	t.Helper()
	responseRecorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remoteAddr
	router.ServeHTTP(responseRecorder, req)
	return responseRecorder
}

func newRouter(middlewares ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middlewares...)
	router.GET("/*path", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return router
}

func newLimiter(t *testing.T, name string, max int, clk clock.Clock) *ratelimit.Limiter {
	t.Helper()
	limiter, errLimiter := ratelimit.NewLimiter(ratelimit.Options{
		Name:   name,
		Window: time.Minute,
		Max:    max,
		Store:  ratelimit.NewMemoryStore(ratelimit.MemoryOptions{Algorithm: ratelimit.AlgorithmSliding}),
		Clock:  clk,
	})
	if errLimiter != nil {
		t.Fatalf("new limiter: %v", errLimiter)
	}
	return limiter
}

func TestRateLimitMiddlewareRejectsWithRetryAfter(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	router := newRouter(RateLimitMiddleware(newLimiter(t, "general", 2, clk), RouteClassGeneral))

	for i := 0; i < 2; i++ {
		if rec := runRequestWithMiddleware(t, router, "/v0/front/profile", "192.0.2.1:1000"); rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: expected 204, got %d", i, rec.Code)
		}
	}
	rec := runRequestWithMiddleware(t, router, "/v0/front/profile", "192.0.2.1:1000")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", rec.Header().Get("Retry-After"))
	}

	if rec = runRequestWithMiddleware(t, router, "/v0/front/profile", "192.0.2.2:1000"); rec.Code != http.StatusNoContent {
		t.Fatalf("other address should have its own budget, got %d", rec.Code)
	}

	clk.Advance(time.Minute)
	if rec = runRequestWithMiddleware(t, router, "/v0/front/profile", "192.0.2.1:1000"); rec.Code != http.StatusNoContent {
		t.Fatalf("expected budget restored after the window, got %d", rec.Code)
	}
}

func TestRateLimitBandsAreIndependent(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	general := newLimiter(t, "general", 5, clk)
	admin := newLimiter(t, "admin", 1, clk)
	router := newRouter(RateLimitMiddleware(general, RouteClassGeneral), RateLimitMiddleware(admin, RouteClassAdmin))

	if rec := runRequestWithMiddleware(t, router, "/v0/admin/stats", "192.0.2.9:1"); rec.Code != http.StatusNoContent {
		t.Fatalf("expected first admin request admitted, got %d", rec.Code)
	}
	if rec := runRequestWithMiddleware(t, router, "/v0/admin/stats", "192.0.2.9:1"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected admin band to reject, got %d", rec.Code)
	}
}

func TestBanGateMiddleware(t *testing.T) {
	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		t.Fatalf("sql db: %v", errDB)
	}
	sqlDB.SetMaxOpenConns(1)
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	clk := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	gate := reputation.NewGate(conn, clk, nil)
	if _, errBan := gate.Ban(context.Background(), "198.51.100.7", "abuse", time.Hour, 1); errBan != nil {
		t.Fatalf("ban: %v", errBan)
	}

	router := newRouter(BanGateMiddleware(gate))
	if rec := runRequestWithMiddleware(t, router, "/v0/front/chat", "198.51.100.7:5555"); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for banned address, got %d", rec.Code)
	}
	if rec := runRequestWithMiddleware(t, router, "/v0/front/chat", "198.51.100.8:5555"); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for clean address, got %d", rec.Code)
	}

	clk.Advance(2 * time.Hour)
	if rec := runRequestWithMiddleware(t, router, "/v0/front/chat", "198.51.100.7:5555"); rec.Code != http.StatusNoContent {
		t.Fatalf("expected lapsed ban to admit, got %d", rec.Code)
	}
}

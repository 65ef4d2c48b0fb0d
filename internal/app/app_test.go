package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/chatgate/internal/ai"
	"github.com/router-for-me/chatgate/internal/clock"
	"github.com/router-for-me/chatgate/internal/config"
	"github.com/router-for-me/chatgate/internal/db"
	"github.com/router-for-me/chatgate/internal/models"
	"github.com/router-for-me/chatgate/internal/security"
	"gorm.io/gorm"
)

type echoProvider struct{}

func (echoProvider) Complete(_ context.Context, req ai.Request) (ai.Completion, error) {
	return ai.Completion{Text: "ok", Model: req.Model}, nil
}

func newTestServer(t *testing.T, mutate func(*config.Config), rdb *redis.Client) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
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

	cfg := config.Default()
	cfg.JWT.Secret = "app-test-secret"
	if mutate != nil {
		mutate(&cfg)
	}
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	srv, errServer := NewServer(context.Background(), cfg, conn, Options{Clock: clk, Provider: echoProvider{}, Redis: rdb})
	if errServer != nil {
		t.Fatalf("new server: %v", errServer)
	}
	return srv
}

func serve(srv *Server, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)
	return w
}

func TestHealthzAndMetrics(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	w := serve(srv, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", w.Code)
	}
	var health struct {
		OK     bool              `json:"ok"`
		Checks map[string]string `json:"checks"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &health); errDecode != nil {
		t.Fatalf("decode healthz: %v", errDecode)
	}
	if !health.OK || health.Checks["database"] != "ok" {
		t.Fatalf("unexpected health %+v", health)
	}
	if _, hasRedis := health.Checks["redis"]; hasRedis {
		t.Fatalf("redis check reported without redis")
	}

	serve(srv, http.MethodGet, "/v0/front/ai-config", "")
	w = serve(srv, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `chatgate_gate_decisions_total{gate="rate_general",outcome="allowed"} 1`) {
		t.Fatalf("gate decision not exported:\n%s", w.Body.String())
	}
}

func TestAdminLimiterStacksOnGeneral(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit.Admin.Max = 2
	}, nil)

	admin := models.User{Email: "root@example.com", Plan: "Enterprise", MessagesLimit: 10000, IsAdmin: true}
	if errCreate := srv.DB.Create(&admin).Error; errCreate != nil {
		t.Fatalf("create admin: %v", errCreate)
	}
	token, errToken := security.GenerateToken(srv.Config.JWT.Secret, admin.ID, admin.Email, srv.clock.Now(), time.Hour)
	if errToken != nil {
		t.Fatalf("token: %v", errToken)
	}

	for i := 0; i < 2; i++ {
		if w := serve(srv, http.MethodGet, "/v0/admin/stats", token); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}
	w := serve(srv, http.MethodGet, "/v0/admin/stats", token)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}

	// The admin band does not throttle front routes.
	if w := serve(srv, http.MethodGet, "/v0/front/ai-config", ""); w.Code != http.StatusOK {
		t.Fatalf("front route: expected 200, got %d", w.Code)
	}
}

func TestBannedAddressIsRejectedBeforeRoutes(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	// httptest requests originate from 192.0.2.1.
	if _, errBan := srv.Gate.Ban(context.Background(), "192.0.2.1", "abuse", 0, 1); errBan != nil {
		t.Fatalf("ban: %v", errBan)
	}

	w := serve(srv, http.MethodGet, "/v0/front/ai-config", "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if w := serve(srv, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz should bypass the gate, got %d", w.Code)
	}
}

func TestRedisBackedLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit.Store = "redis"
		cfg.RateLimit.General.Max = 1
	}, rdb)

	if w := serve(srv, http.MethodGet, "/v0/front/ai-config", ""); w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}
	if w := serve(srv, http.MethodGet, "/v0/front/ai-config", ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", w.Code)
	}

	w := serve(srv, http.MethodGet, "/healthz", "")
	if !strings.Contains(w.Body.String(), `"redis":"ok"`) {
		t.Fatalf("expected redis check, got %s", w.Body.String())
	}
}

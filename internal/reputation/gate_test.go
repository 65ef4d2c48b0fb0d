package reputation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/router-for-me/chatgate/internal/clock"
	"github.com/router-for-me/chatgate/internal/db"
	"github.com/router-for-me/chatgate/internal/models"
	"gorm.io/gorm"
)

func newTestGate(t *testing.T) (*Gate, *gorm.DB, *clock.Fake) {
	t.Helper()
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
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewGate(conn, clk, nil), conn, clk
}

func TestCheckBanExpiresLazily(t *testing.T) {
	gate, conn, clk := newTestGate(t)
	ctx := context.Background()

	if _, errBan := gate.Ban(ctx, "203.0.113.7", "spam", 7*24*time.Hour, 1); errBan != nil {
		t.Fatalf("ban: %v", errBan)
	}

	clk.Advance(6 * 24 * time.Hour)
	status := gate.CheckBan(ctx, "203.0.113.7")
	if !status.Banned || status.Reason != "spam" {
		t.Fatalf("expected active ban on day 6, got %+v", status)
	}

	clk.Advance(2 * 24 * time.Hour)
	if status = gate.CheckBan(ctx, "203.0.113.7"); status.Banned {
		t.Fatalf("expected ban lifted on day 8, got %+v", status)
	}

	var remaining int64
	if errCount := conn.Model(&models.IPBan{}).Where("ip_address = ?", "203.0.113.7").Count(&remaining).Error; errCount != nil {
		t.Fatalf("count bans: %v", errCount)
	}
	if remaining != 0 {
		t.Fatalf("expected expired ban deleted, %d remain", remaining)
	}
}

func TestCheckBanPermanentWins(t *testing.T) {
	gate, _, clk := newTestGate(t)
	ctx := context.Background()

	if _, errBan := gate.Ban(ctx, "2001:db8::1", "timed", time.Hour, 1); errBan != nil {
		t.Fatalf("ban timed: %v", errBan)
	}
	if _, errBan := gate.Ban(ctx, "2001:db8::1", "forever", 0, 1); errBan != nil {
		t.Fatalf("ban permanent: %v", errBan)
	}

	status := gate.CheckBan(ctx, "2001:DB8:0::1")
	if !status.Banned || status.Reason != "forever" || status.ExpiresAt != nil {
		t.Fatalf("expected permanent ban, got %+v", status)
	}

	clk.Advance(365 * 24 * time.Hour)
	if status = gate.CheckBan(ctx, "2001:db8::1"); !status.Banned {
		t.Fatalf("permanent ban should never lapse")
	}
}

func TestCheckBanFailsOpen(t *testing.T) {
	gate, conn, _ := newTestGate(t)
	ctx := context.Background()
	if _, errBan := gate.Ban(ctx, "198.51.100.1", "abuse", 0, 1); errBan != nil {
		t.Fatalf("ban: %v", errBan)
	}
	if errDrop := conn.Migrator().DropTable(&models.IPBan{}); errDrop != nil {
		t.Fatalf("drop table: %v", errDrop)
	}
	if status := gate.CheckBan(ctx, "198.51.100.1"); status.Banned {
		t.Fatalf("expected fail open, got %+v", status)
	}
}

func TestCheckAccountCapCountsDistinctUsers(t *testing.T) {
	gate, _, clk := newTestGate(t)
	ctx := context.Background()
	const ip = "192.0.2.10"

	for _, userID := range []uint64{1, 2, 2, 3} {
		if errLink := gate.RecordLink(ctx, userID, ip, ""); errLink != nil {
			t.Fatalf("record link %d: %v", userID, errLink)
		}
		clk.Advance(time.Minute)
	}

	status, errCap := gate.CheckAccountCap(ctx, ip, 3)
	if errCap != nil {
		t.Fatalf("check cap: %v", errCap)
	}
	if !status.Exceeded || status.Count != 3 {
		t.Fatalf("expected cap reached with 3 users, got %+v", status)
	}

	status, errCap = gate.CheckAccountCap(ctx, ip, 4)
	if errCap != nil {
		t.Fatalf("check cap: %v", errCap)
	}
	if status.Exceeded {
		t.Fatalf("expected cap of 4 not exceeded, got %+v", status)
	}
}

func TestCheckAccountCapValidatesInput(t *testing.T) {
	gate, _, _ := newTestGate(t)
	ctx := context.Background()

	for _, maxAccounts := range []int{0, 11, -1} {
		if _, errCap := gate.CheckAccountCap(ctx, "192.0.2.1", maxAccounts); !errors.Is(errCap, ErrInvalidMaxAccounts) {
			t.Fatalf("max %d: expected ErrInvalidMaxAccounts, got %v", maxAccounts, errCap)
		}
	}
	if _, errCap := gate.CheckAccountCap(ctx, "not-an-ip", 3); !errors.Is(errCap, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", errCap)
	}
}

func TestRecordLinkUpsertsLastUsed(t *testing.T) {
	gate, conn, clk := newTestGate(t)
	ctx := context.Background()

	if errLink := gate.RecordLink(ctx, 7, "192.0.2.20", "a@example.com"); errLink != nil {
		t.Fatalf("record link: %v", errLink)
	}
	first := clk.Now()
	clk.Advance(time.Hour)
	if errTouch := gate.TouchLink(ctx, 7, "192.0.2.20"); errTouch != nil {
		t.Fatalf("touch link: %v", errTouch)
	}

	var links []models.UserIPLink
	if errFind := conn.Where("user_id = ?", 7).Find(&links).Error; errFind != nil {
		t.Fatalf("find links: %v", errFind)
	}
	if len(links) != 1 {
		t.Fatalf("expected a single link row, got %d", len(links))
	}
	if !links[0].LastUsed.Equal(clk.Now()) {
		t.Fatalf("expected last used %v, got %v", clk.Now(), links[0].LastUsed)
	}
	if !links[0].RecordedAt.Equal(first) {
		t.Fatalf("recorded at should not move, got %v", links[0].RecordedAt)
	}
	if links[0].Email != "a@example.com" {
		t.Fatalf("email overwritten by touch: %q", links[0].Email)
	}

	if errLink := gate.RecordLink(ctx, 0, "192.0.2.20", ""); !errors.Is(errLink, ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", errLink)
	}
}

func TestUnbanAndListBans(t *testing.T) {
	gate, _, clk := newTestGate(t)
	ctx := context.Background()

	if _, errBan := gate.Ban(ctx, "192.0.2.30", "one", time.Hour, 1); errBan != nil {
		t.Fatalf("ban: %v", errBan)
	}
	if _, errBan := gate.Ban(ctx, "192.0.2.31", "two", 0, 1); errBan != nil {
		t.Fatalf("ban: %v", errBan)
	}

	rows, errList := gate.ListBans(ctx, "")
	if errList != nil || len(rows) != 2 {
		t.Fatalf("list bans: %v rows=%d", errList, len(rows))
	}
	clk.Advance(2 * time.Hour)
	active, errCount := gate.CountActiveBans(ctx)
	if errCount != nil || active != 1 {
		t.Fatalf("count active: %v active=%d", errCount, active)
	}

	removed, errUnban := gate.Unban(ctx, "192.0.2.31")
	if errUnban != nil || removed != 1 {
		t.Fatalf("unban: %v removed=%d", errUnban, removed)
	}
	if status := gate.CheckBan(ctx, "192.0.2.31"); status.Banned {
		t.Fatalf("expected unbanned address, got %+v", status)
	}
}

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		" 10.0.0.1 ":      "10.0.0.1",
		"::ffff:10.0.0.1": "10.0.0.1",
		"2001:DB8:0:0::1": "2001:db8::1",
		"fe80::1%eth0":    "fe80::1",
	}
	for in, want := range cases {
		got, errNorm := NormalizeAddress(in)
		if errNorm != nil || got != want {
			t.Fatalf("NormalizeAddress(%q) = %q, %v; want %q", in, got, errNorm, want)
		}
	}
	if _, errNorm := NormalizeAddress("999.1.1.1"); !errors.Is(errNorm, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", errNorm)
	}
}

package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/router-for-me/chatgate/internal/config"
	"github.com/router-for-me/chatgate/internal/plans"
	"github.com/router-for-me/chatgate/internal/security"
)

func writeTestConfig(t *testing.T) config.AppConfig {
	t.Helper()
	t.Setenv(config.EnvDatabaseDSN, "")
	t.Setenv(config.EnvJWTSecret, "")
	dir := t.TempDir()
	body := "database:\n  dsn: file:" + filepath.ToSlash(filepath.Join(dir, "chatgate.db")) + "\n" +
		"jwt:\n  secret: cli-test-secret\n  expiry: 1h\n"
	path := filepath.Join(dir, "config.yaml")
	if errWrite := os.WriteFile(path, []byte(body), 0o600); errWrite != nil {
		t.Fatalf("write config: %v", errWrite)
	}
	return config.AppConfig{ConfigPath: path}
}

func TestCreatePromoteAndIssueToken(t *testing.T) {
	appCfg := writeTestConfig(t)
	ctx := context.Background()

	user, errCreate := CreateUser(ctx, appCfg, CreateUserParams{Email: " Ops@Example.com ", Plan: "pro"})
	if errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	if user.Email != "ops@example.com" || user.Plan != plans.Pro || user.MessagesLimit != 1000 || user.IsAdmin {
		t.Fatalf("unexpected user %+v", user)
	}

	if _, errDup := CreateUser(ctx, appCfg, CreateUserParams{Email: "ops@example.com", Plan: plans.Free}); errDup == nil {
		t.Fatalf("expected duplicate email to fail")
	}
	if _, errPlan := CreateUser(ctx, appCfg, CreateUserParams{Email: "x@example.com", Plan: "Gold"}); errPlan == nil {
		t.Fatalf("expected unknown plan to fail")
	}

	if errPromote := PromoteUser(ctx, appCfg, user.ID); errPromote != nil {
		t.Fatalf("promote: %v", errPromote)
	}
	if errMissing := PromoteUser(ctx, appCfg, 999); errMissing == nil {
		t.Fatalf("expected missing user to fail")
	}

	token, errToken := IssueToken(ctx, appCfg, user.ID)
	if errToken != nil {
		t.Fatalf("issue token: %v", errToken)
	}
	claims, errParse := security.ParseToken("cli-test-secret", token, time.Now())
	if errParse != nil {
		t.Fatalf("parse token: %v", errParse)
	}
	if claims.Email != "ops@example.com" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

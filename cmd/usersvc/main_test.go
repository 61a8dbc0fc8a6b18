package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/tbourn/go-users-backend/internal/auth"
	"github.com/tbourn/go-users-backend/internal/config"
)

func TestTokenCmd_IssuesParsableToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"token", "--subject", "ops", "--perm", auth.ActionViewUsers})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	actor, err := auth.ParseActor(strings.TrimSpace(out.String()), "cli-secret")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if perms := actor.Permissions(); actor.ID != "ops" || len(perms) != 1 || perms[0] != auth.ActionViewUsers {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestTokenCmd_RequiresSubject(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"token"})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "--subject") {
		t.Fatalf("expected subject error, got %v", err)
	}
}

func TestMigrateCmd_CreatesSchema(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", t.TempDir()+"/users.db")

	root := newRootCmd()
	root.SetArgs([]string{"migrate"})
	if err := root.Execute(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func TestWorkerNotifyConfig(t *testing.T) {
	if got := workerNotifyConfig(config.NotifyConfig{Driver: "queue"}); got.Driver != "log" {
		t.Fatalf("driver = %q; want log", got.Driver)
	}
	got := workerNotifyConfig(config.NotifyConfig{Driver: "queue", ResendAPIKey: "re_123", MailFrom: "a@b.c"})
	if got.Driver != "resend" || got.MailFrom != "a@b.c" {
		t.Fatalf("unexpected config: %+v", got)
	}
}

func TestAppVersion_Fallbacks(t *testing.T) {
	orig := version
	t.Cleanup(func() { version = orig })
	version = ""

	t.Setenv("APP_VERSION", "")
	if got := appVersion(); got != "dev" {
		t.Fatalf("appVersion = %q; want dev", got)
	}
	t.Setenv("APP_VERSION", "1.4.0")
	if got := appVersion(); got != "1.4.0" {
		t.Fatalf("appVersion = %q; want 1.4.0", got)
	}
	version = "2.0.0"
	if got := appVersion(); got != "2.0.0" {
		t.Fatalf("ldflags version should win, got %q", got)
	}
}

package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gateline/internal/app"
	"gateline/internal/config"
	"gateline/internal/notify"
)

func TestOpenSeedsDefaultConfig(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	rt, err := app.Open(ctx, app.Options{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	stored, err := rt.Engine.Repo.GetConfig(ctx)
	if err != nil {
		t.Fatalf("stored config: %v", err)
	}
	if stored.Workflow.FirstActionable != "site_visit" {
		t.Fatalf("unexpected first actionable %q", stored.Workflow.FirstActionable)
	}
	if _, ok := rt.Engine.Notifier.(*notify.Dispatcher); !ok {
		t.Fatalf("engine notifier should be the async dispatcher, got %T", rt.Engine.Notifier)
	}
}

func TestOpenPrefersWorkspaceFileThenDatabase(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Gates.TechnicalReview.RequiredSignoffs = 5
	data, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, config.FileName), data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	rt, err := app.Open(ctx, app.Options{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := rt.Engine.Gates.RequiredSignoffs; got != 5 {
		t.Fatalf("file config not applied, got %d", got)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Once seeded the database copy wins over later file edits.
	cfg.Gates.TechnicalReview.RequiredSignoffs = 7
	data, _ = cfg.Marshal()
	if err := os.WriteFile(filepath.Join(dir, config.FileName), data, 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	rt, err = app.Open(ctx, app.Options{Workspace: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer rt.Close()
	if got := rt.Engine.Gates.RequiredSignoffs; got != 5 {
		t.Fatalf("expected stored config, got %d", got)
	}
}

func TestBuildNotifier(t *testing.T) {
	cfg := config.Default()
	n, nc, err := app.BuildNotifier(cfg, nil)
	if err != nil || nc != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := n.(notify.Nop); !ok {
		t.Fatalf("expected no-op notifier, got %T", n)
	}
	cfg.Notifications.SlackWebhookURL = "http://127.0.0.1:1/hook"
	n, _, err = app.BuildNotifier(cfg, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := n.(notify.SlackNotifier); !ok {
		t.Fatalf("expected slack notifier, got %T", n)
	}
}

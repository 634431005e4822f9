/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package registry_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"chainguard.dev/tenantvc/gitrepo"
	"chainguard.dev/tenantvc/registry"
	"github.com/google/go-cmp/cmp"
)

func localSettings(uri string) gitrepo.Settings {
	return gitrepo.Settings{URI: uri, LocalOnly: true}
}

func TestInitAndGet(t *testing.T) {
	t.Parallel()
	reg := registry.New(t.TempDir())
	ctx := context.Background()

	repo, err := reg.Init(ctx, "tenant-a", localSettings("test://a"))
	if err != nil {
		t.Fatalf("initializing: %v", err)
	}
	got, err := reg.Get(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("getting: %v", err)
	}
	if got.Dir() != repo.Dir() {
		t.Fatalf("expected the same repository, got %s vs %s", got.Dir(), repo.Dir())
	}
}

func TestGetUninitialized(t *testing.T) {
	t.Parallel()
	reg := registry.New(t.TempDir())
	if _, err := reg.Get(context.Background(), "nobody"); !errors.Is(err, registry.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestEnsureReinitializesOnSettingsChange(t *testing.T) {
	t.Parallel()
	reg := registry.New(t.TempDir())
	ctx := context.Background()

	first, err := reg.Ensure(ctx, "tenant-a", localSettings("test://a"))
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	same, err := reg.Ensure(ctx, "tenant-a", localSettings("test://a"))
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if same.Dir() != first.Dir() {
		t.Fatalf("expected the handle to survive unchanged settings")
	}

	changed, err := reg.Ensure(ctx, "tenant-a", localSettings("test://b"))
	if err != nil {
		t.Fatalf("ensure with new settings: %v", err)
	}
	if changed.Dir() == first.Dir() {
		t.Fatalf("expected a new repository for changed settings")
	}
}

func TestClearThenGetReclones(t *testing.T) {
	t.Parallel()
	reg := registry.New(t.TempDir())
	ctx := context.Background()

	repo, err := reg.Init(ctx, "tenant-a", localSettings("test://a"))
	if err != nil {
		t.Fatalf("initializing: %v", err)
	}
	dir := repo.Dir()
	if err := reg.Clear("tenant-a"); err != nil {
		t.Fatalf("clearing: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected directory removal, got %v", err)
	}

	// The settings survive the clear, so the repository comes back.
	again, err := reg.Get(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("getting after clear: %v", err)
	}
	if _, err := os.Stat(again.Dir()); err != nil {
		t.Fatalf("expected a recreated repository: %v", err)
	}
}

func TestClearUnknownTenant(t *testing.T) {
	t.Parallel()
	reg := registry.New(t.TempDir())
	if err := reg.Clear("nobody"); err != nil {
		t.Fatalf("expected idempotent clear, got %v", err)
	}
}

func TestActiveTenants(t *testing.T) {
	t.Parallel()
	reg := registry.New(t.TempDir())
	ctx := context.Background()

	for _, tenant := range []string{"tenant-b", "tenant-a"} {
		if _, err := reg.Init(ctx, tenant, localSettings("test://"+tenant)); err != nil {
			t.Fatalf("initializing %s: %v", tenant, err)
		}
	}
	if diff := cmp.Diff([]string{"tenant-a", "tenant-b"}, reg.ActiveTenants()); diff != "" {
		t.Fatalf("unexpected tenants (-want +got):\n%s", diff)
	}
	if err := reg.Clear("tenant-a"); err != nil {
		t.Fatalf("clearing: %v", err)
	}
	if diff := cmp.Diff([]string{"tenant-b"}, reg.ActiveTenants()); diff != "" {
		t.Fatalf("unexpected tenants after clear (-want +got):\n%s", diff)
	}
}

func TestTestLocalSettings(t *testing.T) {
	t.Parallel()
	reg := registry.New(t.TempDir())
	if err := reg.Test(context.Background(), localSettings("test://a")); err != nil {
		t.Fatalf("expected local-only test to pass, got %v", err)
	}
}

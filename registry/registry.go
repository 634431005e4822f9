/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package registry owns the tenant → repository mapping. Handles are created
// lazily, re-opened transparently after eviction, and deleted together with
// their on-disk directory on clear.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"chainguard.dev/tenantvc/gitrepo"
	"github.com/chainguard-dev/clog"
)

// ErrNotInitialized is returned by Get for tenants that never supplied
// repository settings.
var ErrNotInitialized = errors.New("repository settings not initialized")

// Registry maps tenants to open repository handles. The maps are guarded by
// a mutex, but repository operations themselves are not: the coordinator
// serializes those per tenant.
type Registry struct {
	root string

	mu       sync.Mutex
	repos    map[string]*gitrepo.Repository
	settings map[string]gitrepo.Settings
}

// New creates a Registry rooted at the given directory.
func New(root string) *Registry {
	return &Registry{
		root:     root,
		repos:    map[string]*gitrepo.Repository{},
		settings: map[string]gitrepo.Settings{},
	}
}

// Init wipes any existing repository for the tenant and creates a fresh one
// from settings, storing them as the tenant's current settings.
func (g *Registry) Init(ctx context.Context, tenantID string, settings gitrepo.Settings) (*gitrepo.Repository, error) {
	dir := g.dir(tenantID, settings)
	g.mu.Lock()
	delete(g.repos, tenantID)
	g.mu.Unlock()
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("removing repository directory: %w", err)
	}
	repo, err := gitrepo.Clone(ctx, dir, settings)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.repos[tenantID] = repo
	g.settings[tenantID] = settings
	g.mu.Unlock()
	clog.FromContext(ctx).Infof("Initialized repository for tenant %s at %s", tenantID, dir)
	return repo, nil
}

// Get returns the tenant's live handle, transparently re-opening (or
// re-cloning) when the handle was evicted or the directory is gone. Tenants
// without stored settings get ErrNotInitialized.
func (g *Registry) Get(ctx context.Context, tenantID string) (*gitrepo.Repository, error) {
	g.mu.Lock()
	repo, open := g.repos[tenantID]
	settings, known := g.settings[tenantID]
	g.mu.Unlock()
	if open {
		if _, err := os.Stat(repo.Dir()); err == nil {
			return repo, nil
		}
	}
	if !known {
		return nil, fmt.Errorf("%w: tenant %s", ErrNotInitialized, tenantID)
	}
	repo, err := gitrepo.OpenOrClone(ctx, g.dir(tenantID, settings), settings, false)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.repos[tenantID] = repo
	g.mu.Unlock()
	return repo, nil
}

// Ensure returns the tenant's handle, re-initializing first when the
// supplied settings differ from the stored ones. This is how configuration
// changes (a new remote URI, new credentials) take effect without an
// explicit re-init request.
func (g *Registry) Ensure(ctx context.Context, tenantID string, settings gitrepo.Settings) (*gitrepo.Repository, error) {
	g.mu.Lock()
	current, known := g.settings[tenantID]
	g.mu.Unlock()
	if !known || current != settings {
		if known {
			clog.FromContext(ctx).Infof("Repository settings changed for tenant %s, re-initializing", tenantID)
		}
		return g.Init(ctx, tenantID, settings)
	}
	return g.Get(ctx, tenantID)
}

// Clear drops the tenant's handle and deletes its directory. The stored
// settings survive so a later Get can re-clone. Idempotent.
func (g *Registry) Clear(tenantID string) error {
	g.mu.Lock()
	repo, open := g.repos[tenantID]
	settings, known := g.settings[tenantID]
	delete(g.repos, tenantID)
	g.mu.Unlock()
	var dir string
	switch {
	case open:
		dir = repo.Dir()
	case known:
		dir = g.dir(tenantID, settings)
	default:
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing repository directory: %w", err)
	}
	return nil
}

// Test probes connectivity for settings without retaining any state.
func (g *Registry) Test(ctx context.Context, settings gitrepo.Settings) error {
	return gitrepo.Test(ctx, settings)
}

// ActiveTenants returns the tenants with a currently open handle, sorted.
func (g *Registry) ActiveTenants() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	tenants := make([]string, 0, len(g.repos))
	for tenantID := range g.repos {
		tenants = append(tenants, tenantID)
	}
	sort.Strings(tenants)
	return tenants
}

// dir picks the on-disk location: one directory per tenant for remote
// repositories, one per unique URI for local-only ones. Local-only sharing
// across tenants is a naming consequence only; nothing deduplicates handles.
func (g *Registry) dir(tenantID string, settings gitrepo.Settings) string {
	if settings.LocalOnly {
		sum := sha256.Sum256([]byte(settings.URI))
		return filepath.Join(g.root, "local_"+hex.EncodeToString(sum[:8]))
	}
	return filepath.Join(g.root, tenantID)
}

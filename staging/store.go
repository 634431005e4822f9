/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package staging holds the per-tenant pending commit: the in-memory staging
// area accumulated between a transaction's prepare and its push or abort.
package staging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"chainguard.dev/tenantvc/gitrepo"
	"github.com/chainguard-dev/clog"
)

// PendingCommit is one staged transaction. At most one exists per tenant;
// a later prepare implicitly aborts the previous one. Chunk buffers live
// inside the pending commit, so incomplete chunk groups are released
// whenever the transaction ends or the tenant is evicted.
type PendingCommit struct {
	TenantID    string
	NodeID      string
	TxID        string
	Branch      string
	Message     string
	AuthorName  string
	AuthorEmail string

	workingBranch string
	chunks        map[string]*chunkBuffer
}

// WorkingBranch returns the transient branch the transaction stages on.
func (pc *PendingCommit) WorkingBranch() string { return pc.workingBranch }

type chunkBuffer struct {
	parts     []string
	filled    []bool
	remaining int
}

// Result reports what a push did.
type Result struct {
	Added    int
	Modified int
	Removed  int
	// Version is set when a commit was created (non-zero total).
	Version *gitrepo.Commit
}

// Store is the pending commit map. The mutex guards the map only; git and
// filesystem mutations rely on the coordinator's per-tenant serialization.
type Store struct {
	mu      sync.Mutex
	pending map[string]*PendingCommit
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{pending: map[string]*PendingCommit{}}
}

// Current returns the tenant's pending commit, or nil.
func (s *Store) Current(tenantID string) *PendingCommit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[tenantID]
}

// match returns the pending commit only when its transaction matches.
func (s *Store) match(tenantID, txID string) *PendingCommit {
	s.mu.Lock()
	defer s.mu.Unlock()
	pc := s.pending[tenantID]
	if pc == nil || pc.TxID != txID {
		return nil
	}
	return pc
}

func (s *Store) remove(tenantID string) {
	s.mu.Lock()
	delete(s.pending, tenantID)
	s.mu.Unlock()
}

// Prepare starts a transaction: any existing pending commit for the tenant
// is aborted first, then the working branch is created as an orphan, the
// tree is wiped, and the branch fast-forwards onto the remote state of the
// target branch when it exists (a missing target branch means the push will
// create it).
func (s *Store) Prepare(ctx context.Context, repo *gitrepo.Repository, pc *PendingCommit) error {
	log := clog.FromContext(ctx)
	s.mu.Lock()
	old := s.pending[pc.TenantID]
	delete(s.pending, pc.TenantID)
	s.mu.Unlock()
	if old != nil {
		log.Debugf("Transaction %s supersedes %s", pc.TxID, old.TxID)
		if err := s.cleanup(repo, old); err != nil {
			log.Warnf("Failed to clean up superseded transaction %s: %v", old.TxID, err)
		}
	}

	pc.workingBranch = "staged_" + pc.TxID
	pc.chunks = map[string]*chunkBuffer{}
	s.mu.Lock()
	s.pending[pc.TenantID] = pc
	s.mu.Unlock()

	if err := s.checkoutWorkingBranch(repo, pc); err != nil {
		s.remove(pc.TenantID)
		if cerr := s.cleanup(repo, pc); cerr != nil {
			log.Warnf("Failed to clean up after prepare failure: %v", cerr)
		}
		return err
	}
	return nil
}

func (s *Store) checkoutWorkingBranch(repo *gitrepo.Repository, pc *PendingCommit) error {
	if err := repo.CreateAndCheckoutOrphanBranch(pc.workingBranch); err != nil {
		return err
	}
	if err := repo.ResetAndClean(); err != nil {
		return err
	}
	if err := repo.Merge(pc.Branch); err != nil && !errors.Is(err, gitrepo.ErrBranchNotFound) {
		return err
	}
	return nil
}

// Add records one chunk of a staged file. Chunks may arrive in any order;
// once every slot of the group is filled the payload is concatenated in
// index order and written into the working tree. Messages whose transaction
// does not match the pending commit are discarded without error.
func (s *Store) Add(ctx context.Context, repo *gitrepo.Repository, tenantID, txID, chunkGroupID string, chunkIndex, chunksCount int, relativePath, data string) error {
	log := clog.FromContext(ctx)
	pc := s.match(tenantID, txID)
	if pc == nil {
		log.Debugf("Ignoring add for stale transaction %s", txID)
		return nil
	}
	if chunksCount <= 0 || chunkIndex < 0 || chunkIndex >= chunksCount {
		return fmt.Errorf("chunk %d out of range for group %s of %d", chunkIndex, chunkGroupID, chunksCount)
	}
	buf := pc.chunks[chunkGroupID]
	if buf == nil {
		buf = &chunkBuffer{
			parts:     make([]string, chunksCount),
			filled:    make([]bool, chunksCount),
			remaining: chunksCount,
		}
		pc.chunks[chunkGroupID] = buf
	}
	if len(buf.parts) != chunksCount {
		return fmt.Errorf("chunk count changed mid-group %s: %d vs %d", chunkGroupID, len(buf.parts), chunksCount)
	}
	if !buf.filled[chunkIndex] {
		buf.parts[chunkIndex] = data
		buf.filled[chunkIndex] = true
		buf.remaining--
	}
	if buf.remaining > 0 {
		return nil
	}
	delete(pc.chunks, chunkGroupID)
	log.Debugf("Collected all %d chunks of group %s", chunksCount, chunkGroupID)

	path, err := resolveWithin(repo.Dir(), relativePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directories for %q: %w", relativePath, err)
	}
	if err := os.WriteFile(path, []byte(strings.Join(buf.parts, "")), 0o644); err != nil {
		return fmt.Errorf("writing %q: %w", relativePath, err)
	}
	return nil
}

// Delete removes a subtree from the working tree. Stale transactions are
// discarded without error.
func (s *Store) Delete(ctx context.Context, repo *gitrepo.Repository, tenantID, txID, relativePath string) error {
	pc := s.match(tenantID, txID)
	if pc == nil {
		clog.FromContext(ctx).Debugf("Ignoring delete for stale transaction %s", txID)
		return nil
	}
	path, err := resolveWithin(repo.Dir(), relativePath)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("deleting %q: %w", relativePath, err)
	}
	return nil
}

// Push stages everything, commits when there is a non-zero change total,
// pushes the working branch onto the target branch and always cleans up.
// A stale transaction returns (nil, nil): no reply is owed.
func (s *Store) Push(ctx context.Context, repo *gitrepo.Repository, tenantID, txID string) (res *Result, retErr error) {
	pc := s.match(tenantID, txID)
	if pc == nil {
		clog.FromContext(ctx).Debugf("Ignoring push for stale transaction %s", txID)
		return nil, nil
	}
	defer func() {
		s.remove(tenantID)
		if cerr := s.cleanup(repo, pc); cerr != nil && retErr == nil {
			retErr = cerr
			res = nil
		}
	}()

	if err := repo.Add("."); err != nil {
		return nil, err
	}
	status, err := repo.CurrentStatus()
	if err != nil {
		return nil, err
	}
	result := &Result{
		Added:    len(status.Added),
		Modified: len(status.Modified),
		Removed:  len(status.Removed),
	}
	if result.Added+result.Modified+result.Removed == 0 {
		clog.FromContext(ctx).Debugf("Transaction %s has no changes, skipping commit", txID)
		return result, nil
	}
	commit, err := repo.CommitStaged(pc.Message, pc.AuthorName, pc.AuthorEmail)
	if err != nil {
		return nil, err
	}
	if err := repo.Push(ctx, pc.workingBranch, pc.Branch); err != nil {
		return nil, err
	}
	result.Version = &commit
	return result, nil
}

// Abort discards the transaction and cleans up. Stale transactions are
// ignored.
func (s *Store) Abort(ctx context.Context, repo *gitrepo.Repository, tenantID, txID string) error {
	pc := s.match(tenantID, txID)
	if pc == nil {
		clog.FromContext(ctx).Debugf("Ignoring abort for stale transaction %s", txID)
		return nil
	}
	s.remove(tenantID)
	return s.cleanup(repo, pc)
}

// AbortCurrent discards whatever transaction the tenant has, regardless of
// its id. Used when a handler fails mid-transaction.
func (s *Store) AbortCurrent(ctx context.Context, repo *gitrepo.Repository, tenantID string) {
	s.mu.Lock()
	pc := s.pending[tenantID]
	delete(s.pending, tenantID)
	s.mu.Unlock()
	if pc == nil {
		return
	}
	if err := s.cleanup(repo, pc); err != nil {
		clog.FromContext(ctx).Warnf("Failed to clean up aborted transaction %s: %v", pc.TxID, err)
	}
}

// Discard drops the tenant's pending commit without touching the repository.
// Used on partition loss, where the repository directory is deleted anyway.
func (s *Store) Discard(tenantID string) {
	s.remove(tenantID)
}

// cleanup parks the repository on a disposable orphan branch, wipes the
// working tree and deletes the transaction's working branch, leaving only
// garbage-collectible state behind.
func (s *Store) cleanup(repo *gitrepo.Repository, pc *PendingCommit) error {
	if err := repo.CreateAndCheckoutOrphanBranch("cleanup_" + pc.TxID); err != nil {
		return err
	}
	if err := repo.ResetAndClean(); err != nil {
		return err
	}
	return repo.DeleteBranch(pc.workingBranch)
}

// resolveWithin joins rel onto root, refusing paths that escape it.
func resolveWithin(root, rel string) (string, error) {
	full := filepath.Join(root, filepath.Clean(rel))
	r, err := filepath.Rel(root, full)
	if err != nil {
		return "", fmt.Errorf("path %q: %w", rel, err)
	}
	if r == "." || strings.HasPrefix(r, "..") {
		return "", fmt.Errorf("path %q escapes the working tree", rel)
	}
	return full, nil
}

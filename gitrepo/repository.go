/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/memory"
)

var (
	// ErrBranchNotFound is returned when a branch ref cannot be resolved.
	ErrBranchNotFound = errors.New("branch not found")

	// ErrPushRejected is returned when the remote refuses a push for any
	// reason (non-fast-forward, remote changed, deletion refused, ...). The
	// caller must treat the transaction as failed; no partial success.
	ErrPushRejected = errors.New("push rejected")

	// ErrReadOnly is returned for push attempts against read-only settings.
	ErrReadOnly = errors.New("repository is read-only")
)

// BranchInfo describes one branch of the tracked remote.
type BranchInfo struct {
	Name    string `json:"name"`
	Default bool   `json:"default"`
}

// Commit is the engine's view of one commit.
type Commit struct {
	// Timestamp is the commit time in milliseconds since the epoch.
	Timestamp   int64  `json:"timestamp"`
	ID          string `json:"id"`
	Message     string `json:"message"`
	AuthorName  string `json:"authorName"`
	AuthorEmail string `json:"authorEmail"`
}

// Status holds the staged change sets after an add.
type Status struct {
	Added    []string
	Modified []string
	Removed  []string
}

// Repository is a handle to one open working directory. Single-owner per
// call; see the package doc.
type Repository struct {
	repo     *git.Repository
	dir      string
	settings Settings

	// headID is the remote HEAD target recorded by the last Fetch. It marks
	// the default branch in ListBranches.
	headID plumbing.Hash
}

// Dir returns the absolute working directory path.
func (r *Repository) Dir() string { return r.dir }

// Settings returns the settings the repository was opened with.
func (r *Repository) Settings() Settings { return r.settings }

// Clone creates a fresh repository at dir: a clone of the remote (an empty
// remote yields an empty local repository wired to it), or a bare init for
// local-only settings. The clone skips the initial checkout; the
// staged-commit protocol starts every transaction from an orphan branch, so
// the working tree contents are never inherited from the default branch.
func Clone(ctx context.Context, dir string, settings Settings) (*Repository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating repository directory: %w", err)
	}
	if settings.LocalOnly {
		repo, err := git.PlainInit(dir, false)
		if err != nil {
			return nil, fmt.Errorf("initializing local repository: %w", err)
		}
		return &Repository{repo: repo, dir: dir, settings: settings}, nil
	}

	auth, err := settings.auth()
	if err != nil {
		return nil, err
	}
	clog.FromContext(ctx).Infof("Cloning repository %s into %s", settings.URI, dir)
	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:        settings.URI,
		Auth:       auth,
		NoCheckout: true,
	})
	if errors.Is(err, transport.ErrEmptyRemoteRepository) {
		// A brand-new remote has nothing to clone yet. Start from an empty
		// local repository wired to it; the first push creates the branch.
		clog.FromContext(ctx).Infof("Remote %s is empty, initializing", settings.URI)
		repo, err = initEmptyClone(dir, settings)
	}
	if err != nil {
		return nil, fmt.Errorf("cloning repository: %w", err)
	}
	r := &Repository{repo: repo, dir: dir, settings: settings}
	if err := r.Fetch(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func initEmptyClone(dir string, settings Settings) (*git.Repository, error) {
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		return nil, err
	}
	if _, err := repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: git.DefaultRemoteName,
		URLs: []string{settings.URI},
	}); err != nil {
		return nil, err
	}
	return repo, nil
}

// Open opens an existing repository at dir.
func Open(dir string, settings Settings) (*Repository, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	return &Repository{repo: repo, dir: dir, settings: settings}, nil
}

// OpenOrClone opens a valid repository at dir, optionally fetching, and falls
// back to wiping the directory and re-creating it when the on-disk state is
// unusable (corruption, transport failure on fetch, missing directory).
func OpenOrClone(ctx context.Context, dir string, settings Settings, fetchNow bool) (*Repository, error) {
	log := clog.FromContext(ctx)
	r, err := Open(dir, settings)
	if err == nil {
		if !fetchNow {
			return r, nil
		}
		if err = r.Fetch(ctx); err == nil {
			return r, nil
		}
	}
	log.Warnf("Discarding repository at %s: %v", dir, err)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("removing stale repository: %w", err)
	}
	return Clone(ctx, dir, settings)
}

// Test probes connectivity to the remote described by settings without
// creating any on-disk state. Local-only settings always pass.
func Test(ctx context.Context, settings Settings) error {
	if settings.LocalOnly {
		return nil
	}
	auth, err := settings.auth()
	if err != nil {
		return err
	}
	rem := git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: git.DefaultRemoteName,
		URLs: []string{settings.URI},
	})
	if _, err := rem.ListContext(ctx, &git.ListOptions{Auth: auth}); err != nil {
		return fmt.Errorf("listing remote refs: %w", err)
	}
	return nil
}

// Fetch updates all remote-tracking heads (pruning deleted ones) and records
// the remote HEAD for default-branch detection. No-op for local-only.
func (r *Repository) Fetch(ctx context.Context) error {
	if r.settings.LocalOnly {
		return nil
	}
	auth, err := r.settings.auth()
	if err != nil {
		return err
	}
	err = r.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: git.DefaultRemoteName,
		RefSpecs:   []gitconfig.RefSpec{"+refs/heads/*:refs/remotes/origin/*"},
		Auth:       auth,
		Force:      true,
		Prune:      true,
		Tags:       git.NoTags,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) && !errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return fmt.Errorf("fetching: %w", err)
	}
	return r.recordRemoteHead(ctx)
}

// recordRemoteHead captures the hash the remote's HEAD points at. The
// advertised HEAD may be symbolic; in that case it is resolved against the
// advertised branch refs.
func (r *Repository) recordRemoteHead(ctx context.Context) error {
	rem, err := r.repo.Remote(git.DefaultRemoteName)
	if err != nil {
		return fmt.Errorf("resolving remote: %w", err)
	}
	auth, err := r.settings.auth()
	if err != nil {
		return err
	}
	refs, err := rem.ListContext(ctx, &git.ListOptions{Auth: auth})
	if err != nil {
		if errors.Is(err, transport.ErrEmptyRemoteRepository) {
			return nil
		}
		return fmt.Errorf("listing remote refs: %w", err)
	}
	byName := make(map[plumbing.ReferenceName]plumbing.Hash, len(refs))
	var head *plumbing.Reference
	for _, ref := range refs {
		if ref.Name() == plumbing.HEAD {
			head = ref
			continue
		}
		byName[ref.Name()] = ref.Hash()
	}
	switch {
	case head == nil:
		// Empty remote; nothing to mark as default.
	case head.Type() == plumbing.SymbolicReference:
		r.headID = byName[head.Target()]
	default:
		r.headID = head.Hash()
	}
	return nil
}

// ListBranches returns the remote-tracking branches (local branches when
// local-only), flagging the default one.
func (r *Repository) ListBranches() ([]BranchInfo, error) {
	if r.settings.LocalOnly {
		return r.listLocalBranches()
	}
	refs, err := r.repo.References()
	if err != nil {
		return nil, fmt.Errorf("listing references: %w", err)
	}
	defer refs.Close()
	seen := map[string]bool{}
	var branches []BranchInfo
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name()
		if !name.IsRemote() {
			return nil
		}
		short := strings.TrimPrefix(name.Short(), "origin/")
		if short == "HEAD" || seen[short] {
			return nil
		}
		seen[short] = true
		branches = append(branches, BranchInfo{
			Name:    short,
			Default: r.headID != plumbing.ZeroHash && ref.Hash() == r.headID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(branches, func(i, j int) bool { return branches[i].Name < branches[j].Name })
	return branches, nil
}

func (r *Repository) listLocalBranches() ([]BranchInfo, error) {
	var headName plumbing.ReferenceName
	if head, err := r.repo.Reference(plumbing.HEAD, false); err == nil {
		headName = head.Target()
	}
	iter, err := r.repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}
	defer iter.Close()
	var branches []BranchInfo
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		branches = append(branches, BranchInfo{
			Name:    ref.Name().Short(),
			Default: ref.Name() == headName,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(branches, func(i, j int) bool { return branches[i].Name < branches[j].Name })
	return branches, nil
}

// CreateAndCheckoutOrphanBranch points HEAD at an unborn branch. Nothing is
// committed and no ref is created until the first commit, so an abandoned
// orphan leaves no trace. Combined with ResetAndClean this yields the clean
// slate every transaction starts from.
func (r *Repository) CreateAndCheckoutOrphanBranch(name string) error {
	ref := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(name))
	if err := r.repo.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("checking out orphan branch %q: %w", name, err)
	}
	return nil
}

// ResetAndClean hard-resets the working tree to HEAD and removes everything
// untracked. On an unborn HEAD there is no commit to reset to; the index and
// working tree are emptied instead.
func (r *Repository) ResetAndClean() error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("getting worktree: %w", err)
	}
	if _, err := r.repo.Head(); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return r.emptyWorktree()
		}
		return fmt.Errorf("resolving HEAD: %w", err)
	}
	if err := wt.Reset(&git.ResetOptions{Mode: git.HardReset}); err != nil {
		return fmt.Errorf("resetting worktree: %w", err)
	}
	if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return fmt.Errorf("cleaning worktree: %w", err)
	}
	return nil
}

func (r *Repository) emptyWorktree() error {
	if err := r.repo.Storer.SetIndex(&index.Index{Version: 2}); err != nil {
		return fmt.Errorf("clearing index: %w", err)
	}
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading worktree: %w", err)
	}
	for _, entry := range entries {
		if entry.Name() == git.GitDirName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(r.dir, entry.Name())); err != nil {
			return fmt.Errorf("cleaning worktree: %w", err)
		}
	}
	return nil
}

// Merge fast-forwards the current (freshly reset) working branch onto the
// remote-tracking ref of branch, so a push always starts from the latest
// known remote state. Returns ErrBranchNotFound when the ref does not
// resolve. Only the fast-forward shape is needed: Merge is invoked right
// after an orphan checkout, never from a diverged branch.
func (r *Repository) Merge(branch string) error {
	hash, err := r.resolveBranch(branch)
	if err != nil {
		return err
	}
	head, err := r.repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return fmt.Errorf("reading HEAD: %w", err)
	}
	if head.Type() != plumbing.SymbolicReference {
		return fmt.Errorf("HEAD is detached, refusing to merge")
	}
	if err := r.repo.Storer.SetReference(plumbing.NewHashReference(head.Target(), hash)); err != nil {
		return fmt.Errorf("advancing %s: %w", head.Target(), err)
	}
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("getting worktree: %w", err)
	}
	if err := wt.Reset(&git.ResetOptions{Mode: git.HardReset, Commit: hash}); err != nil {
		return fmt.Errorf("checking out %s: %w", branch, err)
	}
	return nil
}

// Add stages the files matching pattern, including deletions. The pattern
// "." stages the entire working tree.
func (r *Repository) Add(pattern string) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("getting worktree: %w", err)
	}
	opts := &git.AddOptions{Glob: pattern}
	if pattern == "." {
		opts = &git.AddOptions{All: true}
	}
	if err := wt.AddWithOptions(opts); err != nil {
		return fmt.Errorf("staging %q: %w", pattern, err)
	}
	return nil
}

// CurrentStatus classifies the staged changes into added, modified and
// removed path sets, sorted for determinism.
func (r *Repository) CurrentStatus() (Status, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return Status{}, fmt.Errorf("getting worktree: %w", err)
	}
	st, err := wt.Status()
	if err != nil {
		return Status{}, fmt.Errorf("getting status: %w", err)
	}
	var out Status
	for path, fs := range st {
		switch fs.Staging {
		case git.Added:
			out.Added = append(out.Added, path)
		case git.Modified, git.Renamed:
			out.Modified = append(out.Modified, path)
		case git.Deleted:
			out.Removed = append(out.Removed, path)
		}
	}
	sort.Strings(out.Added)
	sort.Strings(out.Modified)
	sort.Strings(out.Removed)
	return out, nil
}

// CommitStaged commits the staged changes with the given message and author.
func (r *Repository) CommitStaged(message, authorName, authorEmail string) (Commit, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return Commit{}, fmt.Errorf("getting worktree: %w", err)
	}
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  authorName,
			Email: authorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return Commit{}, fmt.Errorf("committing: %w", err)
	}
	obj, err := r.repo.CommitObject(hash)
	if err != nil {
		return Commit{}, fmt.Errorf("reading commit %s: %w", hash, err)
	}
	return toCommit(obj), nil
}

// Push publishes localBranch as remoteBranch. For local-only settings there
// is no remote to contact: the local target branch ref is advanced instead,
// which is what makes the commit reachable once the working branch is
// deleted by cleanup. Any remote rejection is ErrPushRejected.
func (r *Repository) Push(ctx context.Context, localBranch, remoteBranch string) error {
	if r.settings.ReadOnly {
		return ErrReadOnly
	}
	if r.settings.LocalOnly {
		hash, err := r.resolveRevision(localBranch)
		if err != nil {
			return err
		}
		target := plumbing.NewBranchReferenceName(remoteBranch)
		if err := r.repo.Storer.SetReference(plumbing.NewHashReference(target, hash)); err != nil {
			return fmt.Errorf("advancing %s: %w", target, err)
		}
		return nil
	}
	auth, err := r.settings.auth()
	if err != nil {
		return err
	}
	spec := gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", localBranch, remoteBranch))
	err = r.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: git.DefaultRemoteName,
		RefSpecs:   []gitconfig.RefSpec{spec},
		Auth:       auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("%w: %v", ErrPushRejected, err)
	}
	return nil
}

// DeleteBranch force-deletes a local branch ref. Deleting a branch that does
// not exist is not an error.
func (r *Repository) DeleteBranch(name string) error {
	if err := r.repo.Storer.RemoveReference(plumbing.NewBranchReferenceName(name)); err != nil {
		return fmt.Errorf("deleting branch %q: %w", name, err)
	}
	return nil
}

// resolveBranch resolves branch against the remote-tracking namespace, or
// the local namespace for local-only repositories.
func (r *Repository) resolveBranch(branch string) (plumbing.Hash, error) {
	rev := branch
	if !r.settings.LocalOnly {
		rev = "origin/" + branch
	}
	hash, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: %q", ErrBranchNotFound, branch)
	}
	return *hash, nil
}

func (r *Repository) resolveRevision(rev string) (plumbing.Hash, error) {
	hash, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolving revision %q: %w", rev, err)
	}
	return *hash, nil
}

func (r *Repository) commitAt(revision string) (*object.Commit, error) {
	hash, err := r.resolveRevision(revision)
	if err != nil {
		return nil, err
	}
	commit, err := r.repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("reading commit %s: %w", hash, err)
	}
	return commit, nil
}

func toCommit(c *object.Commit) Commit {
	return Commit{
		Timestamp:   c.Committer.When.UnixMilli(),
		ID:          c.Hash.String(),
		Message:     c.Message,
		AuthorName:  c.Author.Name,
		AuthorEmail: c.Author.Email,
	}
}

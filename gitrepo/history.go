/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

// maxBlobSize bounds how much of a single blob is materialized in memory for
// content queries.
const maxBlobSize = 50 << 20

var (
	// ErrFileNotFound is returned when a path does not exist at a revision.
	ErrFileNotFound = errors.New("file not found")

	// ErrContentTooLarge is returned for blobs above maxBlobSize.
	ErrContentTooLarge = errors.New("content too large")
)

// ChangeType classifies one entry of a tree diff.
type ChangeType string

const (
	ChangeAdd    ChangeType = "ADD"
	ChangeModify ChangeType = "MODIFY"
	ChangeDelete ChangeType = "DELETE"
)

// Diff describes one changed path between two revisions.
type Diff struct {
	FilePath      string     `json:"filePath"`
	ChangeType    ChangeType `json:"changeType"`
	ContentBefore string     `json:"contentBefore,omitempty"`
	ContentAfter  string     `json:"contentAfter,omitempty"`
	RawDiff       string     `json:"rawDiff,omitempty"`
}

// ListCommits pages through the history of branch, newest first by default.
// pathFilter restricts the log to commits touching the subtree. The text
// search is a case-insensitive substring match on the message. Merge commits
// are excluded unless the settings ask for them. An unknown branch yields an
// empty page rather than an error: a branch that was never pushed simply has
// no versions yet.
func (r *Repository) ListCommits(branch, pathFilter string, link PageLink) (PageData[Commit], error) {
	from, err := r.resolveBranch(branch)
	if err != nil {
		if errors.Is(err, ErrBranchNotFound) {
			return PageData[Commit]{Data: []Commit{}}, nil
		}
		return PageData[Commit]{}, err
	}
	opts := &git.LogOptions{From: from}
	if pathFilter != "" {
		opts.PathFilter = func(p string) bool { return underPath(p, pathFilter) }
	}
	iter, err := r.repo.Log(opts)
	if err != nil {
		return PageData[Commit]{}, fmt.Errorf("listing commits: %w", err)
	}
	defer iter.Close()

	search := strings.ToLower(link.TextSearch)
	var commits []Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if !r.settings.ShowMergeCommits && c.NumParents() > 1 {
			return nil
		}
		if search != "" && !strings.Contains(strings.ToLower(c.Message), search) {
			return nil
		}
		commits = append(commits, toCommit(c))
		return nil
	})
	if err != nil {
		return PageData[Commit]{}, fmt.Errorf("walking commits: %w", err)
	}
	if link.Sort != nil && link.Sort.Property == "timestamp" && link.Sort.Direction == SortAsc {
		sort.SliceStable(commits, func(i, j int) bool {
			return commits[i].Timestamp < commits[j].Timestamp
		})
	}
	return paginate(commits, link), nil
}

// ListFilesAtCommit lists the file paths present at revision, optionally
// restricted to the subtree at path and to depth path segments below it
// (depth 0 means unbounded).
func (r *Repository) ListFilesAtCommit(revision, path string, depth int) ([]string, error) {
	commit, err := r.commitAt(revision)
	if err != nil {
		return nil, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("reading tree: %w", err)
	}
	var files []string
	err = tree.Files().ForEach(func(f *object.File) error {
		if path != "" && !underPath(f.Name, path) {
			return nil
		}
		if depth > 0 {
			rel := strings.TrimPrefix(strings.TrimPrefix(f.Name, path), "/")
			if strings.Count(rel, "/")+1 > depth {
				return nil
			}
		}
		files = append(files, f.Name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking tree: %w", err)
	}
	return files, nil
}

// FileContentAtCommit returns the content of path at revision.
func (r *Repository) FileContentAtCommit(path, revision string) (string, error) {
	commit, err := r.commitAt(revision)
	if err != nil {
		return "", err
	}
	f, err := commit.File(path)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return "", fmt.Errorf("%w: %q at %s", ErrFileNotFound, path, revision)
		}
		return "", fmt.Errorf("reading %q: %w", path, err)
	}
	if f.Size > maxBlobSize {
		return "", fmt.Errorf("%w: %q is %d bytes", ErrContentTooLarge, path, f.Size)
	}
	return f.Contents()
}

// DiffList computes the tree diff between two revisions, optionally
// restricted to a subtree, with the full before/after contents and a raw
// unified diff per entry. A side missing a file (added or deleted entries)
// is tolerated.
func (r *Repository) DiffList(ctx context.Context, revision1, revision2, pathFilter string) ([]Diff, error) {
	c1, err := r.commitAt(revision1)
	if err != nil {
		return nil, err
	}
	c2, err := r.commitAt(revision2)
	if err != nil {
		return nil, err
	}
	t1, err := c1.Tree()
	if err != nil {
		return nil, fmt.Errorf("reading tree at %s: %w", revision1, err)
	}
	t2, err := c2.Tree()
	if err != nil {
		return nil, fmt.Errorf("reading tree at %s: %w", revision2, err)
	}
	changes, err := object.DiffTreeWithOptions(ctx, t1, t2, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, fmt.Errorf("diffing trees: %w", err)
	}

	var diffs []Diff
	for _, change := range changes {
		action, err := change.Action()
		if err != nil {
			return nil, fmt.Errorf("classifying change: %w", err)
		}
		d := Diff{}
		switch action {
		case merkletrie.Insert:
			d.ChangeType, d.FilePath = ChangeAdd, change.To.Name
		case merkletrie.Delete:
			d.ChangeType, d.FilePath = ChangeDelete, change.From.Name
		case merkletrie.Modify:
			d.ChangeType, d.FilePath = ChangeModify, change.To.Name
		}
		if pathFilter != "" && !underPath(d.FilePath, pathFilter) {
			continue
		}
		patch, err := change.PatchContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("formatting diff for %q: %w", d.FilePath, err)
		}
		d.RawDiff = patch.String()
		if before, err := r.FileContentAtCommit(d.FilePath, revision1); err == nil {
			d.ContentBefore = before
		} else if !errors.Is(err, ErrFileNotFound) {
			return nil, err
		}
		if after, err := r.FileContentAtCommit(d.FilePath, revision2); err == nil {
			d.ContentAfter = after
		} else if !errors.Is(err, ErrFileNotFound) {
			return nil, err
		}
		diffs = append(diffs, d)
	}
	return diffs, nil
}

// underPath reports whether p equals root or lies inside the subtree rooted
// at it, respecting path-segment boundaries.
func underPath(p, root string) bool {
	root = strings.TrimSuffix(root, "/")
	return p == root || strings.HasPrefix(p, root+"/")
}

/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gitrepo_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"chainguard.dev/tenantvc/gitrepo"
	"github.com/google/go-cmp/cmp"
)

// seedHistory produces three commits on main:
//
//	add device A            "Add device A"
//	add device B, asset C   "Add device B and asset C"
//	modify A, drop C        "Update device A"
func seedHistory(t *testing.T) (*gitrepo.Repository, []gitrepo.Commit) {
	t.Helper()
	repo := newLocalRepo(t)
	commits := []gitrepo.Commit{
		commitFiles(t, repo, "main", "Add device A", map[string]string{
			"device/a.json": `{"v":1}`,
		}),
		commitFiles(t, repo, "main", "Add device B and asset C", map[string]string{
			"device/b.json": `{"v":1}`,
			"asset/c.json":  `{"v":1}`,
		}),
		commitFiles(t, repo, "main", "Update device A", map[string]string{
			"device/a.json": `{"v":2}`,
			"asset/c.json":  "",
		}),
	}
	return repo, commits
}

func messages(commits []gitrepo.Commit) []string {
	out := make([]string, len(commits))
	for i, c := range commits {
		out[i] = c.Message
	}
	return out
}

func TestListCommitsNewestFirst(t *testing.T) {
	t.Parallel()
	repo, _ := seedHistory(t)
	page, err := repo.ListCommits("main", "", gitrepo.PageLink{})
	if err != nil {
		t.Fatalf("listing commits: %v", err)
	}
	want := []string{"Update device A", "Add device B and asset C", "Add device A"}
	if diff := cmp.Diff(want, messages(page.Data)); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestListCommitsPaging(t *testing.T) {
	t.Parallel()
	repo, _ := seedHistory(t)
	page, err := repo.ListCommits("main", "", gitrepo.PageLink{Page: 0, PageSize: 2})
	if err != nil {
		t.Fatalf("listing commits: %v", err)
	}
	if len(page.Data) != 2 || page.TotalElements != 3 || page.TotalPages != 2 || !page.HasNext {
		t.Fatalf("unexpected first page: %d items, %d elements, %d pages, hasNext=%v",
			len(page.Data), page.TotalElements, page.TotalPages, page.HasNext)
	}
	last, err := repo.ListCommits("main", "", gitrepo.PageLink{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("listing commits: %v", err)
	}
	if len(last.Data) != 1 || last.HasNext {
		t.Fatalf("unexpected last page: %d items, hasNext=%v", len(last.Data), last.HasNext)
	}
}

func TestListCommitsPathFilter(t *testing.T) {
	t.Parallel()
	repo, _ := seedHistory(t)
	page, err := repo.ListCommits("main", "device/a.json", gitrepo.PageLink{})
	if err != nil {
		t.Fatalf("listing commits: %v", err)
	}
	want := []string{"Update device A", "Add device A"}
	if diff := cmp.Diff(want, messages(page.Data)); diff != "" {
		t.Fatalf("unexpected commits (-want +got):\n%s", diff)
	}

	subtree, err := repo.ListCommits("main", "asset", gitrepo.PageLink{})
	if err != nil {
		t.Fatalf("listing commits: %v", err)
	}
	want = []string{"Update device A", "Add device B and asset C"}
	if diff := cmp.Diff(want, messages(subtree.Data)); diff != "" {
		t.Fatalf("unexpected subtree commits (-want +got):\n%s", diff)
	}
}

func TestListCommitsTextSearch(t *testing.T) {
	t.Parallel()
	repo, _ := seedHistory(t)
	page, err := repo.ListCommits("main", "", gitrepo.PageLink{TextSearch: "ASSET"})
	if err != nil {
		t.Fatalf("listing commits: %v", err)
	}
	want := []string{"Add device B and asset C"}
	if diff := cmp.Diff(want, messages(page.Data)); diff != "" {
		t.Fatalf("unexpected search result (-want +got):\n%s", diff)
	}
}

func TestListCommitsSortedAscending(t *testing.T) {
	t.Parallel()
	repo, _ := seedHistory(t)
	page, err := repo.ListCommits("main", "", gitrepo.PageLink{
		Sort: &gitrepo.SortOrder{Property: "timestamp", Direction: gitrepo.SortAsc},
	})
	if err != nil {
		t.Fatalf("listing commits: %v", err)
	}
	if !sort.SliceIsSorted(page.Data, func(i, j int) bool {
		return page.Data[i].Timestamp < page.Data[j].Timestamp
	}) {
		t.Fatalf("expected ascending timestamps, got %v", messages(page.Data))
	}
}

func TestListCommitsUnknownBranch(t *testing.T) {
	t.Parallel()
	repo, _ := seedHistory(t)
	page, err := repo.ListCommits("never-pushed", "", gitrepo.PageLink{})
	if err != nil {
		t.Fatalf("expected empty page, got error %v", err)
	}
	if len(page.Data) != 0 || page.TotalElements != 0 {
		t.Fatalf("expected empty page, got %+v", page)
	}
}

func TestListFilesAtCommit(t *testing.T) {
	t.Parallel()
	repo, commits := seedHistory(t)

	all, err := repo.ListFilesAtCommit(commits[1].ID, "", 0)
	if err != nil {
		t.Fatalf("listing files: %v", err)
	}
	sort.Strings(all)
	want := []string{"asset/c.json", "device/a.json", "device/b.json"}
	if diff := cmp.Diff(want, all); diff != "" {
		t.Fatalf("unexpected files (-want +got):\n%s", diff)
	}

	devices, err := repo.ListFilesAtCommit("main", "device", 1)
	if err != nil {
		t.Fatalf("listing files: %v", err)
	}
	sort.Strings(devices)
	want = []string{"device/a.json", "device/b.json"}
	if diff := cmp.Diff(want, devices); diff != "" {
		t.Fatalf("unexpected device files (-want +got):\n%s", diff)
	}
}

func TestFileContentAtCommit(t *testing.T) {
	t.Parallel()
	repo, commits := seedHistory(t)

	old, err := repo.FileContentAtCommit("device/a.json", commits[0].ID)
	if err != nil {
		t.Fatalf("reading old content: %v", err)
	}
	if old != `{"v":1}` {
		t.Fatalf("unexpected old content %q", old)
	}
	latest, err := repo.FileContentAtCommit("device/a.json", "main")
	if err != nil {
		t.Fatalf("reading latest content: %v", err)
	}
	if latest != `{"v":2}` {
		t.Fatalf("unexpected latest content %q", latest)
	}
	if _, err := repo.FileContentAtCommit("asset/c.json", "main"); !errors.Is(err, gitrepo.ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound for dropped file, got %v", err)
	}
}

func TestDiffList(t *testing.T) {
	t.Parallel()
	repo, commits := seedHistory(t)
	diffs, err := repo.DiffList(context.Background(), commits[1].ID, commits[2].ID, "")
	if err != nil {
		t.Fatalf("diffing: %v", err)
	}
	byPath := map[string]gitrepo.Diff{}
	for _, d := range diffs {
		byPath[d.FilePath] = d
	}
	if len(byPath) != 2 {
		t.Fatalf("expected 2 diff entries, got %d: %+v", len(byPath), diffs)
	}

	mod := byPath["device/a.json"]
	if mod.ChangeType != gitrepo.ChangeModify {
		t.Fatalf("expected MODIFY for device/a.json, got %s", mod.ChangeType)
	}
	if mod.ContentBefore != `{"v":1}` || mod.ContentAfter != `{"v":2}` {
		t.Fatalf("unexpected contents %q -> %q", mod.ContentBefore, mod.ContentAfter)
	}
	if !strings.Contains(mod.RawDiff, "device/a.json") {
		t.Fatalf("expected a raw diff, got %q", mod.RawDiff)
	}

	del := byPath["asset/c.json"]
	if del.ChangeType != gitrepo.ChangeDelete {
		t.Fatalf("expected DELETE for asset/c.json, got %s", del.ChangeType)
	}
	if del.ContentBefore != `{"v":1}` || del.ContentAfter != "" {
		t.Fatalf("unexpected contents %q -> %q", del.ContentBefore, del.ContentAfter)
	}
}

func TestDiffListPathFilter(t *testing.T) {
	t.Parallel()
	repo, commits := seedHistory(t)
	diffs, err := repo.DiffList(context.Background(), commits[0].ID, commits[2].ID, "asset")
	if err != nil {
		t.Fatalf("diffing: %v", err)
	}
	if len(diffs) != 0 {
		t.Fatalf("expected no asset entries between first and last, got %+v", diffs)
	}
}

/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package queue

import "chainguard.dev/tenantvc/gitrepo"

// Envelope is one inbound protocol message. Settings accompany every
// request except ClearRepository, so the coordinator can detect
// configuration drift without a round trip.
type Envelope struct {
	NodeID    string            `json:"nodeId"`
	RequestID string            `json:"requestId"`
	TenantID  string            `json:"tenantId"`
	Settings  *gitrepo.Settings `json:"settings,omitempty"`
	Request   Request           `json:"-"`
}

// Request is the sealed union of protocol requests. The coordinator matches
// it exhaustively; adding a kind without handling it is a compile-time
// visible omission (the default branch replies with an error, and the kind
// table in json.go fails encoding for unregistered types).
type Request interface {
	isRequest()
}

// ClearRepository deletes the tenant's repository and working state.
type ClearRepository struct{}

// TestRepository probes connectivity using the envelope settings. No handle
// is retained.
type TestRepository struct{}

// InitRepository wipes and re-creates the tenant repository from the
// envelope settings.
type InitRepository struct{}

// Commit is one step of the staged-commit protocol.
type Commit struct {
	TxID      string          `json:"txId"`
	Operation CommitOperation `json:"-"`
}

// CommitOperation is the sealed union of staged-commit steps.
type CommitOperation interface {
	isCommitOperation()
}

// Prepare opens a transaction against a target branch.
type Prepare struct {
	Branch      string `json:"branch"`
	Message     string `json:"message"`
	AuthorName  string `json:"authorName"`
	AuthorEmail string `json:"authorEmail"`
}

// Add carries one chunk of one staged file.
type Add struct {
	RelativePath string `json:"relativePath"`
	ChunkGroupID string `json:"chunkGroupId"`
	ChunkIndex   int    `json:"chunkIndex"`
	ChunksCount  int    `json:"chunksCount"`
	Data         string `json:"data"`
}

// Delete removes a subtree from the staged snapshot.
type Delete struct {
	RelativePath string `json:"relativePath"`
}

// Push finalizes the transaction.
type Push struct{}

// Abort discards the transaction.
type Abort struct{}

// ListBranches lists the remote branches.
type ListBranches struct{}

// ListVersions pages through the commit history of a branch, optionally
// narrowed to one entity type or one entity.
type ListVersions struct {
	Branch        string `json:"branch"`
	EntityType    string `json:"entityType,omitempty"`
	EntityID      string `json:"entityId,omitempty"`
	Page          int    `json:"page"`
	PageSize      int    `json:"pageSize"`
	TextSearch    string `json:"textSearch,omitempty"`
	SortProperty  string `json:"sortProperty,omitempty"`
	SortDirection string `json:"sortDirection,omitempty"`
}

// ListEntities lists the entities present at a version.
type ListEntities struct {
	VersionID  string `json:"versionId"`
	EntityType string `json:"entityType,omitempty"`
}

// EntityContent fetches one entity's document at a version; the reply is a
// chunked stream.
type EntityContent struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	VersionID  string `json:"versionId"`
}

// EntitiesContent fetches a window of entities of one type at a version; the
// reply is one chunked stream per entity.
type EntitiesContent struct {
	EntityType string `json:"entityType"`
	VersionID  string `json:"versionId"`
	Offset     int    `json:"offset"`
	Limit      int    `json:"limit"`
}

// VersionsDiff diffs two versions, optionally under a path.
type VersionsDiff struct {
	Path       string `json:"path,omitempty"`
	VersionID1 string `json:"versionId1"`
	VersionID2 string `json:"versionId2"`
}

func (*ClearRepository) isRequest() {}
func (*TestRepository) isRequest()  {}
func (*InitRepository) isRequest()  {}
func (*Commit) isRequest()          {}
func (*ListBranches) isRequest()    {}
func (*ListVersions) isRequest()    {}
func (*ListEntities) isRequest()    {}
func (*EntityContent) isRequest()   {}
func (*EntitiesContent) isRequest() {}
func (*VersionsDiff) isRequest()    {}

func (*Prepare) isCommitOperation() {}
func (*Add) isCommitOperation()     {}
func (*Delete) isCommitOperation()  {}
func (*Push) isCommitOperation()    {}
func (*Abort) isCommitOperation()   {}

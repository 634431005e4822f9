/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chainguard.dev/tenantvc/gitrepo"
	"chainguard.dev/tenantvc/queue"
	"chainguard.dev/tenantvc/staging"
	"github.com/google/uuid"
)

// dispatch handles one request and returns the reply payload. A (nil, nil)
// return means no reply is owed: commit steps acknowledge silently, stale
// transactions are dropped, and chunked content handlers publish their
// replies themselves.
func (c *Coordinator) dispatch(ctx context.Context, env queue.Envelope) (queue.Payload, error) {
	switch req := env.Request.(type) {
	case *queue.ClearRepository:
		c.staging.Discard(env.TenantID)
		if err := c.registry.Clear(env.TenantID); err != nil {
			return nil, err
		}
		return &queue.GenericPayload{}, nil
	case *queue.TestRepository:
		if env.Settings == nil {
			return nil, errors.New("repository settings are required")
		}
		if err := c.registry.Test(ctx, *env.Settings); err != nil {
			return nil, err
		}
		return &queue.GenericPayload{}, nil
	case *queue.InitRepository:
		if env.Settings == nil {
			return nil, errors.New("repository settings are required")
		}
		if _, err := c.registry.Init(ctx, env.TenantID, *env.Settings); err != nil {
			return nil, err
		}
		return &queue.GenericPayload{}, nil
	case *queue.Commit:
		return c.handleCommit(ctx, env, req)
	case *queue.ListBranches:
		repo, err := c.repo(ctx, env, true)
		if err != nil {
			return nil, err
		}
		branches, err := repo.ListBranches()
		if err != nil {
			return nil, err
		}
		return &queue.BranchesPayload{Branches: branches}, nil
	case *queue.ListVersions:
		return c.handleListVersions(ctx, env, req)
	case *queue.ListEntities:
		return c.handleListEntities(ctx, env, req)
	case *queue.EntityContent:
		return nil, c.handleEntityContent(ctx, env, req)
	case *queue.EntitiesContent:
		return nil, c.handleEntitiesContent(ctx, env, req)
	case *queue.VersionsDiff:
		return c.handleVersionsDiff(ctx, env, req)
	default:
		return nil, fmt.Errorf("unsupported request type %T", env.Request)
	}
}

// repo resolves the tenant's repository handle, applying envelope settings
// when present so configuration changes take effect in-band.
func (c *Coordinator) repo(ctx context.Context, env queue.Envelope, fetch bool) (*gitrepo.Repository, error) {
	var repo *gitrepo.Repository
	var err error
	if env.Settings != nil {
		repo, err = c.registry.Ensure(ctx, env.TenantID, *env.Settings)
	} else {
		repo, err = c.registry.Get(ctx, env.TenantID)
	}
	if err != nil {
		return nil, err
	}
	if fetch {
		if err := repo.Fetch(ctx); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

// handleCommit runs one staged-commit step. Any failure aborts whatever
// transaction the tenant has, so a broken transaction never pins the
// repository on a working branch.
func (c *Coordinator) handleCommit(ctx context.Context, env queue.Envelope, req *queue.Commit) (queue.Payload, error) {
	repo, err := c.repo(ctx, env, false)
	if err != nil {
		return nil, err
	}
	switch op := req.Operation.(type) {
	case *queue.Prepare:
		if err := repo.Fetch(ctx); err != nil {
			return nil, c.failTx(ctx, repo, env.TenantID, err)
		}
		pc := &staging.PendingCommit{
			TenantID:    env.TenantID,
			NodeID:      env.NodeID,
			TxID:        req.TxID,
			Branch:      op.Branch,
			Message:     op.Message,
			AuthorName:  op.AuthorName,
			AuthorEmail: op.AuthorEmail,
		}
		if err := c.staging.Prepare(ctx, repo, pc); err != nil {
			return nil, err
		}
		return nil, nil
	case *queue.Add:
		if err := c.staging.Add(ctx, repo, env.TenantID, req.TxID, op.ChunkGroupID, op.ChunkIndex, op.ChunksCount, op.RelativePath, op.Data); err != nil {
			return nil, c.failTx(ctx, repo, env.TenantID, err)
		}
		return nil, nil
	case *queue.Delete:
		if err := c.staging.Delete(ctx, repo, env.TenantID, req.TxID, op.RelativePath); err != nil {
			return nil, c.failTx(ctx, repo, env.TenantID, err)
		}
		return nil, nil
	case *queue.Push:
		res, err := c.staging.Push(ctx, repo, env.TenantID, req.TxID)
		if err != nil {
			return nil, c.failTx(ctx, repo, env.TenantID, err)
		}
		if res == nil {
			return nil, nil
		}
		return &queue.CommitPayload{
			Added:    res.Added,
			Modified: res.Modified,
			Removed:  res.Removed,
			Version:  res.Version,
		}, nil
	case *queue.Abort:
		if err := c.staging.Abort(ctx, repo, env.TenantID, req.TxID); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported commit operation %T", req.Operation)
	}
}

func (c *Coordinator) failTx(ctx context.Context, repo *gitrepo.Repository, tenantID string, err error) error {
	c.staging.AbortCurrent(ctx, repo, tenantID)
	return err
}

func (c *Coordinator) handleListVersions(ctx context.Context, env queue.Envelope, req *queue.ListVersions) (queue.Payload, error) {
	repo, err := c.repo(ctx, env, true)
	if err != nil {
		return nil, err
	}
	var path string
	if req.EntityType != "" {
		path = strings.ToLower(req.EntityType)
		if req.EntityID != "" {
			path = path + "/" + req.EntityID + ".json"
		}
	}
	link := gitrepo.PageLink{
		Page:       req.Page,
		PageSize:   req.PageSize,
		TextSearch: req.TextSearch,
	}
	if req.SortProperty != "" {
		link.Sort = &gitrepo.SortOrder{
			Property:  req.SortProperty,
			Direction: gitrepo.SortDirection(strings.ToUpper(req.SortDirection)),
		}
	}
	page, err := repo.ListCommits(req.Branch, path, link)
	if err != nil {
		return nil, err
	}
	return &queue.VersionsPayload{
		Versions:      page.Data,
		TotalPages:    page.TotalPages,
		TotalElements: page.TotalElements,
		HasNext:       page.HasNext,
	}, nil
}

func (c *Coordinator) handleListEntities(ctx context.Context, env queue.Envelope, req *queue.ListEntities) (queue.Payload, error) {
	repo, err := c.repo(ctx, env, false)
	if err != nil {
		return nil, err
	}
	path, depth := "", 2
	if req.EntityType != "" {
		path, depth = strings.ToLower(req.EntityType), 1
	}
	files, err := repo.ListFilesAtCommit(req.VersionID, path, depth)
	if err != nil {
		return nil, err
	}
	entities := make([]queue.VersionedEntity, 0, len(files))
	for _, f := range files {
		if e, ok := parseEntityPath(f); ok {
			entities = append(entities, e)
		}
	}
	return &queue.EntitiesPayload{Entities: entities}, nil
}

func (c *Coordinator) handleEntityContent(ctx context.Context, env queue.Envelope, req *queue.EntityContent) error {
	repo, err := c.repo(ctx, env, false)
	if err != nil {
		return err
	}
	content, err := repo.FileContentAtCommit(entityPath(req.EntityType, req.EntityID), req.VersionID)
	if err != nil {
		return err
	}
	return c.sendContent(ctx, env, content, func(item queue.ContentChunk) queue.Payload {
		return &queue.EntityContentPayload{Item: item}
	})
}

func (c *Coordinator) handleEntitiesContent(ctx context.Context, env queue.Envelope, req *queue.EntitiesContent) error {
	repo, err := c.repo(ctx, env, false)
	if err != nil {
		return err
	}
	files, err := repo.ListFilesAtCommit(req.VersionID, strings.ToLower(req.EntityType), 1)
	if err != nil {
		return err
	}
	window := files
	if req.Offset > 0 {
		if req.Offset >= len(window) {
			window = nil
		} else {
			window = window[req.Offset:]
		}
	}
	if req.Limit > 0 && req.Limit < len(window) {
		window = window[:req.Limit]
	}
	if len(window) == 0 {
		resp := &queue.Response{RequestID: env.RequestID, Payload: &queue.EntitiesContentPayload{}}
		return c.producer.Publish(ctx, queue.ReplySubject(env.NodeID), resp)
	}
	for _, f := range window {
		content, err := repo.FileContentAtCommit(f, req.VersionID)
		if err != nil {
			return err
		}
		err = c.sendContent(ctx, env, content, func(item queue.ContentChunk) queue.Payload {
			return &queue.EntitiesContentPayload{ItemsCount: len(window), Item: &item}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// sendContent publishes a chunked content stream as a sequence of replies
// sharing one chunked message id.
func (c *Coordinator) sendContent(ctx context.Context, env queue.Envelope, content string, wrap func(queue.ContentChunk) queue.Payload) error {
	chunkID := uuid.NewString()
	chunks := queue.SplitChunks(content, c.cfg.ChunkSize)
	for i, part := range chunks {
		resp := &queue.Response{
			RequestID: env.RequestID,
			Payload: wrap(queue.ContentChunk{
				ChunkedMessageID: chunkID,
				ChunksCount:      len(chunks),
				ChunkIndex:       i,
				Data:             part,
			}),
		}
		if err := c.producer.Publish(ctx, queue.ReplySubject(env.NodeID), resp); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) handleVersionsDiff(ctx context.Context, env queue.Envelope, req *queue.VersionsDiff) (queue.Payload, error) {
	repo, err := c.repo(ctx, env, false)
	if err != nil {
		return nil, err
	}
	diffs, err := repo.DiffList(ctx, req.VersionID1, req.VersionID2, req.Path)
	if err != nil {
		return nil, err
	}
	out := make([]queue.EntityDiff, 0, len(diffs))
	for _, d := range diffs {
		ed := queue.EntityDiff{
			FilePath:      d.FilePath,
			ChangeType:    d.ChangeType,
			ContentBefore: d.ContentBefore,
			ContentAfter:  d.ContentAfter,
			RawDiff:       d.RawDiff,
		}
		if e, ok := parseEntityPath(d.FilePath); ok {
			ed.EntityType, ed.EntityID = e.EntityType, e.EntityID
		}
		out = append(out, ed)
	}
	return &queue.DiffPayload{Diffs: out}, nil
}

// entityPath maps an entity to its document path in the export layout.
func entityPath(entityType, entityID string) string {
	return strings.ToLower(entityType) + "/" + entityID + ".json"
}

// parseEntityPath inverts entityPath. Files outside the layout are skipped.
func parseEntityPath(path string) (queue.VersionedEntity, bool) {
	dir, file, ok := strings.Cut(path, "/")
	if !ok || dir == "" || strings.Contains(file, "/") {
		return queue.VersionedEntity{}, false
	}
	id, found := strings.CutSuffix(file, ".json")
	if !found || id == "" {
		return queue.VersionedEntity{}, false
	}
	return queue.VersionedEntity{EntityType: strings.ToUpper(dir), EntityID: id}, true
}

// errorMessage maps a handler error onto the reply error string.
func errorMessage(err error) string {
	if errors.Is(err, gitrepo.ErrContentTooLarge) {
		return "Version is too big"
	}
	return err.Error()
}

/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package queue

import "chainguard.dev/tenantvc/gitrepo"

// Response is one reply message, addressed to the requesting node's reply
// subject. Error and Payload are mutually exclusive.
type Response struct {
	RequestID string  `json:"requestId"`
	Error     string  `json:"error,omitempty"`
	Payload   Payload `json:"-"`
}

// Payload is the sealed union of reply payloads.
type Payload interface {
	isPayload()
}

// GenericPayload acknowledges a request with no result body.
type GenericPayload struct{}

// CommitPayload reports the outcome of a push.
type CommitPayload struct {
	Added    int             `json:"added"`
	Modified int             `json:"modified"`
	Removed  int             `json:"removed"`
	Version  *gitrepo.Commit `json:"version,omitempty"`
}

// BranchesPayload lists branches.
type BranchesPayload struct {
	Branches []gitrepo.BranchInfo `json:"branches"`
}

// VersionsPayload is one page of version history.
type VersionsPayload struct {
	Versions      []gitrepo.Commit `json:"versions"`
	TotalPages    int              `json:"totalPages"`
	TotalElements int              `json:"totalElements"`
	HasNext       bool             `json:"hasNext"`
}

// VersionedEntity identifies one exported document at a version.
type VersionedEntity struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
}

// EntitiesPayload lists the entities present at a version.
type EntitiesPayload struct {
	Entities []VersionedEntity `json:"entities"`
}

// ContentChunk is one ordered fragment of a chunked content stream; the
// requester reassembles by (ChunkedMessageID, ChunkIndex).
type ContentChunk struct {
	ChunkedMessageID string `json:"chunkedMessageId"`
	ChunksCount      int    `json:"chunksCount"`
	ChunkIndex       int    `json:"chunkIndex"`
	Data             string `json:"data"`
}

// EntityContentPayload carries one chunk of a single entity's content.
type EntityContentPayload struct {
	Item ContentChunk `json:"item"`
}

// EntitiesContentPayload carries one chunk of one entity out of a batch.
// ItemsCount is the number of entities in the window; a zero-entity window
// is reported by a single payload with ItemsCount 0 and no Item.
type EntitiesContentPayload struct {
	ItemsCount int           `json:"itemsCount"`
	Item       *ContentChunk `json:"item,omitempty"`
}

// EntityDiff is one entry of a versions diff, with the entity identity
// parsed from the file path when it conforms to the export layout.
type EntityDiff struct {
	EntityType    string             `json:"entityType,omitempty"`
	EntityID      string             `json:"entityId,omitempty"`
	FilePath      string             `json:"filePath"`
	ChangeType    gitrepo.ChangeType `json:"changeType"`
	ContentBefore string             `json:"contentBefore,omitempty"`
	ContentAfter  string             `json:"contentAfter,omitempty"`
	RawDiff       string             `json:"rawDiff,omitempty"`
}

// DiffPayload lists the entries of a versions diff.
type DiffPayload struct {
	Diffs []EntityDiff `json:"diffs"`
}

func (*GenericPayload) isPayload()         {}
func (*CommitPayload) isPayload()          {}
func (*BranchesPayload) isPayload()        {}
func (*VersionsPayload) isPayload()        {}
func (*EntitiesPayload) isPayload()        {}
func (*EntityContentPayload) isPayload()   {}
func (*EntitiesContentPayload) isPayload() {}
func (*DiffPayload) isPayload()            {}

// SplitChunks cuts data into fragments of at most size bytes. Empty data
// still yields one empty chunk so the receiver always sees a stream.
func SplitChunks(data string, size int) []string {
	if size <= 0 || len(data) <= size {
		return []string{data}
	}
	chunks := make([]string, 0, (len(data)+size-1)/size)
	for len(data) > size {
		chunks = append(chunks, data[:size])
		data = data[size:]
	}
	return append(chunks, data)
}

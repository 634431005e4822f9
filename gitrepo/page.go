/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gitrepo

// SortDirection orders a commit listing.
type SortDirection string

const (
	SortAsc  SortDirection = "ASC"
	SortDesc SortDirection = "DESC"
)

// SortOrder names the property and direction a listing should be sorted by.
// The only property the engine understands is "timestamp".
type SortOrder struct {
	Property  string        `json:"property"`
	Direction SortDirection `json:"direction"`
}

// PageLink selects one page of a listing. TextSearch is a case-insensitive
// substring match on the commit message. A nil Sort keeps the log's natural
// (reverse-chronological) order, which callers must not rely on.
type PageLink struct {
	Page       int        `json:"page"`
	PageSize   int        `json:"pageSize"`
	TextSearch string     `json:"textSearch,omitempty"`
	Sort       *SortOrder `json:"sort,omitempty"`
}

// PageData is one page of results plus paging metadata.
type PageData[T any] struct {
	Data          []T  `json:"data"`
	TotalPages    int  `json:"totalPages"`
	TotalElements int  `json:"totalElements"`
	HasNext       bool `json:"hasNext"`
}

// paginate slices items according to link. PageSize <= 0 returns everything
// as a single page.
func paginate[T any](items []T, link PageLink) PageData[T] {
	total := len(items)
	if link.PageSize <= 0 {
		return PageData[T]{Data: items, TotalPages: 1, TotalElements: total}
	}
	totalPages := (total + link.PageSize - 1) / link.PageSize
	start := link.Page * link.PageSize
	if start >= total {
		return PageData[T]{Data: []T{}, TotalPages: totalPages, TotalElements: total}
	}
	end := start + link.PageSize
	if end > total {
		end = total
	}
	return PageData[T]{
		Data:          items[start:end],
		TotalPages:    totalPages,
		TotalElements: total,
		HasNext:       end < total,
	}
}

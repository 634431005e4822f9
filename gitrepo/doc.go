/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package gitrepo wraps a single on-disk git repository with the primitive
// operations the tenant version-control executor needs: open-or-clone,
// orphan-branch staging, commit and push, and read-only history queries.
//
// A Repository is not safe for concurrent use. Callers are expected to
// serialize access per tenant; the coordinator's lane hashing and per-tenant
// locks provide that guarantee.
package gitrepo

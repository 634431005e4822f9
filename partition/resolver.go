/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package partition maps tenants onto queue partitions so that every message
// of a tenant lands on the same consumer, and onto coordinator lanes so that
// a tenant's requests are handled by one worker at a time.
package partition

import "hash/fnv"

// Resolver assigns tenants to a fixed number of partitions by consistent
// hashing of the tenant id.
type Resolver struct {
	Partitions int
}

// Resolve returns the partition that owns the tenant.
func (r Resolver) Resolve(tenantID string) int {
	if r.Partitions <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(tenantID))
	return int(h.Sum32() % uint32(r.Partitions))
}

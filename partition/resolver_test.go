/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package partition_test

import (
	"fmt"
	"testing"

	"chainguard.dev/tenantvc/partition"
	"github.com/stretchr/testify/require"
)

func TestResolveIsStable(t *testing.T) {
	t.Parallel()
	r := partition.Resolver{Partitions: 10}
	for _, tenant := range []string{"tenant-a", "tenant-b", ""} {
		first := r.Resolve(tenant)
		require.GreaterOrEqual(t, first, 0)
		require.Less(t, first, 10)
		for range 100 {
			require.Equal(t, first, r.Resolve(tenant))
		}
	}
}

func TestResolveSinglePartition(t *testing.T) {
	t.Parallel()
	for _, r := range []partition.Resolver{{}, {Partitions: 1}} {
		require.Equal(t, 0, r.Resolve("any-tenant"))
	}
}

func TestResolveSpreadsTenants(t *testing.T) {
	t.Parallel()
	r := partition.Resolver{Partitions: 4}
	hit := map[int]bool{}
	for i := range 100 {
		hit[r.Resolve(fmt.Sprintf("tenant-%d", i))] = true
	}
	require.Len(t, hit, 4, "expected 100 tenants to cover all 4 partitions")
}

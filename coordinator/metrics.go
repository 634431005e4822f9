/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

var (
	requestCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenantvc_requests_total",
		Help: "Requests handled, by request kind and outcome.",
	}, []string{"kind", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tenantvc_request_duration_seconds",
		Help:    "Time spent handling one request, by request kind.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	evictionCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tenantvc_tenant_evictions_total",
		Help: "Tenants evicted on partition changes.",
	})
)

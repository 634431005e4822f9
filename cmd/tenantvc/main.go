/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package main runs the version-control executor: it consumes version
// control requests from the queue, applies them to per-tenant git
// repositories and publishes replies to the requesting nodes.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chainguard.dev/tenantvc/coordinator"
	"chainguard.dev/tenantvc/queue"
	"chainguard.dev/tenantvc/registry"
	"github.com/chainguard-dev/clog"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sethvargo/go-envconfig"
)

type config struct {
	NodeID      string `env:"NODE_ID"`
	RepoRoot    string `env:"REPO_ROOT,default=/var/lib/tenantvc/repos"`
	MetricsPort int    `env:"METRICS_PORT,default=2112"`

	NATSURL          string        `env:"NATS_URL,default=nats://127.0.0.1:4222"`
	QueueStream      string        `env:"QUEUE_STREAM,default=TENANTVC"`
	QueueSubject     string        `env:"QUEUE_SUBJECT,default=tenantvc.requests"`
	QueueDurable     string        `env:"QUEUE_DURABLE,default=tenantvc-executor"`
	PartitionSubject string        `env:"PARTITION_SUBJECT,default=tenantvc.partitions"`
	PollBatch        int           `env:"QUEUE_POLL_BATCH,default=64"`
	PollInterval     time.Duration `env:"QUEUE_POLL_INTERVAL,default=25ms"`

	PackTimeout time.Duration `env:"PACK_PROCESSING_TIMEOUT,default=60s"`
	IOPoolSize  int           `env:"IO_POOL_SIZE,default=3"`
	ChunkSize   int           `env:"MSG_CHUNK_SIZE,default=500000"`
	Partitions  int           `env:"PARTITIONS,default=10"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		clog.FatalContextf(ctx, "processing config: %v", err)
	}
	if cfg.NodeID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			clog.FatalContextf(ctx, "resolving hostname: %v", err)
		}
		cfg.NodeID = hostname
	}

	nc, err := nats.Connect(cfg.NATSURL, nats.Name("tenantvc-"+cfg.NodeID))
	if err != nil {
		clog.FatalContextf(ctx, "connecting to NATS at %s: %v", cfg.NATSURL, err)
	}
	defer nc.Close()

	consumer, err := queue.NewNATSConsumer(nc, queue.NATSConsumerOptions{
		Stream:   cfg.QueueStream,
		Subject:  cfg.QueueSubject,
		Durable:  cfg.QueueDurable,
		Batch:    cfg.PollBatch,
		Interval: cfg.PollInterval,
	})
	if err != nil {
		clog.FatalContextf(ctx, "creating consumer: %v", err)
	}
	defer consumer.Close()
	producer := queue.NewNATSProducer(nc)
	defer producer.Close()

	coord := coordinator.New(coordinator.Config{
		NodeID:      cfg.NodeID,
		Lanes:       cfg.IOPoolSize,
		PackTimeout: cfg.PackTimeout,
		ChunkSize:   cfg.ChunkSize,
		Partitions:  cfg.Partitions,
	}, registry.New(cfg.RepoRoot), consumer, producer)

	// Partition assignments arrive as a JSON array of owned partition
	// numbers; tenants outside the owned set are evicted.
	sub, err := nc.Subscribe(cfg.PartitionSubject, func(msg *nats.Msg) {
		var owned []int
		if err := json.Unmarshal(msg.Data, &owned); err != nil {
			clog.ErrorContextf(ctx, "Ignoring malformed partition assignment: %v", err)
			return
		}
		coord.HandlePartitionChange(ctx, owned)
	})
	if err != nil {
		clog.FatalContextf(ctx, "subscribing to partition assignments: %v", err)
	}
	defer sub.Unsubscribe()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			clog.ErrorContextf(ctx, "metrics server failed: %v", err)
		}
	}()
	defer srv.Shutdown(context.Background())

	clog.InfoContextf(ctx, "Starting version control executor %s (repos at %s)", cfg.NodeID, cfg.RepoRoot)
	if err := coord.Run(ctx); err != nil && ctx.Err() == nil {
		clog.FatalContextf(ctx, "coordinator failed: %v", err)
	}
}

/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package coordinator drives the request loop: it polls the queue in
// batches, fans envelopes out to a fixed set of worker lanes keyed by tenant
// hash, serializes all work per tenant, and acknowledges each batch as a
// whole once processed (or once the pack timeout fires).
package coordinator

import (
	"context"
	"sync"
	"time"

	"chainguard.dev/tenantvc/partition"
	"chainguard.dev/tenantvc/queue"
	"chainguard.dev/tenantvc/registry"
	"chainguard.dev/tenantvc/staging"
	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/errgroup"
)

// Config carries the coordinator tunables.
type Config struct {
	// NodeID names this executor in logs. Replies are addressed to the
	// requesting node, not to this one.
	NodeID string
	// Lanes is the number of parallel worker lanes. Envelopes of one tenant
	// always land on the same lane.
	Lanes int
	// PackTimeout bounds how long a batch may be processed before it is
	// acknowledged anyway.
	PackTimeout time.Duration
	// ChunkSize is the maximum data size of one reply content chunk.
	ChunkSize int
	// Partitions is the size of the tenant hash space used for partition
	// ownership decisions.
	Partitions int
}

// Coordinator owns the poll loop and the per-tenant serialization.
type Coordinator struct {
	cfg        Config
	registry   *registry.Registry
	staging    *staging.Store
	consumer   queue.Consumer
	producer   queue.Producer
	lane       partition.Resolver
	partitions partition.Resolver

	locks sync.Map // tenant id -> *sync.Mutex
}

// New wires a coordinator. Zero config fields get production defaults.
func New(cfg Config, reg *registry.Registry, consumer queue.Consumer, producer queue.Producer) *Coordinator {
	if cfg.Lanes <= 0 {
		cfg.Lanes = 3
	}
	if cfg.PackTimeout <= 0 {
		cfg.PackTimeout = time.Minute
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 500_000
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	return &Coordinator{
		cfg:        cfg,
		registry:   reg,
		staging:    staging.NewStore(),
		consumer:   consumer,
		producer:   producer,
		lane:       partition.Resolver{Partitions: cfg.Lanes},
		partitions: partition.Resolver{Partitions: cfg.Partitions},
	}
}

type laneTask struct {
	env queue.Envelope
	wg  *sync.WaitGroup
}

// Run polls and processes until the context is canceled.
func (c *Coordinator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	lanes := make([]chan laneTask, c.cfg.Lanes)
	for i := range lanes {
		lane := make(chan laneTask)
		lanes[i] = lane
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case task, ok := <-lane:
					if !ok {
						return nil
					}
					c.process(ctx, task.env)
					task.wg.Done()
				}
			}
		})
	}
	g.Go(func() error {
		defer func() {
			for _, lane := range lanes {
				close(lane)
			}
		}()
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			batch, err := c.consumer.Poll(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				clog.FromContext(ctx).Errorf("Failed to poll requests: %v", err)
				continue
			}
			if len(batch) == 0 {
				continue
			}
			if err := c.processBatch(ctx, lanes, batch); err != nil {
				return err
			}
			if err := c.consumer.Commit(ctx); err != nil {
				clog.FromContext(ctx).Errorf("Failed to commit batch: %v", err)
			}
		}
	})
	return g.Wait()
}

// processBatch fans the batch out to the lanes and waits for it, at most
// PackTimeout. A batch that overruns the timeout keeps processing on the
// lanes but is acknowledged regardless, trading a possible redelivery gap
// for a bounded queue lag.
func (c *Coordinator) processBatch(ctx context.Context, lanes []chan laneTask, batch []queue.Envelope) error {
	var wg sync.WaitGroup
	wg.Add(len(batch))
	for _, env := range batch {
		lane := lanes[c.lane.Resolve(env.TenantID)]
		select {
		case lane <- laneTask{env: env, wg: &wg}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(c.cfg.PackTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		clog.FromContext(ctx).Warnf("Batch of %d requests still processing after %s, acknowledging anyway", len(batch), c.cfg.PackTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// process handles one envelope under the tenant lock and publishes the reply
// when one is owed. Handler errors become reply error strings; they never
// stop the loop.
func (c *Coordinator) process(ctx context.Context, env queue.Envelope) {
	log := clog.FromContext(ctx).With("node", c.cfg.NodeID, "tenant", env.TenantID, "request", env.RequestID)
	ctx = clog.WithLogger(ctx, log)
	kind := queue.RequestKind(env.Request)

	mu := c.tenantLock(env.TenantID)
	mu.Lock()
	start := time.Now()
	payload, err := c.dispatch(ctx, env)
	mu.Unlock()
	requestDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		requestCount.WithLabelValues(kind, outcomeError).Inc()
		log.Errorf("Failed to handle %s request: %v", kind, err)
		c.reply(ctx, env, &queue.Response{RequestID: env.RequestID, Error: errorMessage(err)})
	case payload != nil:
		requestCount.WithLabelValues(kind, outcomeOK).Inc()
		c.reply(ctx, env, &queue.Response{RequestID: env.RequestID, Payload: payload})
	default:
		requestCount.WithLabelValues(kind, outcomeOK).Inc()
	}
}

func (c *Coordinator) reply(ctx context.Context, env queue.Envelope, resp *queue.Response) {
	if err := c.producer.Publish(ctx, queue.ReplySubject(env.NodeID), resp); err != nil {
		clog.FromContext(ctx).Errorf("Failed to publish reply for %s: %v", env.RequestID, err)
	}
}

func (c *Coordinator) tenantLock(tenantID string) *sync.Mutex {
	mu, _ := c.locks.LoadOrStore(tenantID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// HandlePartitionChange evicts every tenant whose partition is no longer in
// owned: the pending commit is discarded and the repository directory is
// deleted. The tenant's stored settings survive, so a repository is re-cloned
// on the next request should ownership return.
func (c *Coordinator) HandlePartitionChange(ctx context.Context, owned []int) {
	log := clog.FromContext(ctx)
	own := make(map[int]bool, len(owned))
	for _, p := range owned {
		own[p] = true
	}
	for _, tenantID := range c.registry.ActiveTenants() {
		if own[c.partitions.Resolve(tenantID)] {
			continue
		}
		mu := c.tenantLock(tenantID)
		mu.Lock()
		c.staging.Discard(tenantID)
		err := c.registry.Clear(tenantID)
		mu.Unlock()
		if err != nil {
			log.Warnf("Failed to evict tenant %s: %v", tenantID, err)
			continue
		}
		evictionCount.Inc()
		log.Infof("Evicted tenant %s on partition change", tenantID)
	}
}

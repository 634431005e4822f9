/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package queue defines the message-queue boundary of the version-control
// executor: the request envelope, the request and response unions, and the
// Consumer/Producer transport interfaces with a NATS JetStream
// implementation for production and an in-memory one for tests.
package queue

import "context"

// Consumer pulls batches of inbound request envelopes. A batch is
// acknowledged as a whole via Commit once every message in it has been
// processed (or reported failed): at-least-once delivery.
type Consumer interface {
	// Poll returns the next batch, or an empty slice when nothing arrived
	// within the poll interval.
	Poll(ctx context.Context) ([]Envelope, error)
	// Commit acknowledges everything returned by Poll since the last Commit.
	Commit(ctx context.Context) error
	Close() error
}

// Producer publishes reply messages.
type Producer interface {
	Publish(ctx context.Context, subject string, resp *Response) error
	Close() error
}

// ReplySubject is the per-node subject replies are addressed to.
func ReplySubject(nodeID string) string {
	return "tenantvc.replies." + nodeID
}

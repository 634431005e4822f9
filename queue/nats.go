/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/nats-io/nats.go"
)

// NATSConsumer pulls request envelopes from a JetStream pull consumer.
// Messages stay unacknowledged until Commit, so a crash mid-batch redelivers
// the whole batch.
type NATSConsumer struct {
	sub      *nats.Subscription
	batch    int
	interval time.Duration
	unacked  []*nats.Msg
}

// NATSConsumerOptions configures NewNATSConsumer.
type NATSConsumerOptions struct {
	// Stream is created with Subject if it does not exist yet.
	Stream  string
	Subject string
	Durable string
	// Batch is the maximum number of messages per Poll.
	Batch int
	// Interval bounds how long Poll waits for the first message.
	Interval time.Duration
}

// NewNATSConsumer binds a durable pull consumer to the request stream,
// creating the stream when missing.
func NewNATSConsumer(nc *nats.Conn, opts NATSConsumerOptions) (*NATSConsumer, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("getting JetStream context: %w", err)
	}
	if _, err := js.StreamInfo(opts.Stream); errors.Is(err, nats.ErrStreamNotFound) {
		if _, err := js.AddStream(&nats.StreamConfig{
			Name:      opts.Stream,
			Subjects:  []string{opts.Subject},
			Retention: nats.WorkQueuePolicy,
		}); err != nil {
			return nil, fmt.Errorf("creating stream %q: %w", opts.Stream, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("looking up stream %q: %w", opts.Stream, err)
	}
	sub, err := js.PullSubscribe(opts.Subject, opts.Durable, nats.AckExplicit(), nats.BindStream(opts.Stream))
	if err != nil {
		return nil, fmt.Errorf("subscribing to %q: %w", opts.Subject, err)
	}
	return &NATSConsumer{
		sub:      sub,
		batch:    opts.Batch,
		interval: opts.Interval,
	}, nil
}

// Poll fetches up to the configured batch of envelopes. Messages that fail to
// decode are acknowledged and skipped; they would never decode on redelivery
// either.
func (c *NATSConsumer) Poll(ctx context.Context) ([]Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msgs, err := c.sub.Fetch(c.batch, nats.MaxWait(c.interval))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching messages: %w", err)
	}
	envelopes := make([]Envelope, 0, len(msgs))
	for _, msg := range msgs {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			clog.FromContext(ctx).Errorf("Dropping undecodable message: %v", err)
			if aerr := msg.Ack(); aerr != nil {
				clog.FromContext(ctx).Warnf("Failed to ack dropped message: %v", aerr)
			}
			continue
		}
		c.unacked = append(c.unacked, msg)
		envelopes = append(envelopes, env)
	}
	return envelopes, nil
}

// Commit acknowledges every message returned since the last Commit.
func (c *NATSConsumer) Commit(ctx context.Context) error {
	var errs []error
	for _, msg := range c.unacked {
		if err := msg.Ack(); err != nil {
			errs = append(errs, err)
		}
	}
	c.unacked = nil
	return errors.Join(errs...)
}

// Close unsubscribes the pull consumer.
func (c *NATSConsumer) Close() error {
	return c.sub.Unsubscribe()
}

// NATSProducer publishes JSON replies over core NATS. Replies are
// fire-and-forget; a requester that missed one retries its request.
type NATSProducer struct {
	nc *nats.Conn
}

// NewNATSProducer wraps a connection as a reply publisher.
func NewNATSProducer(nc *nats.Conn) *NATSProducer {
	return &NATSProducer{nc: nc}
}

// Publish sends one reply to the given subject.
func (p *NATSProducer) Publish(ctx context.Context, subject string, resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding response %s: %w", resp.RequestID, err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %q: %w", subject, err)
	}
	return nil
}

// Close flushes outstanding publishes. The connection is owned by the caller.
func (p *NATSProducer) Close() error {
	return p.nc.Flush()
}

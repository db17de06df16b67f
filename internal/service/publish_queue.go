// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package service

import (
	"context"
	"sync"
	"time"

	"github.com/relaymesh/eventd/internal/event"
	"github.com/relaymesh/eventd/internal/logging"
	"github.com/relaymesh/eventd/internal/metrics"
)

const publishTimeout = 10 * time.Second

// PublishQueue is the bounded async publish path between event creation
// and the transport. It only accelerates delivery: a dropped or failed
// publish is harmless because the event is already pending in the store
// and the polling loop re-publishes it.
type PublishQueue struct {
	pub     EnvelopePublisher
	tasks   chan *event.Envelope
	workers int
}

// NewPublishQueue creates a queue with the given capacity and worker
// count.
func NewPublishQueue(pub EnvelopePublisher, size, workers int) *PublishQueue {
	if size < 1 {
		size = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &PublishQueue{
		pub:     pub,
		tasks:   make(chan *event.Envelope, size),
		workers: workers,
	}
}

// Enqueue offers an envelope to the queue without blocking. A full
// queue drops the task and reports false; the caller never waits on
// the transport.
func (q *PublishQueue) Enqueue(env *event.Envelope) bool {
	select {
	case q.tasks <- env:
		metrics.PublishQueueDepth.Set(float64(len(q.tasks)))
		return true
	default:
		metrics.PublishQueueDropped.Inc()
		logging.Debug().
			Str("event_id", env.ID).
			Str("subject", env.Subject).
			Msg("Publish queue full, deferring to polling loop")
		return false
	}
}

// Serve drains the queue with the configured worker count until context
// cancellation. Implements suture.Service.
func (q *PublishQueue) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.worker(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (q *PublishQueue) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-q.tasks:
			metrics.PublishQueueDepth.Set(float64(len(q.tasks)))
			q.publish(ctx, env)
		}
	}
}

func (q *PublishQueue) publish(ctx context.Context, env *event.Envelope) {
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := q.pub.PublishEnvelope(pubCtx, env); err != nil {
		logging.Warn().
			Err(err).
			Str("event_id", env.ID).
			Str("subject", env.Subject).
			Msg("Async publish failed, event remains pending")
	}
}

// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/relaymesh/eventd/internal/event"
	"github.com/relaymesh/eventd/internal/logging"
	"github.com/relaymesh/eventd/internal/metrics"
	"github.com/relaymesh/eventd/internal/store"
)

// ProcessPending runs one polling pass: fetch up to the configured
// batch of pending events (oldest first) and process each in isolation.
// A failing event is logged and left pending for the next pass; it
// never blocks its neighbors. Returns the number of events that reached
// a terminal state.
func (s *Service) ProcessPending(ctx context.Context) (int, error) {
	events, err := s.store.GetUnprocessed(ctx, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch unprocessed: %w", err)
	}
	metrics.PollBatchSize.Observe(float64(len(events)))
	if len(events) == 0 {
		return 0, nil
	}

	done := 0
	for _, e := range events {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if err := s.ProcessEvent(ctx, e); err != nil {
			metrics.EventsProcessed.WithLabelValues("retry").Inc()
			logging.Ctx(ctx).Warn().Err(err).
				Str("event_id", e.EventID).
				Str("event_type", e.EventType).
				Msg("Event left pending for retry")
			continue
		}
		done++
	}
	return done, nil
}

// ProcessEvent drives one event to a terminal state:
//
//  1. publish the envelope to the transport (best-effort; skipped in
//     degraded mode, and the broker deduplicates republished ids)
//  2. invoke every enabled processor matching the event
//  3. fold the event into its entity projection
//  4. dispatch matching subscriptions (best-effort)
//  5. mark the event processed
//
// A failure in step 2 or 3 returns an error and leaves the event
// pending, except a processor error wrapping ErrPermanentFailure,
// which marks the event failed instead. A publish failure never holds
// the event pending: the store is the system of record and processing
// must reach a terminal state with the broker down.
func (s *Service) ProcessEvent(ctx context.Context, e *event.Event) error {
	if s.publisher != nil {
		if err := s.publisher.PublishEnvelope(ctx, event.NewEnvelope(e)); err != nil {
			logging.Ctx(ctx).Warn().Err(err).
				Str("event_id", e.EventID).
				Str("event_type", e.EventType).
				Msg("Transport publish failed, continuing from store")
		}
	}

	if err := s.runProcessors(ctx, e); err != nil {
		if errors.Is(err, ErrPermanentFailure) {
			if mErr := s.store.MarkFailed(ctx, e.EventID, err.Error()); mErr != nil {
				return fmt.Errorf("mark failed %s: %w", e.EventID, mErr)
			}
			metrics.EventsProcessed.WithLabelValues("failed").Inc()
			logging.Ctx(ctx).Error().Err(err).
				Str("event_id", e.EventID).
				Msg("Event marked failed")
			return nil
		}
		return err
	}

	if e.HasEntity() {
		if err := s.foldProjection(ctx, e); err != nil {
			return fmt.Errorf("fold projection %s: %w", e.EventID, err)
		}
	}

	s.dispatchSubscriptions(ctx, e)

	if err := s.store.MarkProcessed(ctx, e.EventID); err != nil {
		return err
	}
	metrics.EventsProcessed.WithLabelValues("processed").Inc()
	return nil
}

// runProcessors invokes every enabled matching processor. The first
// error aborts the run; remaining processors see the event again on the
// redelivery pass, protected by their own idempotency.
func (s *Service) runProcessors(ctx context.Context, e *event.Event) error {
	processors, err := s.registry.ListProcessors(ctx)
	if err != nil {
		return fmt.Errorf("list processors: %w", err)
	}

	for _, p := range processors {
		if !p.Enabled || !p.Matches(e) {
			continue
		}
		fn, ok := s.handler(p.HandlerKey())
		if !ok {
			logging.Ctx(ctx).Warn().
				Str("processor", p.Name).
				Str("handler", p.HandlerKey()).
				Msg("Processor has no registered handler, skipping")
			continue
		}
		if err := s.invokeProcessor(ctx, p, fn, e); err != nil {
			return fmt.Errorf("processor %s: %w", p.Name, err)
		}
	}
	return nil
}

// invokeProcessor runs one handler with panic isolation: a panicking
// processor must not take down the polling loop.
func (s *Service) invokeProcessor(ctx context.Context, p *Processor, fn HandlerFunc, e *event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.ProcessorInvocations.WithLabelValues(p.Name, result).Inc()
	}()
	return fn(ctx, e)
}

// foldProjection applies the event to its entity projection, creating
// the projection on first touch. Version-guarded Apply makes redelivery
// a no-op.
func (s *Service) foldProjection(ctx context.Context, e *event.Event) error {
	p, err := s.store.GetProjection(ctx, e.EntityType, e.EntityID)
	if errors.Is(err, store.ErrNotFound) {
		p = &event.Projection{EntityType: e.EntityType, EntityID: e.EntityID}
	} else if err != nil {
		return err
	}

	if !p.Apply(e) {
		return nil
	}
	return s.store.SaveProjection(ctx, p)
}

// dispatchSubscriptions delivers the event to every matching active
// subscription webhook. Delivery is best-effort: failures are logged
// and never hold the event pending, since an unreachable subscriber
// webhook must not stall the pipeline.
func (s *Service) dispatchSubscriptions(ctx context.Context, e *event.Event) {
	subs, err := s.registry.ListSubscriptions(ctx)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("List subscriptions failed")
		return
	}

	var payload []byte
	for _, sub := range subs {
		if !sub.Matches(e) {
			continue
		}
		if payload == nil {
			payload, err = event.NewEnvelope(e).Encode()
			if err != nil {
				logging.Ctx(ctx).Error().Err(err).
					Str("event_id", e.EventID).
					Msg("Encode for subscription delivery failed")
				return
			}
		}
		s.deliverWebhook(ctx, sub, e, payload)
	}
}

func (s *Service) deliverWebhook(ctx context.Context, sub *Subscription, e *event.Event, payload []byte) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.TargetURL, bytes.NewReader(payload))
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).
			Str("subscription_id", sub.ID).
			Msg("Build subscription request failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Id", e.EventID)
	req.Header.Set("X-Event-Type", e.EventType)

	resp, err := s.webhookClient.Do(req)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str("subscription_id", sub.ID).
			Str("event_id", e.EventID).
			Msg("Subscription delivery failed")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		logging.Ctx(ctx).Warn().
			Int("status", resp.StatusCode).
			Str("subscription_id", sub.ID).
			Str("event_id", e.EventID).
			Msg("Subscription endpoint rejected delivery")
	}
}

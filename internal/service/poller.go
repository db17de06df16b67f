// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package service

import (
	"context"
	"time"

	"github.com/relaymesh/eventd/internal/logging"
)

// Poller is the outbox polling loop: every interval it sweeps pending
// events from the store and drives them to a terminal state. It is the
// at-least-once guarantee of the pipeline; the transport and the async
// publish queue are only faster paths over the same events.
type Poller struct {
	svc *Service
}

// NewPoller wraps the service's polling pass as a supervised loop.
func NewPoller(svc *Service) *Poller {
	return &Poller{svc: svc}
}

// Serve runs the polling loop until context cancellation. Implements
// suture.Service; a returned error restarts the loop under supervision.
func (p *Poller) Serve(ctx context.Context) error {
	interval := p.svc.cfg.ProcessingInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	logging.Info().
		Dur("interval", interval).
		Int("batch_size", p.svc.cfg.BatchSize).
		Msg("Event polling loop started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Event polling loop stopped")
			return ctx.Err()
		case <-ticker.C:
			n, err := p.svc.ProcessPending(ctx)
			if err != nil && ctx.Err() == nil {
				logging.Error().Err(err).Msg("Polling pass failed")
				continue
			}
			if n > 0 {
				logging.Debug().Int("processed", n).Msg("Polling pass complete")
			}
		}
	}
}

func (p *Poller) String() string { return "event-poller" }

// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/relaymesh/eventd/internal/event"
	"github.com/relaymesh/eventd/internal/logging"
	"github.com/relaymesh/eventd/internal/metrics"
	"github.com/relaymesh/eventd/internal/store"
)

// Replay states.
const (
	ReplayIdle      = "idle"
	ReplayRunning   = "running"
	ReplayCompleted = "completed"
	ReplayFailed    = "failed"
)

// ReplayStatus is a snapshot of the current or last replay run.
type ReplayStatus struct {
	State      string     `json:"state"`
	Mode       string     `json:"mode,omitempty"`
	Matched    int64      `json:"matched"`
	Replayed   int64      `json:"replayed"`
	Errors     int64      `json:"errors"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// StartReplay launches a background replay of historical events.
// Replay re-invokes processors and refolds projections from the store;
// it never republishes to the transport, so downstream consumers are
// untouched. Only one replay runs at a time.
//
// Dry-run mode reports what would be replayed without side effects.
// Entity-scoped replay (EntityType+EntityID set) deletes the entity's
// projection first and rebuilds it from the full stream.
func (s *Service) StartReplay(req *ReplayRequest) error {
	mode := "live"
	if req.DryRun {
		mode = "dry_run"
	}

	s.replayMu.Lock()
	if s.replay.State == ReplayRunning {
		s.replayMu.Unlock()
		return ErrReplayInProgress
	}
	now := time.Now().UTC()
	s.replay = ReplayStatus{State: ReplayRunning, Mode: mode, StartedAt: &now}
	s.replayMu.Unlock()

	// Replay outlives the triggering HTTP request.
	go s.runReplay(context.Background(), req, mode)
	return nil
}

// GetReplayStatus returns a copy of the replay state.
func (s *Service) GetReplayStatus() ReplayStatus {
	s.replayMu.Lock()
	defer s.replayMu.Unlock()
	return s.replay
}

func (s *Service) runReplay(ctx context.Context, req *ReplayRequest, mode string) {
	logging.Info().
		Str("mode", mode).
		Str("entity_type", req.EntityType).
		Str("entity_id", req.EntityID).
		Msg("Replay started")

	err := s.replayEvents(ctx, req, mode)

	s.replayMu.Lock()
	now := time.Now().UTC()
	s.replay.FinishedAt = &now
	if err != nil {
		s.replay.State = ReplayFailed
		s.replay.LastError = err.Error()
	} else {
		s.replay.State = ReplayCompleted
	}
	status := s.replay
	s.replayMu.Unlock()

	if err != nil {
		logging.Error().Err(err).Msg("Replay failed")
		return
	}
	logging.Info().
		Int64("matched", status.Matched).
		Int64("replayed", status.Replayed).
		Int64("errors", status.Errors).
		Msg("Replay finished")
}

func (s *Service) replayEvents(ctx context.Context, req *ReplayRequest, mode string) error {
	if req.EntityType != "" && req.EntityID != "" {
		return s.replayEntity(ctx, req, mode)
	}
	return s.replayRange(ctx, req, mode)
}

// replayRange pages through the filtered history in creation order.
func (s *Service) replayRange(ctx context.Context, req *ReplayRequest, mode string) error {
	limiter := s.replayLimiter()

	f := store.Filter{
		Types:      req.EventTypes,
		Categories: req.Categories,
		Sources:    req.Sources,
		UserID:     req.UserID,
		Limit:      s.cfg.BatchSize,
	}
	if req.StartTime != nil {
		f.Since = *req.StartTime
	}
	if req.EndTime != nil {
		f.Until = *req.EndTime
	}

	for {
		events, total, err := s.store.Query(ctx, f)
		if err != nil {
			return fmt.Errorf("replay query: %w", err)
		}
		if f.Offset == 0 {
			s.addReplayMatched(total)
		}
		if len(events) == 0 {
			return nil
		}

		for _, e := range events {
			if err := s.replayOne(ctx, e, mode, limiter); err != nil {
				return err
			}
		}

		f.Offset += len(events)
		if int64(f.Offset) >= total {
			return nil
		}
	}
}

// replayEntity rebuilds one entity projection from scratch and re-runs
// processors over its stream.
func (s *Service) replayEntity(ctx context.Context, req *ReplayRequest, mode string) error {
	limiter := s.replayLimiter()

	events, err := s.store.GetStream(ctx, req.EntityType, req.EntityID, 0)
	if err != nil {
		return fmt.Errorf("replay stream: %w", err)
	}
	s.addReplayMatched(int64(len(events)))

	if mode == "live" {
		if err := s.store.DeleteProjection(ctx, req.EntityType, req.EntityID); err != nil {
			return fmt.Errorf("reset projection: %w", err)
		}
	}

	for _, e := range events {
		if err := s.replayOne(ctx, e, mode, limiter); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) replayOne(ctx context.Context, e *event.Event, mode string, limiter *rate.Limiter) error {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}
	metrics.ReplayedEvents.WithLabelValues(mode).Inc()

	if mode == "dry_run" {
		s.bumpReplayed(false)
		return nil
	}

	failed := false
	if err := s.runProcessors(ctx, e); err != nil && !errors.Is(err, context.Canceled) {
		failed = true
		logging.Warn().Err(err).
			Str("event_id", e.EventID).
			Msg("Replay processor error")
	}
	if e.HasEntity() {
		if err := s.foldProjection(ctx, e); err != nil {
			failed = true
			logging.Warn().Err(err).
				Str("event_id", e.EventID).
				Msg("Replay projection error")
		}
	}
	s.bumpReplayed(failed)
	return nil
}

func (s *Service) replayLimiter() *rate.Limiter {
	if s.cfg.ReplayRate <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(s.cfg.ReplayRate), s.cfg.ReplayRate)
}

func (s *Service) addReplayMatched(n int64) {
	s.replayMu.Lock()
	s.replay.Matched += n
	s.replayMu.Unlock()
}

func (s *Service) bumpReplayed(failed bool) {
	s.replayMu.Lock()
	s.replay.Replayed++
	if failed {
		s.replay.Errors++
	}
	s.replayMu.Unlock()
}

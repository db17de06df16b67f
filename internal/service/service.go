// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

// Package service implements the event pipeline orchestrator: event
// creation with async transport publish, the pending-event polling
// loop, processor and subscription dispatch, projection folding, and
// historical replay.
//
// The store is the system of record. Every accepted event is written
// there first with status pending; the transport only accelerates
// delivery, and its absence degrades the service to store-only mode
// instead of failing it.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/relaymesh/eventd/internal/config"
	"github.com/relaymesh/eventd/internal/event"
	"github.com/relaymesh/eventd/internal/logging"
	"github.com/relaymesh/eventd/internal/metrics"
	"github.com/relaymesh/eventd/internal/store"
)

// EventStore is the persistence surface the orchestrator needs. The
// DuckDB store satisfies it; tests substitute fakes.
type EventStore interface {
	Insert(ctx context.Context, e *event.Event) error
	GetByID(ctx context.Context, eventID string) (*event.Event, error)
	Query(ctx context.Context, f store.Filter) ([]*event.Event, int64, error)
	GetUnprocessed(ctx context.Context, limit int) ([]*event.Event, error)
	MarkProcessed(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID, reason string) error
	GetStream(ctx context.Context, entityType, entityID string, fromVersion int64) ([]*event.Event, error)
	Statistics(ctx context.Context, userID string) (*event.Statistics, error)
	GetProjection(ctx context.Context, entityType, entityID string) (*event.Projection, error)
	SaveProjection(ctx context.Context, p *event.Projection) error
	DeleteProjection(ctx context.Context, entityType, entityID string) error
}

// EnvelopePublisher publishes wire envelopes to the transport. The
// transport publisher satisfies it; a nil publisher means store-only
// mode.
type EnvelopePublisher interface {
	PublishEnvelope(ctx context.Context, env *event.Envelope) error
}

// HandlerFunc is the code behind a registered processor.
type HandlerFunc func(ctx context.Context, e *event.Event) error

// Service is the event pipeline orchestrator.
type Service struct {
	store     EventStore
	registry  Registry
	publisher EnvelopePublisher
	queue     *PublishQueue
	cfg       config.EventsConfig
	api       config.APIConfig

	handlersMu sync.RWMutex
	handlers   map[string]HandlerFunc

	// webhookClient delivers subscription payloads.
	webhookClient *http.Client

	replayMu sync.Mutex
	replay   ReplayStatus
}

// New assembles the orchestrator. A nil publisher puts the service in
// degraded store-only mode: events are still accepted and processed,
// but nothing reaches the transport.
func New(cfg *config.Config, st EventStore, reg Registry, pub EnvelopePublisher) *Service {
	s := &Service{
		store:     st,
		registry:  reg,
		publisher: pub,
		cfg:       cfg.Events,
		api:       cfg.API,
		handlers:  map[string]HandlerFunc{},
		webhookClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		replay: ReplayStatus{State: ReplayIdle},
	}
	if pub != nil {
		s.queue = NewPublishQueue(pub, cfg.Events.PublishQueueSize, cfg.Events.PublishWorkers)
	}
	return s
}

// Degraded reports whether the service runs without a transport.
func (s *Service) Degraded() bool {
	return s.publisher == nil
}

// Registry exposes the processor/subscription registry to the API layer.
func (s *Service) Registry() Registry {
	return s.registry
}

// Queue returns the async publish queue, nil in degraded mode.
func (s *Service) Queue() *PublishQueue {
	return s.queue
}

// RegisterHandler binds processor code to a handler key. Called at
// startup before the polling loop runs.
func (s *Service) RegisterHandler(name string, fn HandlerFunc) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[name] = fn
}

func (s *Service) handler(name string) (HandlerFunc, bool) {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	fn, ok := s.handlers[name]
	return fn, ok
}

// CreateEvent validates, stamps, and persists one event, then offers it
// to the async publish queue. A retried create with the same event id
// returns the stored event unchanged.
func (s *Service) CreateEvent(ctx context.Context, req *CreateRequest) (*event.Event, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	e := event.New(req.EventType, req.EventSource, req.EventCategory)
	e.UserID = req.UserID
	if req.Data != nil {
		e.Data = req.Data
	}
	e.Metadata = req.Metadata
	if req.Timestamp != nil {
		e.Timestamp = req.Timestamp.UTC()
	}
	e.EntityType = req.EntityType
	e.EntityID = req.EntityID
	e.EntityVersion = req.EntityVersion

	return s.ingest(ctx, e, true)
}

// CreateBatch persists a batch of events. Each event is handled
// independently: one invalid event fails the whole request before any
// write, but store errors after validation only skip the failing event.
func (s *Service) CreateBatch(ctx context.Context, reqs []*CreateRequest) ([]*event.Event, error) {
	for i, req := range reqs {
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
	}

	out := make([]*event.Event, 0, len(reqs))
	for _, req := range reqs {
		e, err := s.CreateEvent(ctx, req)
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).
				Str("event_type", req.EventType).
				Msg("Batch event rejected by store")
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// ingest writes the event and optionally enqueues the transport
// publish. Duplicate ids resolve to the already-stored event.
func (s *Service) ingest(ctx context.Context, e *event.Event, publish bool) (*event.Event, error) {
	err := s.store.Insert(ctx, e)
	if errors.Is(err, store.ErrDuplicateEvent) {
		existing, gerr := s.store.GetByID(ctx, e.EventID)
		if gerr != nil {
			return nil, fmt.Errorf("fetch duplicate %s: %w", e.EventID, gerr)
		}
		return existing, nil
	}
	if err != nil {
		return nil, err
	}

	metrics.EventsCreated.WithLabelValues(string(e.EventSource), string(e.EventCategory)).Inc()
	logging.Ctx(ctx).Debug().
		Str("event_id", e.EventID).
		Str("event_type", e.EventType).
		Str("subject", e.Subject()).
		Msg("Event stored")

	if publish && s.queue != nil {
		s.queue.Enqueue(event.NewEnvelope(e))
	}
	return e, nil
}

// GetEvent fetches one event by id; store.ErrNotFound when absent.
func (s *Service) GetEvent(ctx context.Context, eventID string) (*event.Event, error) {
	return s.store.GetByID(ctx, eventID)
}

// QueryEvents runs a filtered, paginated query. Limits are clamped to
// the configured page-size bounds.
func (s *Service) QueryEvents(ctx context.Context, req *QueryRequest) (*QueryResult, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = s.api.DefaultPageSize
	}
	if limit > s.api.MaxPageSize {
		limit = s.api.MaxPageSize
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	f := store.Filter{
		Types:      req.EventTypes,
		Categories: req.Categories,
		Sources:    req.Sources,
		UserID:     req.UserID,
		Status:     req.Status,
		Limit:      limit,
		Offset:     offset,
		Descending: req.SortDesc,
	}
	if req.StartTime != nil {
		f.Since = *req.StartTime
	}
	if req.EndTime != nil {
		f.Until = *req.EndTime
	}

	events, total, err := s.store.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []*event.Event{}
	}

	return &QueryResult{
		Events:  events,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: int64(offset+limit) < total,
	}, nil
}

// GetEventStream returns the ordered event stream for one entity,
// starting strictly after fromVersion.
func (s *Service) GetEventStream(ctx context.Context, entityType, entityID string, fromVersion int64) ([]*event.Event, error) {
	events, err := s.store.GetStream(ctx, entityType, entityID, fromVersion)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []*event.Event{}
	}
	return events, nil
}

// Statistics aggregates event counts, optionally per user.
func (s *Service) Statistics(ctx context.Context, userID string) (*event.Statistics, error) {
	return s.store.Statistics(ctx, userID)
}

// GetProjection returns the materialized projection for one entity;
// store.ErrNotFound when it was never built.
func (s *Service) GetProjection(ctx context.Context, entityType, entityID string) (*event.Projection, error) {
	return s.store.GetProjection(ctx, entityType, entityID)
}

// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/eventd/internal/config"
	"github.com/relaymesh/eventd/internal/event"
)

// Processor is a named in-process handler invoked by the polling loop
// for matching events. The Handler key resolves to a HandlerFunc
// registered at startup; a processor whose handler is not registered is
// skipped with a warning rather than wedging its events.
type Processor struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Handler     string           `json:"handler,omitempty"`
	EventTypes  []string         `json:"event_types,omitempty"`
	Categories  []event.Category `json:"event_categories,omitempty"`
	Enabled     bool             `json:"enabled"`
	Description string           `json:"description,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// HandlerKey returns the handler lookup key, defaulting to the name.
func (p *Processor) HandlerKey() string {
	if p.Handler != "" {
		return p.Handler
	}
	return p.Name
}

// Matches reports whether the processor should run for the event. Empty
// filter lists match everything.
func (p *Processor) Matches(e *event.Event) bool {
	if len(p.EventTypes) > 0 && !containsString(p.EventTypes, e.EventType) {
		return false
	}
	if len(p.Categories) > 0 && !containsCategory(p.Categories, e.EventCategory) {
		return false
	}
	return true
}

// Subscription routes processed events to an external webhook. The
// subject pattern uses NATS wildcard syntax; delivery is best-effort
// and never blocks event processing.
type Subscription struct {
	ID             string    `json:"id"`
	SubjectPattern string    `json:"subject_pattern"`
	EventTypes     []string  `json:"event_types,omitempty"`
	TargetURL      string    `json:"target_url"`
	Active         bool      `json:"active"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Matches reports whether the subscription covers the event.
func (s *Subscription) Matches(e *event.Event) bool {
	if !s.Active {
		return false
	}
	if s.SubjectPattern != "" && !event.MatchSubject(s.SubjectPattern, e.Subject()) {
		return false
	}
	if len(s.EventTypes) > 0 && !containsString(s.EventTypes, e.EventType) {
		return false
	}
	return true
}

// Registry stores processor and subscription definitions. The memory
// backend loses registrations on restart; the badger backend persists
// them.
type Registry interface {
	RegisterProcessor(ctx context.Context, p *Processor) error
	GetProcessor(ctx context.Context, id string) (*Processor, error)
	ListProcessors(ctx context.Context) ([]*Processor, error)
	SetProcessorEnabled(ctx context.Context, id string, enabled bool) (*Processor, error)
	DeleteProcessor(ctx context.Context, id string) error

	AddSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	ListSubscriptions(ctx context.Context) ([]*Subscription, error)
	RemoveSubscription(ctx context.Context, id string) error

	Close() error
}

// NewRegistry builds the registry backend selected by configuration.
func NewRegistry(cfg config.RegistryConfig) (Registry, error) {
	switch cfg.Backend {
	case "badger":
		return newBadgerRegistry(cfg.Path)
	case "", "memory":
		return NewMemoryRegistry(), nil
	default:
		return nil, fmt.Errorf("unknown registry backend %q", cfg.Backend)
	}
}

// memoryRegistry is the default mutex-guarded in-memory registry.
type memoryRegistry struct {
	mu            sync.RWMutex
	processors    map[string]*Processor
	subscriptions map[string]*Subscription
}

// NewMemoryRegistry returns an empty in-memory registry.
func NewMemoryRegistry() Registry {
	return &memoryRegistry{
		processors:    map[string]*Processor{},
		subscriptions: map[string]*Subscription{},
	}
}

func (r *memoryRegistry) RegisterProcessor(_ context.Context, p *Processor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stampProcessor(p)
	if _, exists := r.processors[p.ID]; exists {
		return fmt.Errorf("processor %s: %w", p.ID, ErrDuplicateRegistration)
	}
	cp := *p
	r.processors[p.ID] = &cp
	return nil
}

func (r *memoryRegistry) GetProcessor(_ context.Context, id string) (*Processor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.processors[id]
	if !ok {
		return nil, fmt.Errorf("processor %s: %w", id, ErrProcessorNotFound)
	}
	cp := *p
	return &cp, nil
}

func (r *memoryRegistry) ListProcessors(_ context.Context) ([]*Processor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Processor, 0, len(r.processors))
	for _, p := range r.processors {
		cp := *p
		out = append(out, &cp)
	}
	sortProcessors(out)
	return out, nil
}

func (r *memoryRegistry) SetProcessorEnabled(_ context.Context, id string, enabled bool) (*Processor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.processors[id]
	if !ok {
		return nil, fmt.Errorf("processor %s: %w", id, ErrProcessorNotFound)
	}
	p.Enabled = enabled
	p.UpdatedAt = time.Now().UTC()
	cp := *p
	return &cp, nil
}

func (r *memoryRegistry) DeleteProcessor(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.processors[id]; !ok {
		return fmt.Errorf("processor %s: %w", id, ErrProcessorNotFound)
	}
	delete(r.processors, id)
	return nil
}

func (r *memoryRegistry) AddSubscription(_ context.Context, sub *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stampSubscription(sub)
	if _, exists := r.subscriptions[sub.ID]; exists {
		return fmt.Errorf("subscription %s: %w", sub.ID, ErrDuplicateRegistration)
	}
	cp := *sub
	r.subscriptions[sub.ID] = &cp
	return nil
}

func (r *memoryRegistry) GetSubscription(_ context.Context, id string) (*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("subscription %s: %w", id, ErrSubscriptionNotFound)
	}
	cp := *sub
	return &cp, nil
}

func (r *memoryRegistry) ListSubscriptions(_ context.Context) ([]*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Subscription, 0, len(r.subscriptions))
	for _, sub := range r.subscriptions {
		cp := *sub
		out = append(out, &cp)
	}
	sortSubscriptions(out)
	return out, nil
}

func (r *memoryRegistry) RemoveSubscription(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subscriptions[id]; !ok {
		return fmt.Errorf("subscription %s: %w", id, ErrSubscriptionNotFound)
	}
	delete(r.subscriptions, id)
	return nil
}

func (r *memoryRegistry) Close() error { return nil }

func stampProcessor(p *Processor) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
}

func stampSubscription(sub *Subscription) {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
}

func sortProcessors(ps []*Processor) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].CreatedAt.Before(ps[j].CreatedAt) })
}

func sortSubscriptions(subs []*Subscription) {
	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt.Before(subs[j].CreatedAt) })
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsCategory(haystack []event.Category, needle event.Category) bool {
	for _, c := range haystack {
		if c == needle {
			return true
		}
	}
	return false
}

// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package service

import (
	"fmt"
	"time"

	"github.com/relaymesh/eventd/internal/event"
)

// CreateRequest is the payload for creating one event.
type CreateRequest struct {
	EventType     string                 `json:"event_type"`
	EventSource   event.Source           `json:"event_source"`
	EventCategory event.Category         `json:"event_category"`
	UserID        string                 `json:"user_id,omitempty"`
	Data          map[string]interface{} `json:"data"`
	Metadata      map[string]string      `json:"metadata,omitempty"`
	Timestamp     *time.Time             `json:"timestamp,omitempty"`
	EntityType    string                 `json:"entity_type,omitempty"`
	EntityID      string                 `json:"entity_id,omitempty"`
	EntityVersion int64                  `json:"entity_version,omitempty"`
}

// Validate rejects malformed create requests at the API boundary,
// before anything reaches the store.
func (r *CreateRequest) Validate() error {
	if r.EventType == "" {
		return &event.FieldError{Field: "event_type", Message: "required"}
	}
	if !r.EventSource.Valid() {
		return &event.FieldError{Field: "event_source", Message: fmt.Sprintf("unknown source %q", r.EventSource)}
	}
	if !r.EventCategory.Valid() {
		return &event.FieldError{Field: "event_category", Message: fmt.Sprintf("unknown category %q", r.EventCategory)}
	}
	return nil
}

// QueryRequest filters and paginates an event query.
type QueryRequest struct {
	EventTypes  []string         `json:"event_types,omitempty"`
	Categories  []event.Category `json:"event_categories,omitempty"`
	Sources     []event.Source   `json:"event_sources,omitempty"`
	UserID      string           `json:"user_id,omitempty"`
	Status      event.Status     `json:"status,omitempty"`
	StartTime   *time.Time       `json:"start_time,omitempty"`
	EndTime     *time.Time       `json:"end_time,omitempty"`
	Limit       int              `json:"limit,omitempty"`
	Offset      int              `json:"offset,omitempty"`
	SortDesc    bool             `json:"sort_desc,omitempty"`
}

// QueryResult is a page of events plus pagination bookkeeping.
type QueryResult struct {
	Events  []*event.Event `json:"events"`
	Total   int64          `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
	HasMore bool           `json:"has_more"`
}

// ReplayRequest selects a historical range for re-delivery.
type ReplayRequest struct {
	EventTypes []string         `json:"event_types,omitempty"`
	Categories []event.Category `json:"event_categories,omitempty"`
	Sources    []event.Source   `json:"event_sources,omitempty"`
	UserID     string           `json:"user_id,omitempty"`
	StartTime  *time.Time       `json:"start_time,omitempty"`
	EndTime    *time.Time       `json:"end_time,omitempty"`

	// EntityType/EntityID scope replay to one entity stream and
	// trigger a full projection rebuild for it.
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`

	// DryRun reports what would be reprocessed without mutating
	// events or projections.
	DryRun bool `json:"dry_run"`
}

// RudderStackEvent is the external wire shape delivered by the
// RudderStack webhook. It is normalized into the canonical Event on
// ingestion, never persisted as-is.
type RudderStackEvent struct {
	MessageID   string                 `json:"messageId,omitempty"`
	Type        string                 `json:"type,omitempty"`
	Event       string                 `json:"event,omitempty"`
	UserID      string                 `json:"userId,omitempty"`
	AnonymousID string                 `json:"anonymousId,omitempty"`
	Properties  map[string]interface{} `json:"properties,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Timestamp   *time.Time             `json:"timestamp,omitempty"`
}

// FrontendEvent is a client-reported interaction event. Frontend
// telemetry is best-effort: it goes straight to the transport without
// a durable store write.
type FrontendEvent struct {
	EventType string                 `json:"event_type"`
	Category  event.Category         `json:"category,omitempty"`
	PageURL   string                 `json:"page_url,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// FrontendBatch is a batch of frontend events with shared client info.
type FrontendBatch struct {
	Events     []FrontendEvent        `json:"events"`
	ClientInfo map[string]interface{} `json:"client_info,omitempty"`
}

// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

// Package event defines the canonical event envelope shared by every
// producer and consumer in the platform: the stored Event record, the
// source/category/status taxonomy, the wire envelope published to NATS,
// and the subject naming scheme used for routing.
package event

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the current event schema version carried in the
// wire envelope. Increment on breaking envelope changes.
const SchemaVersion = "1.0.0"

// Source identifies the originating service of an event.
type Source string

// Known event sources. Producers outside this set are rejected at the
// API boundary.
const (
	SourceAuthService         Source = "auth_service"
	SourceUserService         Source = "user_service"
	SourceOrganizationService Source = "organization_service"
	SourcePaymentService      Source = "payment_service"
	SourceTaskService         Source = "task_service"
	SourceNotificationService Source = "notification_service"
	SourceAuditService        Source = "audit_service"
	SourceEventService        Source = "event_service"
	SourceAPIGateway          Source = "api_gateway"
	SourceFrontend            Source = "frontend"
	SourceSystem              Source = "system"
)

var knownSources = map[Source]struct{}{
	SourceAuthService:         {},
	SourceUserService:         {},
	SourceOrganizationService: {},
	SourcePaymentService:      {},
	SourceTaskService:         {},
	SourceNotificationService: {},
	SourceAuditService:        {},
	SourceEventService:        {},
	SourceAPIGateway:          {},
	SourceFrontend:            {},
	SourceSystem:              {},
}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	_, ok := knownSources[s]
	return ok
}

// Category is the coarse event classification used for subject routing
// and storage partitioning.
type Category string

// Known event categories.
const (
	CategoryUserInteraction Category = "user_interaction"
	CategoryBusinessAction  Category = "business_action"
	CategorySystemEvent     Category = "system_event"
	CategoryIntegration     Category = "integration"
	CategoryTelemetry       Category = "telemetry"
)

var knownCategories = map[Category]struct{}{
	CategoryUserInteraction: {},
	CategoryBusinessAction:  {},
	CategorySystemEvent:     {},
	CategoryIntegration:     {},
	CategoryTelemetry:       {},
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, ok := knownCategories[c]
	return ok
}

// Status is the lifecycle state of an event within the store.
type Status string

// Event lifecycle states. There is no transition out of StatusProcessed
// or StatusFailed.
const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
)

// Event is the canonical unit flowing through the pipeline. The store
// owns Status and CreatedAt; everything else is stamped at construction
// and immutable afterwards, so publish retries preserve identity.
type Event struct {
	EventID       string                 `json:"event_id"`
	EventType     string                 `json:"event_type"`
	EventSource   Source                 `json:"event_source"`
	EventCategory Category               `json:"event_category"`
	UserID        string                 `json:"user_id,omitempty"`
	Data          map[string]interface{} `json:"data"`
	Metadata      map[string]string      `json:"metadata,omitempty"`
	Status        Status                 `json:"status"`
	Timestamp     time.Time              `json:"timestamp"`
	CreatedAt     time.Time              `json:"created_at,omitempty"`
	Version       string                 `json:"version"`

	// Entity stream addressing for projections. Optional; events without
	// an entity are never folded.
	EntityType    string `json:"entity_type,omitempty"`
	EntityID      string `json:"entity_id,omitempty"`
	EntityVersion int64  `json:"entity_version,omitempty"`
}

// New constructs an event with a freshly stamped id, timestamp, and
// schema version. The id is assigned exactly once, here, before any
// store write.
func New(eventType string, source Source, category Category) *Event {
	return &Event{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		EventSource:   source,
		EventCategory: category,
		Data:          map[string]interface{}{},
		Status:        StatusPending,
		Timestamp:     time.Now().UTC(),
		Version:       SchemaVersion,
	}
}

// Validate checks the fields required before a store write.
func (e *Event) Validate() error {
	if e.EventID == "" {
		return &FieldError{Field: "event_id", Message: "required"}
	}
	if e.EventType == "" {
		return &FieldError{Field: "event_type", Message: "required"}
	}
	if !e.EventSource.Valid() {
		return &FieldError{Field: "event_source", Message: "unknown source"}
	}
	if !e.EventCategory.Valid() {
		return &FieldError{Field: "event_category", Message: "unknown category"}
	}
	return nil
}

// Subject returns the NATS subject for this event.
// Format: events.<source>.<category>.<type>
// Example: events.payment_service.business_action.payment.completed
func (e *Event) Subject() string {
	return SubjectFor(e.EventSource, e.EventCategory, e.EventType)
}

// HasEntity reports whether the event addresses an entity stream.
func (e *Event) HasEntity() bool {
	return e.EntityType != "" && e.EntityID != ""
}

// SubjectFor builds the routing subject for a source/category/type triple.
func SubjectFor(source Source, category Category, eventType string) string {
	return "events." + string(source) + "." + string(category) + "." + eventType
}

// SourceWildcard returns the subscription pattern covering every event
// from one source, e.g. "events.frontend.>".
func SourceWildcard(source Source) string {
	return "events." + string(source) + ".>"
}

// IngestWildcard is the subject pattern the ingest subscriber consumes:
// every event on the bus, including frontend telemetry and events other
// services publish directly to the broker. Envelopes this instance
// already stored are absorbed by the duplicate-insert no-op.
const IngestWildcard = "events.>"

// StreamSubjects is the subject space covered by the EVENTS stream.
const StreamSubjects = "events.>"

// FieldError reports a single invalid or missing field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

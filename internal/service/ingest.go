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

	"github.com/google/uuid"

	"github.com/relaymesh/eventd/internal/event"
	"github.com/relaymesh/eventd/internal/logging"
)

// CreateEventFromRudderStack normalizes a RudderStack webhook payload
// into a canonical event and persists it. The RudderStack messageId
// becomes the event id, so webhook redeliveries are idempotent.
func (s *Service) CreateEventFromRudderStack(ctx context.Context, rs *RudderStackEvent) (*event.Event, error) {
	name := rs.Event
	if name == "" {
		name = rs.Type
	}
	if name == "" {
		return nil, fmt.Errorf("%w: missing event name and type", event.ErrMalformedEvent)
	}

	e := event.New(name, event.SourceFrontend, event.CategoryTelemetry)
	if rs.MessageID != "" {
		e.EventID = rs.MessageID
	}
	e.UserID = rs.UserID
	if e.UserID == "" {
		e.UserID = rs.AnonymousID
	}
	if rs.Properties != nil {
		e.Data = rs.Properties
	}
	if len(rs.Context) > 0 {
		e.Data["context"] = rs.Context
	}
	e.Metadata = map[string]string{"ingested_via": "rudderstack"}
	if rs.Type != "" {
		e.Metadata["rudderstack_type"] = rs.Type
	}
	if rs.AnonymousID != "" {
		e.Metadata["anonymous_id"] = rs.AnonymousID
	}
	if rs.Timestamp != nil {
		e.Timestamp = rs.Timestamp.UTC()
	}

	return s.ingest(ctx, e, true)
}

// CreateEventFromEnvelope persists an event consumed from the
// transport. Duplicates and validation failures are absorbed here:
// redelivery cannot fix either, so they are logged and dropped instead
// of nak'd back to the broker.
func (s *Service) CreateEventFromEnvelope(ctx context.Context, env *event.Envelope) error {
	e := env.ToEvent()
	if err := e.Validate(); err != nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str("event_id", env.ID).
			Str("subject", env.Subject).
			Msg("Dropping invalid transport event")
		return nil
	}

	// publish=false: the event arrived over the transport already.
	if _, err := s.ingest(ctx, e, false); err != nil {
		return fmt.Errorf("store transport event %s: %w", e.EventID, err)
	}
	return nil
}

// PublishFrontendEvent publishes a client-reported event directly to
// the transport, bypassing the store. Client info travels in the
// envelope metadata. Fails with ErrTransportUnavailable in store-only
// mode; frontend telemetry has no outbox fallback.
func (s *Service) PublishFrontendEvent(ctx context.Context, fe *FrontendEvent, clientInfo map[string]interface{}) (string, error) {
	if s.publisher == nil {
		return "", ErrTransportUnavailable
	}
	if fe.EventType == "" {
		return "", &event.FieldError{Field: "event_type", Message: "required"}
	}

	category := fe.Category
	if !category.Valid() {
		category = event.CategoryUserInteraction
	}

	data := map[string]interface{}{}
	for k, v := range fe.Data {
		data[k] = v
	}
	if fe.PageURL != "" {
		data["page_url"] = fe.PageURL
	}

	meta := map[string]string{
		"event_category": string(category),
	}
	for k, v := range fe.Metadata {
		meta[k] = v
	}
	if fe.UserID != "" {
		meta["user_id"] = fe.UserID
	}
	if fe.SessionID != "" {
		meta["session_id"] = fe.SessionID
	}
	for k, v := range clientInfo {
		meta["client_"+k] = fmt.Sprint(v)
	}

	env := &event.Envelope{
		ID:        uuid.New().String(),
		Type:      fe.EventType,
		Source:    string(event.SourceFrontend),
		Subject:   event.SubjectFor(event.SourceFrontend, category, fe.EventType),
		Timestamp: time.Now().UTC(),
		Data:      data,
		Metadata:  meta,
		Version:   event.SchemaVersion,
	}

	if err := s.publisher.PublishEnvelope(ctx, env); err != nil {
		return "", fmt.Errorf("publish frontend event: %w", err)
	}
	return env.ID, nil
}

// PublishFrontendBatch publishes a batch of frontend events sharing one
// client-info block. Events are published in order; the first transport
// failure aborts the batch.
func (s *Service) PublishFrontendBatch(ctx context.Context, batch *FrontendBatch) ([]string, error) {
	if s.publisher == nil {
		return nil, ErrTransportUnavailable
	}

	ids := make([]string, 0, len(batch.Events))
	for i := range batch.Events {
		id, err := s.PublishFrontendEvent(ctx, &batch.Events[i], batch.ClientInfo)
		if err != nil {
			if errors.Is(err, ErrTransportUnavailable) || !isFieldError(err) {
				return ids, fmt.Errorf("event %d: %w", i, err)
			}
			logging.Ctx(ctx).Warn().Err(err).Int("index", i).Msg("Skipping invalid frontend event")
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func isFieldError(err error) bool {
	var fe *event.FieldError
	return errors.As(err, &fe)
}

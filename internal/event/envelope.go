// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package event

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Envelope is the exact wire shape published to the transport. The field
// set is fixed: id, type, source, subject, timestamp, data, metadata,
// version. Consumers in other languages depend on this layout.
type Envelope struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Subject   string                 `json:"subject"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Metadata  map[string]string      `json:"metadata"`
	Version   string                 `json:"version"`
}

// NewEnvelope wraps an event for publication. The envelope carries the
// event's identity unchanged, so a republish of the same event produces
// an identical id for broker-side deduplication.
func NewEnvelope(e *Event) *Envelope {
	meta := make(map[string]string, len(e.Metadata)+2)
	for k, v := range e.Metadata {
		meta[k] = v
	}
	meta["event_category"] = string(e.EventCategory)
	if e.UserID != "" {
		meta["user_id"] = e.UserID
	}
	return &Envelope{
		ID:        e.EventID,
		Type:      e.EventType,
		Source:    string(e.EventSource),
		Subject:   e.Subject(),
		Timestamp: e.Timestamp,
		Data:      e.Data,
		Metadata:  meta,
		Version:   e.Version,
	}
}

// Encode marshals the envelope to its JSON wire form.
func (env *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses a wire payload. Payloads missing id, type, or
// source fail with ErrMalformedEvent.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedEvent)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	if env.Source == "" {
		return nil, fmt.Errorf("%w: missing source", ErrMalformedEvent)
	}
	if env.Version == "" {
		env.Version = SchemaVersion
	}
	return &env, nil
}

// ToEvent converts a decoded envelope back into a canonical event. The
// category is recovered from metadata when present, otherwise defaulted
// to system_event so backend events without a category still route.
func (env *Envelope) ToEvent() *Event {
	category := CategorySystemEvent
	if c := Category(env.Metadata["event_category"]); c.Valid() {
		category = c
	}
	ts := env.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	data := env.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	return &Event{
		EventID:       env.ID,
		EventType:     env.Type,
		EventSource:   Source(env.Source),
		EventCategory: category,
		UserID:        env.Metadata["user_id"],
		Data:          data,
		Metadata:      env.Metadata,
		Status:        StatusPending,
		Timestamp:     ts,
		Version:       env.Version,
	}
}

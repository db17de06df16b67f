// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package event

import "time"

// Projection is a materialized read-model for one entity, folded from
// its ordered event stream. Absent until the first relevant event;
// rebuilt in full by replay.
type Projection struct {
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Version    int64                  `json:"version"`
	State      map[string]interface{} `json:"state"`
	EventCount int64                  `json:"event_count"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Apply folds one event into the projection. Events at or below the
// current version are skipped, which makes folding idempotent under
// at-least-once delivery.
func (p *Projection) Apply(e *Event) bool {
	if e.EntityVersion != 0 && e.EntityVersion <= p.Version {
		return false
	}
	if p.State == nil {
		p.State = map[string]interface{}{}
	}
	for k, v := range e.Data {
		p.State[k] = v
	}
	p.State["last_event_type"] = e.EventType
	p.State["last_event_id"] = e.EventID
	if e.EntityVersion != 0 {
		p.Version = e.EntityVersion
	} else {
		p.Version++
	}
	p.EventCount++
	p.UpdatedAt = time.Now().UTC()
	return true
}

// Statistics is the aggregate event count summary exposed by the
// statistics API, optionally scoped to one user.
type Statistics struct {
	TotalEvents  int64            `json:"total_events"`
	ByStatus     map[string]int64 `json:"by_status"`
	ByType       map[string]int64 `json:"by_type"`
	ByCategory   map[string]int64 `json:"by_category"`
	BySource     map[string]int64 `json:"by_source"`
	Last24hCount int64            `json:"last_24h_count"`
	UserID       string           `json:"user_id,omitempty"`
}

// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/relaymesh/eventd/internal/event"
	"github.com/relaymesh/eventd/internal/metrics"
)

// GetProjection returns the materialized projection for an entity;
// ErrNotFound when it was never built.
func (s *Store) GetProjection(ctx context.Context, entityType, entityID string) (*event.Projection, error) {
	defer metrics.RecordStoreQuery("get_projection", time.Now())

	var (
		p     event.Projection
		state string
	)
	err := s.conn.QueryRowContext(ctx,
		`SELECT entity_type, entity_id, version, event_count, state, updated_at
		 FROM projections WHERE entity_type = ? AND entity_id = ?`,
		entityType, entityID,
	).Scan(&p.EntityType, &p.EntityID, &p.Version, &p.EventCount, &state, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get projection %s/%s: %w", entityType, entityID, err)
	}

	p.UpdatedAt = p.UpdatedAt.UTC()
	if err := json.Unmarshal([]byte(state), &p.State); err != nil {
		return nil, fmt.Errorf("unmarshal projection state: %w", err)
	}
	return &p, nil
}

// SaveProjection upserts a projection snapshot.
func (s *Store) SaveProjection(ctx context.Context, p *event.Projection) error {
	defer metrics.RecordStoreQuery("save_projection", time.Now())

	state, err := json.Marshal(p.State)
	if err != nil {
		return fmt.Errorf("marshal projection state: %w", err)
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}

	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO projections (entity_type, entity_id, version, event_count, state, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (entity_type, entity_id) DO UPDATE SET
			version = excluded.version,
			event_count = excluded.event_count,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		p.EntityType, p.EntityID, p.Version, p.EventCount, string(state), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save projection %s/%s: %w", p.EntityType, p.EntityID, err)
	}
	return nil
}

// DeleteProjection removes a projection; deleting an absent projection
// is a no-op.
func (s *Store) DeleteProjection(ctx context.Context, entityType, entityID string) error {
	defer metrics.RecordStoreQuery("delete_projection", time.Now())

	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM projections WHERE entity_type = ? AND entity_id = ?`,
		entityType, entityID)
	if err != nil {
		return fmt.Errorf("delete projection %s/%s: %w", entityType, entityID, err)
	}
	return nil
}

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

const eventColumns = `event_id, event_type, event_source, event_category, user_id,
	data, metadata, status, timestamp, created_at, version,
	entity_type, entity_id, entity_version`

// Insert persists an event with status pending. The event_id is the
// primary key; inserting an existing id returns ErrDuplicateEvent and
// leaves the stored row untouched, so producer retries are safe.
func (s *Store) Insert(ctx context.Context, e *event.Event) error {
	defer metrics.RecordStoreQuery("insert", time.Now())

	if err := e.Validate(); err != nil {
		return fmt.Errorf("validate event: %w", err)
	}

	dataJSON, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Status == "" {
		e.Status = event.StatusPending
	}

	res, err := s.conn.ExecContext(ctx, `INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`,
		e.EventID, e.EventType, string(e.EventSource), string(e.EventCategory),
		nullString(e.UserID), string(dataJSON), string(metaJSON), string(e.Status),
		e.Timestamp.UTC(), e.CreatedAt, e.Version,
		nullString(e.EntityType), nullString(e.EntityID), e.EntityVersion,
	)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", e.EventID, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		metrics.DuplicateInserts.Inc()
		return ErrDuplicateEvent
	}
	return nil
}

// GetByID fetches one event; ErrNotFound when absent.
func (s *Store) GetByID(ctx context.Context, eventID string) (*event.Event, error) {
	defer metrics.RecordStoreQuery("get_by_id", time.Now())

	row := s.conn.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE event_id = ?`, eventID)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// Query returns events matching the filter, ordered by created_at
// (ascending unless Filter.Descending), plus the total match count for
// pagination.
func (s *Store) Query(ctx context.Context, f Filter) ([]*event.Event, int64, error) {
	defer metrics.RecordStoreQuery("query", time.Now())

	where, args := f.whereClause()

	var total int64
	if err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	order := " ORDER BY created_at ASC"
	if f.Descending {
		order = " ORDER BY created_at DESC"
	}

	query := `SELECT ` + eventColumns + ` FROM events` + where + order
	queryArgs := args
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		queryArgs = append(append([]interface{}{}, args...), f.Limit, f.Offset)
	}

	rows, err := s.conn.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("query events: %w", err)
	}
	defer closeQuietly(rows)

	events, err := scanEvents(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// GetUnprocessed returns up to limit pending events, oldest first. The
// bound caps memory and per-pass latency of the polling loop.
func (s *Store) GetUnprocessed(ctx context.Context, limit int) ([]*event.Event, error) {
	defer metrics.RecordStoreQuery("get_unprocessed", time.Now())

	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		string(event.StatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed events: %w", err)
	}
	defer closeQuietly(rows)

	return scanEvents(rows)
}

// MarkProcessed transitions a pending event to processed. Marking an
// already-terminal event is a no-op; an event never moves back to
// pending.
func (s *Store) MarkProcessed(ctx context.Context, eventID string) error {
	defer metrics.RecordStoreQuery("mark_processed", time.Now())

	_, err := s.conn.ExecContext(ctx,
		`UPDATE events SET status = ? WHERE event_id = ? AND status = ?`,
		string(event.StatusProcessed), eventID, string(event.StatusPending))
	if err != nil {
		return fmt.Errorf("mark processed %s: %w", eventID, err)
	}
	return nil
}

// MarkFailed transitions a pending event to failed, recording the
// reason. Terminal events are untouched.
func (s *Store) MarkFailed(ctx context.Context, eventID, reason string) error {
	defer metrics.RecordStoreQuery("mark_failed", time.Now())

	_, err := s.conn.ExecContext(ctx,
		`UPDATE events SET status = ?, failure_reason = ? WHERE event_id = ? AND status = ?`,
		string(event.StatusFailed), reason, eventID, string(event.StatusPending))
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", eventID, err)
	}
	return nil
}

// GetStream returns the ordered event stream for one entity, starting
// strictly after fromVersion (0 replays everything).
func (s *Store) GetStream(ctx context.Context, entityType, entityID string, fromVersion int64) ([]*event.Event, error) {
	defer metrics.RecordStoreQuery("get_stream", time.Now())

	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE entity_type = ? AND entity_id = ? AND entity_version > ?
		 ORDER BY entity_version ASC, created_at ASC`,
		entityType, entityID, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("query stream %s/%s: %w", entityType, entityID, err)
	}
	defer closeQuietly(rows)

	return scanEvents(rows)
}

// Statistics aggregates event counts, optionally scoped to one user.
func (s *Store) Statistics(ctx context.Context, userID string) (*event.Statistics, error) {
	defer metrics.RecordStoreQuery("statistics", time.Now())

	stats := &event.Statistics{
		ByStatus:   map[string]int64{},
		ByType:     map[string]int64{},
		ByCategory: map[string]int64{},
		BySource:   map[string]int64{},
		UserID:     userID,
	}

	where := ""
	var args []interface{}
	if userID != "" {
		where = " WHERE user_id = ?"
		args = append(args, userID)
	}

	if err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events`+where, args...).Scan(&stats.TotalEvents); err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	groupings := map[string]map[string]int64{
		"status":         stats.ByStatus,
		"event_type":     stats.ByType,
		"event_category": stats.ByCategory,
		"event_source":   stats.BySource,
	}
	for column, dest := range groupings {
		if err := s.groupCount(ctx, column, where, args, dest); err != nil {
			return nil, err
		}
	}

	dayWhere := where
	dayArgs := args
	if dayWhere == "" {
		dayWhere = " WHERE created_at >= ?"
	} else {
		dayWhere += " AND created_at >= ?"
	}
	dayArgs = append(append([]interface{}{}, dayArgs...), time.Now().UTC().Add(-24*time.Hour))
	if err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events`+dayWhere, dayArgs...).Scan(&stats.Last24hCount); err != nil {
		return nil, fmt.Errorf("count last 24h: %w", err)
	}

	return stats, nil
}

func (s *Store) groupCount(ctx context.Context, column, where string, args []interface{}, dest map[string]int64) error {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+column+`, COUNT(*) FROM events`+where+` GROUP BY `+column, args...)
	if err != nil {
		return fmt.Errorf("group by %s: %w", column, err)
	}
	defer closeQuietly(rows)

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("scan group row: %w", err)
		}
		dest[key] = count
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*event.Event, error) {
	var (
		e                            event.Event
		userID, meta                 sql.NullString
		entityType, entityID         sql.NullString
		entityVersion                sql.NullInt64
		data, source, category, stat string
	)
	err := row.Scan(&e.EventID, &e.EventType, &source, &category, &userID,
		&data, &meta, &stat, &e.Timestamp, &e.CreatedAt, &e.Version,
		&entityType, &entityID, &entityVersion)
	if err != nil {
		return nil, err
	}

	e.EventSource = event.Source(source)
	e.EventCategory = event.Category(category)
	e.Status = event.Status(stat)
	e.UserID = userID.String
	e.EntityType = entityType.String
	e.EntityID = entityID.String
	e.EntityVersion = entityVersion.Int64
	e.Timestamp = e.Timestamp.UTC()
	e.CreatedAt = e.CreatedAt.UTC()

	if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
		return nil, fmt.Errorf("unmarshal event data %s: %w", e.EventID, err)
	}
	if meta.Valid && meta.String != "" && meta.String != "null" {
		if err := json.Unmarshal([]byte(meta.String), &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal event metadata %s: %w", e.EventID, err)
		}
	}
	return &e, nil
}

func scanEvents(rows *sql.Rows) ([]*event.Event, error) {
	var events []*event.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func closeQuietly(rows *sql.Rows) {
	_ = rows.Close()
}

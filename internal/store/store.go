// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

// Package store implements the durable event store on DuckDB. The store
// is the system of record for the pipeline: events land here before any
// transport publish, and the polling loop drains pending rows regardless
// of broker health.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/relaymesh/eventd/internal/config"
	"github.com/relaymesh/eventd/internal/logging"
)

// Store wraps the DuckDB connection and provides event persistence.
type Store struct {
	conn *sql.DB
	cfg  config.DatabaseConfig
}

// Open creates the DuckDB connection and initializes the schema. An
// empty cfg.Path opens an in-memory database.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	connStr := ""
	if cfg.Path != "" {
		// 0750 per gosec G301
		if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dir, err)
			}
		}
		maxMemory := cfg.MaxMemory
		if maxMemory == "" {
			maxMemory = "1GB"
		}
		connStr = fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
			cfg.Path, numThreads, maxMemory)
	}

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	conn.SetMaxOpenConns(numThreads)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(time.Hour)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	s := &Store{conn: conn, cfg: cfg}
	if err := s.initSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	logging.Info().Str("path", cfg.Path).Msg("Event store opened")
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			event_id       VARCHAR PRIMARY KEY,
			event_type     VARCHAR NOT NULL,
			event_source   VARCHAR NOT NULL,
			event_category VARCHAR NOT NULL,
			user_id        VARCHAR,
			data           VARCHAR NOT NULL,
			metadata       VARCHAR,
			status         VARCHAR NOT NULL DEFAULT 'pending',
			timestamp      TIMESTAMP NOT NULL,
			created_at     TIMESTAMP NOT NULL,
			version        VARCHAR NOT NULL,
			entity_type    VARCHAR,
			entity_id      VARCHAR,
			entity_version BIGINT DEFAULT 0,
			failure_reason VARCHAR
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_status_created
			ON events(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_user
			ON events(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_entity
			ON events(entity_type, entity_id, entity_version)`,
		`CREATE TABLE IF NOT EXISTS projections (
			entity_type VARCHAR NOT NULL,
			entity_id   VARCHAR NOT NULL,
			version     BIGINT NOT NULL,
			event_count BIGINT NOT NULL DEFAULT 0,
			state       VARCHAR NOT NULL,
			updated_at  TIMESTAMP NOT NULL,
			PRIMARY KEY (entity_type, entity_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

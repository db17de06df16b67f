// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

// Package config loads eventd configuration via Koanf v2 with layered
// sources (highest priority wins): environment variables, optional YAML
// config file, built-in defaults.
package config

import (
	"time"
)

// Config is the root configuration for the eventd server.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	NATS     NATSConfig     `koanf:"nats"`
	Events   EventsConfig   `koanf:"events"`
	Webhook  WebhookConfig  `koanf:"webhook"`
	Registry RegistryConfig `koanf:"registry"`
	API      APIConfig      `koanf:"api"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment" validate:"oneof=development production"`
}

// DatabaseConfig holds DuckDB event store settings.
type DatabaseConfig struct {
	// Path is the DuckDB database file. Empty string opens an
	// in-memory database (tests, ephemeral deployments).
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	// Threads is the DuckDB thread count; 0 means runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// NATSConfig holds NATS JetStream transport settings. Transport absence
// is a degraded mode, not a fatal condition: the store remains the
// system of record when the broker is unreachable.
type NATSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	URL      string `koanf:"url"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`

	// EmbeddedServer runs an in-process NATS server instead of
	// connecting to an external one.
	EmbeddedServer bool   `koanf:"embedded"`
	StoreDir       string `koanf:"store_dir"`

	StreamName          string        `koanf:"stream_name"`
	StreamRetentionDays int           `koanf:"retention_days" validate:"min=1"`
	MaxMsgs             int64         `koanf:"max_msgs"`
	MaxBytes            int64         `koanf:"max_bytes"`
	DuplicateWindow     time.Duration `koanf:"duplicate_window"`

	DurableName      string        `koanf:"durable_name"`
	QueueGroup       string        `koanf:"queue_group"`
	SubscribersCount int           `koanf:"subscribers_count" validate:"min=1"`
	MaxDeliver       int           `koanf:"max_deliver"`
	MaxAckPending    int           `koanf:"max_ack_pending"`
	AckWaitTimeout   time.Duration `koanf:"ack_wait_timeout"`

	MaxReconnects   int           `koanf:"max_reconnects"`
	ReconnectWait   time.Duration `koanf:"reconnect_wait"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ReconnectBuffer int           `koanf:"reconnect_buffer"`
}

// EventsConfig holds pipeline tuning knobs.
type EventsConfig struct {
	// BatchSize bounds the number of unprocessed events fetched per
	// polling pass.
	BatchSize int `koanf:"batch_size" validate:"min=1"`

	// ProcessingInterval is the pause between polling passes.
	ProcessingInterval time.Duration `koanf:"processing_interval"`

	// PublishQueueSize bounds the async publish-after-create queue.
	// Past capacity, publish tasks are dropped (the poller retries
	// from the store) rather than spawned unbounded.
	PublishQueueSize int `koanf:"publish_queue_size" validate:"min=1"`

	// PublishWorkers is the number of goroutines draining the queue.
	PublishWorkers int `koanf:"publish_workers" validate:"min=1"`

	// ReplayRate caps replayed events per second; 0 disables the cap.
	ReplayRate int `koanf:"replay_rate" validate:"min=0"`
}

// WebhookConfig holds external webhook settings.
type WebhookConfig struct {
	// RudderStackSecret is compared against the X-Signature header.
	// Empty disables signature checking.
	RudderStackSecret string `koanf:"rudderstack_secret"`
}

// RegistryConfig selects the processor/subscription registry backend.
type RegistryConfig struct {
	// Backend is "memory" or "badger". Memory registries are
	// re-established by operators on restart; badger persists them.
	Backend string `koanf:"backend" validate:"oneof=memory badger"`
	Path    string `koanf:"path"`
}

// APIConfig holds HTTP API behavior settings.
type APIConfig struct {
	DefaultPageSize int           `koanf:"default_page_size" validate:"min=1"`
	MaxPageSize     int           `koanf:"max_page_size" validate:"min=1"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the built-in defaults, applied before the config
// file and environment layers.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8110,
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		Database: DatabaseConfig{
			Path:      "/data/eventd.duckdb",
			MaxMemory: "1GB",
			Threads:   0,
		},
		NATS: NATSConfig{
			Enabled:             true,
			URL:                 "nats://127.0.0.1:4222",
			EmbeddedServer:      false,
			StoreDir:            "/data/nats/jetstream",
			StreamName:          "EVENTS",
			StreamRetentionDays: 30,
			MaxMsgs:             1_000_000,
			MaxBytes:            10 << 30,
			DuplicateWindow:     2 * time.Minute,
			DurableName:         "event-service",
			QueueGroup:          "event-processors",
			SubscribersCount:    4,
			MaxDeliver:          5,
			MaxAckPending:       1024,
			AckWaitTimeout:      30 * time.Second,
			MaxReconnects:       10,
			ReconnectWait:       2 * time.Second,
			ConnectTimeout:      5 * time.Second,
			ReconnectBuffer:     8 << 20,
		},
		Events: EventsConfig{
			BatchSize:          100,
			ProcessingInterval: 5 * time.Second,
			PublishQueueSize:   1024,
			PublishWorkers:     4,
			ReplayRate:         500,
		},
		Webhook: WebhookConfig{
			RudderStackSecret: "",
		},
		Registry: RegistryConfig{
			Backend: "memory",
			Path:    "/data/registry",
		},
		API: APIConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

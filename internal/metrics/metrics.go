// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

// Package metrics exposes Prometheus instrumentation for the event
// pipeline: ingestion, store operations, transport publishes, the
// polling loop, and the HTTP API.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsCreated counts events accepted into the store, by source
	// and category.
	EventsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventd_events_created_total",
			Help: "Total number of events accepted into the event store",
		},
		[]string{"source", "category"},
	)

	// EventsProcessed counts terminal processing outcomes.
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventd_events_processed_total",
			Help: "Total number of events processed by the polling loop",
		},
		[]string{"outcome"}, // "processed", "retry", "failed"
	)

	// DuplicateInserts counts idempotent insert no-ops.
	DuplicateInserts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventd_store_duplicate_inserts_total",
			Help: "Total number of duplicate event_id inserts treated as no-ops",
		},
	)

	// TransportPublishes counts transport publish attempts by result.
	TransportPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventd_transport_publishes_total",
			Help: "Total number of transport publish attempts",
		},
		[]string{"result"}, // "ok", "error", "degraded"
	)

	// TransportMessages counts consumed transport messages by disposition.
	TransportMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventd_transport_messages_total",
			Help: "Total number of messages received from the transport",
		},
		[]string{"disposition"}, // "ack", "nak"
	)

	// PollBatchSize observes the number of unprocessed events per
	// polling-loop pass.
	PollBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventd_poll_batch_size",
			Help:    "Number of unprocessed events fetched per polling pass",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// ProcessorInvocations counts registered-processor invocations.
	ProcessorInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventd_processor_invocations_total",
			Help: "Total number of processor invocations",
		},
		[]string{"processor", "result"}, // result: "ok", "error"
	)

	// PublishQueueDepth tracks the bounded publish queue backlog.
	PublishQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventd_publish_queue_depth",
			Help: "Current depth of the bounded async publish queue",
		},
	)

	// PublishQueueDropped counts tasks rejected by a full publish queue.
	PublishQueueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventd_publish_queue_dropped_total",
			Help: "Total number of async publish tasks dropped due to backpressure",
		},
	)

	// ReplayedEvents counts events re-delivered by replay, by mode.
	ReplayedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventd_replayed_events_total",
			Help: "Total number of events touched by replay",
		},
		[]string{"mode"}, // "dry_run", "live"
	)

	// StoreQueryDuration observes store query latency by operation.
	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventd_store_query_duration_seconds",
			Help:    "Duration of event store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// APIRequestsTotal counts API requests by method, route, and status.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventd_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	// APIRequestDuration observes API latency.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventd_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordStoreQuery times a store operation.
func RecordStoreQuery(operation string, start time.Time) {
	StoreQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordAPIRequest records one completed API request.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

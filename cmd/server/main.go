// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

// Package main is the entry point for the eventd server.
//
// Eventd is the event backbone of the platform: services and clients
// submit events over HTTP or NATS, eventd persists them in a DuckDB
// event store, publishes them to NATS JetStream, drives registered
// processors and subscription webhooks, folds entity projections, and
// supports historical replay.
//
// # Startup Order
//
//  1. Configuration: Koanf v2 layered sources (env > config file > defaults)
//  2. Logging: zerolog, JSON or console format
//  3. Event store: DuckDB, schema created on first open
//  4. Registry: processor/subscription registry (memory or Badger)
//  5. Transport: NATS JetStream connection, stream provisioning,
//     publisher; failure degrades to store-only mode instead of exiting
//  6. Supervision tree: polling loop, publish queue, ingest
//     subscriber, and HTTP server under suture
//
// # Degraded Mode
//
// The DuckDB store is the system of record. When NATS is disabled or
// unreachable, eventd keeps accepting and processing events; only the
// transport-dependent paths (frontend telemetry intake, cross-service
// fan-out) answer 503 until restart.
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the supervision tree
// stops its services, in-flight HTTP requests drain, and the store,
// registry, and transport close in order.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/relaymesh/eventd/internal/api"
	"github.com/relaymesh/eventd/internal/config"
	"github.com/relaymesh/eventd/internal/event"
	"github.com/relaymesh/eventd/internal/logging"
	"github.com/relaymesh/eventd/internal/service"
	"github.com/relaymesh/eventd/internal/store"
	"github.com/relaymesh/eventd/internal/supervisor"
	"github.com/relaymesh/eventd/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("environment", cfg.Server.Environment).
		Int("port", cfg.Server.Port).
		Msg("Starting eventd")

	st, err := store.Open(cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("Failed to open event store")
	}
	defer closeQuietly("event store", st.Close)

	registry, err := service.NewRegistry(cfg.Registry)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open registry")
	}
	defer closeQuietly("registry", registry.Close)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tr := connectTransport(ctx, cfg)
	if tr != nil {
		defer tr.Close()
	}

	var pub service.EnvelopePublisher
	if tr != nil {
		pub = tr.Publisher()
	}
	svc := service.New(cfg, st, registry, pub)
	registerBuiltinHandlers(svc)

	handlers := api.NewHandlers(svc, st, tr.Health, cfg.Webhook)
	router := api.NewRouter(handlers, cfg.API).Setup()

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
	tree.AddAPIService(api.NewServer(cfg.Server, router))
	tree.AddPipelineService(service.NewPoller(svc))
	if q := svc.Queue(); q != nil {
		tree.AddPipelineService(supervisor.RunFunc{Name: "publish-queue", Run: q.Serve})
	}
	if tr != nil {
		addIngestSubscriber(tree, tr, svc, cfg)
	}

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervision tree exited")
		os.Exit(1)
	}
	logging.Info().Msg("Shutdown complete")
}

// connectTransport establishes the NATS transport, degrading to
// store-only mode on failure instead of exiting.
func connectTransport(ctx context.Context, cfg *config.Config) *transport.Transport {
	if !cfg.NATS.Enabled {
		logging.Info().Msg("NATS disabled, running store-only")
		return nil
	}

	tr, err := transport.Connect(ctx, cfg.NATS)
	if err != nil {
		logging.Warn().Err(err).Msg("Transport unavailable, running store-only")
		return nil
	}
	return tr
}

// addIngestSubscriber consumes the full event subject space into the
// local store: frontend telemetry published straight to the broker,
// events from other services, and this instance's own republishes
// (absorbed as duplicates).
func addIngestSubscriber(tree *supervisor.Tree, tr *transport.Transport, svc *service.Service, cfg *config.Config) {
	sub, err := tr.NewSubscriber(cfg.NATS.DurableName)
	if err != nil {
		logging.Warn().Err(err).Msg("Ingest subscriber unavailable, polling loop only")
		return
	}
	tree.AddPipelineService(supervisor.RunFunc{
		Name: "ingest-subscriber",
		Run: func(ctx context.Context) error {
			defer closeQuietly("ingest subscriber", sub.Close)
			return sub.Run(ctx, event.IngestWildcard, svc.CreateEventFromEnvelope)
		},
	})
}

// registerBuiltinHandlers binds the handler keys available to
// API-registered processors.
func registerBuiltinHandlers(svc *service.Service) {
	// "log" writes one structured line per event; the default handler
	// for processors registered without code of their own.
	svc.RegisterHandler("log", func(ctx context.Context, e *event.Event) error {
		logging.Ctx(ctx).Info().
			Str("event_id", e.EventID).
			Str("event_type", e.EventType).
			Str("subject", e.Subject()).
			Msg("Event observed")
		return nil
	})
}

func closeQuietly(name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logging.Warn().Err(err).Str("component", name).Msg("Close failed")
	}
}

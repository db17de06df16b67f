// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaymesh/eventd/internal/config"
)

// Router assembles the HTTP routing tree.
type Router struct {
	handlers *Handlers
	cfg      config.APIConfig
}

// NewRouter creates the router for the given handler set.
func NewRouter(handlers *Handlers, cfg config.APIConfig) *Router {
	return &Router{handlers: handlers, cfg: cfg}
}

// Setup builds the chi routing tree with the global middleware stack.
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to every route in order.
	r.Use(RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: rt.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID", "X-Signature"},
		MaxAge:         300,
	}))
	r.Use(AccessLog)

	// Health endpoints: no rate limiting, monitors poll these often.
	r.Route("/health", func(r chi.Router) {
		r.Get("/", rt.handlers.Health)
		r.Get("/live", rt.handlers.HealthLive)
		r.Get("/ready", rt.handlers.HealthReady)
	})

	r.Handle("/metrics", promhttp.Handler())

	// Core event API.
	r.Route("/api/events", func(r chi.Router) {
		r.Use(httprate.LimitByIP(rt.cfg.RateLimitReqs, rt.cfg.RateLimitWindow))
		r.Use(Instrument)

		r.Post("/create", rt.handlers.CreateEvent)
		r.Post("/batch", rt.handlers.CreateBatch)
		r.Post("/query", rt.handlers.QueryEvents)
		r.Get("/statistics", rt.handlers.Statistics)
		r.Post("/replay", rt.handlers.StartReplay)
		r.Get("/replay/status", rt.handlers.ReplayStatus)
		r.Get("/stream/{entity_type}/{entity_id}", rt.handlers.GetEventStream)
		r.Get("/projections/{entity_type}/{entity_id}", rt.handlers.GetProjection)

		// Processor and subscription management. Literal segments win
		// over the {event_id} catch-all below.
		r.Route("/processors", func(r chi.Router) {
			r.Post("/", rt.handlers.RegisterProcessor)
			r.Get("/", rt.handlers.ListProcessors)
			r.Get("/{processor_id}", rt.handlers.GetProcessor)
			r.Put("/{processor_id}/toggle", rt.handlers.SetProcessorEnabled)
			r.Delete("/{processor_id}", rt.handlers.DeleteProcessor)
		})

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", rt.handlers.AddSubscription)
			r.Get("/", rt.handlers.ListSubscriptions)
			r.Get("/{subscription_id}", rt.handlers.GetSubscription)
			r.Delete("/{subscription_id}", rt.handlers.RemoveSubscription)
		})

		r.Get("/{event_id}", rt.handlers.GetEvent)
	})

	// External webhook intake. Signature-checked, not rate-limited by
	// IP: deliveries come from a small set of RudderStack egress hosts.
	r.Route("/webhooks", func(r chi.Router) {
		r.Use(Instrument)
		r.Post("/rudderstack", rt.handlers.RudderStackWebhook)
	})

	// Frontend telemetry intake: higher rate limit, browser traffic.
	r.Route("/api/frontend/events", func(r chi.Router) {
		r.Use(httprate.LimitByIP(rt.cfg.RateLimitReqs*4, rt.cfg.RateLimitWindow))
		r.Use(Instrument)

		r.Post("/", rt.handlers.FrontendEvent)
		r.Post("/batch", rt.handlers.FrontendBatch)
		r.Get("/health", rt.handlers.FrontendHealth)
	})

	return r
}

// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package api

import (
	"net/http"
)

// Health handles GET /health: overall service state including transport
// mode. Degraded (store-only) is still healthy; the store is the system
// of record.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	status := map[string]interface{}{
		"status":  "ok",
		"service": "eventd",
	}

	if err := h.db.Ping(r.Context()); err != nil {
		status["status"] = "degraded"
		status["database"] = "unreachable"
	} else {
		status["database"] = "ok"
	}

	if h.transportHealth != nil {
		info := h.transportHealth(r.Context())
		status["transport"] = info
		if !info.Connected {
			status["mode"] = "store_only"
		}
	} else {
		status["mode"] = "store_only"
	}

	rw.Success(status)
}

// HealthLive handles GET /health/live: process liveness only.
func (h *Handlers) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "alive"})
}

// HealthReady handles GET /health/ready: the service is ready when the
// store answers. Transport absence does not fail readiness.
func (h *Handlers) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if err := h.db.Ping(r.Context()); err != nil {
		rw.ServiceUnavailable("event store unreachable")
		return
	}
	rw.Success(map[string]string{"status": "ready"})
}

// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package api

import (
	"net/http"

	"github.com/relaymesh/eventd/internal/service"
)

// FrontendEvent handles POST /api/frontend/events. Frontend telemetry
// is published straight to the transport; in store-only mode the
// endpoint answers 503 so clients back off and retry.
func (h *Handlers) FrontendEvent(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var fe service.FrontendEvent
	if err := decodeJSON(r, &fe); err != nil {
		rw.BadRequest("invalid JSON body")
		return
	}

	id, err := h.svc.PublishFrontendEvent(r.Context(), &fe, clientInfo(r))
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.Accepted(map[string]string{"event_id": id})
}

// FrontendBatch handles POST /api/frontend/events/batch.
func (h *Handlers) FrontendBatch(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var batch service.FrontendBatch
	if err := decodeJSON(r, &batch); err != nil {
		rw.BadRequest("invalid JSON body")
		return
	}
	if len(batch.Events) == 0 {
		rw.BadRequest("empty batch")
		return
	}

	if batch.ClientInfo == nil {
		batch.ClientInfo = map[string]interface{}{}
	}
	for k, v := range clientInfo(r) {
		if _, exists := batch.ClientInfo[k]; !exists {
			batch.ClientInfo[k] = v
		}
	}

	ids, err := h.svc.PublishFrontendBatch(r.Context(), &batch)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.Accepted(map[string]interface{}{
		"published": len(ids),
		"event_ids": ids,
	})
}

// FrontendHealth handles GET /api/frontend/events/health: a cheap probe
// for clients to decide whether to buffer telemetry locally.
func (h *Handlers) FrontendHealth(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if h.svc.Degraded() {
		rw.ServiceUnavailable("event transport unavailable")
		return
	}
	rw.Success(map[string]string{"status": "ok"})
}

// clientInfo extracts request-derived client attributes merged into
// frontend event metadata.
func clientInfo(r *http.Request) map[string]interface{} {
	info := map[string]interface{}{
		"ip": r.RemoteAddr,
	}
	if ua := r.UserAgent(); ua != "" {
		info["user_agent"] = ua
	}
	if ref := r.Referer(); ref != "" {
		info["referer"] = ref
	}
	return info
}

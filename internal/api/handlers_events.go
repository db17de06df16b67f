// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/relaymesh/eventd/internal/logging"
	"github.com/relaymesh/eventd/internal/service"
)

// CreateEvent handles POST /api/events/create.
func (h *Handlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req service.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		rw.BadRequest("invalid JSON body")
		return
	}

	e, err := h.svc.CreateEvent(r.Context(), &req)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.Created(e)
}

// CreateBatch handles POST /api/events/batch.
func (h *Handlers) CreateBatch(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var reqs []*service.CreateRequest
	if err := decodeJSON(r, &reqs); err != nil {
		rw.BadRequest("invalid JSON body")
		return
	}
	if len(reqs) == 0 {
		rw.BadRequest("empty batch")
		return
	}

	events, err := h.svc.CreateBatch(r.Context(), reqs)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.Created(map[string]interface{}{
		"created": len(events),
		"events":  events,
	})
}

// GetEvent handles GET /api/events/{event_id}.
func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	e, err := h.svc.GetEvent(r.Context(), chi.URLParam(r, "event_id"))
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.Success(e)
}

// QueryEvents handles POST /api/events/query.
func (h *Handlers) QueryEvents(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req service.QueryRequest
	if err := decodeJSON(r, &req); err != nil {
		rw.BadRequest("invalid JSON body")
		return
	}

	res, err := h.svc.QueryEvents(r.Context(), &req)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.SuccessWithPagination(res.Events, &PaginationMeta{
		Total:   res.Total,
		Count:   len(res.Events),
		Offset:  res.Offset,
		Limit:   res.Limit,
		HasMore: res.HasMore,
	})
}

// GetEventStream handles GET /api/events/stream/{entity_type}/{entity_id}.
func (h *Handlers) GetEventStream(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	fromVersion := int64(0)
	if v := r.URL.Query().Get("from_version"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 0 {
			rw.BadRequest("from_version must be a non-negative integer")
			return
		}
		fromVersion = parsed
	}

	events, err := h.svc.GetEventStream(r.Context(),
		chi.URLParam(r, "entity_type"), chi.URLParam(r, "entity_id"), fromVersion)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.Success(map[string]interface{}{
		"entity_type":  chi.URLParam(r, "entity_type"),
		"entity_id":    chi.URLParam(r, "entity_id"),
		"from_version": fromVersion,
		"events":       events,
		"count":        len(events),
	})
}

// Statistics handles GET /api/events/statistics.
func (h *Handlers) Statistics(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	stats, err := h.svc.Statistics(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.Success(stats)
}

// StartReplay handles POST /api/events/replay. The replay runs in the
// background; this endpoint only acknowledges the start.
func (h *Handlers) StartReplay(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req service.ReplayRequest
	if err := decodeJSON(r, &req); err != nil {
		rw.BadRequest("invalid JSON body")
		return
	}

	if err := h.svc.StartReplay(&req); err != nil {
		writeServiceError(rw, err)
		return
	}

	logging.Ctx(r.Context()).Info().
		Bool("dry_run", req.DryRun).
		Msg("Replay accepted")
	rw.Accepted(map[string]string{"status": "replay_started"})
}

// ReplayStatus handles GET /api/events/replay/status.
func (h *Handlers) ReplayStatus(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.svc.GetReplayStatus())
}

// GetProjection handles GET /api/events/projections/{entity_type}/{entity_id}.
func (h *Handlers) GetProjection(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	p, err := h.svc.GetProjection(r.Context(),
		chi.URLParam(r, "entity_type"), chi.URLParam(r, "entity_id"))
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.Success(p)
}

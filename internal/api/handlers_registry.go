// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/relaymesh/eventd/internal/service"
)

// RegisterProcessor handles POST /api/events/processors.
func (h *Handlers) RegisterProcessor(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var p service.Processor
	if err := decodeJSON(r, &p); err != nil {
		rw.BadRequest("invalid JSON body")
		return
	}
	if p.Name == "" {
		rw.ValidationError("invalid processor", map[string]string{"name": "required"})
		return
	}

	if err := h.svc.Registry().RegisterProcessor(r.Context(), &p); err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.Created(p)
}

// ListProcessors handles GET /api/events/processors.
func (h *Handlers) ListProcessors(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	processors, err := h.svc.Registry().ListProcessors(r.Context())
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.Success(map[string]interface{}{
		"processors": processors,
		"count":      len(processors),
	})
}

// GetProcessor handles GET /api/events/processors/{processor_id}.
func (h *Handlers) GetProcessor(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	p, err := h.svc.Registry().GetProcessor(r.Context(), chi.URLParam(r, "processor_id"))
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.Success(p)
}

// SetProcessorEnabled handles PUT /api/events/processors/{processor_id}/toggle.
func (h *Handlers) SetProcessorEnabled(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeJSON(r, &body); err != nil || body.Enabled == nil {
		rw.ValidationError("invalid request", map[string]string{"enabled": "required boolean"})
		return
	}

	p, err := h.svc.Registry().SetProcessorEnabled(r.Context(), chi.URLParam(r, "processor_id"), *body.Enabled)
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.Success(p)
}

// DeleteProcessor handles DELETE /api/events/processors/{processor_id}.
func (h *Handlers) DeleteProcessor(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if err := h.svc.Registry().DeleteProcessor(r.Context(), chi.URLParam(r, "processor_id")); err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.NoContent()
}

// AddSubscription handles POST /api/events/subscriptions.
func (h *Handlers) AddSubscription(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var sub service.Subscription
	if err := decodeJSON(r, &sub); err != nil {
		rw.BadRequest("invalid JSON body")
		return
	}
	if details := validateSubscription(&sub); details != nil {
		rw.ValidationError("invalid subscription", details)
		return
	}

	if err := h.svc.Registry().AddSubscription(r.Context(), &sub); err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.Created(sub)
}

// ListSubscriptions handles GET /api/events/subscriptions.
func (h *Handlers) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	subs, err := h.svc.Registry().ListSubscriptions(r.Context())
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.Success(map[string]interface{}{
		"subscriptions": subs,
		"count":         len(subs),
	})
}

// GetSubscription handles GET /api/events/subscriptions/{subscription_id}.
func (h *Handlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	sub, err := h.svc.Registry().GetSubscription(r.Context(), chi.URLParam(r, "subscription_id"))
	if err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.Success(sub)
}

// RemoveSubscription handles DELETE /api/events/subscriptions/{subscription_id}.
func (h *Handlers) RemoveSubscription(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if err := h.svc.Registry().RemoveSubscription(r.Context(), chi.URLParam(r, "subscription_id")); err != nil {
		writeServiceError(rw, err)
		return
	}
	rw.NoContent()
}

func validateSubscription(sub *service.Subscription) map[string]string {
	details := map[string]string{}
	if sub.SubjectPattern == "" && len(sub.EventTypes) == 0 {
		details["subject_pattern"] = "subject_pattern or event_types required"
	}
	if sub.TargetURL == "" {
		details["target_url"] = "required"
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

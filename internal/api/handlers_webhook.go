// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package api

import (
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/relaymesh/eventd/internal/logging"
	"github.com/relaymesh/eventd/internal/service"
)

// RudderStackWebhook handles POST /webhooks/rudderstack. The body is
// either one RudderStack event object or an array of them. Signature
// verification compares the X-Signature header against the shared
// secret in constant time; a configured secret with a missing or wrong
// header yields 401.
//
// Intake is acknowledged with 202 once the payload parses; individual
// malformed events inside a batch are logged and skipped, matching the
// at-least-once contract (RudderStack redelivers on non-2xx).
func (h *Handlers) RudderStackWebhook(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if h.webhookSecret != "" {
		sig := r.Header.Get("X-Signature")
		if subtle.ConstantTimeCompare([]byte(sig), []byte(h.webhookSecret)) != 1 {
			rw.Unauthorized("invalid signature")
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		rw.BadRequest("unreadable body")
		return
	}

	events, err := parseRudderStackBody(body)
	if err != nil {
		rw.BadRequest("invalid RudderStack payload")
		return
	}

	// Each item is stored durably before the 202 goes out: RudderStack
	// drops the delivery once acked, so the ack must follow the write.
	// The transport publish stays asynchronous via the publish queue.
	accepted := 0
	for i := range events {
		if _, err := h.svc.CreateEventFromRudderStack(r.Context(), &events[i]); err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).
				Int("index", i).
				Msg("Skipping malformed RudderStack event")
			continue
		}
		accepted++
	}

	rw.Accepted(map[string]interface{}{
		"received": len(events),
		"accepted": accepted,
	})
}

// parseRudderStackBody accepts both the single-object and array forms.
func parseRudderStackBody(body []byte) ([]service.RudderStackEvent, error) {
	var batch []service.RudderStackEvent
	if err := json.Unmarshal(body, &batch); err == nil {
		return batch, nil
	}

	var single service.RudderStackEvent
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, err
	}
	return []service.RudderStackEvent{single}, nil
}

// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/relaymesh/eventd/internal/config"
	"github.com/relaymesh/eventd/internal/event"
	"github.com/relaymesh/eventd/internal/service"
	"github.com/relaymesh/eventd/internal/store"
	"github.com/relaymesh/eventd/internal/transport"
)

// maxBodyBytes caps request body size; event payloads are small.
const maxBodyBytes = 1 << 20

// Pinger is the store health probe used by the readiness endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TransportHealth reports transport state for health endpoints. A nil
// function means the service was started without a transport.
type TransportHealth func(ctx context.Context) transport.HealthInfo

// Handlers bundles the HTTP handlers with their dependencies.
type Handlers struct {
	svc             *service.Service
	db              Pinger
	transportHealth TransportHealth
	webhookSecret   string
}

// NewHandlers wires the handler set.
func NewHandlers(svc *service.Service, db Pinger, th TransportHealth, cfg config.WebhookConfig) *Handlers {
	return &Handlers{
		svc:             svc,
		db:              db,
		transportHealth: th,
		webhookSecret:   cfg.RudderStackSecret,
	}
}

// decodeJSON reads and unmarshals a bounded request body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// writeServiceError maps service and store errors onto API responses.
func writeServiceError(rw *ResponseWriter, err error) {
	var fieldErr *event.FieldError
	switch {
	case errors.As(err, &fieldErr):
		rw.ValidationError("invalid request", map[string]string{fieldErr.Field: fieldErr.Message})
	case errors.Is(err, event.ErrMalformedEvent):
		rw.BadRequest(err.Error())
	case errors.Is(err, store.ErrNotFound):
		rw.NotFound("not found")
	case errors.Is(err, service.ErrProcessorNotFound),
		errors.Is(err, service.ErrSubscriptionNotFound):
		rw.NotFound(err.Error())
	case errors.Is(err, service.ErrDuplicateRegistration):
		rw.Conflict(err.Error())
	case errors.Is(err, service.ErrReplayInProgress):
		rw.Conflict(err.Error())
	case errors.Is(err, service.ErrTransportUnavailable):
		rw.ServiceUnavailable("event transport unavailable")
	default:
		rw.InternalError("internal error")
	}
}

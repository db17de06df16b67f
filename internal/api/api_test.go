// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/relaymesh/eventd/internal/config"
	"github.com/relaymesh/eventd/internal/event"
	"github.com/relaymesh/eventd/internal/service"
	"github.com/relaymesh/eventd/internal/store"
)

// apiStore is a minimal in-memory EventStore for handler tests. It also
// satisfies Pinger for the health endpoints.
type apiStore struct {
	mu          sync.Mutex
	events      map[string]*event.Event
	order       []string
	projections map[string]*event.Projection
	pingErr     error
}

func newAPIStore() *apiStore {
	return &apiStore{
		events:      map[string]*event.Event{},
		projections: map[string]*event.Projection{},
	}
}

func (f *apiStore) Ping(context.Context) error { return f.pingErr }

func (f *apiStore) Insert(_ context.Context, e *event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.events[e.EventID]; exists {
		return store.ErrDuplicateEvent
	}
	cp := *e
	f.events[e.EventID] = &cp
	f.order = append(f.order, e.EventID)
	return nil
}

func (f *apiStore) GetByID(_ context.Context, id string) (*event.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *apiStore) Query(_ context.Context, flt store.Filter) ([]*event.Event, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []*event.Event
	for _, id := range f.order {
		e := f.events[id]
		if flt.UserID != "" && e.UserID != flt.UserID {
			continue
		}
		cp := *e
		matched = append(matched, &cp)
	}
	total := int64(len(matched))
	if flt.Offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[flt.Offset:]
	if flt.Limit > 0 && flt.Limit < len(matched) {
		matched = matched[:flt.Limit]
	}
	return matched, total, nil
}

func (f *apiStore) GetUnprocessed(context.Context, int) ([]*event.Event, error) {
	return nil, nil
}

func (f *apiStore) MarkProcessed(_ context.Context, id string) error { return nil }

func (f *apiStore) MarkFailed(_ context.Context, id, reason string) error { return nil }

func (f *apiStore) GetStream(_ context.Context, entityType, entityID string, fromVersion int64) ([]*event.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stream []*event.Event
	for _, id := range f.order {
		e := f.events[id]
		if e.EntityType == entityType && e.EntityID == entityID && e.EntityVersion > fromVersion {
			cp := *e
			stream = append(stream, &cp)
		}
	}
	return stream, nil
}

func (f *apiStore) Statistics(_ context.Context, userID string) (*event.Statistics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &event.Statistics{UserID: userID}
	for _, e := range f.events {
		if userID != "" && e.UserID != userID {
			continue
		}
		stats.TotalEvents++
	}
	return stats, nil
}

func (f *apiStore) GetProjection(_ context.Context, entityType, entityID string) (*event.Projection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projections[entityType+"/"+entityID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *apiStore) SaveProjection(_ context.Context, p *event.Projection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.projections[p.EntityType+"/"+p.EntityID] = &cp
	return nil
}

func (f *apiStore) DeleteProjection(_ context.Context, entityType, entityID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.projections, entityType+"/"+entityID)
	return nil
}

// recordingPublisher satisfies service.EnvelopePublisher.
type recordingPublisher struct {
	mu        sync.Mutex
	published []*event.Envelope
}

func (p *recordingPublisher) PublishEnvelope(_ context.Context, env *event.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, env)
	return nil
}

type testEnv struct {
	server *httptest.Server
	store  *apiStore
	svc    *service.Service
}

func newTestEnv(t *testing.T, pub service.EnvelopePublisher, webhookSecret string) *testEnv {
	t.Helper()

	cfg := &config.Config{
		Events: config.EventsConfig{
			BatchSize:        100,
			PublishQueueSize: 16,
			PublishWorkers:   1,
		},
		API: config.APIConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
			RateLimitReqs:   1000,
			RateLimitWindow: time.Minute,
		},
		Webhook: config.WebhookConfig{RudderStackSecret: webhookSecret},
	}

	st := newAPIStore()
	svc := service.New(cfg, st, service.NewMemoryRegistry(), pub)
	handlers := NewHandlers(svc, st, nil, cfg.Webhook)
	srv := httptest.NewServer(NewRouter(handlers, cfg.API).Setup())
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, store: st, svc: svc}
}

func (te *testEnv) do(t *testing.T, method, path string, body interface{}, header http.Header) (*http.Response, APIResponse) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, te.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var apiResp APIResponse
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
			t.Fatalf("%s %s: decode response: %v", method, path, err)
		}
	}
	return resp, apiResp
}

func dataMap(t *testing.T, resp APIResponse) map[string]interface{} {
	t.Helper()
	m, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("response data is %T, want object", resp.Data)
	}
	return m
}

func TestCreateEventEndpoint(t *testing.T) {
	te := newTestEnv(t, nil, "")

	resp, body := te.do(t, http.MethodPost, "/api/events/create", map[string]interface{}{
		"event_type":     "user.signup",
		"event_source":   "auth_service",
		"event_category": "business_action",
		"user_id":        "u-1",
		"data":           map[string]interface{}{"plan": "free"},
	}, nil)

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if !body.Success {
		t.Fatalf("success = false: %+v", body.Error)
	}
	data := dataMap(t, body)
	if data["event_id"] == "" || data["status"] != "pending" {
		t.Errorf("data = %v", data)
	}
}

func TestCreateEventValidationError(t *testing.T) {
	te := newTestEnv(t, nil, "")

	resp, body := te.do(t, http.MethodPost, "/api/events/create", map[string]interface{}{
		"event_type":     "user.signup",
		"event_source":   "mystery",
		"event_category": "business_action",
	}, nil)

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body.Error == nil || body.Error.Code != ErrCodeValidationFailed {
		t.Errorf("error = %+v", body.Error)
	}
}

func TestGetEventNotFound(t *testing.T) {
	te := newTestEnv(t, nil, "")

	resp, body := te.do(t, http.MethodGet, "/api/events/missing-id", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if body.Error == nil || body.Error.Code != ErrCodeNotFound {
		t.Errorf("error = %+v", body.Error)
	}
}

func TestQueryEventsPagination(t *testing.T) {
	te := newTestEnv(t, nil, "")
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		e := event.New(fmt.Sprintf("t.%d", i), event.SourceSystem, event.CategorySystemEvent)
		if err := te.store.Insert(ctx, e); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	resp, body := te.do(t, http.MethodPost, "/api/events/query",
		map[string]interface{}{"limit": 10}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body.Meta == nil || body.Meta.Pagination == nil {
		t.Fatal("missing pagination meta")
	}
	pg := body.Meta.Pagination
	if pg.Total != 25 || pg.Count != 10 || pg.Limit != 10 || !pg.HasMore {
		t.Errorf("pagination = %+v", pg)
	}
}

func TestRudderStackWebhookSignature(t *testing.T) {
	te := newTestEnv(t, nil, "s3cret")

	single := map[string]interface{}{
		"messageId": "m-1",
		"type":      "track",
		"event":     "Button Clicked",
		"userId":    "u-1",
	}

	tests := []struct {
		name       string
		signature  string
		wantStatus int
	}{
		{"missing signature", "", http.StatusUnauthorized},
		{"wrong signature", "nope", http.StatusUnauthorized},
		{"valid signature", "s3cret", http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.signature != "" {
				h.Set("X-Signature", tt.signature)
			}
			resp, _ := te.do(t, http.MethodPost, "/webhooks/rudderstack", single, h)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestRudderStackWebhookBatch(t *testing.T) {
	te := newTestEnv(t, nil, "")

	// Array form; the second entry has no event name and is skipped.
	batch := []map[string]interface{}{
		{"messageId": "m-1", "type": "track", "event": "Signup", "userId": "u-1"},
		{"messageId": "m-2", "userId": "u-2"},
		{"messageId": "m-3", "type": "page", "userId": "u-3"},
	}

	resp, body := te.do(t, http.MethodPost, "/webhooks/rudderstack", batch, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	data := dataMap(t, body)
	if data["received"] != float64(3) || data["accepted"] != float64(2) {
		t.Errorf("data = %v", data)
	}

	// Accepted events landed in the store under their messageId.
	if _, err := te.store.GetByID(context.Background(), "m-1"); err != nil {
		t.Errorf("m-1 not stored: %v", err)
	}
}

func TestRudderStackWebhookRejectsGarbage(t *testing.T) {
	te := newTestEnv(t, nil, "")

	req, err := http.NewRequest(http.MethodPost, te.server.URL+"/webhooks/rudderstack",
		strings.NewReader("{{{"))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestFrontendEventDegraded(t *testing.T) {
	te := newTestEnv(t, nil, "")

	resp, body := te.do(t, http.MethodPost, "/api/frontend/events",
		map[string]interface{}{"event_type": "page.view"}, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if body.Error == nil || body.Error.Code != ErrCodeServiceUnavailable {
		t.Errorf("error = %+v", body.Error)
	}

	healthResp, _ := te.do(t, http.MethodGet, "/api/frontend/events/health", nil, nil)
	if healthResp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want 503", healthResp.StatusCode)
	}
}

func TestFrontendEventPublishes(t *testing.T) {
	pub := &recordingPublisher{}
	te := newTestEnv(t, pub, "")

	resp, body := te.do(t, http.MethodPost, "/api/frontend/events", map[string]interface{}{
		"event_type": "page.view",
		"page_url":   "/pricing",
		"session_id": "s-9",
	}, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if dataMap(t, body)["event_id"] == "" {
		t.Error("missing event_id")
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.published) != 1 {
		t.Fatalf("published = %d, want 1", len(pub.published))
	}
	env := pub.published[0]
	if env.Data["page_url"] != "/pricing" || env.Metadata["session_id"] != "s-9" {
		t.Errorf("envelope = %+v", env)
	}
	if env.Metadata["client_ip"] == "" {
		t.Error("client info not merged into metadata")
	}
}

func TestFrontendBatchPublishes(t *testing.T) {
	pub := &recordingPublisher{}
	te := newTestEnv(t, pub, "")

	resp, body := te.do(t, http.MethodPost, "/api/frontend/events/batch", map[string]interface{}{
		"events": []map[string]interface{}{
			{"event_type": "page.view", "page_url": "/a"},
			{"event_type": ""}, // invalid, skipped
			{"event_type": "page.leave", "page_url": "/a"},
		},
		"client_info": map[string]interface{}{"app_version": "2.1.0"},
	}, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if dataMap(t, body)["published"] != float64(2) {
		t.Errorf("data = %v", body.Data)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.published) != 2 {
		t.Fatalf("published = %d, want 2", len(pub.published))
	}
	if pub.published[0].Metadata["client_app_version"] != "2.1.0" {
		t.Errorf("metadata = %v", pub.published[0].Metadata)
	}
}

func TestProcessorEndpoints(t *testing.T) {
	te := newTestEnv(t, nil, "")

	// Missing name is rejected.
	resp, _ := te.do(t, http.MethodPost, "/api/events/processors/", map[string]interface{}{
		"event_types": []string{"user.login"},
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	resp, body := te.do(t, http.MethodPost, "/api/events/processors/", map[string]interface{}{
		"name":    "audit",
		"enabled": true,
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	id, _ := dataMap(t, body)["id"].(string)
	if id == "" {
		t.Fatal("missing processor id")
	}

	// Registering the same id again conflicts.
	resp, _ = te.do(t, http.MethodPost, "/api/events/processors/", map[string]interface{}{
		"id":   id,
		"name": "audit",
	}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", resp.StatusCode)
	}

	// The literal /processors segment must win over the event lookup
	// catch-all that shares the /api/events prefix.
	resp, body = te.do(t, http.MethodGet, "/api/events/processors/", nil, nil)
	if resp.StatusCode != http.StatusOK || dataMap(t, body)["count"] != float64(1) {
		t.Errorf("list status = %d, data = %v", resp.StatusCode, body.Data)
	}

	// Toggle requires an explicit boolean.
	resp, _ = te.do(t, http.MethodPut, "/api/events/processors/"+id+"/toggle",
		map[string]interface{}{}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("toggle without enabled status = %d, want 400", resp.StatusCode)
	}

	resp, body = te.do(t, http.MethodPut, "/api/events/processors/"+id+"/toggle",
		map[string]interface{}{"enabled": false}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("toggle status = %d, want 200", resp.StatusCode)
	}
	if dataMap(t, body)["enabled"] != false {
		t.Errorf("toggle data = %v", body.Data)
	}

	resp, _ = te.do(t, http.MethodDelete, "/api/events/processors/"+id, nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}
	resp, _ = te.do(t, http.MethodGet, "/api/events/processors/"+id, nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestSubscriptionEndpoints(t *testing.T) {
	te := newTestEnv(t, nil, "")

	// Neither subject pattern nor event types: rejected.
	resp, _ := te.do(t, http.MethodPost, "/api/events/subscriptions/", map[string]interface{}{
		"target_url": "https://hooks.example.com",
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	resp, body := te.do(t, http.MethodPost, "/api/events/subscriptions/", map[string]interface{}{
		"subject_pattern": "events.frontend.>",
		"target_url":      "https://hooks.example.com",
		"active":          true,
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	id, _ := dataMap(t, body)["id"].(string)
	if id == "" {
		t.Fatal("missing subscription id")
	}

	resp, body = te.do(t, http.MethodGet, "/api/events/subscriptions/"+id, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}
	if dataMap(t, body)["subject_pattern"] != "events.frontend.>" {
		t.Errorf("data = %v", body.Data)
	}

	resp, _ = te.do(t, http.MethodDelete, "/api/events/subscriptions/"+id, nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}
	resp, _ = te.do(t, http.MethodDelete, "/api/events/subscriptions/"+id, nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestReplayEndpoints(t *testing.T) {
	te := newTestEnv(t, nil, "")

	resp, body := te.do(t, http.MethodPost, "/api/events/replay",
		map[string]interface{}{"dry_run": true}, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if dataMap(t, body)["status"] != "replay_started" {
		t.Errorf("data = %v", body.Data)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, body = te.do(t, http.MethodGet, "/api/events/replay/status", nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status endpoint = %d", resp.StatusCode)
		}
		if dataMap(t, body)["state"] != "running" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if state := dataMap(t, body)["state"]; state != "completed" {
		t.Errorf("replay state = %v, want completed", state)
	}
}

func TestHealthEndpoints(t *testing.T) {
	te := newTestEnv(t, nil, "")

	resp, body := te.do(t, http.MethodGet, "/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	data := dataMap(t, body)
	if data["status"] != "ok" || data["mode"] != "store_only" {
		t.Errorf("health = %v", data)
	}

	resp, _ = te.do(t, http.MethodGet, "/health/ready", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("ready status = %d", resp.StatusCode)
	}

	// Store failure flips readiness but not liveness.
	te.store.pingErr = fmt.Errorf("db gone")
	resp, _ = te.do(t, http.MethodGet, "/health/ready", nil, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("ready status with dead store = %d, want 503", resp.StatusCode)
	}
	resp, _ = te.do(t, http.MethodGet, "/health/live", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("live status = %d, want 200", resp.StatusCode)
	}
}

func TestEventStreamEndpoint(t *testing.T) {
	te := newTestEnv(t, nil, "")
	ctx := context.Background()

	for v := int64(1); v <= 3; v++ {
		e := event.New("order.updated", event.SourcePaymentService, event.CategoryBusinessAction)
		e.EntityType, e.EntityID, e.EntityVersion = "order", "o-1", v
		if err := te.store.Insert(ctx, e); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	resp, body := te.do(t, http.MethodGet, "/api/events/stream/order/o-1?from_version=1", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	data := dataMap(t, body)
	if data["count"] != float64(2) || data["entity_type"] != "order" {
		t.Errorf("data = %v", data)
	}

	resp, _ = te.do(t, http.MethodGet, "/api/events/stream/order/o-1?from_version=-2", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("negative from_version status = %d, want 400", resp.StatusCode)
	}
}

// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/relaymesh/eventd/internal/config"
	"github.com/relaymesh/eventd/internal/event"
	"github.com/relaymesh/eventd/internal/store"
)

// fakeStore is an in-memory EventStore covering what the orchestrator
// exercises: ordered pending sweep, duplicate detection, terminal
// status transitions, projections.
type fakeStore struct {
	mu          sync.Mutex
	events      map[string]*event.Event
	order       []string
	projections map[string]*event.Projection
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events:      map[string]*event.Event{},
		projections: map[string]*event.Projection{},
	}
}

func (f *fakeStore) Insert(_ context.Context, e *event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.events[e.EventID]; exists {
		return store.ErrDuplicateEvent
	}
	cp := *e
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	f.events[e.EventID] = &cp
	f.order = append(f.order, e.EventID)
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id string) (*event.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeStore) Query(_ context.Context, flt store.Filter) ([]*event.Event, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []*event.Event
	for _, id := range f.order {
		e := f.events[id]
		if len(flt.Types) > 0 && !containsString(flt.Types, e.EventType) {
			continue
		}
		if flt.UserID != "" && e.UserID != flt.UserID {
			continue
		}
		if flt.Status != "" && e.Status != flt.Status {
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

func (f *fakeStore) GetUnprocessed(_ context.Context, limit int) ([]*event.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var pending []*event.Event
	for _, id := range f.order {
		if e := f.events[id]; e.Status == event.StatusPending {
			cp := *e
			pending = append(pending, &cp)
			if len(pending) == limit {
				break
			}
		}
	}
	return pending, nil
}

func (f *fakeStore) MarkProcessed(_ context.Context, id string) error {
	return f.transition(id, event.StatusProcessed, "")
}

func (f *fakeStore) MarkFailed(_ context.Context, id, reason string) error {
	return f.transition(id, event.StatusFailed, reason)
}

func (f *fakeStore) transition(id string, to event.Status, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return store.ErrNotFound
	}
	if e.Status == event.StatusPending {
		e.Status = to
	}
	return nil
}

func (f *fakeStore) GetStream(_ context.Context, entityType, entityID string, fromVersion int64) ([]*event.Event, error) {
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

func (f *fakeStore) Statistics(_ context.Context, userID string) (*event.Statistics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &event.Statistics{ByStatus: map[string]int64{}, ByType: map[string]int64{},
		ByCategory: map[string]int64{}, BySource: map[string]int64{}, UserID: userID}
	for _, e := range f.events {
		if userID != "" && e.UserID != userID {
			continue
		}
		stats.TotalEvents++
		stats.ByStatus[string(e.Status)]++
		stats.ByType[e.EventType]++
	}
	return stats, nil
}

func (f *fakeStore) GetProjection(_ context.Context, entityType, entityID string) (*event.Projection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projections[entityType+"/"+entityID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) SaveProjection(_ context.Context, p *event.Projection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.projections[p.EntityType+"/"+p.EntityID] = &cp
	return nil
}

func (f *fakeStore) DeleteProjection(_ context.Context, entityType, entityID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.projections, entityType+"/"+entityID)
	return nil
}

func (f *fakeStore) status(id string) event.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[id].Status
}

// fakePublisher records published envelopes and optionally fails.
type fakePublisher struct {
	mu        sync.Mutex
	published []*event.Envelope
	err       error
}

func (f *fakePublisher) PublishEnvelope(_ context.Context, env *event.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, env)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func testConfig() *config.Config {
	return &config.Config{
		Events: config.EventsConfig{
			BatchSize:          100,
			ProcessingInterval: 5 * time.Second,
			PublishQueueSize:   16,
			PublishWorkers:     1,
			ReplayRate:         0,
		},
		API: config.APIConfig{DefaultPageSize: 20, MaxPageSize: 100},
	}
}

func newTestService(st EventStore, pub EnvelopePublisher) *Service {
	return New(testConfig(), st, NewMemoryRegistry(), pub)
}

func TestCreateEventValidation(t *testing.T) {
	svc := newTestService(newFakeStore(), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"missing type", CreateRequest{EventSource: event.SourceSystem, EventCategory: event.CategorySystemEvent}},
		{"unknown source", CreateRequest{EventType: "a.b", EventSource: "nope", EventCategory: event.CategorySystemEvent}},
		{"unknown category", CreateRequest{EventType: "a.b", EventSource: event.SourceSystem, EventCategory: "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateEvent(ctx, &tt.req)
			var fieldErr *event.FieldError
			if !errors.As(err, &fieldErr) {
				t.Errorf("error = %v, want FieldError", err)
			}
		})
	}
}

func TestCreateEventStoresAndEnqueues(t *testing.T) {
	st := newFakeStore()
	pub := &fakePublisher{}
	svc := newTestService(st, pub)

	e, err := svc.CreateEvent(context.Background(), &CreateRequest{
		EventType:     "payment.completed",
		EventSource:   event.SourcePaymentService,
		EventCategory: event.CategoryBusinessAction,
		UserID:        "u-1",
		Data:          map[string]interface{}{"amount": 100},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if e.EventID == "" || e.Status != event.StatusPending {
		t.Errorf("event = %+v", e)
	}
	if st.status(e.EventID) != event.StatusPending {
		t.Error("event not stored pending")
	}
	// The publish task is queued, not yet published (no worker running).
	if got := len(svc.Queue().tasks); got != 1 {
		t.Errorf("queued publishes = %d, want 1", got)
	}
}

func TestCreateEventDuplicateReturnsStored(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, nil)
	ctx := context.Background()

	original := event.New("task.done", event.SourceTaskService, event.CategoryBusinessAction)
	original.Data = map[string]interface{}{"v": "original"}
	if err := st.Insert(ctx, original); err != nil {
		t.Fatalf("seed: %v", err)
	}

	dup := *original
	dup.Data = map[string]interface{}{"v": "retry"}
	got, err := svc.ingest(ctx, &dup, false)
	if err != nil {
		t.Fatalf("ingest duplicate: %v", err)
	}
	if got.Data["v"] != "original" {
		t.Errorf("duplicate resolved to %v, want stored original", got.Data)
	}
}

func TestQueryEventsClampAndHasMore(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, nil)
	ctx := context.Background()

	for i := 0; i < 37; i++ {
		e := event.New(fmt.Sprintf("t.%d", i), event.SourceSystem, event.CategorySystemEvent)
		if err := st.Insert(ctx, e); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	tests := []struct {
		name      string
		req       QueryRequest
		wantLimit int
		wantCount int
		wantMore  bool
	}{
		{"default page", QueryRequest{}, 20, 20, true},
		{"explicit page", QueryRequest{Limit: 10, Offset: 30}, 10, 7, false},
		{"clamped to max", QueryRequest{Limit: 5000}, 100, 37, false},
		{"last full page", QueryRequest{Limit: 10, Offset: 20}, 10, 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.QueryEvents(ctx, &tt.req)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if res.Limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", res.Limit, tt.wantLimit)
			}
			if len(res.Events) != tt.wantCount {
				t.Errorf("count = %d, want %d", len(res.Events), tt.wantCount)
			}
			if res.HasMore != tt.wantMore {
				t.Errorf("has_more = %v, want %v", res.HasMore, tt.wantMore)
			}
			if res.Total != 37 {
				t.Errorf("total = %d, want 37", res.Total)
			}
		})
	}
}

func TestProcessingIndependentOfTransportHealth(t *testing.T) {
	st := newFakeStore()
	pub := &fakePublisher{err: errors.New("broker down")}
	svc := newTestService(st, pub)
	ctx := context.Background()

	e := event.New("order.created", event.SourcePaymentService, event.CategoryBusinessAction)
	if err := st.Insert(ctx, e); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// The broker never recovers. The store-driven polling loop must
	// still drive the event to a terminal state on the first pass, not
	// hold it pending behind the publish.
	for i := 0; i < 10; i++ {
		if _, err := svc.ProcessPending(ctx); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}
	if st.status(e.EventID) != event.StatusProcessed {
		t.Errorf("status = %q, want processed despite failing transport", st.status(e.EventID))
	}
	if pub.count() != 0 {
		t.Errorf("published = %d, want 0", pub.count())
	}

	// A healthy broker gets the republish alongside processing.
	pub.err = nil
	e2 := event.New("order.paid", event.SourcePaymentService, event.CategoryBusinessAction)
	if err := st.Insert(ctx, e2); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := svc.ProcessEvent(ctx, e2); err != nil {
		t.Fatalf("process: %v", err)
	}
	if st.status(e2.EventID) != event.StatusProcessed {
		t.Errorf("status = %q, want processed", st.status(e2.EventID))
	}
	if pub.count() != 1 {
		t.Errorf("published = %d, want 1", pub.count())
	}
}

func TestProcessPendingIsolatesFailures(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, nil)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		e := event.New(fmt.Sprintf("step.%d", i), event.SourceSystem, event.CategorySystemEvent)
		if err := st.Insert(ctx, e); err != nil {
			t.Fatalf("seed: %v", err)
		}
		ids = append(ids, e.EventID)
	}

	// A processor that fails only for event #2.
	poison := ids[2]
	svc.RegisterHandler("picky", func(_ context.Context, e *event.Event) error {
		if e.EventID == poison {
			return errors.New("cannot digest")
		}
		return nil
	})
	if err := svc.Registry().RegisterProcessor(ctx, &Processor{Name: "picky", Enabled: true}); err != nil {
		t.Fatalf("register: %v", err)
	}

	done, err := svc.ProcessPending(ctx)
	if err != nil {
		t.Fatalf("process pending: %v", err)
	}
	if done != 4 {
		t.Errorf("done = %d, want 4", done)
	}
	for i, id := range ids {
		want := event.StatusProcessed
		if id == poison {
			want = event.StatusPending
		}
		if got := st.status(id); got != want {
			t.Errorf("event %d status = %q, want %q", i, got, want)
		}
	}
}

func TestProcessEventPermanentFailure(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, nil)
	ctx := context.Background()

	e := event.New("bad.apple", event.SourceSystem, event.CategorySystemEvent)
	if err := st.Insert(ctx, e); err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc.RegisterHandler("strict", func(context.Context, *event.Event) error {
		return fmt.Errorf("schema mismatch: %w", ErrPermanentFailure)
	})
	if err := svc.Registry().RegisterProcessor(ctx, &Processor{Name: "strict", Enabled: true}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := svc.ProcessEvent(ctx, e); err != nil {
		t.Fatalf("process: %v", err)
	}
	if st.status(e.EventID) != event.StatusFailed {
		t.Errorf("status = %q, want failed", st.status(e.EventID))
	}
}

func TestProcessEventSkipsDisabledAndNonMatching(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, nil)
	ctx := context.Background()

	var calls []string
	record := func(name string) HandlerFunc {
		return func(context.Context, *event.Event) error {
			calls = append(calls, name)
			return nil
		}
	}
	svc.RegisterHandler("match", record("match"))
	svc.RegisterHandler("disabled", record("disabled"))
	svc.RegisterHandler("other-type", record("other-type"))

	for _, p := range []*Processor{
		{Name: "match", Enabled: true, EventTypes: []string{"user.login"}},
		{Name: "disabled", Enabled: false},
		{Name: "other-type", Enabled: true, EventTypes: []string{"user.logout"}},
	} {
		if err := svc.Registry().RegisterProcessor(ctx, p); err != nil {
			t.Fatalf("register %s: %v", p.Name, err)
		}
	}

	e := event.New("user.login", event.SourceAuthService, event.CategoryUserInteraction)
	if err := st.Insert(ctx, e); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := svc.ProcessEvent(ctx, e); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(calls) != 1 || calls[0] != "match" {
		t.Errorf("invoked = %v, want [match]", calls)
	}
}

func TestProcessEventPanicIsolation(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, nil)
	ctx := context.Background()

	svc.RegisterHandler("bomb", func(context.Context, *event.Event) error {
		panic("boom")
	})
	if err := svc.Registry().RegisterProcessor(ctx, &Processor{Name: "bomb", Enabled: true}); err != nil {
		t.Fatalf("register: %v", err)
	}

	e := event.New("x.y", event.SourceSystem, event.CategorySystemEvent)
	if err := st.Insert(ctx, e); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := svc.ProcessEvent(ctx, e); err == nil {
		t.Fatal("expected error from panicking processor")
	}
	if st.status(e.EventID) != event.StatusPending {
		t.Errorf("status = %q, want pending", st.status(e.EventID))
	}
}

func TestProcessEventFoldsProjection(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, nil)
	ctx := context.Background()

	for v := int64(1); v <= 3; v++ {
		e := event.New("order.updated", event.SourcePaymentService, event.CategoryBusinessAction)
		e.EntityType, e.EntityID, e.EntityVersion = "order", "o-1", v
		e.Data = map[string]interface{}{"step": v}
		if err := st.Insert(ctx, e); err != nil {
			t.Fatalf("seed: %v", err)
		}
		if err := svc.ProcessEvent(ctx, e); err != nil {
			t.Fatalf("process v%d: %v", v, err)
		}
	}

	p, err := svc.GetProjection(ctx, "order", "o-1")
	if err != nil {
		t.Fatalf("get projection: %v", err)
	}
	if p.Version != 3 || p.EventCount != 3 {
		t.Errorf("projection = %+v", p)
	}
}

func TestReplayDryRunHasNoSideEffects(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, nil)
	ctx := context.Background()

	var invoked int
	svc.RegisterHandler("counter", func(context.Context, *event.Event) error {
		invoked++
		return nil
	})
	if err := svc.Registry().RegisterProcessor(ctx, &Processor{Name: "counter", Enabled: true}); err != nil {
		t.Fatalf("register: %v", err)
	}

	for i := 0; i < 3; i++ {
		e := event.New("audit.entry", event.SourceAuditService, event.CategorySystemEvent)
		if err := st.Insert(ctx, e); err != nil {
			t.Fatalf("seed: %v", err)
		}
		if err := st.MarkProcessed(ctx, e.EventID); err != nil {
			t.Fatalf("mark: %v", err)
		}
	}
	invoked = 0

	if err := svc.StartReplay(&ReplayRequest{DryRun: true}); err != nil {
		t.Fatalf("start replay: %v", err)
	}
	status := waitForReplay(t, svc)

	if status.State != ReplayCompleted {
		t.Fatalf("state = %q (%s)", status.State, status.LastError)
	}
	if status.Matched != 3 || status.Replayed != 3 {
		t.Errorf("matched/replayed = %d/%d, want 3/3", status.Matched, status.Replayed)
	}
	if invoked != 0 {
		t.Errorf("dry run invoked processors %d times", invoked)
	}
}

func TestReplayLiveReinvokesProcessors(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, nil)
	ctx := context.Background()

	var mu sync.Mutex
	invoked := 0
	svc.RegisterHandler("counter", func(context.Context, *event.Event) error {
		mu.Lock()
		invoked++
		mu.Unlock()
		return nil
	})
	if err := svc.Registry().RegisterProcessor(ctx, &Processor{Name: "counter", Enabled: true}); err != nil {
		t.Fatalf("register: %v", err)
	}

	for i := 0; i < 4; i++ {
		e := event.New("metric.tick", event.SourceSystem, event.CategoryTelemetry)
		if err := st.Insert(ctx, e); err != nil {
			t.Fatalf("seed: %v", err)
		}
		if err := st.MarkProcessed(ctx, e.EventID); err != nil {
			t.Fatalf("mark: %v", err)
		}
	}

	if err := svc.StartReplay(&ReplayRequest{EventTypes: []string{"metric.tick"}}); err != nil {
		t.Fatalf("start replay: %v", err)
	}
	status := waitForReplay(t, svc)

	if status.State != ReplayCompleted {
		t.Fatalf("state = %q (%s)", status.State, status.LastError)
	}
	mu.Lock()
	defer mu.Unlock()
	if invoked != 4 {
		t.Errorf("invoked = %d, want 4", invoked)
	}
}

func TestReplaySerialized(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, nil)

	// Force the running state directly; a concurrent start must be
	// rejected.
	svc.replayMu.Lock()
	svc.replay = ReplayStatus{State: ReplayRunning}
	svc.replayMu.Unlock()

	if err := svc.StartReplay(&ReplayRequest{DryRun: true}); !errors.Is(err, ErrReplayInProgress) {
		t.Errorf("error = %v, want ErrReplayInProgress", err)
	}
}

func waitForReplay(t *testing.T, svc *Service) ReplayStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status := svc.GetReplayStatus()
		if status.State != ReplayRunning {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("replay did not finish in time")
	return ReplayStatus{}
}

func TestFrontendPublishDegraded(t *testing.T) {
	svc := newTestService(newFakeStore(), nil)

	_, err := svc.PublishFrontendEvent(context.Background(),
		&FrontendEvent{EventType: "page.view"}, nil)
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Errorf("error = %v, want ErrTransportUnavailable", err)
	}
}

func TestFrontendPublish(t *testing.T) {
	pub := &fakePublisher{}
	svc := newTestService(newFakeStore(), pub)

	id, err := svc.PublishFrontendEvent(context.Background(), &FrontendEvent{
		EventType: "page.view",
		PageURL:   "/dashboard",
		UserID:    "u-1",
		SessionID: "s-1",
	}, map[string]interface{}{"user_agent": "test"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if id == "" {
		t.Fatal("expected event id")
	}
	if pub.count() != 1 {
		t.Fatalf("published = %d, want 1", pub.count())
	}

	env := pub.published[0]
	if env.Subject != "events.frontend.user_interaction.page.view" {
		t.Errorf("subject = %q", env.Subject)
	}
	if env.Data["page_url"] != "/dashboard" {
		t.Errorf("data = %v", env.Data)
	}
	if env.Metadata["session_id"] != "s-1" || env.Metadata["client_user_agent"] != "test" {
		t.Errorf("metadata = %v", env.Metadata)
	}
}

func TestCreateEventFromRudderStack(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, nil)
	ctx := context.Background()

	rs := &RudderStackEvent{
		MessageID:  "msg-1",
		Type:       "track",
		Event:      "Signup Completed",
		UserID:     "u-1",
		Properties: map[string]interface{}{"plan": "pro"},
	}

	e, err := svc.CreateEventFromRudderStack(ctx, rs)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if e.EventID != "msg-1" {
		t.Errorf("id = %q, want messageId for idempotent redelivery", e.EventID)
	}
	if e.EventSource != event.SourceFrontend || e.EventCategory != event.CategoryTelemetry {
		t.Errorf("source/category = %s/%s", e.EventSource, e.EventCategory)
	}
	if e.Data["plan"] != "pro" {
		t.Errorf("data = %v", e.Data)
	}

	// Redelivery resolves to the stored event.
	again, err := svc.CreateEventFromRudderStack(ctx, rs)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if again.EventID != "msg-1" {
		t.Errorf("redelivery id = %q", again.EventID)
	}

	// No event name at all is malformed.
	_, err = svc.CreateEventFromRudderStack(ctx, &RudderStackEvent{UserID: "u-1"})
	if !errors.Is(err, event.ErrMalformedEvent) {
		t.Errorf("error = %v, want ErrMalformedEvent", err)
	}
}

func TestCreateEventFromEnvelope(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st, nil)
	ctx := context.Background()

	env := &event.Envelope{
		ID:      "evt-1",
		Type:    "user.created",
		Source:  "user_service",
		Subject: "events.user_service.business_action.user.created",
		Data:    map[string]interface{}{"name": "ada"},
		Metadata: map[string]string{
			"event_category": "business_action",
			"user_id":        "u-1",
		},
		Version: event.SchemaVersion,
	}

	if err := svc.CreateEventFromEnvelope(ctx, env); err != nil {
		t.Fatalf("create: %v", err)
	}
	stored, err := st.GetByID(ctx, "evt-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.EventCategory != event.CategoryBusinessAction || stored.UserID != "u-1" {
		t.Errorf("stored = %+v", stored)
	}

	// Duplicates from broker redelivery are absorbed.
	if err := svc.CreateEventFromEnvelope(ctx, env); err != nil {
		t.Errorf("redelivery: %v", err)
	}

	// Invalid source is dropped without error: redelivery cannot fix it.
	bad := &event.Envelope{ID: "evt-2", Type: "x", Source: "mystery"}
	if err := svc.CreateEventFromEnvelope(ctx, bad); err != nil {
		t.Errorf("invalid envelope: %v", err)
	}
	if _, err := st.GetByID(ctx, "evt-2"); !errors.Is(err, store.ErrNotFound) {
		t.Error("invalid envelope must not be stored")
	}
}

func TestPaymentCompletedFlow(t *testing.T) {
	st := newFakeStore()
	pub := &fakePublisher{}
	svc := newTestService(st, pub)
	ctx := context.Background()

	// A webhook endpoint standing in for the notification service.
	var mu sync.Mutex
	var deliveries []*event.Envelope
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		env, err := event.DecodeEnvelope(body)
		if err != nil {
			t.Errorf("webhook payload: %v", err)
		}
		if r.Header.Get("X-Event-Type") != env.Type {
			t.Errorf("header type %q != envelope type %q", r.Header.Get("X-Event-Type"), env.Type)
		}
		mu.Lock()
		deliveries = append(deliveries, env)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	var handled int
	svc.RegisterHandler("receipts", func(_ context.Context, e *event.Event) error {
		handled++
		return nil
	})
	if err := svc.Registry().RegisterProcessor(ctx, &Processor{
		Name:       "receipts",
		EventTypes: []string{"payment.completed"},
		Enabled:    true,
	}); err != nil {
		t.Fatalf("register processor: %v", err)
	}
	if err := svc.Registry().AddSubscription(ctx, &Subscription{
		SubjectPattern: "events.payment_service.>",
		TargetURL:      hook.URL,
		Active:         true,
	}); err != nil {
		t.Fatalf("add subscription: %v", err)
	}

	e, err := svc.CreateEvent(ctx, &CreateRequest{
		EventType:     "payment.completed",
		EventSource:   event.SourcePaymentService,
		EventCategory: event.CategoryBusinessAction,
		UserID:        "u-1",
		Data:          map[string]interface{}{"amount": 4200, "currency": "EUR"},
		EntityType:    "payment",
		EntityID:      "pay-77",
		EntityVersion: 1,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	done, err := svc.ProcessPending(ctx)
	if err != nil || done != 1 {
		t.Fatalf("process pending: done=%d err=%v", done, err)
	}

	if st.status(e.EventID) != event.StatusProcessed {
		t.Errorf("status = %q, want processed", st.status(e.EventID))
	}
	if handled != 1 {
		t.Errorf("processor handled %d events, want 1", handled)
	}
	if pub.count() != 1 {
		t.Errorf("transport publishes = %d, want 1", pub.count())
	}
	p, err := svc.GetProjection(ctx, "payment", "pay-77")
	if err != nil {
		t.Fatalf("projection: %v", err)
	}
	if p.Version != 1 || p.State["currency"] != "EUR" {
		t.Errorf("projection = %+v", p)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(deliveries) != 1 || deliveries[0].ID != e.EventID {
		t.Fatalf("webhook deliveries = %d", len(deliveries))
	}
}

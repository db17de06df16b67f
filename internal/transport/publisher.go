// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package transport

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/relaymesh/eventd/internal/event"
	"github.com/relaymesh/eventd/internal/metrics"
)

// PublisherConfig holds watermill NATS publisher settings.
type PublisherConfig struct {
	URL             string
	Username        string
	Password        string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectBuffer int
}

// Publisher wraps the Watermill JetStream publisher with a circuit
// breaker. Message UUIDs double as Nats-Msg-Id headers so broker-side
// deduplication absorbs at-least-once republishes.
type Publisher struct {
	publisher message.Publisher
	breaker   *gobreaker.CircuitBreaker[interface{}]
	mu        sync.RWMutex
	closed    bool
}

// NewPublisher creates a resilient Watermill NATS publisher.
func NewPublisher(cfg PublisherConfig, logger watermill.LoggerAdapter) (*Publisher, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.ReconnectBufSize(cfg.ReconnectBuffer),
	}
	if cfg.Username != "" {
		natsOpts = append(natsOpts, natsgo.UserInfo(cfg.Username, cfg.Password))
	}

	wmConfig := wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false, // stream is provisioned by StreamManager
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, &Error{Op: "create publisher", Err: err}
	}

	breaker := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:    "nats-publish",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Publisher{publisher: pub, breaker: breaker}, nil
}

// Publish sends a payload to the subject. Returns a typed *Error on
// failure; the caller decides whether to degrade or surface it.
func (p *Publisher) Publish(ctx context.Context, subject string, payload []byte, headers map[string]string) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return &Error{Op: "publish", Subject: subject, Err: ErrUnavailable}
	}
	p.mu.RUnlock()

	msg := message.NewMessage(watermill.NewUUID(), payload)
	for k, v := range headers {
		msg.Metadata.Set(k, v)
	}
	if id := headers["event_id"]; id != "" {
		msg.UUID = id
	}
	if msg.Metadata.Get(natsgo.MsgIdHdr) == "" {
		msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	}
	msg.SetContext(ctx)

	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, p.publisher.Publish(subject, msg)
	})
	if err != nil {
		metrics.TransportPublishes.WithLabelValues("error").Inc()
		return &Error{Op: "publish", Subject: subject, Err: err}
	}

	metrics.TransportPublishes.WithLabelValues("ok").Inc()
	return nil
}

// PublishEnvelope encodes and publishes a wire envelope with the
// standard headers.
func (p *Publisher) PublishEnvelope(ctx context.Context, env *event.Envelope) error {
	payload, err := env.Encode()
	if err != nil {
		return &Error{Op: "encode", Subject: env.Subject, Err: err}
	}
	headers := map[string]string{
		"event_id":   env.ID,
		"event_type": env.Type,
		"user_id":    env.Metadata["user_id"],
		"timestamp":  env.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	return p.Publish(ctx, env.Subject, payload, headers)
}

// Close shuts down the publisher; further publishes fail with
// ErrUnavailable.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}

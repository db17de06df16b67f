// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package transport

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/relaymesh/eventd/internal/event"
	"github.com/relaymesh/eventd/internal/metrics"
)

// SubscriberConfig holds durable JetStream consumer settings.
type SubscriberConfig struct {
	URL              string
	Username         string
	Password         string
	StreamName       string
	DurableName      string
	QueueGroup       string
	SubscribersCount int
	MaxDeliver       int
	MaxAckPending    int
	AckWaitTimeout   time.Duration
	MaxReconnects    int
	ReconnectWait    time.Duration
}

// Subscriber wraps a Watermill durable JetStream subscriber. The
// consumer position survives reconnects and restarts; the broker owns
// redelivery accounting, so handlers only ack or nak.
type Subscriber struct {
	subscriber message.Subscriber
	logger     watermill.LoggerAdapter
}

// NewSubscriber creates a durable queue-group subscriber bound to the
// pre-provisioned stream. Binding is required for wildcard topics:
// stream names cannot contain wildcards, so AutoProvision would fail
// for patterns like "events.backend.>".
func NewSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (*Subscriber, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
	}
	if cfg.Username != "" {
		natsOpts = append(natsOpts, natsgo.UserInfo(cfg.Username, cfg.Password))
	}

	subOpts := []natsgo.SubOpt{
		natsgo.MaxDeliver(cfg.MaxDeliver),
		natsgo.MaxAckPending(cfg.MaxAckPending),
		natsgo.AckWait(cfg.AckWaitTimeout),
		natsgo.DeliverNew(),
	}
	autoProvision := true
	if cfg.StreamName != "" {
		subOpts = append(subOpts, natsgo.BindStream(cfg.StreamName))
		autoProvision = false
	}

	wmConfig := wmNats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: cfg.SubscribersCount,
		AckWaitTimeout:   cfg.AckWaitTimeout,
		CloseTimeout:     30 * time.Second,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:         false,
			AutoProvision:    autoProvision,
			AckAsync:         false,
			SubscribeOptions: subOpts,
			DurablePrefix:    cfg.DurableName,
		},
	}

	sub, err := wmNats.NewSubscriber(wmConfig, logger)
	if err != nil {
		return nil, &Error{Op: "create subscriber", Err: err}
	}

	return &Subscriber{subscriber: sub, logger: logger}, nil
}

// Subscribe returns the message channel for a topic pattern. The
// channel closes on context cancellation or subscriber close.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch, err := s.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, &Error{Op: "subscribe", Subject: topic, Err: err}
	}
	return ch, nil
}

// Run consumes the topic until context cancellation, invoking handler
// per decoded envelope. Handler success acks the message; failure naks
// it for broker redelivery. Malformed payloads are acked and dropped —
// redelivery cannot fix them.
func (s *Subscriber) Run(ctx context.Context, topic string, handler func(ctx context.Context, env *event.Envelope) error) error {
	messages, err := s.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			s.handleMessage(ctx, topic, msg, handler)
		}
	}
}

func (s *Subscriber) handleMessage(ctx context.Context, topic string, msg *message.Message, handler func(ctx context.Context, env *event.Envelope) error) {
	env, err := event.DecodeEnvelope(msg.Payload)
	if err != nil {
		s.logger.Error("Dropping malformed message", err, watermill.LogFields{
			"message_uuid": msg.UUID,
			"topic":        topic,
		})
		metrics.TransportMessages.WithLabelValues("ack").Inc()
		msg.Ack()
		return
	}

	if err := handler(ctx, env); err != nil {
		s.logger.Error("Message processing failed", err, watermill.LogFields{
			"message_uuid": msg.UUID,
			"event_id":     env.ID,
			"topic":        topic,
		})
		metrics.TransportMessages.WithLabelValues("nak").Inc()
		msg.Nack()
		return
	}

	metrics.TransportMessages.WithLabelValues("ack").Inc()
	msg.Ack()
}

// Close gracefully shuts down the subscriber.
func (s *Subscriber) Close() error {
	return s.subscriber.Close()
}

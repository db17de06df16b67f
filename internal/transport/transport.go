// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

// Package transport adapts NATS JetStream as the pipeline's message
// transport. The transport is an acceleration path, not the system of
// record: connect failures degrade the service to store-only mode, and
// publish failures leave events pending in the store for the polling
// loop to retry.
package transport

import (
	"context"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/relaymesh/eventd/internal/config"
	"github.com/relaymesh/eventd/internal/logging"
)

// Transport bundles the NATS connection, stream manager, publisher,
// and optional embedded server behind one lifecycle.
type Transport struct {
	cfg      config.NATSConfig
	nc       *natsgo.Conn
	embedded *EmbeddedServer
	streams  *StreamManager
	pub      *Publisher
	url      string
}

// Connect establishes the transport session: embedded server (if
// configured), NATS connection with bounded reconnects, idempotent
// stream provisioning, and the publisher. A nil Transport with a non-nil
// error means the caller should run in degraded store-only mode; after
// the bounded in-library reconnects are exhausted the transport is
// considered permanently degraded for the process lifetime.
func Connect(ctx context.Context, cfg config.NATSConfig) (*Transport, error) {
	t := &Transport{cfg: cfg, url: cfg.URL}

	if cfg.EmbeddedServer {
		es, err := NewEmbeddedServer(EmbeddedConfig{
			StoreDir: cfg.StoreDir,
			MaxStore: cfg.MaxBytes,
		})
		if err != nil {
			return nil, &Error{Op: "embedded server", Err: err}
		}
		t.embedded = es
		t.url = es.ClientURL()
		logging.Info().Str("url", t.url).Msg("Embedded NATS server started")
	}

	opts := []natsgo.Option{
		natsgo.Name("eventd"),
		natsgo.Timeout(cfg.ConnectTimeout),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.ReconnectBufSize(cfg.ReconnectBuffer),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		natsgo.ClosedHandler(func(nc *natsgo.Conn) {
			logging.Warn().Msg("NATS connection closed; transport degraded until restart")
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, natsgo.UserInfo(cfg.Username, cfg.Password))
	}

	nc, err := natsgo.Connect(t.url, opts...)
	if err != nil {
		t.shutdownEmbedded()
		return nil, &Error{Op: "connect", Err: err}
	}
	t.nc = nc

	streams, err := NewStreamManager(nc, StreamConfig{
		Name:            cfg.StreamName,
		Subjects:        []string{"events.>"},
		MaxAge:          time.Duration(cfg.StreamRetentionDays) * 24 * time.Hour,
		MaxBytes:        cfg.MaxBytes,
		MaxMsgs:         cfg.MaxMsgs,
		DuplicateWindow: cfg.DuplicateWindow,
	})
	if err != nil {
		t.Close()
		return nil, &Error{Op: "stream manager", Err: err}
	}
	t.streams = streams

	if _, err := streams.EnsureStream(ctx); err != nil {
		t.Close()
		return nil, &Error{Op: "ensure stream", Err: err}
	}

	pub, err := NewPublisher(PublisherConfig{
		URL:             t.url,
		Username:        cfg.Username,
		Password:        cfg.Password,
		MaxReconnects:   cfg.MaxReconnects,
		ReconnectWait:   cfg.ReconnectWait,
		ReconnectBuffer: cfg.ReconnectBuffer,
	}, NewWatermillLogger())
	if err != nil {
		t.Close()
		return nil, &Error{Op: "publisher", Err: err}
	}
	t.pub = pub

	logging.Info().
		Str("url", t.url).
		Str("stream", cfg.StreamName).
		Msg("Connected to NATS JetStream")
	return t, nil
}

// Publisher returns the transport publisher.
func (t *Transport) Publisher() *Publisher {
	return t.pub
}

// Streams returns the stream manager.
func (t *Transport) Streams() *StreamManager {
	return t.streams
}

// URL returns the effective broker URL (embedded or external).
func (t *Transport) URL() string {
	return t.url
}

// Connected reports whether the NATS connection is currently up.
func (t *Transport) Connected() bool {
	return t != nil && t.nc != nil && t.nc.IsConnected()
}

// NewSubscriber creates a durable subscriber sharing this transport's
// connection settings.
func (t *Transport) NewSubscriber(durableName string) (*Subscriber, error) {
	return NewSubscriber(SubscriberConfig{
		URL:              t.url,
		Username:         t.cfg.Username,
		Password:         t.cfg.Password,
		StreamName:       t.cfg.StreamName,
		DurableName:      durableName,
		QueueGroup:       t.cfg.QueueGroup,
		SubscribersCount: t.cfg.SubscribersCount,
		MaxDeliver:       t.cfg.MaxDeliver,
		MaxAckPending:    t.cfg.MaxAckPending,
		AckWaitTimeout:   t.cfg.AckWaitTimeout,
		MaxReconnects:    t.cfg.MaxReconnects,
		ReconnectWait:    t.cfg.ReconnectWait,
	}, NewWatermillLogger())
}

// Close tears down the publisher, connection, and embedded server.
func (t *Transport) Close() {
	if t.pub != nil {
		if err := t.pub.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close publisher")
		}
	}
	if t.nc != nil {
		t.nc.Close()
	}
	t.shutdownEmbedded()
}

func (t *Transport) shutdownEmbedded() {
	if t.embedded == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := t.embedded.Shutdown(ctx); err != nil {
		logging.Warn().Err(err).Msg("Embedded NATS shutdown incomplete")
	}
}

// HealthInfo summarizes transport health for the readiness endpoint.
type HealthInfo struct {
	Connected bool   `json:"connected"`
	URL       string `json:"url,omitempty"`
	Stream    string `json:"stream,omitempty"`
	Messages  uint64 `json:"messages,omitempty"`
}

// Health returns a snapshot of transport state. Safe to call on a nil
// (degraded) transport.
func (t *Transport) Health(ctx context.Context) HealthInfo {
	if t == nil || t.nc == nil {
		return HealthInfo{Connected: false}
	}
	info := HealthInfo{
		Connected: t.nc.IsConnected(),
		URL:       t.url,
		Stream:    t.cfg.StreamName,
	}
	if si, err := t.streams.Info(ctx); err == nil {
		info.Messages = si.State.Msgs
	}
	return info
}

// String implements fmt.Stringer for log output.
func (t *Transport) String() string {
	if t == nil {
		return "transport(degraded)"
	}
	return fmt.Sprintf("transport(%s)", t.url)
}

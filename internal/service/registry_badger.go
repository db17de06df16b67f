// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/relaymesh/eventd/internal/logging"
)

const (
	processorPrefix    = "processor/"
	subscriptionPrefix = "subscription/"
)

// badgerRegistry persists processor and subscription definitions in an
// embedded Badger key-value store, so registrations survive restarts.
type badgerRegistry struct {
	db *badger.DB
}

func newBadgerRegistry(path string) (*badgerRegistry, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(badgerLogger{logging.With().Str("component", "registry").Logger()})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open registry at %s: %w", path, err)
	}
	return &badgerRegistry{db: db}, nil
}

func (r *badgerRegistry) RegisterProcessor(_ context.Context, p *Processor) error {
	stampProcessor(p)
	return r.put(processorPrefix+p.ID, p, ErrDuplicateRegistration)
}

func (r *badgerRegistry) GetProcessor(_ context.Context, id string) (*Processor, error) {
	var p Processor
	if err := r.get(processorPrefix+id, &p, ErrProcessorNotFound); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *badgerRegistry) ListProcessors(_ context.Context) ([]*Processor, error) {
	var out []*Processor
	err := r.scan(processorPrefix, func(val []byte) error {
		var p Processor
		if err := json.Unmarshal(val, &p); err != nil {
			return err
		}
		out = append(out, &p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortProcessors(out)
	return out, nil
}

func (r *badgerRegistry) SetProcessorEnabled(ctx context.Context, id string, enabled bool) (*Processor, error) {
	p, err := r.GetProcessor(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Enabled = enabled
	p.UpdatedAt = time.Now().UTC()
	if err := r.overwrite(processorPrefix+id, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *badgerRegistry) DeleteProcessor(_ context.Context, id string) error {
	return r.delete(processorPrefix+id, ErrProcessorNotFound)
}

func (r *badgerRegistry) AddSubscription(_ context.Context, sub *Subscription) error {
	stampSubscription(sub)
	return r.put(subscriptionPrefix+sub.ID, sub, ErrDuplicateRegistration)
}

func (r *badgerRegistry) GetSubscription(_ context.Context, id string) (*Subscription, error) {
	var sub Subscription
	if err := r.get(subscriptionPrefix+id, &sub, ErrSubscriptionNotFound); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *badgerRegistry) ListSubscriptions(_ context.Context) ([]*Subscription, error) {
	var out []*Subscription
	err := r.scan(subscriptionPrefix, func(val []byte) error {
		var sub Subscription
		if err := json.Unmarshal(val, &sub); err != nil {
			return err
		}
		out = append(out, &sub)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortSubscriptions(out)
	return out, nil
}

func (r *badgerRegistry) RemoveSubscription(_ context.Context, id string) error {
	return r.delete(subscriptionPrefix+id, ErrSubscriptionNotFound)
}

func (r *badgerRegistry) Close() error {
	return r.db.Close()
}

func (r *badgerRegistry) put(key string, v interface{}, dupErr error) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err == nil {
			return fmt.Errorf("%s: %w", key, dupErr)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set([]byte(key), data)
	})
}

func (r *badgerRegistry) overwrite(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (r *badgerRegistry) get(key string, v interface{}, notFound error) error {
	return r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%s: %w", key, notFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}

func (r *badgerRegistry) delete(key string, notFound error) error {
	return r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%s: %w", key, notFound)
		} else if err != nil {
			return err
		}
		return txn.Delete([]byte(key))
	})
}

func (r *badgerRegistry) scan(prefix string, fn func(val []byte) error) error {
	return r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

// badgerLogger routes Badger's internal logging through zerolog.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

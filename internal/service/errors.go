// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package service

import "errors"

var (
	// ErrProcessorNotFound is returned for lookups of unknown processors.
	ErrProcessorNotFound = errors.New("processor not found")

	// ErrSubscriptionNotFound is returned for lookups of unknown
	// subscriptions.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrDuplicateRegistration is returned when registering a processor
	// or subscription with an id that already exists.
	ErrDuplicateRegistration = errors.New("already registered")

	// ErrTransportUnavailable is returned by the direct-publish paths
	// (frontend ingestion) when the service runs in store-only mode.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrReplayInProgress is returned when a replay is requested while
	// another one is still running. Replays are serialized.
	ErrReplayInProgress = errors.New("replay already in progress")

	// ErrPermanentFailure marks a processor error that redelivery cannot
	// fix; the event is marked failed instead of staying pending.
	ErrPermanentFailure = errors.New("permanent processing failure")
)

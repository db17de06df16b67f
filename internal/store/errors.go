// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package store

import "errors"

// ErrDuplicateEvent is returned by Insert when the event_id already
// exists. Idempotent producers treat it as success.
var ErrDuplicateEvent = errors.New("event already exists")

// ErrNotFound is returned when a requested event or projection does not
// exist.
var ErrNotFound = errors.New("not found")

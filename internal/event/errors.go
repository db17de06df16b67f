// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package event

import "errors"

// ErrMalformedEvent is returned when an external payload is missing the
// required envelope fields (id, type, source). Malformed payloads are
// dropped and logged, never retried.
var ErrMalformedEvent = errors.New("malformed event payload")

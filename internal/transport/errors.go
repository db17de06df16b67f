// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package transport

import (
	"errors"
	"fmt"
)

// ErrUnavailable marks transport operations attempted while the
// connection is degraded or closed. Callers treat it as a signal to
// fall back to the store-driven path, never as a fatal error.
var ErrUnavailable = errors.New("transport unavailable")

// Error is the typed result of a transport operation. Returning it
// explicitly (instead of swallowing exceptions) forces callers to make
// a degrade-vs-fail decision.
type Error struct {
	Op      string
	Subject string
	Err     error
}

func (e *Error) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("transport %s %s: %v", e.Op, e.Subject, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err is the degraded-transport signal.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

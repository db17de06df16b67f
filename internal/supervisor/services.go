// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package supervisor

import (
	"context"
)

// RunFunc adapts a blocking run function into a suture.Service with a
// stable name for supervisor logs.
type RunFunc struct {
	Name string
	Run  func(ctx context.Context) error
}

// Serve implements suture.Service.
func (r RunFunc) Serve(ctx context.Context) error {
	return r.Run(ctx)
}

func (r RunFunc) String() string { return r.Name }

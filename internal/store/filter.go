// Eventd - Unified Event Ingestion and Delivery Pipeline
// Copyright 2026 Relay Mesh contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaymesh/eventd

package store

import (
	"strings"
	"time"

	"github.com/relaymesh/eventd/internal/event"
)

// Filter narrows an event query. Zero-valued fields are ignored.
type Filter struct {
	Types      []string
	Categories []event.Category
	Sources    []event.Source
	UserID     string
	Status     event.Status
	Since      time.Time
	Until      time.Time

	// Limit and Offset paginate the result. Limit <= 0 falls back to
	// the caller's default page size.
	Limit  int
	Offset int

	// Descending orders by created_at DESC instead of the default ASC.
	Descending bool
}

// whereClause builds the WHERE fragment and its arguments. Only
// parameter placeholders are interpolated; values travel as args.
func (f *Filter) whereClause() (string, []interface{}) {
	var conds []string
	var args []interface{}

	if len(f.Types) > 0 {
		conds = append(conds, "event_type IN ("+placeholders(len(f.Types))+")")
		for _, t := range f.Types {
			args = append(args, t)
		}
	}
	if len(f.Categories) > 0 {
		conds = append(conds, "event_category IN ("+placeholders(len(f.Categories))+")")
		for _, c := range f.Categories {
			args = append(args, string(c))
		}
	}
	if len(f.Sources) > 0 {
		conds = append(conds, "event_source IN ("+placeholders(len(f.Sources))+")")
		for _, s := range f.Sources {
			args = append(args, string(s))
		}
	}
	if f.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, f.Until.UTC())
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// Package model defines the core types shared across the ingestion and
// consolidation subsystems.
package model

import "time"

// Ward is an address-bearing source record. IDs are assigned by the store at
// insert time, strictly ascending, and never reused or mutated afterwards.
type Ward struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	District  string    `json:"district,omitempty"`
	City      string    `json:"city,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// WardInput is a ward as submitted for import, before an ID is assigned.
type WardInput struct {
	Name     string `json:"name"`
	District string `json:"district,omitempty"`
	City     string `json:"city,omitempty"`
}

// BatchOutcome summarizes a single checkpointer batch invocation. It is
// reported to the caller and logged, never persisted.
type BatchOutcome struct {
	Attempted int     `json:"attempted"`
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
	FailedIDs []int64 `json:"failed_ids,omitempty"`
	Watermark int64   `json:"watermark"`
}

// Empty reports whether the batch found no records to process.
func (o BatchOutcome) Empty() bool { return o.Attempted == 0 }

// Merge folds another outcome into this one, keeping the highest watermark.
// Used by the drain loop to aggregate per-batch outcomes.
func (o BatchOutcome) Merge(other BatchOutcome) BatchOutcome {
	merged := BatchOutcome{
		Attempted: o.Attempted + other.Attempted,
		Succeeded: o.Succeeded + other.Succeeded,
		Failed:    o.Failed + other.Failed,
		FailedIDs: append(o.FailedIDs, other.FailedIDs...),
		Watermark: o.Watermark,
	}
	if other.Watermark > merged.Watermark {
		merged.Watermark = other.Watermark
	}
	return merged
}

// Package audit defines the append-only Order Audit Row collaborator: the
// worker writes a pending row before submission and updates it with the
// terminal outcome once upstream replies (§9 design note (a)).
package audit

import (
	"context"
	"time"
)

// Mode distinguishes a live order from a simulated one.
type Mode string

const (
	ModeLive       Mode = "live"
	ModeSimulation Mode = "simulation"
)

// Status mirrors the upstream order's lifecycle as recorded locally.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusFilled   Status = "filled"
	StatusPartial  Status = "partial"
	StatusCanceled Status = "canceled"
	StatusRejected Status = "rejected"
)

// Row is one append-only audit record.
type Row struct {
	ID              string
	CreatedAt       time.Time
	Mode            Mode
	Symbol          string
	ExchangeCode    string
	Action          string
	Quantity        float64
	Status          Status
	FillQuantity    float64
	FillPrice       *float64
	UpstreamOrderID string
	FailureMessage  string
}

// Store is the audit collaborator: the worker only ever appends a new row
// or updates one it already wrote, never deletes.
type Store interface {
	// Insert writes row and assigns it an ID, returning the completed row.
	// Used to write the pending row before submission, before an
	// UpstreamOrderID is known.
	Insert(ctx context.Context, row Row) (Row, error)

	// UpdateByID applies a partial update to the row with the given local
	// ID; this is how the pending row is stamped with its terminal
	// UpstreamOrderID and status once upstream replies.
	UpdateByID(ctx context.Context, id string, fn func(*Row)) (Row, error)

	// Update applies a partial update to the row carrying upstreamOrderID.
	Update(ctx context.Context, upstreamOrderID string, fn func(*Row)) (Row, error)

	// FindByUpstreamOrderID looks up the row for a recheck/cancel.
	FindByUpstreamOrderID(ctx context.Context, upstreamOrderID string) (Row, error)

	Close() error
}

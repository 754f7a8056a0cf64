package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SimulationStore persists simulation results.
type SimulationStore interface {
	Insert(ctx context.Context, res SimulationResult) error
	GetByID(ctx context.Context, id string) (SimulationResult, error)
	ListRecent(ctx context.Context, instID string, opts ListOpts) ([]SimulationResult, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]SimulationResult, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// GapStore persists the sequence-gap audit trail.
type GapStore interface {
	Insert(ctx context.Context, ev GapEvent) error
	ListRecent(ctx context.Context, instID string, opts ListOpts) ([]GapEvent, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]GapEvent, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

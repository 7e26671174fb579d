package store

import (
	"context"

	"milepost/pkg/model"
)

// Store composes all sub-interfaces for full store access.
// Consumers should depend on specific sub-interfaces when possible.
type Store interface {
	StateStore
	ActiveTripStore
	TripLogStore

	// Close closes the store connection.
	Close() error
}

// StateStore handles persistent application state.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}

// ActiveTripStore persists the single in-progress trip record.
// LoadActiveTrip returns (nil, nil) when no trip is stored; a corrupt or
// unreadable record is treated the same way after logging, never as a fatal
// error, so a bad write can't wedge tracking forever.
type ActiveTripStore interface {
	LoadActiveTrip(ctx context.Context) (*model.ActiveTrip, error)
	SaveActiveTrip(ctx context.Context, trip *model.ActiveTrip) error
	ClearActiveTrip(ctx context.Context) error
}

// TripLogStore handles finalized trip records.
type TripLogStore interface {
	InsertTrip(ctx context.Context, trip *model.Trip) error
	ListTrips(ctx context.Context, limit int) ([]*model.Trip, error)
	GetTrip(ctx context.Context, id string) (*model.Trip, error)
}

package trip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"milepost/pkg/model"
)

// ErrNoActiveTrip is returned by End when there is nothing to finalize.
var ErrNoActiveTrip = errors.New("no active trip")

// End finalizes the active trip: the raw running distance is rounded to two
// decimals only here, the deduction is computed from the configured mileage
// rate, and the record lands in the trip log before the active slot clears.
func (s *Service) End(ctx context.Context) (*model.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.trip == nil {
		slog.Warn("Trip: end requested with no active trip")
		return nil, ErrNoActiveTrip
	}

	t := s.trip
	miles := round2(t.DistanceMiles)
	final := &model.Trip{
		ID:             uuid.NewString(),
		StartTime:      t.StartTime,
		EndTime:        s.now(),
		DistanceMiles:  miles,
		Category:       t.Category,
		Notes:          t.Notes,
		MileageRate:    s.rate,
		TotalDeduction: round2(miles * s.rate),
	}
	if t.StartLocation != nil {
		final.StartLocation = t.StartLocation.Address
		final.StartLatitude = t.StartLocation.Latitude
		final.StartLongitude = t.StartLocation.Longitude
	}
	if t.CurrentLocation != nil {
		final.EndLocation = t.CurrentLocation.Address
		final.EndLatitude = t.CurrentLocation.Latitude
		final.EndLongitude = t.CurrentLocation.Longitude
	}

	if err := s.log.InsertTrip(ctx, final); err != nil {
		// Keep the active trip so the user can retry rather than lose it.
		return nil, fmt.Errorf("failed to log trip: %w", err)
	}

	s.trip = nil
	slog.Info("Trip: ended", "id", final.ID, "miles", final.DistanceMiles, "deduction", final.TotalDeduction)
	if err := s.persistAndNotifyLocked(ctx); err != nil {
		return final, err
	}
	return final, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

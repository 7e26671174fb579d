package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"milepost/pkg/db"
	"milepost/pkg/model"
)

// activeTripKey is the persistent_state key holding the active trip record.
const activeTripKey = "active_trip"

// activeTripVersion is the current on-disk envelope version.
const activeTripVersion = 1

// SQLiteStore implements Store.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore creates a new store.
func NewSQLiteStore(db *db.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- State ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, bool) {
	var val string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM persistent_state WHERE key = ?", key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		slog.Error("Store: GetState failed", "key", key, "error", err)
		return "", false
	}
	return val, true
}

func (s *SQLiteStore) SetState(ctx context.Context, key, val string) error {
	query := `INSERT OR REPLACE INTO persistent_state (key, value, updated_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, key, val, time.Now())
	return err
}

func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM persistent_state WHERE key = ?", key)
	return err
}

// --- Active Trip ---

// activeTripEnvelope wraps the persisted trip with a version so future schema
// changes can migrate old records in place.
type activeTripEnvelope struct {
	Version int               `json:"version"`
	Trip    *model.ActiveTrip `json:"trip"`
}

// legacyActiveTrip is the pre-envelope flat record written by earlier builds:
// no version field, startTime as epoch milliseconds.
type legacyActiveTrip struct {
	StartTime       int64                 `json:"startTime"`
	StartLocation   *model.LocationSample `json:"startLocation"`
	CurrentLocation *model.LocationSample `json:"currentLocation"`
	DistanceMiles   float64               `json:"distance"`
	Category        model.TripCategory    `json:"category"`
	Notes           string                `json:"notes"`
}

func (s *SQLiteStore) LoadActiveTrip(ctx context.Context) (*model.ActiveTrip, error) {
	raw, ok := s.GetState(ctx, activeTripKey)
	if !ok {
		return nil, nil
	}

	trip, err := decodeActiveTrip([]byte(raw))
	if err != nil {
		// A corrupt record must not block tracking; drop it and move on.
		slog.Warn("Store: discarding unreadable active trip record", "error", err)
		if delErr := s.DeleteState(ctx, activeTripKey); delErr != nil {
			slog.Error("Store: failed to clear corrupt active trip", "error", delErr)
		}
		return nil, nil
	}
	return trip, nil
}

func (s *SQLiteStore) SaveActiveTrip(ctx context.Context, trip *model.ActiveTrip) error {
	if trip == nil {
		return errors.New("cannot save nil active trip")
	}
	data, err := json.Marshal(activeTripEnvelope{Version: activeTripVersion, Trip: trip})
	if err != nil {
		return fmt.Errorf("failed to encode active trip: %w", err)
	}
	return s.SetState(ctx, activeTripKey, string(data))
}

func (s *SQLiteStore) ClearActiveTrip(ctx context.Context) error {
	return s.DeleteState(ctx, activeTripKey)
}

// decodeActiveTrip reads either the current versioned envelope or the legacy
// flat record with an epoch-millisecond start time.
func decodeActiveTrip(raw []byte) (*model.ActiveTrip, error) {
	var env activeTripEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Version >= 1 {
		if env.Version > activeTripVersion {
			return nil, fmt.Errorf("active trip record version %d is newer than this build supports", env.Version)
		}
		if env.Trip == nil || env.Trip.StartTime.IsZero() {
			return nil, errors.New("versioned active trip record has no trip")
		}
		return env.Trip, nil
	}

	var legacy legacyActiveTrip
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("failed to decode active trip: %w", err)
	}
	if legacy.StartTime <= 0 {
		return nil, errors.New("legacy active trip record has no start time")
	}
	return &model.ActiveTrip{
		StartTime:       time.UnixMilli(legacy.StartTime).UTC(),
		StartLocation:   legacy.StartLocation,
		CurrentLocation: legacy.CurrentLocation,
		DistanceMiles:   legacy.DistanceMiles,
		Category:        legacy.Category,
		Notes:           legacy.Notes,
	}, nil
}

// --- Trip Log ---

func (s *SQLiteStore) InsertTrip(ctx context.Context, t *model.Trip) error {
	query := `INSERT INTO trips (
		id, start_time, end_time, start_location, end_location,
		start_lat, start_lon, end_lat, end_lon,
		distance_miles, category, notes, mileage_rate, total_deduction
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.StartTime, t.EndTime, t.StartLocation, t.EndLocation,
		t.StartLatitude, t.StartLongitude, t.EndLatitude, t.EndLongitude,
		t.DistanceMiles, string(t.Category), t.Notes, t.MileageRate, t.TotalDeduction,
	)
	return err
}

func (s *SQLiteStore) ListTrips(ctx context.Context, limit int) ([]*model.Trip, error) {
	query := `SELECT id, start_time, end_time, start_location, end_location,
		start_lat, start_lon, end_lat, end_lon,
		distance_miles, category, notes, mileage_rate, total_deduction
		FROM trips ORDER BY start_time DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*model.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) GetTrip(ctx context.Context, id string) (*model.Trip, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, start_time, end_time, start_location, end_location,
		start_lat, start_lon, end_lat, end_lon,
		distance_miles, category, notes, mileage_rate, total_deduction
		FROM trips WHERE id = ?`, id)

	t, err := scanTrip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (*model.Trip, error) {
	var t model.Trip
	var notes sql.NullString
	var category string
	err := row.Scan(
		&t.ID, &t.StartTime, &t.EndTime, &t.StartLocation, &t.EndLocation,
		&t.StartLatitude, &t.StartLongitude, &t.EndLatitude, &t.EndLongitude,
		&t.DistanceMiles, &category, &notes, &t.MileageRate, &t.TotalDeduction,
	)
	if err != nil {
		return nil, err
	}
	t.Category = model.TripCategory(category)
	if notes.Valid {
		t.Notes = notes.String
	}
	return &t, nil
}

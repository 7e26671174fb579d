package trip

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"milepost/pkg/config"
	"milepost/pkg/geo"
	"milepost/pkg/model"
	"milepost/pkg/store"
)

// Service owns the single active trip record. All mutations go through it so
// that persistence and subscriber notification happen atomically; a reader
// can never observe a saved-but-unannounced state.
type Service struct {
	mu      sync.Mutex
	store   store.ActiveTripStore
	log     store.TripLogStore
	trip    *model.ActiveTrip
	subs    map[int]chan *model.ActiveTrip
	nextSub int

	rate            float64
	defaultCategory model.TripCategory

	timerStop chan struct{}
	now       func() time.Time
}

// NewService creates the trip service. Call Restore before use to pick up a
// trip persisted by a previous run.
func NewService(ats store.ActiveTripStore, log store.TripLogStore, cfg *config.TripConfig) *Service {
	return &Service{
		store:           ats,
		log:             log,
		subs:            make(map[int]chan *model.ActiveTrip),
		rate:            cfg.MileageRate,
		defaultCategory: model.TripCategory(cfg.DefaultCategory),
		now:             time.Now,
	}
}

// Restore loads a previously persisted active trip, if any. A trip survives
// process restarts until the user explicitly ends or discards it.
func (s *Service) Restore(ctx context.Context) error {
	t, err := s.store.LoadActiveTrip(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trip = t
	if t != nil {
		slog.Info("Trip: restored active trip", "started", t.StartTime, "miles", t.DistanceMiles)
	}
	return nil
}

// Get returns a snapshot of the active trip, or nil when none exists.
func (s *Service) Get() *model.ActiveTrip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.trip)
}

// Active reports whether a trip is currently open.
func (s *Service) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trip != nil
}

// Start opens a new active trip. If one is already open the call is a no-op:
// there is at most one active trip, and an existing one is never silently
// replaced.
func (s *Service) Start(ctx context.Context, start *model.ActiveTrip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.trip != nil {
		slog.Warn("Trip: start requested while a trip is already active", "started", s.trip.StartTime)
		return nil
	}

	t := snapshot(start)
	if t.StartTime.IsZero() {
		t.StartTime = s.now()
	}
	if t.Category == "" {
		t.Category = s.defaultCategory
	}
	s.trip = t
	slog.Info("Trip: started", "time", t.StartTime, "category", t.Category)
	return s.persistAndNotifyLocked(ctx)
}

// UpdateLocation records a new fix on the active trip. The first fix becomes
// the start location; distance is the straight line from start to the latest
// fix. Without an active trip this is a warn-and-ignore.
func (s *Service) UpdateLocation(ctx context.Context, sample model.LocationSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.trip == nil {
		slog.Warn("Trip: location update with no active trip")
		return nil
	}

	fix := sample
	if s.trip.StartLocation == nil {
		s.trip.StartLocation = &fix
	}
	s.trip.CurrentLocation = &fix
	s.trip.DistanceMiles = geo.DistanceMiles(
		geo.Point{Lat: s.trip.StartLocation.Latitude, Lon: s.trip.StartLocation.Longitude},
		geo.Point{Lat: fix.Latitude, Lon: fix.Longitude},
	)
	return s.persistAndNotifyLocked(ctx)
}

// UpdateCategory changes the trip's category.
func (s *Service) UpdateCategory(ctx context.Context, c model.TripCategory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.trip == nil {
		slog.Warn("Trip: category update with no active trip")
		return nil
	}
	if !c.Valid() {
		slog.Warn("Trip: ignoring unknown category", "category", c)
		return nil
	}
	s.trip.Category = c
	return s.persistAndNotifyLocked(ctx)
}

// UpdateNotes replaces the trip's notes.
func (s *Service) UpdateNotes(ctx context.Context, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.trip == nil {
		slog.Warn("Trip: notes update with no active trip")
		return nil
	}
	s.trip.Notes = notes
	return s.persistAndNotifyLocked(ctx)
}

// SetStartAddress fills in the reverse-geocoded start address once it
// resolves. Arrives asynchronously, so a missing trip is expected and silent.
func (s *Service) SetStartAddress(ctx context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.trip == nil || s.trip.StartLocation == nil {
		return nil
	}
	s.trip.StartLocation.Address = address
	return s.persistAndNotifyLocked(ctx)
}

// Discard drops the active trip without logging it.
func (s *Service) Discard(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.trip == nil {
		slog.Warn("Trip: discard with no active trip")
		return nil
	}
	s.trip = nil
	slog.Info("Trip: discarded")
	return s.persistAndNotifyLocked(ctx)
}

func (s *Service) persistAndNotifyLocked(ctx context.Context) error {
	var err error
	if s.trip == nil {
		err = s.store.ClearActiveTrip(ctx)
	} else {
		err = s.store.SaveActiveTrip(ctx, s.trip)
	}
	if err != nil {
		slog.Error("Trip: failed to persist active trip", "error", err)
	}
	s.notifyLocked()
	return err
}

// notifyLocked pushes a fresh snapshot to every subscriber. Channels hold one
// element; a stale undelivered snapshot is replaced rather than blocking.
func (s *Service) notifyLocked() {
	for _, ch := range s.subs {
		snap := snapshot(s.trip)
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// Subscribe registers for active-trip updates. The current state is delivered
// immediately, then one snapshot per mutation (coalesced under backpressure).
// The returned func unregisters and closes the channel.
func (s *Service) Subscribe() (<-chan *model.ActiveTrip, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan *model.ActiveTrip, 1)
	ch <- snapshot(s.trip)
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// StartTimer begins a 1 Hz re-notification loop so subscribers see the trip
// duration advance even when no location updates arrive. Idempotent.
func (s *Service) StartTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timerStop != nil {
		return
	}
	stop := make(chan struct{})
	s.timerStop = stop

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.mu.Lock()
				if s.trip != nil {
					s.notifyLocked()
				}
				s.mu.Unlock()
			}
		}
	}()
}

// StopTimer halts the duration loop. Idempotent.
func (s *Service) StopTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timerStop == nil {
		return
	}
	close(s.timerStop)
	s.timerStop = nil
}

func snapshot(t *model.ActiveTrip) *model.ActiveTrip {
	if t == nil {
		return nil
	}
	c := *t
	if t.StartLocation != nil {
		loc := *t.StartLocation
		c.StartLocation = &loc
	}
	if t.CurrentLocation != nil {
		loc := *t.CurrentLocation
		c.CurrentLocation = &loc
	}
	return &c
}

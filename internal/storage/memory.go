package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-lifecycle/internal/models"
)

// MemoryStore is an in-process RideStore used when no Postgres DSN is
// configured and by tests. Every method body holds the mutex for its whole
// duration, so ConditionalUpdate is atomic exactly like the SQL predicate.
type MemoryStore struct {
	mu         sync.Mutex
	nextID     int64
	rides      map[int64]*models.Ride
	visibility map[visKey]models.VisibilityState
}

type visKey struct {
	rideID      int64
	fulfillerID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:     1,
		rides:      make(map[int64]*models.Ride),
		visibility: make(map[visKey]models.VisibilityState),
	}
}

func (m *MemoryStore) Get(ctx context.Context, id int64) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) Insert(ctx context.Context, n NewRide) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rides {
		if r.RequesterID == n.RequesterID && !r.Status.IsTerminal() {
			return nil, ErrActiveRideExists
		}
	}
	now := time.Now().UTC()
	r := &models.Ride{
		ID:           m.nextID,
		Status:       models.StatusRequested,
		StateVersion: 0,
		RequesterID:  n.RequesterID,
		PickupLat:    n.PickupLat,
		PickupLng:    n.PickupLng,
		PickupAddr:   n.PickupAddr,
		DropLat:      n.DropLat,
		DropLng:      n.DropLng,
		DropAddr:     n.DropAddr,
		FareEstimate: n.FareEstimate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.nextID++
	m.rides[r.ID] = r
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ConditionalUpdate(ctx context.Context, id int64, expectedStatus models.RideStatus, expectedVersion int64, p Patch) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok || r.Status != expectedStatus || r.StateVersion != expectedVersion {
		return 0, nil
	}
	if p.FulfillerID != nil && r.FulfillerID != nil {
		return 0, nil
	}
	r.Status = p.NextStatus
	if p.FulfillerID != nil {
		f := *p.FulfillerID
		r.FulfillerID = &f
	}
	r.StateVersion++
	r.UpdatedAt = time.Now().UTC()
	return 1, nil
}

func (m *MemoryStore) FindActiveForRequester(ctx context.Context, requesterID int64) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Ride
	for _, r := range m.rides {
		if r.RequesterID != requesterID || r.Status.IsTerminal() {
			continue
		}
		if latest == nil || r.ID > latest.ID {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryStore) FindActiveForFulfiller(ctx context.Context, fulfillerID int64) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Ride
	for _, r := range m.rides {
		if r.FulfillerID == nil || *r.FulfillerID != fulfillerID {
			continue
		}
		if r.Status.IsTerminal() || r.Status == models.StatusRequested {
			continue
		}
		if latest == nil || r.ID > latest.ID {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryStore) ListOpen(ctx context.Context, limit int) ([]models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Ride, 0)
	for _, r := range m.rides {
		if r.Status == models.StatusRequested {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) UpsertVisibility(ctx context.Context, rideID, fulfillerID int64, state models.VisibilityState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visibility[visKey{rideID, fulfillerID}] = state
	return nil
}

// Visibility returns the recorded marker, for tests.
func (m *MemoryStore) Visibility(rideID, fulfillerID int64) (models.VisibilityState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.visibility[visKey{rideID, fulfillerID}]
	return s, ok
}

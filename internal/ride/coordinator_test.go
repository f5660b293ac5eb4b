package ride

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/storage"
)

type fakeSinks struct {
	mu       sync.Mutex
	fail     bool
	mirrored []int64
	events   []models.RideEvent
	newRides []int64
	statuses []models.RideStatus
	payments []models.RideStatus
}

func (f *fakeSinks) PublishMirror(ctx context.Context, r models.Ride) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("mirror down")
	}
	f.mirrored = append(f.mirrored, r.ID)
	return nil
}

func (f *fakeSinks) PublishEvent(ctx context.Context, ev models.RideEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker down")
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeSinks) NewRide(ctx context.Context, r models.Ride) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("push down")
	}
	f.newRides = append(f.newRides, r.ID)
	return nil
}

func (f *fakeSinks) RideStatus(ctx context.Context, r models.Ride, status models.RideStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("push down")
	}
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeSinks) OnTransition(ctx context.Context, r models.Ride, status models.RideStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("payments down")
	}
	f.payments = append(f.payments, status)
	return nil
}

type flatFare struct{}

func (flatFare) Quote(_, _, _, _ float64) int64 { return 500 }

func newTestCoordinator(t *testing.T) (*Coordinator, *storage.MemoryStore, *fakeSinks) {
	t.Helper()
	store := storage.NewMemoryStore()
	sinks := &fakeSinks{}
	c := &Coordinator{
		Store:    store,
		Mirror:   sinks,
		Events:   sinks,
		Notifier: sinks,
		Payments: sinks,
		Fare:     flatFare{},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return c, store, sinks
}

var (
	requester  = models.Actor{ID: 1, Role: models.RoleRequester}
	requester2 = models.Actor{ID: 2, Role: models.RoleRequester}
	fulfillerA = models.Actor{ID: 10, Role: models.RoleFulfiller}
	fulfillerB = models.Actor{ID: 11, Role: models.RoleFulfiller}
)

func createDoc() map[string]any {
	return map[string]any{
		"pickup":      map[string]any{"lat": 31.22, "lng": 29.9, "address": "Corniche"},
		"destination": map[string]any{"lat": 31.3, "lng": 30.0},
	}
}

func mustCreate(t *testing.T, c *Coordinator, actor models.Actor) *models.Ride {
	t.Helper()
	r, err := c.CreateRide(context.Background(), actor, createDoc())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return r
}

func TestCreateRide(t *testing.T) {
	c, _, sinks := newTestCoordinator(t)
	r := mustCreate(t, c, requester)

	if r.Status != models.StatusRequested {
		t.Fatalf("status = %s, want REQUESTED", r.Status)
	}
	if r.StateVersion != 0 {
		t.Fatalf("stateVersion = %d, want 0", r.StateVersion)
	}
	if r.FulfillerID != nil {
		t.Fatalf("fulfillerId set on creation")
	}
	if r.PickupLat != 31.22 || r.DropLat != 31.3 {
		t.Fatalf("coords = %v/%v", r.PickupLat, r.DropLat)
	}
	if r.PickupAddr == nil || *r.PickupAddr != "Corniche" {
		t.Fatalf("pickup addr not extracted")
	}
	if r.FareEstimate != 500 {
		t.Fatalf("fare = %d, want 500", r.FareEstimate)
	}

	c.DrainSinks()
	if len(sinks.newRides) != 1 || sinks.newRides[0] != r.ID {
		t.Fatalf("new-ride push not dispatched: %v", sinks.newRides)
	}
	if len(sinks.mirrored) != 1 {
		t.Fatalf("mirror not published: %v", sinks.mirrored)
	}
}

func TestCreateRideInvalidCoordinates(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	doc := map[string]any{
		"pickupLat": "31,22",
		"dropLat":   31.3,
		"dropLng":   30.0,
	}
	_, err := c.CreateRide(context.Background(), requester, doc)
	var badCoords *InvalidCoordinatesError
	if !errors.As(err, &badCoords) {
		t.Fatalf("err = %v, want InvalidCoordinatesError", err)
	}
	if badCoords.Parsed.PickupLat == nil || *badCoords.Parsed.PickupLat != 31.22 {
		t.Fatalf("comma-decimal pickupLat not carried in diagnostics: %+v", badCoords.Parsed)
	}
	if badCoords.Parsed.PickupLng != nil {
		t.Fatalf("pickupLng should be missing, got %v", *badCoords.Parsed.PickupLng)
	}
}

func TestCreateRideActiveExists(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	mustCreate(t, c, requester)

	_, err := c.CreateRide(context.Background(), requester, createDoc())
	var active *ActiveRideExistsError
	if !errors.As(err, &active) {
		t.Fatalf("err = %v, want ActiveRideExistsError", err)
	}
}

func TestCreateRideRequiresRequesterRole(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	_, err := c.CreateRide(context.Background(), fulfillerA, createDoc())
	var forbidden *ForbiddenRoleError
	if !errors.As(err, &forbidden) {
		t.Fatalf("err = %v, want ForbiddenRoleError", err)
	}
}

func TestFullLifecycleVersioning(t *testing.T) {
	c, _, sinks := newTestCoordinator(t)
	ctx := context.Background()
	r := mustCreate(t, c, requester)

	steps := []func() (*models.Ride, error){
		func() (*models.Ride, error) { return c.Claim(ctx, fulfillerA, r.ID) },
		func() (*models.Ride, error) { return c.Arrive(ctx, fulfillerA, r.ID) },
		func() (*models.Ride, error) { return c.Start(ctx, fulfillerA, r.ID) },
		func() (*models.Ride, error) { return c.Complete(ctx, fulfillerA, r.ID) },
	}
	var last *models.Ride
	for i, step := range steps {
		updated, err := step()
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if updated.StateVersion != int64(i+1) {
			t.Fatalf("step %d: stateVersion = %d, want %d", i, updated.StateVersion, i+1)
		}
		last = updated
	}

	if last.Status != models.StatusCompleted {
		t.Fatalf("final status = %s", last.Status)
	}
	if last.StateVersion != 4 {
		t.Fatalf("final stateVersion = %d, want 4", last.StateVersion)
	}
	if last.FulfillerID == nil || *last.FulfillerID != fulfillerA.ID {
		t.Fatalf("fulfiller = %v, want %d", last.FulfillerID, fulfillerA.ID)
	}

	c.DrainSinks()
	if len(sinks.statuses) != 4 {
		t.Fatalf("status pushes = %v, want 4 entries", sinks.statuses)
	}
}

func TestConcurrentClaimExactlyOneWins(t *testing.T) {
	c, store, _ := newTestCoordinator(t)
	ctx := context.Background()
	r := mustCreate(t, c, requester)

	type result struct {
		actor models.Actor
		err   error
	}
	results := make(chan result, 2)
	var wg sync.WaitGroup
	for _, f := range []models.Actor{fulfillerA, fulfillerB} {
		wg.Add(1)
		go func(actor models.Actor) {
			defer wg.Done()
			_, err := c.Claim(ctx, actor, r.ID)
			results <- result{actor, err}
		}(f)
	}
	wg.Wait()
	close(results)

	var winner *models.Actor
	for res := range results {
		if res.err == nil {
			if winner != nil {
				t.Fatalf("both claims succeeded")
			}
			a := res.actor
			winner = &a
			continue
		}
		var conflict *ConflictError
		var invalid *InvalidTransitionError
		if !errors.As(res.err, &conflict) && !errors.As(res.err, &invalid) {
			t.Fatalf("loser error = %v", res.err)
		}
	}
	if winner == nil {
		t.Fatalf("no claim succeeded")
	}

	final, err := store.Get(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != models.StatusAccepted || final.FulfillerID == nil || *final.FulfillerID != winner.ID {
		t.Fatalf("final ride %+v, want ACCEPTED by %d", final, winner.ID)
	}
	if final.StateVersion != 1 {
		t.Fatalf("stateVersion = %d, want 1 after single commit", final.StateVersion)
	}
}

// casRaceStore commits a competing claim between the coordinator's snapshot
// read and its conditional write, forcing the zero-row path.
type casRaceStore struct {
	storage.RideStore
	once    sync.Once
	compete func()
}

func (s *casRaceStore) ConditionalUpdate(ctx context.Context, id int64, expectedStatus models.RideStatus, expectedVersion int64, p storage.Patch) (int64, error) {
	s.once.Do(s.compete)
	return s.RideStore.ConditionalUpdate(ctx, id, expectedStatus, expectedVersion, p)
}

func TestClaimLostRaceReportsAlreadyClaimed(t *testing.T) {
	c, store, _ := newTestCoordinator(t)
	ctx := context.Background()
	r := mustCreate(t, c, requester)

	raced := &casRaceStore{RideStore: store}
	raced.compete = func() {
		id := fulfillerB.ID
		rows, err := store.ConditionalUpdate(ctx, r.ID, models.StatusRequested, 0, storage.Patch{
			NextStatus:  models.StatusAccepted,
			FulfillerID: &id,
		})
		if err != nil || rows != 1 {
			t.Fatalf("competing claim: rows=%d err=%v", rows, err)
		}
	}
	c.Store = raced

	_, err := c.Claim(ctx, fulfillerA, r.ID)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
	if conflict.Code() != CodeAlreadyClaimed {
		t.Fatalf("code = %s, want %s", conflict.Code(), CodeAlreadyClaimed)
	}

	final, _ := store.Get(ctx, r.ID)
	if *final.FulfillerID != fulfillerB.ID || final.StateVersion != 1 {
		t.Fatalf("losing attempt altered the ride: %+v", final)
	}
}

func TestStateConflictOnStaleTransition(t *testing.T) {
	c, store, _ := newTestCoordinator(t)
	ctx := context.Background()
	r := mustCreate(t, c, requester)
	if _, err := c.Claim(ctx, fulfillerA, r.ID); err != nil {
		t.Fatal(err)
	}

	raced := &casRaceStore{RideStore: store}
	raced.compete = func() {
		rows, err := store.ConditionalUpdate(ctx, r.ID, models.StatusAccepted, 1, storage.Patch{NextStatus: models.StatusArrived})
		if err != nil || rows != 1 {
			t.Fatalf("competing arrive: rows=%d err=%v", rows, err)
		}
	}
	c.Store = raced

	_, err := c.Arrive(ctx, fulfillerA, r.ID)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
	if conflict.Code() != CodeStateConflict {
		t.Fatalf("code = %s, want %s", conflict.Code(), CodeStateConflict)
	}
}

func TestOwnershipCheckedBeforeStatus(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	r := mustCreate(t, c, requester)
	if _, err := c.Claim(ctx, fulfillerA, r.ID); err != nil {
		t.Fatal(err)
	}

	// B is not the owner; the ride is also not ARRIVED, but ownership
	// must win.
	_, err := c.Start(ctx, fulfillerB, r.ID)
	var notOwner *NotOwnerError
	if !errors.As(err, &notOwner) {
		t.Fatalf("err = %v, want NotOwnerError", err)
	}

	_, err = c.Arrive(ctx, fulfillerB, r.ID)
	if !errors.As(err, &notOwner) {
		t.Fatalf("err = %v, want NotOwnerError", err)
	}
}

func TestStartOnAcceptedNamesArrived(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	r := mustCreate(t, c, requester)
	if _, err := c.Claim(ctx, fulfillerA, r.ID); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		_, err := c.Start(ctx, fulfillerA, r.ID)
		var invalid *InvalidTransitionError
		if !errors.As(err, &invalid) {
			t.Fatalf("attempt %d: err = %v, want InvalidTransitionError", i, err)
		}
		if len(invalid.Expected) != 1 || invalid.Expected[0] != models.StatusArrived {
			t.Fatalf("attempt %d: expected states = %v, want [ARRIVED]", i, invalid.Expected)
		}
	}
}

func TestTerminalGuardRunsFirst(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	r := mustCreate(t, c, requester)
	if _, err := c.RequesterCancel(ctx, requester, r.ID); err != nil {
		t.Fatal(err)
	}

	// The canceled ride has no fulfiller, so a fulfiller op would also
	// fail ownership; the terminal guard must fire before that.
	var terminal *TerminalRideError
	if _, err := c.Complete(ctx, fulfillerA, r.ID); !errors.As(err, &terminal) {
		t.Fatalf("complete err = %v, want TerminalRideError", err)
	}
	if _, err := c.RequesterCancel(ctx, requester, r.ID); !errors.As(err, &terminal) {
		t.Fatalf("cancel err = %v, want TerminalRideError", err)
	}
	if _, err := c.Claim(ctx, fulfillerA, r.ID); !errors.As(err, &terminal) {
		t.Fatalf("claim err = %v, want TerminalRideError", err)
	}
}

func TestRequesterCancelIsSilent(t *testing.T) {
	c, _, sinks := newTestCoordinator(t)
	ctx := context.Background()
	r := mustCreate(t, c, requester)
	if _, err := c.RequesterCancel(ctx, requester, r.ID); err != nil {
		t.Fatal(err)
	}
	c.DrainSinks()

	if len(sinks.statuses) != 0 {
		t.Fatalf("requester cancel pushed a notification: %v", sinks.statuses)
	}
	if len(sinks.mirrored) != 2 {
		t.Fatalf("mirror publishes = %d, want 2 (create + cancel)", len(sinks.mirrored))
	}
}

func TestFulfillerCancelWindows(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	r := mustCreate(t, c, requester)
	if _, err := c.Claim(ctx, fulfillerA, r.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Arrive(ctx, fulfillerA, r.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Start(ctx, fulfillerA, r.ID); err != nil {
		t.Fatal(err)
	}

	// STARTED is past the fulfiller's cancel window.
	_, err := c.FulfillerCancel(ctx, fulfillerA, r.ID)
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
}

func TestRequesterCannotCancelAfterArrival(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	r := mustCreate(t, c, requester)
	if _, err := c.Claim(ctx, fulfillerA, r.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Arrive(ctx, fulfillerA, r.ID); err != nil {
		t.Fatal(err)
	}

	_, err := c.RequesterCancel(ctx, requester, r.ID)
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
}

func TestNotFound(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	_, err := c.Claim(context.Background(), fulfillerA, 999)
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
}

func TestListOpenIsFIFOAndUnfiltered(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	first := mustCreate(t, c, requester)
	second := mustCreate(t, c, requester2)

	// A refused marker must not hide the ride from the listing.
	if err := c.MarkRefused(ctx, fulfillerA, first.ID); err != nil {
		t.Fatal(err)
	}

	open, err := c.ListOpen(ctx, fulfillerA)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 2 || open[0].ID != first.ID || open[1].ID != second.ID {
		t.Fatalf("open = %v, want [%d %d] oldest-first", open, first.ID, second.ID)
	}
}

func TestListOpenHonorsLimit(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	c.OpenRideLimit = 1
	ctx := context.Background()

	mustCreate(t, c, requester)
	mustCreate(t, c, requester2)

	open, err := c.ListOpen(ctx, fulfillerA)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 {
		t.Fatalf("len = %d, want 1", len(open))
	}
}

func TestVisibilityMarkersRecorded(t *testing.T) {
	c, store, _ := newTestCoordinator(t)
	ctx := context.Background()
	r := mustCreate(t, c, requester)

	if err := c.MarkRefused(ctx, fulfillerA, r.ID); err != nil {
		t.Fatal(err)
	}
	if state, ok := store.Visibility(r.ID, fulfillerA.ID); !ok || state != models.VisibilityRefused {
		t.Fatalf("marker = %v/%v, want refused", state, ok)
	}

	// Upsert, not insert: expiring after refusing overwrites.
	if err := c.MarkExpired(ctx, fulfillerA, r.ID); err != nil {
		t.Fatal(err)
	}
	if state, _ := store.Visibility(r.ID, fulfillerA.ID); state != models.VisibilityExpired {
		t.Fatalf("marker = %v, want expired", state)
	}
}

func TestActiveLookups(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	r := mustCreate(t, c, requester)
	if _, err := c.Claim(ctx, fulfillerA, r.ID); err != nil {
		t.Fatal(err)
	}

	forRequester, err := c.ActiveForRequester(ctx, requester)
	if err != nil || forRequester == nil || forRequester.ID != r.ID {
		t.Fatalf("requester active = %v err=%v", forRequester, err)
	}
	forFulfiller, err := c.ActiveForFulfiller(ctx, fulfillerA)
	if err != nil || forFulfiller == nil || forFulfiller.ID != r.ID {
		t.Fatalf("fulfiller active = %v err=%v", forFulfiller, err)
	}

	if _, err := c.Complete(ctx, fulfillerA, r.ID); err == nil {
		t.Fatalf("complete from ACCEPTED should fail")
	}
	none, err := c.ActiveForFulfiller(ctx, fulfillerB)
	if err != nil || none != nil {
		t.Fatalf("expected no active ride for B, got %v err=%v", none, err)
	}
}

func TestSinkFailuresNeverSurface(t *testing.T) {
	c, _, sinks := newTestCoordinator(t)
	sinks.fail = true
	ctx := context.Background()

	r := mustCreate(t, c, requester)
	updated, err := c.Claim(ctx, fulfillerA, r.ID)
	if err != nil {
		t.Fatalf("claim failed because of sinks: %v", err)
	}
	c.DrainSinks()
	if updated.Status != models.StatusAccepted {
		t.Fatalf("status = %s", updated.Status)
	}
}

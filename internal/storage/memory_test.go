package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/example/ride-lifecycle/internal/models"
)

func insertRide(t *testing.T, m *MemoryStore, requesterID int64) *models.Ride {
	t.Helper()
	r, err := m.Insert(context.Background(), NewRide{
		RequesterID: requesterID,
		PickupLat:   31.2, PickupLng: 29.9,
		DropLat: 31.3, DropLng: 30.0,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return r
}

func TestInsertAssignsSequentialIDs(t *testing.T) {
	m := NewMemoryStore()
	a := insertRide(t, m, 1)
	b := insertRide(t, m, 2)
	if b.ID != a.ID+1 {
		t.Fatalf("ids = %d, %d", a.ID, b.ID)
	}
	if a.Status != models.StatusRequested || a.StateVersion != 0 {
		t.Fatalf("new ride = %+v", a)
	}
}

func TestInsertRejectsSecondActiveRide(t *testing.T) {
	m := NewMemoryStore()
	insertRide(t, m, 1)
	_, err := m.Insert(context.Background(), NewRide{RequesterID: 1})
	if !errors.Is(err, ErrActiveRideExists) {
		t.Fatalf("err = %v, want ErrActiveRideExists", err)
	}
}

func TestInsertAllowedAfterTerminal(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	r := insertRide(t, m, 1)
	rows, err := m.ConditionalUpdate(ctx, r.ID, models.StatusRequested, 0, Patch{NextStatus: models.StatusCanceled})
	if err != nil || rows != 1 {
		t.Fatalf("cancel: rows=%d err=%v", rows, err)
	}
	if _, err := m.Insert(ctx, NewRide{RequesterID: 1}); err != nil {
		t.Fatalf("insert after terminal: %v", err)
	}
}

func TestConditionalUpdateStaleVersion(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	r := insertRide(t, m, 1)

	rows, err := m.ConditionalUpdate(ctx, r.ID, models.StatusRequested, 5, Patch{NextStatus: models.StatusCanceled})
	if err != nil || rows != 0 {
		t.Fatalf("stale version matched: rows=%d err=%v", rows, err)
	}
	rows, err = m.ConditionalUpdate(ctx, r.ID, models.StatusAccepted, 0, Patch{NextStatus: models.StatusArrived})
	if err != nil || rows != 0 {
		t.Fatalf("wrong status matched: rows=%d err=%v", rows, err)
	}

	got, _ := m.Get(ctx, r.ID)
	if got.Status != models.StatusRequested || got.StateVersion != 0 {
		t.Fatalf("failed predicate mutated the row: %+v", got)
	}
}

func TestConditionalUpdateClaimRequiresUnsetFulfiller(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	r := insertRide(t, m, 1)

	a, b := int64(10), int64(11)
	rows, err := m.ConditionalUpdate(ctx, r.ID, models.StatusRequested, 0, Patch{NextStatus: models.StatusAccepted, FulfillerID: &a})
	if err != nil || rows != 1 {
		t.Fatalf("first claim: rows=%d err=%v", rows, err)
	}

	rows, err = m.ConditionalUpdate(ctx, r.ID, models.StatusRequested, 0, Patch{NextStatus: models.StatusAccepted, FulfillerID: &b})
	if err != nil || rows != 0 {
		t.Fatalf("second claim matched: rows=%d err=%v", rows, err)
	}

	got, _ := m.Get(ctx, r.ID)
	if *got.FulfillerID != a || got.StateVersion != 1 {
		t.Fatalf("ride = %+v, want claimed by %d at version 1", got, a)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	r := insertRide(t, m, 1)

	got, _ := m.Get(ctx, r.ID)
	got.Status = models.StatusCompleted

	again, _ := m.Get(ctx, r.ID)
	if again.Status != models.StatusRequested {
		t.Fatalf("caller mutation leaked into store")
	}
}

func TestListOpenOrderAndLimit(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	insertRide(t, m, 1)
	insertRide(t, m, 2)
	insertRide(t, m, 3)

	open, err := m.ListOpen(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 2 || open[0].ID > open[1].ID {
		t.Fatalf("open = %+v, want 2 oldest-first", open)
	}
}

func TestFindActive(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	r := insertRide(t, m, 1)

	found, err := m.FindActiveForRequester(ctx, 1)
	if err != nil || found == nil || found.ID != r.ID {
		t.Fatalf("active = %v err=%v", found, err)
	}
	none, err := m.FindActiveForRequester(ctx, 2)
	if err != nil || none != nil {
		t.Fatalf("expected nil for unknown requester, got %v", none)
	}

	f := int64(10)
	if rows, _ := m.ConditionalUpdate(ctx, r.ID, models.StatusRequested, 0, Patch{NextStatus: models.StatusAccepted, FulfillerID: &f}); rows != 1 {
		t.Fatalf("claim failed")
	}
	claimed, err := m.FindActiveForFulfiller(ctx, f)
	if err != nil || claimed == nil || claimed.ID != r.ID {
		t.Fatalf("fulfiller active = %v err=%v", claimed, err)
	}
}

package storage

import (
	"context"
	"errors"

	"github.com/example/ride-lifecycle/internal/models"
)

var (
	// ErrNotFound is returned when no ride exists for the requested id.
	ErrNotFound = errors.New("ride not found")
	// ErrActiveRideExists is returned by Insert when the requester already
	// holds a ride in a non-terminal status.
	ErrActiveRideExists = errors.New("requester already has an active ride")
)

// NewRide carries the fields of a ride about to be inserted. Status and
// state version are assigned by the store (REQUESTED, 0).
type NewRide struct {
	RequesterID  int64
	PickupLat    float64
	PickupLng    float64
	PickupAddr   *string
	DropLat      float64
	DropLng      float64
	DropAddr     *string
	FareEstimate int64
}

// Patch describes the mutation applied by a conditional update. When
// FulfillerID is set the update additionally requires the row's fulfiller
// to still be unset, which is what makes a claim first-committer-wins.
type Patch struct {
	NextStatus  models.RideStatus
	FulfillerID *int64
}

// RideStore is the durable repository for rides. ConditionalUpdate follows
// compare-and-swap semantics: it reports the number of rows affected and
// never errors just because the predicate did not match.
type RideStore interface {
	Get(ctx context.Context, id int64) (*models.Ride, error)
	Insert(ctx context.Context, n NewRide) (*models.Ride, error)
	ConditionalUpdate(ctx context.Context, id int64, expectedStatus models.RideStatus, expectedVersion int64, p Patch) (int64, error)
	FindActiveForRequester(ctx context.Context, requesterID int64) (*models.Ride, error)
	FindActiveForFulfiller(ctx context.Context, fulfillerID int64) (*models.Ride, error)
	ListOpen(ctx context.Context, limit int) ([]models.Ride, error)
	UpsertVisibility(ctx context.Context, rideID, fulfillerID int64, state models.VisibilityState) error
}

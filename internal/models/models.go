package models

import "time"

// RideStatus enumerates the lifecycle states of a ride.
type RideStatus string

const (
	StatusRequested RideStatus = "REQUESTED"
	StatusAccepted  RideStatus = "ACCEPTED"
	StatusArrived   RideStatus = "ARRIVED"
	StatusStarted   RideStatus = "STARTED"
	StatusCompleted RideStatus = "COMPLETED"
	StatusCanceled  RideStatus = "CANCELED"
)

// ActiveStatuses are the non-terminal states. A requester or fulfiller holds
// at most one ride in any of these at a time.
var ActiveStatuses = []RideStatus{StatusRequested, StatusAccepted, StatusArrived, StatusStarted}

// IsTerminal reports whether s permits no further transitions.
func (s RideStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

type Role string

const (
	RoleRequester Role = "REQUESTER"
	RoleFulfiller Role = "FULFILLER"
	RoleAdmin     Role = "ADMIN"
)

// Actor is the resolved identity of a caller, supplied by the identity
// provider on every request.
type Actor struct {
	ID   int64 `json:"id"`
	Role Role  `json:"role"`
}

type Ride struct {
	ID           int64      `json:"id"`
	Status       RideStatus `json:"status"`
	StateVersion int64      `json:"stateVersion"`
	RequesterID  int64      `json:"requesterId"`
	FulfillerID  *int64     `json:"fulfillerId"`
	PickupLat    float64    `json:"pickupLat"`
	PickupLng    float64    `json:"pickupLng"`
	PickupAddr   *string    `json:"pickupAddr"`
	DropLat      float64    `json:"dropLat"`
	DropLng      float64    `json:"dropLng"`
	DropAddr     *string    `json:"dropAddr"`
	FareEstimate int64      `json:"fareEstimate"` // smallest currency unit
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// VisibilityState marks why a fulfiller no longer wants an open ride shown.
type VisibilityState string

const (
	VisibilityRefused VisibilityState = "refused"
	VisibilityExpired VisibilityState = "expired"
)

// RideEvent is published to the event stream after every committed
// transition. The mirror consumer keys its upserts off it.
type RideEvent struct {
	Ride      Ride       `json:"ride"`
	NewStatus RideStatus `json:"newStatus"`
	At        time.Time  `json:"at"`
}

package ride

import (
	"fmt"
	"strings"

	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/payload"
)

// Stable machine-readable error codes surfaced to API callers. Anything not
// in this list is reported as INTERNAL so implementation details never leak.
const (
	CodeForbiddenRole      = "FORBIDDEN_ROLE"
	CodeNotOwner           = "NOT_YOUR_RIDE"
	CodeNotFound           = "RIDE_NOT_FOUND"
	CodeTerminalRide       = "TERMINAL_RIDE"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeAlreadyClaimed     = "RIDE_ALREADY_TAKEN"
	CodeStateConflict      = "RIDE_STATE_CONFLICT"
	CodeInvalidCoordinates = "INVALID_COORDINATES"
	CodeActiveRideExists   = "ACTIVE_RIDE_EXISTS"
)

// CodedError is implemented by every error the coordinator returns on its
// own behalf.
type CodedError interface {
	error
	Code() string
}

type ForbiddenRoleError struct {
	Required models.Role
	Actual   models.Role
}

func (e *ForbiddenRoleError) Error() string {
	return fmt.Sprintf("operation requires role %s, caller has %s", e.Required, e.Actual)
}
func (e *ForbiddenRoleError) Code() string { return CodeForbiddenRole }

type NotOwnerError struct {
	RideID int64
}

func (e *NotOwnerError) Error() string { return fmt.Sprintf("ride %d belongs to another actor", e.RideID) }
func (e *NotOwnerError) Code() string  { return CodeNotOwner }

type NotFoundError struct {
	RideID int64
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("ride %d not found", e.RideID) }
func (e *NotFoundError) Code() string  { return CodeNotFound }

type TerminalRideError struct {
	RideID int64
	Status models.RideStatus
}

func (e *TerminalRideError) Error() string {
	return fmt.Sprintf("ride %d is %s and permits no further transitions", e.RideID, e.Status)
}
func (e *TerminalRideError) Code() string { return CodeTerminalRide }

// InvalidTransitionError reports a status precondition failure, naming the
// state(s) the ride would have to be in for the operation to proceed.
type InvalidTransitionError struct {
	Expected []models.RideStatus
	Actual   models.RideStatus
	Next     models.RideStatus
}

func (e *InvalidTransitionError) Error() string {
	names := make([]string, len(e.Expected))
	for i, s := range e.Expected {
		names[i] = string(s)
	}
	return fmt.Sprintf("ride must be %s to move to %s, currently %s",
		strings.Join(names, " or "), e.Next, e.Actual)
}
func (e *InvalidTransitionError) Code() string { return CodeInvalidTransition }

// ConflictError signals a lost optimistic-concurrency race: the conditional
// write matched zero rows because a concurrent operation committed first.
// Claim losses get their own code so clients can distinguish "someone else
// took the ride" from every other stale-version case.
type ConflictError struct {
	RideID int64
	Op     Operation
}

func (e *ConflictError) Error() string {
	if e.Op == OpClaim {
		return fmt.Sprintf("ride %d was claimed by another fulfiller", e.RideID)
	}
	return fmt.Sprintf("ride %d changed concurrently, %s abandoned", e.RideID, e.Op)
}

func (e *ConflictError) Code() string {
	if e.Op == OpClaim {
		return CodeAlreadyClaimed
	}
	return CodeStateConflict
}

// InvalidCoordinatesError carries whatever did parse, so a client can see
// immediately which of the four fields its payload failed to convey.
type InvalidCoordinatesError struct {
	Parsed payload.Coordinates
}

func (e *InvalidCoordinatesError) Error() string { return "invalid pickup/drop coordinates" }
func (e *InvalidCoordinatesError) Code() string  { return CodeInvalidCoordinates }

type ActiveRideExistsError struct {
	ActorID int64
}

func (e *ActiveRideExistsError) Error() string { return "actor already has an active ride" }
func (e *ActiveRideExistsError) Code() string  { return CodeActiveRideExists }

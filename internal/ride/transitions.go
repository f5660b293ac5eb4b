package ride

import "github.com/example/ride-lifecycle/internal/models"

// Operation names every surfaced coordinator operation.
type Operation string

const (
	OpCreate          Operation = "createRide"
	OpActiveRequester Operation = "getActiveForRequester"
	OpActiveFulfiller Operation = "getActiveForFulfiller"
	OpListOpen        Operation = "listOpen"
	OpMarkRefused     Operation = "markRefused"
	OpMarkExpired     Operation = "markExpired"
	OpClaim           Operation = "claim"
	OpRequesterCancel Operation = "requesterCancel"
	OpFulfillerCancel Operation = "fulfillerCancel"
	OpArrive          Operation = "arrive"
	OpStart           Operation = "start"
	OpComplete        Operation = "complete"
)

// requiredRole maps every operation to the role that may invoke it. The
// check runs first in every operation, before the ride is even loaded.
var requiredRole = map[Operation]models.Role{
	OpCreate:          models.RoleRequester,
	OpActiveRequester: models.RoleRequester,
	OpRequesterCancel: models.RoleRequester,
	OpActiveFulfiller: models.RoleFulfiller,
	OpListOpen:        models.RoleFulfiller,
	OpMarkRefused:     models.RoleFulfiller,
	OpMarkExpired:     models.RoleFulfiller,
	OpClaim:           models.RoleFulfiller,
	OpFulfillerCancel: models.RoleFulfiller,
	OpArrive:          models.RoleFulfiller,
	OpStart:           models.RoleFulfiller,
	OpComplete:        models.RoleFulfiller,
}

// ownerField says whose id on the record must match the caller for an
// operation. Claim has no owner yet; the conditional write's
// fulfiller-unset predicate is what decides who wins it.
type ownerField int

const (
	ownerNone ownerField = iota
	ownerRequester
	ownerFulfiller
)

// transition describes one edge set of the state machine: which current
// statuses permit the operation and the status it commits.
type transition struct {
	allowed []models.RideStatus
	next    models.RideStatus
	owner   ownerField
	// notify controls whether the push sink is invoked after commit.
	// Requester cancels are the one silent path.
	notify bool
}

var transitions = map[Operation]transition{
	OpClaim: {
		allowed: []models.RideStatus{models.StatusRequested},
		next:    models.StatusAccepted,
		owner:   ownerNone,
		notify:  true,
	},
	OpRequesterCancel: {
		allowed: []models.RideStatus{models.StatusRequested, models.StatusAccepted},
		next:    models.StatusCanceled,
		owner:   ownerRequester,
		notify:  false,
	},
	OpFulfillerCancel: {
		allowed: []models.RideStatus{models.StatusAccepted, models.StatusArrived},
		next:    models.StatusCanceled,
		owner:   ownerFulfiller,
		notify:  true,
	},
	OpArrive: {
		allowed: []models.RideStatus{models.StatusAccepted},
		next:    models.StatusArrived,
		owner:   ownerFulfiller,
		notify:  true,
	},
	OpStart: {
		allowed: []models.RideStatus{models.StatusArrived},
		next:    models.StatusStarted,
		owner:   ownerFulfiller,
		notify:  true,
	},
	OpComplete: {
		allowed: []models.RideStatus{models.StatusStarted},
		next:    models.StatusCompleted,
		owner:   ownerFulfiller,
		notify:  true,
	},
}

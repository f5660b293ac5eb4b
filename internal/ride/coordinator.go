// Package ride implements the lifecycle coordinator: the state machine, the
// ownership and role invariants, and the optimistic-concurrency protocol
// that makes concurrent mutation of a shared ride record safe without a
// lock service. Every mutation of a ride funnels through this package.
package ride

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/observability"
	"github.com/example/ride-lifecycle/internal/payload"
	"github.com/example/ride-lifecycle/internal/storage"
)

// MirrorPublisher maintains the external read mirror. Best-effort only.
type MirrorPublisher interface {
	PublishMirror(ctx context.Context, r models.Ride) error
}

// EventPublisher emits a ride event to the downstream stream after every
// committed transition. Best-effort only.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev models.RideEvent) error
}

// Notifier delivers push notifications. Best-effort only.
type Notifier interface {
	NewRide(ctx context.Context, r models.Ride) error
	RideStatus(ctx context.Context, r models.Ride, status models.RideStatus) error
}

// PaymentProcessor reacts to committed transitions (hold on claim, capture
// on completion, release on cancel). Best-effort only; a payment failure
// never rolls back a committed transition.
type PaymentProcessor interface {
	OnTransition(ctx context.Context, r models.Ride, status models.RideStatus) error
}

// FareQuoter prices a trip at creation time.
type FareQuoter interface {
	Quote(pickupLat, pickupLng, dropLat, dropLng float64) int64
}

// Coordinator owns all ride mutations. Any sink field may be nil; the
// store and logger are required.
type Coordinator struct {
	Store         storage.RideStore
	Mirror        MirrorPublisher
	Events        EventPublisher
	Notifier      Notifier
	Payments      PaymentProcessor
	Fare          FareQuoter
	Logger        *slog.Logger
	OpenRideLimit int
	SinkTimeout   time.Duration

	sinks sync.WaitGroup
}

const defaultOpenRideLimit = 50

// CreateRide validates the loosely-structured creation document, enforces
// the single-active-ride invariant and inserts a REQUESTED ride at state
// version 0.
func (c *Coordinator) CreateRide(ctx context.Context, actor models.Actor, doc map[string]any) (*models.Ride, error) {
	if err := c.requireRole(actor, OpCreate); err != nil {
		return nil, err
	}

	coords := payload.ExtractCoordinates(doc)
	if !coords.Complete() {
		return nil, &InvalidCoordinatesError{Parsed: coords}
	}
	pickupAddr, dropAddr := payload.ExtractAddresses(doc)

	// Check-then-act; the store's partial unique index closes the window
	// between this check and the insert.
	if existing, err := c.Store.FindActiveForRequester(ctx, actor.ID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, &ActiveRideExistsError{ActorID: actor.ID}
	}

	var fare int64
	if c.Fare != nil {
		fare = c.Fare.Quote(*coords.PickupLat, *coords.PickupLng, *coords.DropLat, *coords.DropLng)
	}

	r, err := c.Store.Insert(ctx, storage.NewRide{
		RequesterID:  actor.ID,
		PickupLat:    *coords.PickupLat,
		PickupLng:    *coords.PickupLng,
		PickupAddr:   pickupAddr,
		DropLat:      *coords.DropLat,
		DropLng:      *coords.DropLng,
		DropAddr:     dropAddr,
		FareEstimate: fare,
	})
	if err != nil {
		if errors.Is(err, storage.ErrActiveRideExists) {
			return nil, &ActiveRideExistsError{ActorID: actor.ID}
		}
		return nil, err
	}

	observability.RidesCreatedTotal.Inc()
	c.Logger.Info("ride created", "ride_id", r.ID, "requester_id", actor.ID, "fare_estimate", fare)
	c.afterCommit(*r, r.Status, sideEffects{mirror: true, event: true, newRide: true})
	return r, nil
}

// ActiveForRequester returns the requester's current non-terminal ride, or
// nil when there is none.
func (c *Coordinator) ActiveForRequester(ctx context.Context, actor models.Actor) (*models.Ride, error) {
	if err := c.requireRole(actor, OpActiveRequester); err != nil {
		return nil, err
	}
	return c.Store.FindActiveForRequester(ctx, actor.ID)
}

// ActiveForFulfiller returns the fulfiller's current claim, or nil.
func (c *Coordinator) ActiveForFulfiller(ctx context.Context, actor models.Actor) (*models.Ride, error) {
	if err := c.requireRole(actor, OpActiveFulfiller); err != nil {
		return nil, err
	}
	return c.Store.FindActiveForFulfiller(ctx, actor.ID)
}

// ListOpen returns REQUESTED rides oldest-first, capped at the configured
// page size. Refused/expired markers do not filter the listing.
func (c *Coordinator) ListOpen(ctx context.Context, actor models.Actor) ([]models.Ride, error) {
	if err := c.requireRole(actor, OpListOpen); err != nil {
		return nil, err
	}
	limit := c.OpenRideLimit
	if limit <= 0 {
		limit = defaultOpenRideLimit
	}
	return c.Store.ListOpen(ctx, limit)
}

// MarkRefused records that this fulfiller declined the ride. The marker is
// upserted, never deleted, and has no effect on the ride's state machine.
func (c *Coordinator) MarkRefused(ctx context.Context, actor models.Actor, rideID int64) error {
	if err := c.requireRole(actor, OpMarkRefused); err != nil {
		return err
	}
	return c.Store.UpsertVisibility(ctx, rideID, actor.ID, models.VisibilityRefused)
}

// MarkExpired records that the ride offer timed out for this fulfiller.
func (c *Coordinator) MarkExpired(ctx context.Context, actor models.Actor, rideID int64) error {
	if err := c.requireRole(actor, OpMarkExpired); err != nil {
		return err
	}
	return c.Store.UpsertVisibility(ctx, rideID, actor.ID, models.VisibilityExpired)
}

func (c *Coordinator) Claim(ctx context.Context, actor models.Actor, rideID int64) (*models.Ride, error) {
	return c.transition(ctx, actor, rideID, OpClaim)
}

func (c *Coordinator) RequesterCancel(ctx context.Context, actor models.Actor, rideID int64) (*models.Ride, error) {
	return c.transition(ctx, actor, rideID, OpRequesterCancel)
}

func (c *Coordinator) FulfillerCancel(ctx context.Context, actor models.Actor, rideID int64) (*models.Ride, error) {
	return c.transition(ctx, actor, rideID, OpFulfillerCancel)
}

func (c *Coordinator) Arrive(ctx context.Context, actor models.Actor, rideID int64) (*models.Ride, error) {
	return c.transition(ctx, actor, rideID, OpArrive)
}

func (c *Coordinator) Start(ctx context.Context, actor models.Actor, rideID int64) (*models.Ride, error) {
	return c.transition(ctx, actor, rideID, OpStart)
}

func (c *Coordinator) Complete(ctx context.Context, actor models.Actor, rideID int64) (*models.Ride, error) {
	return c.transition(ctx, actor, rideID, OpComplete)
}

// transition runs the optimistic-concurrency protocol for one operation:
// snapshot read, ordered validation (role, existence, terminal guard,
// ownership, expected status), a single conditional write against the
// snapshot's status and version, then an authoritative re-read. A zero-row
// write means a concurrent operation won the race; the attempt is reported
// as a conflict and never retried here.
func (c *Coordinator) transition(ctx context.Context, actor models.Actor, rideID int64, op Operation) (*models.Ride, error) {
	if err := c.requireRole(actor, op); err != nil {
		return nil, err
	}
	t := transitions[op]

	r, err := c.Store.Get(ctx, rideID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &NotFoundError{RideID: rideID}
		}
		return nil, err
	}

	if r.Status.IsTerminal() {
		return nil, &TerminalRideError{RideID: r.ID, Status: r.Status}
	}

	switch t.owner {
	case ownerRequester:
		if r.RequesterID != actor.ID {
			return nil, &NotOwnerError{RideID: r.ID}
		}
	case ownerFulfiller:
		if r.FulfillerID == nil || *r.FulfillerID != actor.ID {
			return nil, &NotOwnerError{RideID: r.ID}
		}
	}

	if !statusAllowed(r.Status, t.allowed) {
		return nil, &InvalidTransitionError{Expected: t.allowed, Actual: r.Status, Next: t.next}
	}

	// One active claim per fulfiller.
	if op == OpClaim {
		if active, err := c.Store.FindActiveForFulfiller(ctx, actor.ID); err != nil {
			return nil, err
		} else if active != nil {
			return nil, &ActiveRideExistsError{ActorID: actor.ID}
		}
	}

	patch := storage.Patch{NextStatus: t.next}
	if op == OpClaim {
		id := actor.ID
		patch.FulfillerID = &id
	}

	rows, err := c.Store.ConditionalUpdate(ctx, r.ID, r.Status, r.StateVersion, patch)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		observability.ConflictsTotal.WithLabelValues(string(op)).Inc()
		return nil, &ConflictError{RideID: r.ID, Op: op}
	}

	updated, err := c.Store.Get(ctx, r.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &NotFoundError{RideID: r.ID}
		}
		return nil, err
	}

	observability.TransitionsTotal.WithLabelValues(string(op), string(updated.Status)).Inc()
	c.Logger.Info("ride transition committed",
		"ride_id", updated.ID, "operation", string(op),
		"status", string(updated.Status), "state_version", updated.StateVersion,
		"actor_id", actor.ID)

	c.afterCommit(*updated, t.next, sideEffects{mirror: true, event: true, notify: t.notify, payment: true})
	return updated, nil
}

func (c *Coordinator) requireRole(actor models.Actor, op Operation) error {
	required := requiredRole[op]
	if actor.Role != required {
		return &ForbiddenRoleError{Required: required, Actual: actor.Role}
	}
	return nil
}

func statusAllowed(s models.RideStatus, allowed []models.RideStatus) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}

type sideEffects struct {
	mirror  bool
	event   bool
	notify  bool
	newRide bool
	payment bool
}

// afterCommit dispatches the best-effort sinks for an already-committed
// ride. It runs outside the request path; sink errors are counted, logged
// and dropped so they can never gate or roll back the transition.
func (c *Coordinator) afterCommit(r models.Ride, status models.RideStatus, fx sideEffects) {
	timeout := c.SinkTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c.sinks.Add(1)
	go func() {
		defer c.sinks.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if fx.mirror && c.Mirror != nil {
			if err := c.Mirror.PublishMirror(ctx, r); err != nil {
				c.sinkFailed("mirror", r.ID, err)
			}
		}
		if fx.event && c.Events != nil {
			ev := models.RideEvent{Ride: r, NewStatus: status, At: time.Now().UTC()}
			if err := c.Events.PublishEvent(ctx, ev); err != nil {
				c.sinkFailed("events", r.ID, err)
			}
		}
		if c.Notifier != nil {
			if fx.newRide {
				if err := c.Notifier.NewRide(ctx, r); err != nil {
					c.sinkFailed("notify", r.ID, err)
				}
			} else if fx.notify {
				if err := c.Notifier.RideStatus(ctx, r, status); err != nil {
					c.sinkFailed("notify", r.ID, err)
				}
			}
		}
		if fx.payment && c.Payments != nil {
			if err := c.Payments.OnTransition(ctx, r, status); err != nil {
				c.sinkFailed("payments", r.ID, err)
			}
		}
	}()
}

func (c *Coordinator) sinkFailed(sink string, rideID int64, err error) {
	observability.SinkFailuresTotal.WithLabelValues(sink).Inc()
	c.Logger.Warn("sink failure ignored", "sink", sink, "ride_id", rideID, "error", err)
}

// DrainSinks blocks until all in-flight side-effect dispatches finish.
// Used during shutdown and by tests.
func (c *Coordinator) DrainSinks() {
	c.sinks.Wait()
}

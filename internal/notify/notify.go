// Package notify delivers best-effort push notifications for ride
// lifecycle changes, over FCM and over live WebSocket sessions.
package notify

import (
	"context"
	"errors"

	"github.com/example/ride-lifecycle/internal/models"
)

// Notifier mirrors the coordinator's notification sink plus the admin
// broadcast the API exposes.
type Notifier interface {
	NewRide(ctx context.Context, r models.Ride) error
	RideStatus(ctx context.Context, r models.Ride, status models.RideStatus) error
	Broadcast(ctx context.Context, title, body string) error
}

// statusMessage returns the user-facing copy for a status push. Unknown
// statuses produce no push at all.
func statusMessage(status models.RideStatus) (title, body string, ok bool) {
	switch status {
	case models.StatusAccepted:
		return "Ride accepted", "Your driver is on the way.", true
	case models.StatusArrived:
		return "Driver arrived", "Your driver has arrived at the pickup location.", true
	case models.StatusStarted:
		return "Trip started", "Enjoy your ride!", true
	case models.StatusCompleted:
		return "Trip completed", "Thank you for riding with us.", true
	case models.StatusCanceled:
		return "Ride canceled", "Your ride has been canceled.", true
	}
	return "", "", false
}

// Multi fans out to several notifiers and joins their failures.
type Multi []Notifier

func (m Multi) NewRide(ctx context.Context, r models.Ride) error {
	var errs []error
	for _, n := range m {
		if err := n.NewRide(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) RideStatus(ctx context.Context, r models.Ride, status models.RideStatus) error {
	var errs []error
	for _, n := range m {
		if err := n.RideStatus(ctx, r, status); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Broadcast(ctx context.Context, title, body string) error {
	var errs []error
	for _, n := range m {
		if err := n.Broadcast(ctx, title, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

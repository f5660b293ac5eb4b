// Package payments ties Stripe PaymentIntent holds to the ride lifecycle:
// hold the estimated fare when a ride is claimed, capture it on completion,
// release it on cancel. Invoked post-commit and best-effort only.
package payments

import (
	"context"
	"sync"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"github.com/example/ride-lifecycle/internal/models"
)

// StripeProcessor is the process-wide payments handle. The stripe client
// key is installed exactly once, on first use.
type StripeProcessor struct {
	apiKey   string
	currency string

	initOnce sync.Once

	mu      sync.Mutex
	intents map[int64]string // ride id -> held PaymentIntent id
}

func NewStripeProcessor(apiKey, currency string) *StripeProcessor {
	return &StripeProcessor{
		apiKey:   apiKey,
		currency: currency,
		intents:  make(map[int64]string),
	}
}

func (s *StripeProcessor) init() {
	s.initOnce.Do(func() { stripe.Key = s.apiKey })
}

// OnTransition reacts to a committed ride transition.
func (s *StripeProcessor) OnTransition(ctx context.Context, r models.Ride, status models.RideStatus) error {
	s.init()
	switch status {
	case models.StatusAccepted:
		return s.hold(r)
	case models.StatusCompleted:
		return s.capture(r.ID)
	case models.StatusCanceled:
		return s.release(r.ID)
	}
	return nil
}

func (s *StripeProcessor) hold(r models.Ride) error {
	if r.FareEstimate <= 0 {
		return nil
	}
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(r.FareEstimate),
		Currency:      stripe.String(s.currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	pi, err := paymentintent.New(params)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.intents[r.ID] = pi.ID
	s.mu.Unlock()
	return nil
}

func (s *StripeProcessor) capture(rideID int64) error {
	id, ok := s.takeIntent(rideID)
	if !ok {
		return nil
	}
	_, err := paymentintent.Capture(id, nil)
	return err
}

func (s *StripeProcessor) release(rideID int64) error {
	id, ok := s.takeIntent(rideID)
	if !ok {
		return nil
	}
	_, err := paymentintent.Cancel(id, nil)
	return err
}

func (s *StripeProcessor) takeIntent(rideID int64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.intents[rideID]
	if ok {
		delete(s.intents, rideID)
	}
	return id, ok
}

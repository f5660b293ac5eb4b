package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/example/ride-lifecycle/internal/models"
)

// Topic naming: every user is subscribed to user-<id>; all fulfiller apps
// additionally subscribe to "fulfillers" and everyone to "all".
const (
	topicFulfillers = "fulfillers"
	topicAll        = "all"
)

// FCMNotifier posts JSON to an FCM HTTPv1 endpoint using a server key or
// oauth token.
type FCMNotifier struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewFCMNotifier(endpoint, key string) *FCMNotifier {
	return &FCMNotifier{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (f *FCMNotifier) NewRide(ctx context.Context, r models.Ride) error {
	return f.send(ctx, topicFulfillers, "New ride request", "A rider has requested a ride", map[string]string{
		"rideId": strconv.FormatInt(r.ID, 10),
	})
}

func (f *FCMNotifier) RideStatus(ctx context.Context, r models.Ride, status models.RideStatus) error {
	title, body, ok := statusMessage(status)
	if !ok {
		return nil
	}
	return f.send(ctx, userTopic(r.RequesterID), title, body, map[string]string{
		"rideId": strconv.FormatInt(r.ID, 10),
		"status": string(status),
	})
}

func (f *FCMNotifier) Broadcast(ctx context.Context, title, body string) error {
	return f.send(ctx, topicAll, title, body, nil)
}

func (f *FCMNotifier) send(ctx context.Context, topic, title, body string, data map[string]string) error {
	msg := map[string]any{
		"message": map[string]any{
			"topic":        topic,
			"notification": map[string]string{"title": title, "body": body},
			"data":         data,
		},
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.Key != "" {
		req.Header.Set("Authorization", "Bearer "+f.Key)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("fcm responded %d", resp.StatusCode)
	}
	return nil
}

func userTopic(userID int64) string { return "user-" + strconv.FormatInt(userID, 10) }

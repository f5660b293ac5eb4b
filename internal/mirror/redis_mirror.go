// Package mirror maintains the external read mirror: an eventually
// consistent per-ride document that clients poll instead of the API. The
// mirror is written best-effort after every committed transition and must
// never gate one.
package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-lifecycle/internal/models"
)

// RedisMirror stores one hash per ride under <prefix>:<ride id>.
type RedisMirror struct {
	client *redis.Client
	prefix string
}

func NewRedisMirror(addr, password, prefix string) *RedisMirror {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisMirror{client: c, prefix: prefix}
}

// NewRedisMirrorFromClient wires an existing client, for the consumer
// binary and tests.
func NewRedisMirrorFromClient(c *redis.Client, prefix string) *RedisMirror {
	return &RedisMirror{client: c, prefix: prefix}
}

func (m *RedisMirror) PublishMirror(ctx context.Context, r models.Ride) error {
	return m.client.HSet(ctx, m.key(r.ID), MirrorFields(r)).Err()
}

func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

func (m *RedisMirror) Close() error { return m.client.Close() }

func (m *RedisMirror) key(id int64) string { return fmt.Sprintf("%s:%d", m.prefix, id) }

// MirrorFields flattens a ride into the mirror document. Status is kept
// uppercase; terminal and backendExists let stale clients self-repair;
// lastBackendSyncAt is a millisecond epoch freshness stamp.
func MirrorFields(r models.Ride) map[string]any {
	fields := map[string]any{
		"id":                r.ID,
		"status":            string(r.Status),
		"backendStatus":     string(r.Status),
		"stateVersion":      r.StateVersion,
		"terminal":          r.Status.IsTerminal(),
		"backendExists":     true,
		"lastBackendSyncAt": time.Now().UnixMilli(),
		"requesterId":       r.RequesterID,
		"pickupLat":         r.PickupLat,
		"pickupLng":         r.PickupLng,
		"dropLat":           r.DropLat,
		"dropLng":           r.DropLng,
		"fareEstimate":      r.FareEstimate,
	}
	if r.FulfillerID != nil {
		fields["fulfillerId"] = *r.FulfillerID
	}
	if r.PickupAddr != nil {
		fields["pickupAddr"] = *r.PickupAddr
	}
	if r.DropAddr != nil {
		fields["dropAddr"] = *r.DropAddr
	}
	return fields
}

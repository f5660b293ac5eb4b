// Package fare prices trips from straight-line distance. Good enough for
// an estimate shown at request time; settlement uses the same number.
package fare

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Estimator quotes a fare in the smallest currency unit:
// base + perKm * haversine distance, rounded up to the next unit.
type Estimator struct {
	Base  int64
	PerKm int64
	Cache *Cache
}

func NewEstimator(base, perKm int64, cacheTTL time.Duration) *Estimator {
	return &Estimator{Base: base, PerKm: perKm, Cache: NewCache(cacheTTL)}
}

func (e *Estimator) Quote(pickupLat, pickupLng, dropLat, dropLng float64) int64 {
	key := quoteKey(pickupLat, pickupLng, dropLat, dropLng)
	if e.Cache != nil {
		if v, ok := e.Cache.Get(key); ok {
			return v
		}
	}
	km := Haversine(pickupLat, pickupLng, dropLat, dropLng) / 1000.0
	q := e.Base + int64(math.Ceil(km*float64(e.PerKm)))
	if e.Cache != nil {
		e.Cache.Set(key, q)
	}
	return q
}

// Haversine distance in meters.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	const R = 6371000.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

func quoteKey(aLat, aLng, bLat, bLng float64) string {
	return fmt.Sprintf("%.6f,%.6f->%.6f,%.6f", aLat, aLng, bLat, bLng)
}

// Cache is a tiny in-memory TTL cache for quotes.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  int64
	ts time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func (c *Cache) Get(key string) (int64, bool) {
	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, key)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

func (c *Cache) Set(key string, v int64) {
	c.mu.Lock()
	c.store[key] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}

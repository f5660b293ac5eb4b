// Package payload extracts ride coordinates and addresses from the
// loosely-structured creation documents produced by the mobile clients.
// Each field is resolved by trying a fixed, ordered list of key paths and
// taking the first value that parses as a finite number; the order is part
// of the wire contract with existing clients and must not be reshuffled.
package payload

import (
	"math"
	"strings"

	"github.com/spf13/cast"
)

var pickupLatPaths = []string{
	"pickupLat",
	"pickup_lat",
	"pickup.latitude",
	"pickup.lat",
	"pickup.location.latitude",
	"pickup.location.lat",
	"pickupLocation.latitude",
	"pickupLocation.lat",
	"pickup_location.latitude",
	"pickup_location.lat",
}

var pickupLngPaths = []string{
	"pickupLng",
	"pickup_lng",
	"pickup.longitude",
	"pickup.lng",
	"pickup.location.longitude",
	"pickup.location.lng",
	"pickupLocation.longitude",
	"pickupLocation.lng",
	"pickup_location.longitude",
	"pickup_location.lng",
}

var dropLatPaths = []string{
	"dropLat",
	"drop_lat",
	"drop.latitude",
	"drop.lat",
	"drop.location.latitude",
	"drop.location.lat",
	"destinationLat",
	"destination_lat",
	"destLat",
	"dest_lat",
	"toLat",
	"to_lat",
	"dropoffLat",
	"dropoff_lat",
	"destination.latitude",
	"destination.lat",
	"destination.location.latitude",
	"destination.location.lat",
	"destinationLocation.latitude",
	"destinationLocation.lat",
	"to.latitude",
	"to.lat",
}

var dropLngPaths = []string{
	"dropLng",
	"drop_lng",
	"drop.longitude",
	"drop.lng",
	"drop.location.longitude",
	"drop.location.lng",
	"destinationLng",
	"destination_lng",
	"destLng",
	"dest_lng",
	"toLng",
	"to_lng",
	"dropoffLng",
	"dropoff_lng",
	"destination.longitude",
	"destination.lng",
	"destination.location.longitude",
	"destination.location.lng",
	"destinationLocation.longitude",
	"destinationLocation.lng",
	"to.longitude",
	"to.lng",
}

var pickupAddrPaths = []string{
	"pickupAddr",
	"pickup_addr",
	"pickupAddress",
	"pickup_address",
	"pickup.address",
	"pickupLocation.address",
}

var dropAddrPaths = []string{
	"dropAddr",
	"drop_addr",
	"dropAddress",
	"drop_address",
	"drop.address",
	"destinationAddress",
	"destination.address",
}

// Coordinates holds the four extracted values; a nil field means no
// candidate path yielded a finite number for it.
type Coordinates struct {
	PickupLat *float64 `json:"pickupLat"`
	PickupLng *float64 `json:"pickupLng"`
	DropLat   *float64 `json:"dropLat"`
	DropLng   *float64 `json:"dropLng"`
}

// Complete reports whether all four coordinates were resolved.
func (c Coordinates) Complete() bool {
	return c.PickupLat != nil && c.PickupLng != nil && c.DropLat != nil && c.DropLng != nil
}

// ExtractCoordinates resolves pickup and drop coordinates from doc. The
// result may be partial; callers decide whether that is an error.
func ExtractCoordinates(doc map[string]any) Coordinates {
	return Coordinates{
		PickupLat: firstNumber(doc, pickupLatPaths),
		PickupLng: firstNumber(doc, pickupLngPaths),
		DropLat:   firstNumber(doc, dropLatPaths),
		DropLng:   firstNumber(doc, dropLngPaths),
	}
}

// ExtractAddresses resolves optional human-readable pickup/drop addresses.
func ExtractAddresses(doc map[string]any) (pickup, drop *string) {
	return firstString(doc, pickupAddrPaths), firstString(doc, dropAddrPaths)
}

func firstNumber(doc map[string]any, paths []string) *float64 {
	for _, p := range paths {
		v, ok := lookupPath(doc, p)
		if !ok {
			continue
		}
		if n, ok := toFinite(v); ok {
			return &n
		}
	}
	return nil
}

func firstString(doc map[string]any, paths []string) *string {
	for _, p := range paths {
		v, ok := lookupPath(doc, p)
		if !ok || v == nil {
			continue
		}
		if s, err := cast.ToStringE(v); err == nil && s != "" {
			return &s
		}
	}
	return nil
}

// lookupPath walks dot-separated keys through nested maps.
func lookupPath(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// toFinite coerces v to a finite float64. Strings may use either "." or ","
// as the decimal separator; upstream producers localize inconsistently.
func toFinite(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	if s, ok := v.(string); ok {
		v = strings.Replace(strings.TrimSpace(s), ",", ".", 1)
	}
	n, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

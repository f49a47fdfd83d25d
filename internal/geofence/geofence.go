package geofence

import (
	"errors"
	"math"
)

// ErrInvalidCoordinates is returned when a latitude or longitude is outside
// the valid range.
var ErrInvalidCoordinates = errors.New("coordinates out of range")

const earthRadiusMeters = 6371000

// Fix is a reported device location. AccuracyMeters is the client-reported
// GPS accuracy radius; zero means unknown.
type Fix struct {
	Latitude       float64
	Longitude      float64
	AccuracyMeters float64
}

// Fence is a circular boundary around a meeting location.
type Fence struct {
	Latitude     float64
	Longitude    float64
	RadiusMeters float64
}

// Result reports whether a fix is inside a fence and how far it is from
// the center. EffectiveRadiusMeters includes any accuracy widening applied.
type Result struct {
	Valid                 bool
	DistanceMeters        float64
	EffectiveRadiusMeters float64
}

// Evaluator decides geofence membership. It widens the fence radius by the
// reported GPS accuracy, additively and capped at marginMeters, so a phone
// with poor reception is not rejected while standing at the door. The cap
// is server configuration; clients cannot widen beyond it. A cap of zero
// disables widening entirely.
type Evaluator struct {
	marginMeters float64
}

// NewEvaluator creates an evaluator with the given accuracy margin cap.
func NewEvaluator(marginMeters float64) *Evaluator {
	if marginMeters < 0 {
		marginMeters = 0
	}
	return &Evaluator{marginMeters: marginMeters}
}

// Evaluate checks a fix against a fence. A point exactly at the effective
// radius is inside. It is pure: no side effects, total over valid inputs.
func (e *Evaluator) Evaluate(fix Fix, fence Fence) (Result, error) {
	if !validLatLon(fix.Latitude, fix.Longitude) || !validLatLon(fence.Latitude, fence.Longitude) {
		return Result{}, ErrInvalidCoordinates
	}

	distance := Distance(fix.Latitude, fix.Longitude, fence.Latitude, fence.Longitude)

	radius := fence.RadiusMeters
	if fix.AccuracyMeters > 0 && e.marginMeters > 0 {
		radius += math.Min(fix.AccuracyMeters, e.marginMeters)
	}

	return Result{
		Valid:                 distance <= radius,
		DistanceMeters:        distance,
		EffectiveRadiusMeters: radius,
	}, nil
}

// Distance returns the great-circle distance in meters between two points
// using the haversine formula.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

func validLatLon(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

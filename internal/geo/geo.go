// Package geo contains pure geographic computation helpers shared by the
// heuristics engine, the refinery and the HTTP layer.
package geo

import (
	"math"

	"github.com/mmcloughlin/geohash"

	"vectra/internal/types"
)

// EarthRadiusKm is the mean Earth radius used for every great-circle figure.
const EarthRadiusKm = 6371.0088

// Precision is the geohash length addresses are keyed by (~150 m cells).
const Precision = 7

// HaversineMeters returns the great-circle distance in metres between two points.
func HaversineMeters(a, b types.Point) float64 {
	return HaversineRadians(DegreesToRadians(a.Lat), DegreesToRadians(a.Lon), DegreesToRadians(b.Lat), DegreesToRadians(b.Lon)) * EarthRadiusKm * 1000
}

// HaversineRadians returns the central angle between two points given in radians.
func HaversineRadians(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := lat2 - lat1
	dLon := lon2 - lon1
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// MetersToRadians converts a ground distance to a central angle.
func MetersToRadians(m float64) float64 {
	return (m / 1000) / EarthRadiusKm
}

func DegreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

func radiansToDegrees(rad float64) float64 {
	return rad * 180.0 / math.Pi
}

// Bearing returns the initial compass bearing in degrees [0, 360) from a to b.
func Bearing(a, b types.Point) float64 {
	lat1 := DegreesToRadians(a.Lat)
	lat2 := DegreesToRadians(b.Lat)
	dLon := DegreesToRadians(b.Lon - a.Lon)
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return normalizeBearing(radiansToDegrees(math.Atan2(y, x)))
}

// MeanBearing is the circular mean of bearings in degrees. ok is false when
// the input is empty or the headings cancel out.
func MeanBearing(bearings []float64) (mean float64, ok bool) {
	if len(bearings) == 0 {
		return 0, false
	}
	var sx, sy float64
	for _, b := range bearings {
		r := DegreesToRadians(b)
		sx += math.Cos(r)
		sy += math.Sin(r)
	}
	if math.Hypot(sx, sy) < 1e-9 {
		return 0, false
	}
	return normalizeBearing(radiansToDegrees(math.Atan2(sy, sx))), true
}

func normalizeBearing(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// Encode returns the address geohash of p.
func Encode(p types.Point) string {
	return geohash.EncodeWithPrecision(p.Lat, p.Lon, Precision)
}

// Neighborhood returns gh followed by its eight adjacent cells.
func Neighborhood(gh string) []string {
	out := make([]string, 0, 9)
	out = append(out, gh)
	return append(out, geohash.Neighbors(gh)...)
}

// IsGeohash reports whether s is a non-empty, lowercase geohash of at most 12 chars.
func IsGeohash(s string) bool {
	return s != "" && geohash.Validate(s) == nil
}

// Offset moves p by north/east metres using a local flat-earth approximation.
func Offset(p types.Point, northM, eastM float64) types.Point {
	dLat := northM / 111000.0
	dLon := eastM / (111000.0 * math.Cos(DegreesToRadians(p.Lat)))
	return types.Point{Lat: p.Lat + dLat, Lon: p.Lon + dLon}
}

// Center returns the centre of the geohash cell.
func Center(gh string) types.Point {
	lat, lon := geohash.DecodeCenter(gh)
	return types.Point{Lat: lat, Lon: lon}
}

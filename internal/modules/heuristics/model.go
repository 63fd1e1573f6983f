// README: Estimates produced by the spatial heuristics engine.
package heuristics

import (
	"errors"

	"vectra/internal/types"
)

// MinScanPoints is the smallest SCAN sample the engine will estimate from.
const MinScanPoints = 5

var (
	ErrInsufficientData = errors.New("insufficient scan points")
	ErrClustering       = errors.New("clustering failed")
)

// EntryPointEstimate is the building entry derived from SCAN events of one geohash.
type EntryPointEstimate struct {
	Point       types.Point
	Confidence  float64
	ClusterSize int
	// Fallback is set when every point was noise and the estimate is the
	// weighted centroid of the whole sample. Confidence is not meaningful then.
	Fallback bool
}

// NavigationPointEstimate is the unsnapped parking candidate near an entry point.
type NavigationPointEstimate struct {
	Point   types.Point
	Bearing *float64
	Samples int
}

type Config struct {
	EpsMeters  float64
	MinSamples int
}

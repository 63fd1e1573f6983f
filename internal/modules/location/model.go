// README: Refined location record and the resolution shape served to drivers.
package location

import (
	"errors"
	"time"

	"vectra/internal/types"
)

var ErrNotFound = errors.New("location not resolved yet")

// Response sources.
const (
	SourceHeuristic    = "heuristic_v1"
	SourceHeuristicDB  = "heuristic_v1_db"
	SourceLiveRefinery = "live_refinery"
	SourcePrecomputed  = "cache_precomputed"
	SourceCanaryPrefix = "canary_ai_"
)

// RefinedLocation is the authoritative record for one address, keyed by geohash.
type RefinedLocation struct {
	ID              string
	NavigationPoint types.Point
	EntryPoint      types.Point
	// ConfidenceScore is nil for low-trust estimates that carry no score.
	ConfidenceScore *float64
	UpdatedAt       time.Time
	Source          string
}

// Resolution is the answer to a resolve request and the cached value shape.
type Resolution struct {
	AddressID       string      `json:"address_id"`
	NavigationPoint types.Point `json:"navigation_point"`
	EntryPoint      types.Point `json:"entry_point"`
	Source          string      `json:"source"`
	Confidence      *float64    `json:"confidence,omitempty"`
}

// Resolution projects the record with the given source label.
func (r RefinedLocation) Resolution(source string) Resolution {
	var conf *float64
	if r.ConfidenceScore != nil {
		c := *r.ConfidenceScore
		conf = &c
	}
	return Resolution{
		AddressID:       r.ID,
		NavigationPoint: r.NavigationPoint,
		EntryPoint:      r.EntryPoint,
		Source:          source,
		Confidence:      conf,
	}
}

package ai

import (
	"errors"
	"fmt"
	"math"

	"vectra/internal/types"
)

var (
	// ErrEmptyPrediction means the model answered without usable candidates.
	ErrEmptyPrediction   = errors.New("prediction has no entry points")
	ErrInvalidPrediction = errors.New("invalid prediction")
)

// EntryPointCandidate is one scored location proposed by the model.
type EntryPointCandidate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`

	// Probability is the model's confidence in [0, 1].
	Probability float64 `json:"probability"`

	// Type labels the kind of entry, e.g. "main_door", "loading_dock".
	Type string `json:"type"`
}

func (c EntryPointCandidate) Point() types.Point {
	return types.Point{Lat: c.Lat, Lon: c.Lon}
}

// Prediction is the response payload of the entry-point model.
type Prediction struct {
	EntryPoints []EntryPointCandidate `json:"entry_points"`
}

// Validate rejects empty predictions and out-of-range candidates.
func (p *Prediction) Validate() error {
	if p == nil || len(p.EntryPoints) == 0 {
		return ErrEmptyPrediction
	}
	for i, c := range p.EntryPoints {
		switch {
		case math.IsNaN(c.Lat) || c.Lat < -90 || c.Lat > 90,
			math.IsNaN(c.Lon) || c.Lon < -180 || c.Lon > 180:
			return fmt.Errorf("%w: candidate %d out of range", ErrInvalidPrediction, i)
		case math.IsNaN(c.Probability) || c.Probability < 0 || c.Probability > 1:
			return fmt.Errorf("%w: candidate %d probability %v", ErrInvalidPrediction, i, c.Probability)
		case c.Type == "":
			return fmt.Errorf("%w: candidate %d has no type", ErrInvalidPrediction, i)
		}
	}
	return nil
}

// Best returns the highest-probability candidate; the first wins ties.
func (p *Prediction) Best() EntryPointCandidate {
	best := p.EntryPoints[0]
	for _, c := range p.EntryPoints[1:] {
		if c.Probability > best.Probability {
			best = c
		}
	}
	return best
}

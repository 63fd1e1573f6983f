// README: Spatial heuristics engine; density clustering of SCAN events and parking detection.
package heuristics

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"vectra/internal/geo"
	"vectra/internal/modules/trace"
	"vectra/internal/types"
)

const (
	// metresPerDegree approximates one degree of latitude.
	metresPerDegree = 111000.0
	// parkingBoxDeg is the half-width of the box around an entry point that
	// parking candidates must fall inside.
	parkingBoxDeg = 0.001
	// stoppedSpeed is the speed in m/s under which a sample counts as parked.
	stoppedSpeed = 1.0
	// minApproachMeters ignores jitter when deriving approach headings.
	minApproachMeters = 1.0
)

// Engine is stateless after construction and safe for concurrent use.
type Engine struct {
	epsRad     float64
	minSamples int
}

func NewEngine(cfg Config) *Engine {
	return &Engine{
		epsRad:     geo.MetersToRadians(cfg.EpsMeters),
		minSamples: cfg.MinSamples,
	}
}

// FindEntryPoint clusters SCAN events and returns the weighted centroid of
// the dominant cluster.
func (e *Engine) FindEntryPoint(scans []trace.RawTracePoint) (*EntryPointEstimate, error) {
	if len(scans) < MinScanPoints {
		return nil, fmt.Errorf("%w: %d points", ErrInsufficientData, len(scans))
	}

	lat := make([]float64, len(scans))
	lon := make([]float64, len(scans))
	for i, p := range scans {
		if !p.Point().Valid() {
			return nil, fmt.Errorf("%w: invalid coordinate at index %d", ErrClustering, i)
		}
		lat[i] = geo.DegreesToRadians(p.Lat)
		lon[i] = geo.DegreesToRadians(p.Lon)
	}

	labels := dbscan(lat, lon, e.epsRad, e.minSamples)
	label, size, ok := largestCluster(labels)
	if !ok {
		centroid, err := WeightedCentroid(scans)
		if err != nil {
			return nil, err
		}
		return &EntryPointEstimate{Point: centroid, Confidence: 0, ClusterSize: 0, Fallback: true}, nil
	}

	members := make([]trace.RawTracePoint, 0, size)
	for i, l := range labels {
		if l == label {
			members = append(members, scans[i])
		}
	}
	centroid, err := WeightedCentroid(members)
	if err != nil {
		return nil, err
	}
	return &EntryPointEstimate{
		Point:       centroid,
		Confidence:  Confidence(len(members), GeoStdDevMeters(members)),
		ClusterSize: len(members),
	}, nil
}

// FindParkingCandidate returns false when no stopped sample lies near entry.
func (e *Engine) FindParkingCandidate(traces []trace.RawTracePoint, entry types.Point) (*NavigationPointEstimate, bool) {
	var nearby []trace.RawTracePoint
	var idx []int
	for i, p := range traces {
		if !isParked(p) || !inBox(p.Point(), entry) {
			continue
		}
		nearby = append(nearby, p)
		idx = append(idx, i)
	}
	if len(nearby) == 0 {
		return nil, false
	}
	centroid, err := WeightedCentroid(nearby)
	if err != nil {
		return nil, false
	}
	est := &NavigationPointEstimate{Point: centroid, Samples: len(nearby)}
	if b, ok := approachBearing(traces, idx); ok {
		est.Bearing = &b
	}
	return est, true
}

func isParked(p trace.RawTracePoint) bool {
	return p.EventType == trace.EventStop || p.EventType == trace.EventArrived || p.Speed < stoppedSpeed
}

func inBox(p, center types.Point) bool {
	return p.Lat >= center.Lat-parkingBoxDeg && p.Lat <= center.Lat+parkingBoxDeg &&
		p.Lon >= center.Lon-parkingBoxDeg && p.Lon <= center.Lon+parkingBoxDeg
}

// approachBearing averages the heading each selected sample was reached
// from, using the same driver's previous sample in time order.
func approachBearing(traces []trace.RawTracePoint, selected []int) (float64, bool) {
	order := make([]int, len(traces))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		pa, pb := traces[order[a]], traces[order[b]]
		if pa.DriverID != pb.DriverID {
			return pa.DriverID < pb.DriverID
		}
		return pa.Timestamp.Before(pb.Timestamp)
	})
	prev := make(map[int]int, len(order))
	for k := 1; k < len(order); k++ {
		if traces[order[k]].DriverID == traces[order[k-1]].DriverID {
			prev[order[k]] = order[k-1]
		}
	}

	var bearings []float64
	for _, i := range selected {
		j, ok := prev[i]
		if !ok {
			continue
		}
		from, to := traces[j].Point(), traces[i].Point()
		if geo.HaversineMeters(from, to) < minApproachMeters {
			continue
		}
		bearings = append(bearings, geo.Bearing(from, to))
	}
	return geo.MeanBearing(bearings)
}

// WeightedCentroid averages positions weighted by 1/(accuracy²+1e-6).
func WeightedCentroid(points []trace.RawTracePoint) (types.Point, error) {
	if len(points) == 0 {
		return types.Point{}, fmt.Errorf("%w: empty centroid input", ErrClustering)
	}
	lat := make([]float64, len(points))
	lon := make([]float64, len(points))
	w := make([]float64, len(points))
	for i, p := range points {
		lat[i] = p.Lat
		lon[i] = p.Lon
		w[i] = 1 / (p.AccuracyM*p.AccuracyM + 1e-6)
	}
	c := types.Point{Lat: stat.Mean(lat, w), Lon: stat.Mean(lon, w)}
	if !c.Valid() {
		return types.Point{}, fmt.Errorf("%w: non-finite centroid", ErrClustering)
	}
	return c, nil
}

// GeoStdDevMeters is the planar spread of points in metres using population
// standard deviation on each axis.
func GeoStdDevMeters(points []trace.RawTracePoint) float64 {
	if len(points) == 0 {
		return 0
	}
	lat := make([]float64, len(points))
	lon := make([]float64, len(points))
	for i, p := range points {
		lat[i] = p.Lat
		lon[i] = p.Lon
	}
	meanLat, varLat := stat.PopMeanVariance(lat, nil)
	_, varLon := stat.PopMeanVariance(lon, nil)
	latStd := math.Sqrt(varLat) * metresPerDegree
	lonStd := math.Sqrt(varLon) * metresPerDegree * math.Cos(geo.DegreesToRadians(meanLat))
	return math.Hypot(latStd, lonStd)
}

// Confidence scores a cluster of n points with spread stdM metres, rounded
// to two decimals.
func Confidence(n int, stdM float64) float64 {
	if n <= 0 {
		return 0
	}
	size := 1 - 1/(0.2*float64(n)+1)
	penalty := 1 / (1 + stdM/30.0)
	c := math.Round(size*penalty*100) / 100
	return math.Max(0, math.Min(1, c))
}

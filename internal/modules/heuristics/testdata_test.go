package heuristics

import (
	"math"
	"time"

	"vectra/internal/geo"
	"vectra/internal/modules/trace"
	"vectra/internal/types"
)

var base = types.Point{Lat: 52.520008, Lon: 13.404954}

// cloud lays n SCAN points on a sunflower spiral of the given radius.
func cloud(center types.Point, n int, radiusM float64, ev trace.EventType) []trace.RawTracePoint {
	golden := math.Pi * (3 - math.Sqrt(5))
	out := make([]trace.RawTracePoint, n)
	t0 := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		r := radiusM * math.Sqrt((float64(i)+0.5)/float64(n))
		a := float64(i) * golden
		p := geo.Offset(center, r*math.Cos(a), r*math.Sin(a))
		out[i] = trace.RawTracePoint{
			DriverID:  "drv-1",
			Lat:       p.Lat,
			Lon:       p.Lon,
			AccuracyM: 5,
			EventType: ev,
			Timestamp: t0.Add(time.Duration(i) * time.Minute),
			Geohash:   geo.Encode(center),
		}
	}
	return out
}

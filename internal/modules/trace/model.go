// README: Raw GPS trace model contributed by drivers; read-only to refinement.
package trace

import (
	"time"

	"vectra/internal/types"
)

type EventType string

const (
	EventScan    EventType = "SCAN"
	EventPing    EventType = "PING"
	EventStop    EventType = "STOP"
	EventArrived EventType = "ARRIVED"
)

// RawTracePoint is one immutable telemetry sample.
type RawTracePoint struct {
	DriverID  string
	VehicleID string
	Lat       float64
	Lon       float64
	Speed     float64 // m/s
	AccuracyM float64
	EventType EventType
	Timestamp time.Time
	Geohash   string
}

func (p RawTracePoint) Point() types.Point {
	return types.Point{Lat: p.Lat, Lon: p.Lon}
}

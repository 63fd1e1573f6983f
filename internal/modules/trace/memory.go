// README: In-memory trace source for tests and local runs without Postgres.
package trace

import (
	"context"
	"sort"
	"sync"
)

type MemorySource struct {
	mu     sync.RWMutex
	points []RawTracePoint
	open   int
}

func NewMemorySource(points ...RawTracePoint) *MemorySource {
	return &MemorySource{points: append([]RawTracePoint(nil), points...)}
}

func (m *MemorySource) Add(points ...RawTracePoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, points...)
}

// OpenSessions reports sessions not yet closed.
func (m *MemorySource) OpenSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.open
}

func (m *MemorySource) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.open++
	m.mu.Unlock()
	return &memorySession{src: m}, nil
}

type memorySession struct {
	src    *MemorySource
	closed sync.Once
}

func (s *memorySession) ScanPoints(ctx context.Context, geohash string) ([]RawTracePoint, error) {
	return s.filter(func(p RawTracePoint) bool {
		return p.Geohash == geohash && p.EventType == EventScan
	}), nil
}

func (s *memorySession) PointsIn(ctx context.Context, geohashes []string) ([]RawTracePoint, error) {
	set := make(map[string]struct{}, len(geohashes))
	for _, gh := range geohashes {
		set[gh] = struct{}{}
	}
	out := s.filter(func(p RawTracePoint) bool {
		_, ok := set[p.Geohash]
		return ok
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DriverID != out[j].DriverID {
			return out[i].DriverID < out[j].DriverID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (s *memorySession) filter(keep func(RawTracePoint) bool) []RawTracePoint {
	s.src.mu.RLock()
	defer s.src.mu.RUnlock()
	var out []RawTracePoint
	for _, p := range s.src.points {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

func (s *memorySession) Close() {
	s.closed.Do(func() {
		s.src.mu.Lock()
		s.src.open--
		s.src.mu.Unlock()
	})
}

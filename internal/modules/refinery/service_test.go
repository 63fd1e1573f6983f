package refinery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vectra/internal/config"
	"vectra/internal/geo"
	"vectra/internal/kv"
	"vectra/internal/lock"
	"vectra/internal/modules/heuristics"
	"vectra/internal/modules/location"
	"vectra/internal/modules/trace"
	"vectra/internal/types"
)

var (
	entrance = types.Point{Lat: 40.7580, Lon: -73.9855}
	lobby    = types.Point{Lat: 40.7581, Lon: -73.9856}
	parking  = geo.Offset(entrance, -15, 0)
	road     = geo.Offset(parking, -3, 0)
	t0       = time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
)

// memStore is an in-memory refined table that also serves reads.
type memStore struct {
	mu         sync.Mutex
	recs       map[string]location.RefinedLocation
	candidates []string
	upsertErr  error
	upserts    int
	discovers  int
}

func newMemStore(candidates ...string) *memStore {
	return &memStore{recs: map[string]location.RefinedLocation{}, candidates: candidates}
}

func (m *memStore) Candidates(_ context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discovers++
	if len(m.candidates) > limit {
		return append([]string(nil), m.candidates[:limit]...), nil
	}
	return append([]string(nil), m.candidates...), nil
}

func (m *memStore) UpsertBatch(_ context.Context, recs []location.RefinedLocation) ([]location.RefinedLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	m.upserts++
	out := make([]location.RefinedLocation, len(recs))
	for i, r := range recs {
		r.UpdatedAt = time.Now()
		m.recs[r.ID] = r
		out[i] = r
	}
	return out, nil
}

func (m *memStore) Get(_ context.Context, id string) (location.RefinedLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recs[id]
	if !ok {
		return location.RefinedLocation{}, location.ErrNotFound
	}
	return r, nil
}

type fixedSnapper struct {
	mu       sync.Mutex
	to       types.Point
	bearings []*float64
}

func (s *fixedSnapper) SnapToRoad(_ context.Context, _ types.Point, bearing *float64) types.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bearings = append(s.bearings, bearing)
	return s.to
}

func (s *fixedSnapper) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bearings)
}

// sunflower lays n points of one event type evenly over a disc, recorded at
// walking pace.
func sunflower(driver string, center types.Point, n int, radiusM float64, ev trace.EventType) []trace.RawTracePoint {
	golden := math.Pi * (3 - math.Sqrt(5))
	out := make([]trace.RawTracePoint, n)
	for i := 0; i < n; i++ {
		r := radiusM * math.Sqrt((float64(i)+0.5)/float64(n))
		a := float64(i) * golden
		p := geo.Offset(center, r*math.Cos(a), r*math.Sin(a))
		out[i] = point(driver, p, ev, 1.4, t0.Add(time.Duration(i)*time.Second))
	}
	return out
}

func point(driver string, p types.Point, ev trace.EventType, speed float64, ts time.Time) trace.RawTracePoint {
	return trace.RawTracePoint{
		DriverID:  driver,
		Lat:       p.Lat,
		Lon:       p.Lon,
		Speed:     speed,
		AccuracyM: 5,
		EventType: ev,
		Timestamp: ts,
		Geohash:   geo.Encode(p),
	}
}

// building returns a dense entrance cloud, a small lobby cloud and three
// drivers who parked south of the entrance after arriving from the west.
func building() []trace.RawTracePoint {
	pts := sunflower("scanner-1", entrance, 40, 4, trace.EventScan)
	pts = append(pts, sunflower("scanner-2", lobby, 5, 1, trace.EventScan)...)
	for i := 0; i < 3; i++ {
		d := fmt.Sprintf("drv-%d", i)
		pts = append(pts,
			point(d, geo.Offset(parking, 0, -40), trace.EventPing, 9, t0.Add(time.Duration(i)*time.Hour)),
			point(d, parking, trace.EventStop, 0, t0.Add(time.Duration(i)*time.Hour+time.Minute)),
		)
	}
	return pts
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store   *memStore
	traces  *trace.MemorySource
	snapper *fixedSnapper
	kv      *kv.MemoryStore
	svc     *Service
}

func newFixture(traces *trace.MemorySource, candidates ...string) *fixture {
	f := &fixture{
		store:   newMemStore(candidates...),
		traces:  traces,
		snapper: &fixedSnapper{to: road},
		kv:      kv.NewMemoryStore(),
	}
	f.svc = NewService(
		f.store,
		f.traces,
		heuristics.NewEngine(heuristics.Config{EpsMeters: 5, MinSamples: 3}),
		f.snapper,
		lock.NewLocker(f.kv),
		location.NewCache(f.kv, time.Hour),
		Config{Workers: 4, BatchSize: 100, Interval: 10 * time.Millisecond, LockTTL: 30 * time.Second, SnapDiscount: 0.9, HotTTL: 48 * time.Hour},
		quiet(),
	)
	return f
}

func TestRunCycle_EndToEndResolve(t *testing.T) {
	ctx := context.Background()
	gh := geo.Encode(entrance)
	f := newFixture(trace.NewMemorySource(building()...), gh)

	report, err := f.svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, 1, report.Refined)
	assert.Equal(t, 1, report.Written)
	assert.Zero(t, f.traces.OpenSessions())

	require.Equal(t, 1, f.snapper.calls())
	require.NotNil(t, f.snapper.bearings[0])
	assert.InDelta(t, 90, *f.snapper.bearings[0], 1)

	rec, err := f.store.Get(ctx, gh)
	require.NoError(t, err)
	assert.Equal(t, location.SourceHeuristic, rec.Source)
	require.NotNil(t, rec.ConfidenceScore)
	assert.Equal(t, 0.73, *rec.ConfidenceScore, "0.81 discounted for the snap, rounded to two places")

	hot := location.NewService(f.store, location.NewCache(f.kv, time.Hour), nil, quiet())
	res, err := hot.Resolve(ctx, gh)
	require.NoError(t, err)
	assert.Equal(t, location.SourceLiveRefinery, res.Source)
	assert.Less(t, geo.HaversineMeters(res.EntryPoint, entrance), 5.0)
	assert.Equal(t, road, res.NavigationPoint)
	require.NotNil(t, res.Confidence)
	assert.GreaterOrEqual(t, *res.Confidence, 0.7)

	cold := location.NewService(f.store, location.NewCache(kv.NewMemoryStore(), time.Hour), nil, quiet())
	res, err = cold.Resolve(ctx, gh)
	require.NoError(t, err)
	assert.Equal(t, location.SourceHeuristicDB, res.Source)
	assert.Less(t, geo.HaversineMeters(res.EntryPoint, entrance), 5.0)
}

func TestRunCycle_NoParkingUsesEntryPoint(t *testing.T) {
	ctx := context.Background()
	gh := geo.Encode(entrance)
	f := newFixture(trace.NewMemorySource(sunflower("s", entrance, 20, 3, trace.EventScan)...), gh)

	_, err := f.svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, f.snapper.calls())

	rec, err := f.store.Get(ctx, gh)
	require.NoError(t, err)
	assert.Equal(t, rec.EntryPoint, rec.NavigationPoint)

	// nothing was snapped, so the entry confidence is kept as is
	scans := sunflower("s", entrance, 20, 3, trace.EventScan)
	want := heuristics.Confidence(len(scans), heuristics.GeoStdDevMeters(scans))
	require.NotNil(t, rec.ConfidenceScore)
	assert.Equal(t, want, *rec.ConfidenceScore)
}

func TestRunCycle_DefaultConfigScenario(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	gh := geo.Encode(entrance)

	pts := sunflower("scanner-1", entrance, 40, 5, trace.EventScan)
	pts = append(pts, sunflower("scanner-2", lobby, 5, 5, trace.EventScan)...)
	f := newFixture(trace.NewMemorySource(pts...), gh)
	f.svc.engine = heuristics.NewEngine(heuristics.Config{EpsMeters: cfg.Heuristics.EpsMeters, MinSamples: cfg.Heuristics.MinSamples})
	f.svc.cfg = ConfigFrom(cfg)

	report, err := f.svc.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Written)

	for _, cache := range []*location.Cache{location.NewCache(f.kv, time.Hour), location.NewCache(kv.NewMemoryStore(), time.Hour)} {
		res, err := location.NewService(f.store, cache, nil, quiet()).Resolve(ctx, gh)
		require.NoError(t, err)
		assert.Less(t, geo.HaversineMeters(res.EntryPoint, entrance), 5.0)
		require.NotNil(t, res.Confidence)
		assert.GreaterOrEqual(t, *res.Confidence, 0.7)
	}
}

func TestRunCycle_NoiseOnlyCellHasNoConfidence(t *testing.T) {
	ctx := context.Background()
	center := geo.Center(geo.Encode(entrance))
	var pts []trace.RawTracePoint
	for i := -3; i <= 3; i++ {
		pts = append(pts, point("s", geo.Offset(center, 0, float64(i)*15), trace.EventScan, 1.4, t0))
	}
	gh := geo.Encode(center)
	f := newFixture(trace.NewMemorySource(pts...), gh)

	report, err := f.svc.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Written)

	rec, err := f.store.Get(ctx, gh)
	require.NoError(t, err)
	assert.Nil(t, rec.ConfidenceScore)

	res, err := location.NewService(f.store, location.NewCache(f.kv, time.Hour), nil, quiet()).Resolve(ctx, gh)
	require.NoError(t, err)
	assert.Nil(t, res.Confidence)
}

func TestRunCycle_ContendedGeohashIsSkipped(t *testing.T) {
	ctx := context.Background()
	gh := geo.Encode(entrance)
	f := newFixture(trace.NewMemorySource(building()...), gh)

	other := lock.NewLocker(f.kv)
	ok, err := other.Acquire(ctx, lock.RefineKey(gh), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	report, err := f.svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Contended)
	assert.Zero(t, report.Written)
	assert.Zero(t, f.store.upserts)
	assert.Zero(t, f.traces.OpenSessions())
}

func TestRunCycle_InsufficientDataStaysDirty(t *testing.T) {
	ctx := context.Background()
	gh := geo.Encode(entrance)
	f := newFixture(trace.NewMemorySource(sunflower("s", entrance, 3, 2, trace.EventScan)...), gh)

	report, err := f.svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Insufficient)
	assert.Zero(t, report.Written)

	// the lock is released so the next cycle can retry
	ok, err := lock.NewLocker(f.kv).Acquire(ctx, lock.RefineKey(gh), time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

// flakySource fails scan reads for one geohash.
type flakySource struct {
	*trace.MemorySource
	bad string
}

func (s flakySource) Open(ctx context.Context) (trace.Session, error) {
	sess, err := s.MemorySource.Open(ctx)
	if err != nil {
		return nil, err
	}
	return flakySession{Session: sess, bad: s.bad}, nil
}

type flakySession struct {
	trace.Session
	bad string
}

func (s flakySession) ScanPoints(ctx context.Context, geohash string) ([]trace.RawTracePoint, error) {
	if geohash == s.bad {
		return nil, errors.New("connection reset by peer")
	}
	return s.Session.ScanPoints(ctx, geohash)
}

func TestRunCycle_FailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	good := geo.Encode(entrance)
	elsewhere := types.Point{Lat: 40.7484, Lon: -73.9857}
	bad := geo.Encode(elsewhere)

	mem := trace.NewMemorySource(building()...)
	mem.Add(sunflower("s", elsewhere, 20, 3, trace.EventScan)...)
	f := newFixture(mem, bad, good)
	f.svc.traces = flakySource{MemorySource: mem, bad: bad}

	report, err := f.svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Written)
	assert.Zero(t, mem.OpenSessions())

	_, err = f.store.Get(ctx, good)
	assert.NoError(t, err)
	_, err = f.store.Get(ctx, bad)
	assert.ErrorIs(t, err, location.ErrNotFound)
}

func TestRunCycle_WriteBackFailureCachesNothing(t *testing.T) {
	ctx := context.Background()
	gh := geo.Encode(entrance)
	f := newFixture(trace.NewMemorySource(building()...), gh)
	f.store.upsertErr = errors.New("deadlock detected")

	report, err := f.svc.RunCycle(ctx)
	require.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, 1, report.Refined)
	assert.Zero(t, report.Written)

	_, err = f.kv.Get(ctx, location.CacheKey(gh))
	assert.ErrorIs(t, err, kv.ErrMiss)
}

func TestRunCycle_RespectsBatchSize(t *testing.T) {
	f := newFixture(trace.NewMemorySource(), "a", "b", "c")
	f.svc.cfg.BatchSize = 2
	report, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Candidates)
	assert.Equal(t, 2, report.Insufficient)
}

func TestRunScheduler_StopsOnCancel(t *testing.T) {
	f := newFixture(trace.NewMemorySource())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.RunScheduler(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		f.store.mu.Lock()
		defer f.store.mu.Unlock()
		return f.store.discovers >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

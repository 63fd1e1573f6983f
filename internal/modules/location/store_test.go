package location

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vectra/internal/modules/heuristics"
	"vectra/internal/modules/trace"
	"vectra/internal/testutil"
	"vectra/internal/types"
)

func TestStore_UpsertAndGet(t *testing.T) {
	db := testutil.PostgresPool(t)
	store := NewStore(db)
	ctx := context.Background()

	_, err := store.Get(ctx, "dr5ru7v")
	require.ErrorIs(t, err, ErrNotFound)

	first, err := store.UpsertBatch(ctx, []RefinedLocation{refined("dr5ru7v"), refined("dr5ru7w")})
	require.NoError(t, err)
	require.Len(t, first, 2)

	got, err := store.Get(ctx, "dr5ru7v")
	require.NoError(t, err)
	assert.InDelta(t, 40.7580, got.EntryPoint.Lat, 1e-9)
	assert.InDelta(t, -73.98561, got.NavigationPoint.Lon, 1e-9)
	require.NotNil(t, got.ConfidenceScore)
	assert.Equal(t, 0.73, *got.ConfidenceScore)

	changed := refined("dr5ru7v")
	changed.EntryPoint = types.Point{Lat: 40.75811, Lon: -73.98541}
	second, err := store.UpsertBatch(ctx, []RefinedLocation{changed})
	require.NoError(t, err)
	assert.True(t, second[0].UpdatedAt.After(first[0].UpdatedAt), "updated_at must strictly increase")

	got, err = store.Get(ctx, "dr5ru7v")
	require.NoError(t, err)
	assert.InDelta(t, 40.75811, got.EntryPoint.Lat, 1e-9)
}

func TestStore_Candidates(t *testing.T) {
	db := testutil.PostgresPool(t)
	store := NewStore(db)
	traces := trace.NewStore(db)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, traces.Insert(ctx, scans("dr5ru7v", 5, now.Add(-time.Hour))))
	require.NoError(t, traces.Insert(ctx, scans("dr5ru7y", 5, now.Add(-time.Hour))))
	require.NoError(t, traces.Insert(ctx, []trace.RawTracePoint{
		{DriverID: "d1", Lat: 40.760, Lon: -73.9835, EventType: trace.EventPing, Timestamp: now.Add(-time.Hour), Geohash: "dr5rueb"},
	}))

	got, err := store.Candidates(ctx, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dr5ru7v", "dr5ru7y"}, got)

	_, err = store.UpsertBatch(ctx, []RefinedLocation{refined("dr5ru7v")})
	require.NoError(t, err)

	got, err = store.Candidates(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"dr5ru7y"}, got)
}

func TestStore_RecentlyUpdated(t *testing.T) {
	db := testutil.PostgresPool(t)
	store := NewStore(db)
	ctx := context.Background()

	_, err := store.UpsertBatch(ctx, []RefinedLocation{refined("a"), refined("b")})
	require.NoError(t, err)

	var ids []string
	err = store.RecentlyUpdated(ctx, time.Now().Add(-time.Hour), func(r RefinedLocation) error {
		ids = append(ids, r.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestStore_CandidatesSkipsUndersampledCells(t *testing.T) {
	db := testutil.PostgresPool(t)
	store := NewStore(db)
	traces := trace.NewStore(db)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	for _, gh := range []string{"dr5ru7b", "dr5ru7c", "dr5ru7f", "dr5ru7g"} {
		require.NoError(t, traces.Insert(ctx, scans(gh, heuristics.MinScanPoints-1, old)))
	}
	require.NoError(t, traces.Insert(ctx, scans("dr5ru7v", 40, time.Now().UTC().Add(-time.Minute))))

	got, err := store.Candidates(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"dr5ru7v"}, got)

	// a sparse cell becomes eligible once it has enough samples
	require.NoError(t, traces.Insert(ctx, scans("dr5ru7b", 1, old.Add(time.Hour))))
	got, err = store.Candidates(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"dr5ru7b", "dr5ru7v"}, got)
}

func TestStore_NullConfidence(t *testing.T) {
	db := testutil.PostgresPool(t)
	store := NewStore(db)
	ctx := context.Background()

	r := refined("dr5ru7v")
	r.ConfidenceScore = nil
	_, err := store.UpsertBatch(ctx, []RefinedLocation{r})
	require.NoError(t, err)

	got, err := store.Get(ctx, "dr5ru7v")
	require.NoError(t, err)
	assert.Nil(t, got.ConfidenceScore)
	assert.Nil(t, got.Resolution(SourceHeuristicDB).Confidence)
}

func scans(gh string, n int, ts time.Time) []trace.RawTracePoint {
	out := make([]trace.RawTracePoint, n)
	for i := range out {
		out[i] = trace.RawTracePoint{
			DriverID:  "d1",
			Lat:       40.758,
			Lon:       -73.9855,
			AccuracyM: 5,
			EventType: trace.EventScan,
			Timestamp: ts.Add(time.Duration(i) * time.Second),
			Geohash:   gh,
		}
	}
	return out
}

package maps

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vectra/internal/types"
)

var raw = types.Point{Lat: 40.7580, Lon: -73.9855}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOSRM(url string) *OSRMClient {
	return NewOSRMClient(OSRMConfig{
		BaseURL:      url,
		Timeout:      50 * time.Millisecond,
		BearingRange: 20,
		PoolSize:     4,
		Retry:        RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
	}, quietLogger())
}

func okBody(lat, lon float64) string {
	return fmt.Sprintf(`{"code":"Ok","waypoints":[{"location":[%v,%v],"distance":3.2}]}`, lon, lat)
}

func TestOSRM_SnapWithBearing(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		fmt.Fprint(w, okBody(40.75805, -73.98551))
	}))
	defer srv.Close()

	b := 92.7
	got := testOSRM(srv.URL).SnapToRoad(context.Background(), raw, &b)

	assert.Equal(t, types.Point{Lat: 40.75805, Lon: -73.98551}, got)
	assert.Equal(t, "/nearest/v1/driving/-73.9855,40.758", gotPath)
	assert.Equal(t, "bearings=92,20", gotQuery)
}

func TestOSRM_BearingRejectedRetriesWithoutBearing(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if strings.Contains(r.URL.RawQuery, "bearings") {
			fmt.Fprint(w, `{"code":"NoSegment","waypoints":[]}`)
			return
		}
		fmt.Fprint(w, okBody(40.7581, -73.9854))
	}))
	defer srv.Close()

	b := 10.0
	got := testOSRM(srv.URL).SnapToRoad(context.Background(), raw, &b)
	assert.Equal(t, types.Point{Lat: 40.7581, Lon: -73.9854}, got)
	assert.Equal(t, int32(2), calls.Load(), "fallback query belongs to the same attempt")
}

func TestOSRM_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, okBody(40.7579, -73.9856))
	}))
	defer srv.Close()

	got := testOSRM(srv.URL).SnapToRoad(context.Background(), raw, nil)
	assert.Equal(t, types.Point{Lat: 40.7579, Lon: -73.9856}, got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOSRM_FailuresReturnOriginalPoint(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) }},
		{"bad json", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `{"code":`) }},
		{"no waypoints", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `{"code":"Ok","waypoints":[]}`) }},
		{"short location", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"code":"Ok","waypoints":[{"location":[1]}]}`)
		}},
		{"slow", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(300 * time.Millisecond):
			case <-r.Context().Done():
			}
			fmt.Fprint(w, okBody(1, 1))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				tt.handler(w, r)
			}))
			defer srv.Close()

			b := 45.0
			got := testOSRM(srv.URL).SnapToRoad(context.Background(), raw, &b)
			assert.Equal(t, raw, got)
			assert.Equal(t, int32(6), calls.Load(), "3 attempts, each with and without bearing")
		})
	}
}

func TestOSRM_UnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	got := testOSRM(url).SnapToRoad(context.Background(), raw, nil)
	assert.Equal(t, raw, got)
}

func TestOSRM_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, okBody(1, 1))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := testOSRM(srv.URL).SnapToRoad(ctx, raw, nil)
	assert.Equal(t, raw, got)
}

func TestNoopSnapper(t *testing.T) {
	assert.Equal(t, raw, NoopSnapper{}.SnapToRoad(context.Background(), raw, nil))
}

func TestNewSnapper_Providers(t *testing.T) {
	s, err := NewSnapper(configFor("none"), quietLogger())
	require.NoError(t, err)
	assert.IsType(t, NoopSnapper{}, s)

	s, err = NewSnapper(configFor("osrm"), quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &OSRMClient{}, s)
}

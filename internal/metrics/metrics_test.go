package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_ExposesRegisteredCollectors(t *testing.T) {
	ResolveOutcomes.WithLabelValues("cache_hit").Inc()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `vectra_resolve_total{outcome="cache_hit"}`)
}

func TestRegisterDefault_Idempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		RegisterDefault()
		RegisterDefault()
	})
	before := testutil.ToFloat64(CanaryDecisions.WithLabelValues("skipped"))
	CanaryDecisions.WithLabelValues("skipped").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(CanaryDecisions.WithLabelValues("skipped")))
}

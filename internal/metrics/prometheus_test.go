package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/canary-release-guard/crg/internal/models"
)

// promHandler answers the query API with fixed scalar values for the
// error rate, latency quantile, and request rate expressions.
func promHandler(errorRate, latencySec, requestRate string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")

		var value string
		switch {
		case strings.Contains(query, `status=~"4..|5.."`):
			value = errorRate
		case strings.Contains(query, "histogram_quantile"):
			value = latencySec
		default:
			value = requestRate
		}
		if value == "" {
			fmt.Fprint(w, `{"status":"success","data":{"resultType":"vector","result":[]}}`)
			return
		}
		fmt.Fprintf(w, `{"status":"success","data":{"resultType":"vector","result":[{"value":[1712000000,"%s"]}]}}`, value)
	}
}

func TestPrometheusSource_Fetch(t *testing.T) {
	server := httptest.NewServer(promHandler("0.015", "0.25", "42.5"))
	defer server.Close()

	source, err := NewPrometheusSource(PrometheusConfig{
		BaseURL: server.URL,
		Logger:  zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	sample, err := source.Fetch(context.Background(), models.CohortCanary)
	require.NoError(t, err)

	assert.Equal(t, models.CohortCanary, sample.Cohort)
	assert.InDelta(t, 0.015, sample.ErrorRate, 1e-9)
	assert.InDelta(t, 250, sample.P95LatencyMs, 1e-9)
	assert.InDelta(t, 42.5, sample.RequestRate, 1e-9)
	assert.False(t, sample.Timestamp.IsZero())
}

func TestPrometheusSource_CohortScopesQueries(t *testing.T) {
	var queries []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.Query().Get("query"))
		fmt.Fprint(w, `{"status":"success","data":{"resultType":"vector","result":[]}}`)
	}))
	defer server.Close()

	source, err := NewPrometheusSource(PrometheusConfig{
		BaseURL:     server.URL,
		CanaryLabel: "v2-canary",
		StableLabel: "v1",
	})
	require.NoError(t, err)

	_, err = source.Fetch(context.Background(), models.CohortCanary)
	require.NoError(t, err)
	require.Len(t, queries, 3)
	for _, q := range queries {
		assert.Contains(t, q, `version="v2-canary"`)
	}

	queries = nil
	_, err = source.Fetch(context.Background(), models.CohortStable)
	require.NoError(t, err)
	for _, q := range queries {
		assert.Contains(t, q, `version="v1"`)
	}
}

func TestPrometheusSource_NoDataIsZero(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","data":{"resultType":"vector","result":[]}}`)
	}))
	defer server.Close()

	source, err := NewPrometheusSource(PrometheusConfig{BaseURL: server.URL})
	require.NoError(t, err)

	sample, err := source.Fetch(context.Background(), models.CohortStable)
	require.NoError(t, err)
	assert.Zero(t, sample.ErrorRate)
	assert.Zero(t, sample.P95LatencyMs)
	assert.Zero(t, sample.RequestRate)
}

func TestPrometheusSource_ErrorRateClamped(t *testing.T) {
	server := httptest.NewServer(promHandler("1.7", "", ""))
	defer server.Close()

	source, err := NewPrometheusSource(PrometheusConfig{BaseURL: server.URL})
	require.NoError(t, err)

	sample, err := source.Fetch(context.Background(), models.CohortCanary)
	require.NoError(t, err)
	assert.Equal(t, 1.0, sample.ErrorRate)
}

func TestPrometheusSource_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	source, err := NewPrometheusSource(PrometheusConfig{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = source.Fetch(context.Background(), models.CohortCanary)
	require.Error(t, err)

	fetchErr, ok := AsFetchError(err)
	require.True(t, ok)
	assert.Equal(t, FailureStatus, fetchErr.Kind)
	assert.Equal(t, models.CohortCanary, fetchErr.Cohort)
}

func TestPrometheusSource_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{not json`)
	}))
	defer server.Close()

	source, err := NewPrometheusSource(PrometheusConfig{BaseURL: server.URL})
	require.NoError(t, err)

	_, err = source.Fetch(context.Background(), models.CohortCanary)
	require.Error(t, err)

	fetchErr, ok := AsFetchError(err)
	require.True(t, ok)
	assert.Equal(t, FailureMalformed, fetchErr.Kind)
}

func TestPrometheusSource_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	source, err := NewPrometheusSource(PrometheusConfig{
		BaseURL:      server.URL,
		FetchTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = source.Fetch(context.Background(), models.CohortCanary)
	require.Error(t, err)

	fetchErr, ok := AsFetchError(err)
	require.True(t, ok)
	assert.Equal(t, FailureTimeout, fetchErr.Kind)
}

func TestPrometheusSource_ConnectionError(t *testing.T) {
	source, err := NewPrometheusSource(PrometheusConfig{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	_, err = source.Fetch(context.Background(), models.CohortCanary)
	require.Error(t, err)

	fetchErr, ok := AsFetchError(err)
	require.True(t, ok)
	assert.Equal(t, FailureConnection, fetchErr.Kind)
}

func TestPrometheusSource_RequiresBaseURL(t *testing.T) {
	_, err := NewPrometheusSource(PrometheusConfig{})
	assert.Error(t, err)
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/canary-release-guard/crg/internal/models"
	"github.com/canary-release-guard/crg/internal/monitor"
)

type fakeProvider struct {
	status  monitor.Status
	history []models.AnalysisResult
	run     models.RunConfig
}

func (f *fakeProvider) RunID() string                    { return f.status.RunID }
func (f *fakeProvider) Snapshot() monitor.Status         { return f.status }
func (f *fakeProvider) History() []models.AnalysisResult { return f.history }
func (f *fakeProvider) RunSettings() models.RunConfig    { return f.run }

func newTestServer(t *testing.T) (*Server, *fakeProvider) {
	provider := &fakeProvider{
		status: monitor.Status{
			RunID:       "run-abc",
			Service:     "checkout",
			Phase:       monitor.PhaseSampling,
			StartedAt:   time.Now().UTC(),
			TotalChecks: 7,
		},
		history: []models.AnalysisResult{
			{Verdict: models.VerdictContinue},
			{Verdict: models.VerdictRollback, Reasons: []string{"error rate 0.2000 exceeds threshold 0.01"}},
		},
		run: models.RunConfig{
			Duration:      10 * time.Minute,
			CheckInterval: 30 * time.Second,
			AnalyzeEvery:  5,
			Thresholds:    models.DefaultThresholds(),
		},
	}

	srv, err := NewServer(Config{
		Provider: provider,
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return srv, provider
}

func TestNewServer_RequiresProvider(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestServer_RunStatus(t *testing.T) {
	srv, provider := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/run", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var status monitor.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, provider.status.RunID, status.RunID)
	assert.Equal(t, provider.status.Phase, status.Phase)
	assert.Equal(t, 7, status.TotalChecks)
}

func TestServer_History(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/run/history", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		RunID    string                  `json:"run_id"`
		Analyses []models.AnalysisResult `json:"analyses"`
		Count    int                     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-abc", body.RunID)
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, models.VerdictRollback, body.Analyses[1].Verdict)
}

func TestServer_Settings(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/run/settings", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var cfg models.RunConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, 5, cfg.AnalyzeEvery)
	assert.Equal(t, models.DefaultThresholds(), cfg.Thresholds)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/run", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_StartStop(t *testing.T) {
	provider := &fakeProvider{status: monitor.Status{RunID: "run-x"}}
	srv, err := NewServer(Config{
		Addr:     "127.0.0.1:0",
		Provider: provider,
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	srv.Start()
	require.NoError(t, srv.Stop(context.Background()))
}

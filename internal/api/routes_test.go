package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/crypto/bcrypt"

	"github.com/irfndi/covid-pulse-go/internal/epidemic"
	"github.com/irfndi/covid-pulse-go/internal/logging"
	"github.com/irfndi/covid-pulse-go/internal/middleware"
	"github.com/irfndi/covid-pulse-go/internal/models"
	"github.com/irfndi/covid-pulse-go/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubDashboard struct{}

func (stubDashboard) ListCountries(context.Context) (models.CountryList, error) {
	return models.CountryList{"Germany": {Flag: "de.png", Population: 83_000_000}}, nil
}

func (stubDashboard) GetDocument(_ context.Context, country string) (*models.CountryDocument, error) {
	if country != "Germany" {
		return nil, epidemic.NewNoDataForEntity(country)
	}
	return &models.CountryDocument{Country: "Germany", FirstDate: "2020-03-01"}, nil
}

func (stubDashboard) BuildView(_ context.Context, req services.ViewRequest) (*models.DashboardView, error) {
	return &models.DashboardView{Country: req.Country, Horizon: int(req.Horizon.Int64)}, nil
}

type stubIngest struct{ calls int }

func (s *stubIngest) RunIngest(context.Context) (*models.IngestRun, error) {
	s.calls++
	return &models.IngestRun{ID: uuid.New(), Status: models.IngestSucceeded, Countries: 1}, nil
}

type stubRuns struct{}

func (stubRuns) LatestIngestRun(context.Context) (*models.IngestRun, error) { return nil, nil }

type stubChecker struct{}

func (stubChecker) HealthCheck(context.Context) error { return nil }

const adminKey = "s3cret-admin-key"

type routerFixture struct {
	router   *gin.Engine
	ingest   *stubIngest
	upstream *services.CircuitBreaker
	spans  *tracetest.SpanRecorder
	logs   *bytes.Buffer
}

func newRouterFixture(t *testing.T, withAdmin bool) *routerFixture {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	logs := &bytes.Buffer{}
	ingest := &stubIngest{}
	upstream := services.NewCircuitBreaker("upstream", 1, time.Hour, logging.NewLogrusLogger("error"))

	deps := Dependencies{
		Dashboard:      stubDashboard{},
		Ingest:         ingest,
		Runs:           stubRuns{},
		DB:             stubChecker{},
		Redis:          stubChecker{},
		Upstream:       upstream,
		Logger:         logging.NewStandardLoggerWithWriter(logs, "info", "test"),
		AllowedOrigins: []string{"http://dashboard.example"},
		ServiceName:    "covid-pulse-go-test",
		Version:        "test",
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)),
	}
	if withAdmin {
		hash, err := bcrypt.GenerateFromPassword([]byte(adminKey), bcrypt.MinCost)
		require.NoError(t, err)
		deps.Admin = middleware.NewAdminMiddleware(string(hash))
	}
	return &routerFixture{router: NewRouter(deps), ingest: ingest, upstream: upstream, spans: recorder, logs: logs}
}

func (f *routerFixture) do(method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestRouter_PublicRoutes(t *testing.T) {
	f := newRouterFixture(t, false)

	tests := []struct {
		target     string
		wantStatus int
	}{
		{"/health", http.StatusOK},
		{"/health/live", http.StatusOK},
		{"/api/v1/countries", http.StatusOK},
		{"/api/v1/countries/Germany", http.StatusOK},
		{"/api/v1/countries/Atlantis", http.StatusNotFound},
		{"/api/v1/countries/Germany/dashboard?predict=4", http.StatusOK},
		{"/api/v1/countries/Germany/dashboard?predict=x", http.StatusBadRequest},
		{"/api/v1/unknown", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			w := f.do(http.MethodGet, tt.target, nil)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
		})
	}
}

func TestRouter_Dashboard(t *testing.T) {
	f := newRouterFixture(t, false)
	w := f.do(http.MethodGet, "/api/v1/countries/Germany/dashboard?predict=4", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var view models.DashboardView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "Germany", view.Country)
	assert.Equal(t, 4, view.Horizon)

	assert.NotEmpty(t, f.spans.Ended())
	assert.Contains(t, f.logs.String(), "/api/v1/countries/:country/dashboard")
}

func TestRouter_AdminRefresh(t *testing.T) {
	t.Run("disabled without hash", func(t *testing.T) {
		f := newRouterFixture(t, false)
		w := f.do(http.MethodPost, "/api/v1/admin/refresh", http.Header{"X-Api-Key": {adminKey}})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Zero(t, f.ingest.calls)
	})

	t.Run("wrong key", func(t *testing.T) {
		f := newRouterFixture(t, true)
		w := f.do(http.MethodPost, "/api/v1/admin/refresh", http.Header{"Authorization": {"Bearer nope"}})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Zero(t, f.ingest.calls)
	})

	t.Run("valid key", func(t *testing.T) {
		f := newRouterFixture(t, true)
		w := f.do(http.MethodPost, "/api/v1/admin/refresh", http.Header{"Authorization": {"Bearer " + adminKey}})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, f.ingest.calls)

		w = f.do(http.MethodGet, "/api/v1/admin/ingest/latest", http.Header{"X-Api-Key": {adminKey}})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestRouter_UpstreamBreaker(t *testing.T) {
	f := newRouterFixture(t, true)
	_ = f.upstream.Execute(context.Background(), func(context.Context) error {
		return errors.New("upstream error (503)")
	})
	require.Equal(t, services.Open, f.upstream.State())

	w := f.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	upstream, ok := health["upstream"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "open", upstream["state"])

	w = f.do(http.MethodPost, "/api/v1/admin/upstream/reset", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, services.Open, f.upstream.State())

	w = f.do(http.MethodPost, "/api/v1/admin/upstream/reset", http.Header{"X-Api-Key": {adminKey}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, services.Closed, f.upstream.State())
}

func TestRouter_CORS(t *testing.T) {
	f := newRouterFixture(t, false)

	w := f.do(http.MethodGet, "/api/v1/countries", http.Header{"Origin": {"http://dashboard.example"}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://dashboard.example", w.Header().Get("Access-Control-Allow-Origin"))

	w = f.do(http.MethodGet, "/api/v1/countries", http.Header{"Origin": {"http://evil.example"}})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

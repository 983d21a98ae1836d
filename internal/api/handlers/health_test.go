package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/covid-pulse-go/internal/cache"
	"github.com/irfndi/covid-pulse-go/internal/models"
	"github.com/irfndi/covid-pulse-go/internal/services"
)

func newHealthRouter(h *HealthHandler) *gin.Engine {
	router := gin.New()
	router.GET("/health", h.HealthCheck)
	router.GET("/health/live", h.LivenessCheck)
	return router
}

func TestHealthHandler_HealthCheck(t *testing.T) {
	run := sampleRun(models.IngestSucceeded)

	tests := []struct {
		name       string
		db         HealthChecker
		redis      HealthChecker
		wantStatus int
		wantDB     string
		wantRedis  string
	}{
		{"healthy", fakeChecker{}, fakeChecker{}, http.StatusOK, "healthy", "healthy"},
		{"database down", fakeChecker{err: errors.New("refused")}, fakeChecker{}, http.StatusServiceUnavailable, "unhealthy: refused", "healthy"},
		{"redis down", fakeChecker{}, fakeChecker{err: errors.New("timeout")}, http.StatusServiceUnavailable, "healthy", "unhealthy: timeout"},
		{"redis missing", fakeChecker{}, nil, http.StatusServiceUnavailable, "healthy", "unhealthy: not configured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.db, tt.redis, &fakeRuns{run: run}, "1.2.3")
			w := serve(newHealthRouter(h), http.MethodGet, "/health")
			require.Equal(t, tt.wantStatus, w.Code)

			var body HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantDB, body.Services["database"])
			assert.Equal(t, tt.wantRedis, body.Services["redis"])
			assert.Equal(t, "1.2.3", body.Version)
			assert.NotEmpty(t, body.Uptime)
			if tt.wantDB == "healthy" {
				require.NotNil(t, body.LastIngest)
				assert.True(t, run.FinishedAt.Equal(*body.LastIngest))
			} else {
				assert.Nil(t, body.LastIngest)
			}
		})
	}
}

func TestHealthHandler_Liveness(t *testing.T) {
	h := NewHealthHandler(nil, nil, nil, "dev")
	w := serve(newHealthRouter(h), http.MethodGet, "/health/live")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"alive"`)
}

func TestHealthHandler_CacheAndUpstream(t *testing.T) {
	breaker := &fakeBreaker{
		state: services.Open,
		stats: services.CircuitBreakerStats{Calls: 5, Failures: 3, Rejected: 2, StateChanges: 1},
	}
	h := NewHealthHandler(fakeChecker{}, fakeChecker{}, nil, "dev").
		WithCache(fakeCacheStats{stats: cache.CacheStats{Hits: 3, Misses: 1, Sets: 1}}).
		WithUpstream(breaker)

	w := serve(newHealthRouter(h), http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code, "an open upstream breaker keeps the service healthy")

	var body struct {
		Cache    map[string]float64     `json:"cache"`
		Upstream map[string]interface{} `json:"upstream"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(3), body.Cache["hits"])
	assert.Equal(t, 0.75, body.Cache["hit_rate"])
	assert.Equal(t, "open", body.Upstream["state"])
	assert.Equal(t, float64(2), body.Upstream["rejected"])
	assert.Equal(t, float64(3), body.Upstream["failures"])
}

func TestHealthHandler_OmitsUnconfiguredStats(t *testing.T) {
	h := NewHealthHandler(fakeChecker{}, fakeChecker{}, nil, "dev")
	w := serve(newHealthRouter(h), http.MethodGet, "/health")

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotContains(t, body, "cache")
	assert.NotContains(t, body, "upstream")
}

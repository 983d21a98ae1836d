package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/irfndi/covid-pulse-go/internal/cache"
	"github.com/irfndi/covid-pulse-go/internal/services"
)

var startTime = time.Now()

// HealthChecker is implemented by every backing service.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CacheStatsReader exposes the dashboard cache counters.
type CacheStatsReader interface {
	GetStats() cache.CacheStats
}

// UpstreamBreaker reports on the breaker guarding upstream fetches.
type UpstreamBreaker interface {
	State() services.CircuitBreakerState
	Stats() services.CircuitBreakerStats
	Reset()
}

type HealthHandler struct {
	db       HealthChecker
	redis    HealthChecker
	runs     RunReader
	cache    CacheStatsReader
	upstream UpstreamBreaker
	version  string
}

type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Services   map[string]string `json:"services"`
	Version    string            `json:"version"`
	Uptime     string            `json:"uptime"`
	Memory     *MemoryStatus     `json:"memory,omitempty"`
	LastIngest *time.Time        `json:"last_ingest,omitempty"`
	Cache      *CacheStatus      `json:"cache,omitempty"`
	Upstream   *UpstreamStatus   `json:"upstream,omitempty"`
}

// CacheStatus reports dashboard cache usage since startup.
type CacheStatus struct {
	cache.CacheStats
	HitRate float64 `json:"hit_rate"`
}

// UpstreamStatus reports the upstream breaker. An open breaker does not make
// the service unhealthy; stored documents are still served.
type UpstreamStatus struct {
	State string `json:"state"`
	services.CircuitBreakerStats
}

// MemoryStatus reports host memory usage.
type MemoryStatus struct {
	TotalBytes  uint64  `json:"total_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// NewHealthHandler creates the health handler. Nil checkers are reported as
// not configured.
func NewHealthHandler(db, redis HealthChecker, runs RunReader, version string) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, runs: runs, version: version}
}

// WithCache adds cache counters to the health report.
func (h *HealthHandler) WithCache(c CacheStatsReader) *HealthHandler {
	h.cache = c
	return h
}

// WithUpstream adds the upstream breaker state to the health report.
func (h *HealthHandler) WithUpstream(b UpstreamBreaker) *HealthHandler {
	h.upstream = b
	return h
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	services := map[string]string{
		"database": checkStatus(ctx, h.db),
		"redis":    checkStatus(ctx, h.redis),
	}

	overallStatus := "healthy"
	for _, status := range services {
		if status != "healthy" {
			overallStatus = "unhealthy"
			break
		}
	}

	response := HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Services:  services,
		Version:   h.version,
		Uptime:    time.Since(startTime).String(),
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		response.Memory = &MemoryStatus{
			TotalBytes:  vm.Total,
			UsedBytes:   vm.Used,
			UsedPercent: vm.UsedPercent,
		}
	}
	if h.runs != nil && services["database"] == "healthy" {
		if run, err := h.runs.LatestIngestRun(ctx); err == nil && run != nil && run.FinishedAt != nil {
			response.LastIngest = run.FinishedAt
		}
	}

	if h.cache != nil {
		stats := h.cache.GetStats()
		response.Cache = &CacheStatus{CacheStats: stats, HitRate: stats.HitRate()}
	}
	if h.upstream != nil {
		response.Upstream = &UpstreamStatus{
			State:               h.upstream.State().String(),
			CircuitBreakerStats: h.upstream.Stats(),
		}
	}

	status := http.StatusOK
	if overallStatus != "healthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, response)
}

// LivenessCheck reports that the process is serving requests.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func checkStatus(ctx context.Context, checker HealthChecker) string {
	if checker == nil {
		return "unhealthy: not configured"
	}
	if err := checker.HealthCheck(ctx); err != nil {
		return "unhealthy: " + err.Error()
	}
	return "healthy"
}

package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	"github.com/irfndi/covid-pulse-go/internal/api/handlers"
	"github.com/irfndi/covid-pulse-go/internal/logging"
	"github.com/irfndi/covid-pulse-go/internal/middleware"
)

// Dependencies bundles everything the router needs.
type Dependencies struct {
	Dashboard      handlers.DashboardProvider
	Ingest         handlers.IngestRunner
	Runs           handlers.RunReader
	DB             handlers.HealthChecker
	Redis          handlers.HealthChecker
	Cache          handlers.CacheStatsReader
	Upstream       handlers.UpstreamBreaker
	Admin          *middleware.AdminMiddleware
	Logger         *logging.StandardLogger
	AllowedOrigins []string
	ServiceName    string
	Version        string
	// TracerProvider overrides the global provider used by otelgin.
	TracerProvider trace.TracerProvider
}

// NewRouter builds the gin engine serving the public and admin API.
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	otelOpts := []otelgin.Option{}
	if deps.TracerProvider != nil {
		otelOpts = append(otelOpts, otelgin.WithTracerProvider(deps.TracerProvider))
	}
	router.Use(otelgin.Middleware(deps.ServiceName, otelOpts...))
	router.Use(middleware.RequestID())
	if deps.Logger != nil {
		router.Use(middleware.RequestLogger(deps.Logger))
	}
	router.Use(middleware.SpanEnricher())
	if len(deps.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:  deps.AllowedOrigins,
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key", middleware.RequestIDHeader},
			ExposeHeaders: []string{"Content-Length", middleware.RequestIDHeader},
			MaxAge:        12 * time.Hour,
		}))
	}

	SetupRoutes(router, deps)
	return router
}

// SetupRoutes registers every endpoint on router.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	health := handlers.NewHealthHandler(deps.DB, deps.Redis, deps.Runs, deps.Version)
	if deps.Cache != nil {
		health.WithCache(deps.Cache)
	}
	if deps.Upstream != nil {
		health.WithUpstream(deps.Upstream)
	}
	router.GET("/health", health.HealthCheck)
	router.GET("/health/live", health.LivenessCheck)

	countries := handlers.NewCountryHandler(deps.Dashboard)
	admin := handlers.NewAdminHandler(deps.Ingest, deps.Runs, deps.Upstream)

	v1 := router.Group("/api/v1")
	{
		c := v1.Group("/countries")
		{
			c.GET("", countries.ListCountries)
			c.GET("/:country", countries.GetCountry)
			c.GET("/:country/dashboard", countries.GetDashboard)
		}

		adminAuth := deps.Admin
		if adminAuth == nil {
			adminAuth = middleware.NewAdminMiddleware("")
		}
		adminGroup := v1.Group("/admin", adminAuth.RequireAdminAuth())
		{
			adminGroup.POST("/refresh", admin.Refresh)
			adminGroup.GET("/ingest/latest", admin.LatestRun)
			adminGroup.POST("/upstream/reset", admin.ResetUpstream)
		}
	}
}

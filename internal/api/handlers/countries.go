package handlers

import (
	"context"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/guregu/null/v6"

	"github.com/irfndi/covid-pulse-go/internal/epidemic"
	"github.com/irfndi/covid-pulse-go/internal/middleware"
	"github.com/irfndi/covid-pulse-go/internal/models"
	"github.com/irfndi/covid-pulse-go/internal/services"
)

// DashboardProvider serves country data and dashboard views.
type DashboardProvider interface {
	ListCountries(ctx context.Context) (models.CountryList, error)
	GetDocument(ctx context.Context, country string) (*models.CountryDocument, error)
	BuildView(ctx context.Context, req services.ViewRequest) (*models.DashboardView, error)
}

type CountryHandler struct {
	dashboard DashboardProvider
}

func NewCountryHandler(dashboard DashboardProvider) *CountryHandler {
	return &CountryHandler{dashboard: dashboard}
}

// CountryEntry is one element of the country listing.
type CountryEntry struct {
	Name       string `json:"name"`
	Flag       string `json:"flag"`
	Population int64  `json:"population"`
}

// ListCountries handles GET /api/v1/countries.
func (h *CountryHandler) ListCountries(c *gin.Context) {
	list, err := h.dashboard.ListCountries(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	entries := make([]CountryEntry, 0, len(list))
	for name, info := range list {
		entries = append(entries, CountryEntry{Name: name, Flag: info.Flag, Population: info.Population})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	c.JSON(http.StatusOK, gin.H{
		"countries": entries,
		"count":     len(entries),
	})
}

// GetCountry handles GET /api/v1/countries/:country.
func (h *CountryHandler) GetCountry(c *gin.Context) {
	doc, err := h.dashboard.GetDocument(c.Request.Context(), c.Param("country"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// GetDashboard handles GET /api/v1/countries/:country/dashboard. predict sets
// the horizon in days and doubling_rate overrides the projection rate.
func (h *CountryHandler) GetDashboard(c *gin.Context) {
	req := services.ViewRequest{Country: c.Param("country")}

	if raw := c.Query("predict"); raw != "" {
		horizon, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, epidemic.NewInvalidParameterf("predict must be an integer, got %q", raw))
			return
		}
		req.Horizon = null.IntFrom(int64(horizon))
	}
	if raw := c.Query("doubling_rate"); raw != "" {
		rate, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			respondError(c, epidemic.NewInvalidParameterf("doubling_rate must be a number, got %q", raw))
			return
		}
		req.DoublingRate = null.FloatFrom(rate)
	}

	view, err := h.dashboard.BuildView(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	middleware.AddSpanAttribute(c, "dashboard.horizon", view.Horizon)
	c.JSON(http.StatusOK, view)
}

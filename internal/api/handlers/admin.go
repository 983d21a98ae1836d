package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/covid-pulse-go/internal/middleware"
	"github.com/irfndi/covid-pulse-go/internal/models"
	"github.com/irfndi/covid-pulse-go/internal/services"
)

// IngestRunner triggers a refresh.
type IngestRunner interface {
	RunIngest(ctx context.Context) (*models.IngestRun, error)
}

// RunReader returns the most recent ingest run.
type RunReader interface {
	LatestIngestRun(ctx context.Context) (*models.IngestRun, error)
}

type AdminHandler struct {
	ingest   IngestRunner
	runs     RunReader
	upstream UpstreamBreaker
}

// NewAdminHandler creates the admin handler. upstream may be nil, in which
// case ResetUpstream reports that no breaker is configured.
func NewAdminHandler(ingest IngestRunner, runs RunReader, upstream UpstreamBreaker) *AdminHandler {
	return &AdminHandler{ingest: ingest, runs: runs, upstream: upstream}
}

// Refresh handles POST /api/v1/admin/refresh and runs an ingest to
// completion.
func (h *AdminHandler) Refresh(c *gin.Context) {
	run, err := h.ingest.RunIngest(c.Request.Context())
	switch {
	case errors.Is(err, services.ErrIngestInProgress):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:     http.StatusText(http.StatusConflict),
			Message:   err.Error(),
			RequestID: middleware.GetRequestID(c),
		})
		return
	case err != nil && run == nil:
		respondError(c, err)
		return
	case err != nil:
		// the run record explains the failure
		middleware.RecordError(c, err, "ingest failed")
		c.JSON(http.StatusBadGateway, run)
		return
	}
	c.JSON(http.StatusOK, run)
}

// LatestRun handles GET /api/v1/admin/ingest/latest.
func (h *AdminHandler) LatestRun(c *gin.Context) {
	run, err := h.runs.LatestIngestRun(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:     http.StatusText(http.StatusNotFound),
			Message:   "no ingest run recorded",
			RequestID: middleware.GetRequestID(c),
		})
		return
	}
	c.JSON(http.StatusOK, run)
}

// ResetUpstream handles POST /api/v1/admin/upstream/reset. It closes the
// upstream breaker so the next ingest calls the source immediately.
func (h *AdminHandler) ResetUpstream(c *gin.Context) {
	if h.upstream == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:     http.StatusText(http.StatusNotFound),
			Message:   "upstream breaker not configured",
			RequestID: middleware.GetRequestID(c),
		})
		return
	}
	previous := h.upstream.State()
	h.upstream.Reset()
	c.JSON(http.StatusOK, gin.H{
		"previous_state": previous.String(),
		"state":          h.upstream.State().String(),
	})
}

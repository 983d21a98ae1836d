package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/covid-pulse-go/internal/epidemic"
	"github.com/irfndi/covid-pulse-go/internal/middleware"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps a domain error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, epidemic.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, epidemic.ErrNoDataForEntity):
		return http.StatusNotFound
	case errors.Is(err, epidemic.ErrParse), errors.Is(err, epidemic.ErrShapeMismatch):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		middleware.RecordError(c, err, "request failed")
		_ = c.Error(err)
		message = "internal server error"
	}
	c.JSON(status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		RequestID: middleware.GetRequestID(c),
	})
}

package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arpitdalal/tax-calculator/internal/domain"
)

const (
	errInternalServer = "Internal server error"
	errJobNotFound    = "Job not found"
	errUpstream       = "Tax data service is temporarily unavailable"
)

// writeError maps domain errors onto the HTTP taxonomy: invalid input is
// the caller's fault (400), a missing job is 404, upstream trouble is
// 502, anything else is a logged 500.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Msg})
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
	case errors.Is(err, domain.ErrUpstreamUnavailable), errors.Is(err, domain.ErrMalformedSchedule):
		logger.WarnContext(c.Request.Context(), "upstream unavailable", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": errUpstream})
	default:
		logger.ErrorContext(c.Request.Context(), "request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
	}
}

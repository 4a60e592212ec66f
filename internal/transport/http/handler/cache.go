package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arpitdalal/tax-calculator/internal/tax"
)

// CacheAdmin is the explicit invalidation surface of the caches.
type CacheAdmin interface {
	Clear(year int)
	ClearAll()
}

type CacheHandler struct {
	cache  CacheAdmin
	years  tax.Years
	logger *slog.Logger
}

func NewCacheHandler(cache CacheAdmin, years tax.Years, logger *slog.Logger) *CacheHandler {
	return &CacheHandler{
		cache:  cache,
		years:  years,
		logger: logger.With("component", "cache_handler"),
	}
}

// ClearAll handles DELETE /cache.
func (h *CacheHandler) ClearAll(c *gin.Context) {
	h.cache.ClearAll()
	h.logger.InfoContext(c.Request.Context(), "cache cleared")
	c.JSON(http.StatusOK, gin.H{"message": "Cache cleared successfully"})
}

// ClearYear handles DELETE /cache/tax-year/:year.
func (h *CacheHandler) ClearYear(c *gin.Context) {
	year, err := tax.ParseYear(c.Param("year"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if err := h.years.Check(year); err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.cache.Clear(year)
	h.logger.InfoContext(c.Request.Context(), "cache cleared for year", "year", year)
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Cache cleared for tax year %d", year)})
}

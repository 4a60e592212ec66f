package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/arpitdalal/tax-calculator/internal/transport/http/handler"
	"github.com/arpitdalal/tax-calculator/internal/transport/http/middleware"
)

// RouterConfig carries the HTTP-facing knobs.
type RouterConfig struct {
	AdminAPIKey      string
	RateLimit        int
	RateWindow       time.Duration
	StatusRateLimit  int
	StatusRateWindow time.Duration
	MaxBodyBytes     int64
}

func NewRouter(logger *slog.Logger, taxHandler *handler.TaxHandler, cacheHandler *handler.CacheHandler, cfg RouterConfig) *gin.Engine {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(middleware.BodyLimit(maxBody))
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	r.HandleMethodNotAllowed = true
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Resource not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
	})

	apiLimit := middleware.RateLimit(cfg.RateLimit, cfg.RateWindow)
	// The status route gets its own, tighter window so polling clients
	// cannot starve the calculation routes.
	statusLimit := middleware.RateLimit(cfg.StatusRateLimit, cfg.StatusRateWindow)

	r.GET("/calculate-tax", apiLimit, taxHandler.Calculate)
	r.POST("/calculate-tax", apiLimit, taxHandler.SubmitBatch)
	r.GET("/calculate-tax/:job_id", statusLimit, taxHandler.JobStatus)

	cache := r.Group("/cache", apiLimit, middleware.AdminAuth(cfg.AdminAPIKey))
	cache.DELETE("", cacheHandler.ClearAll)
	cache.DELETE("/tax-year/:year", cacheHandler.ClearYear)

	return r
}

package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"availability-engine/internal/models"
)

// SweepTrigger runs one expiry sweep
type SweepTrigger interface {
	SweepOnce(ctx context.Context) (int, error)
}

// SweeperHandler serves health and a manual sweep trigger for the sweeper binary
type SweeperHandler struct {
	sweeper SweepTrigger
}

func NewSweeperHandler(sweeper SweepTrigger) *SweeperHandler {
	return &SweeperHandler{sweeper: sweeper}
}

// SetupSweeperRoutes sets up the HTTP routes for the sweeper binary
func (h *SweeperHandler) SetupSweeperRoutes() *gin.Engine {
	r := newRouter("GET, POST, OPTIONS")

	r.GET("/health", healthCheck("availability-sweeper"))
	r.POST("/internal/sweep", h.sweep)

	return r
}

func (h *SweeperHandler) sweep(c *gin.Context) {
	start := time.Now()
	expired, err := h.sweeper.SweepOnce(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	log.Info().Int("expired", expired).Dur("took", time.Since(start)).Msg("Manual sweep completed")
	Response.Success(c, models.SweepResponse{Expired: expired, RanAt: start.UTC()})
}

// MountMetrics exposes gatherer on GET /metrics
func MountMetrics(r *gin.Engine, gatherer prometheus.Gatherer) {
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"availability-engine/internal/interfaces"
	"availability-engine/internal/models"
)

// EngineHandler handles HTTP requests for availability write operations
type EngineHandler struct {
	engine interfaces.AvailabilityEngine
}

func NewEngineHandler(engine interfaces.AvailabilityEngine) *EngineHandler {
	return &EngineHandler{engine: engine}
}

// SetupEngineRoutes sets up the HTTP routes for the engine binary
func (h *EngineHandler) SetupEngineRoutes() *gin.Engine {
	r := newRouter("POST, GET, OPTIONS")

	r.GET("/health", healthCheck("availability-engine"))

	api := r.Group("/api/v1")
	{
		api.POST("/listings/:id/availability", h.checkAvailability)
		api.POST("/listings/:id/holds", h.reserve)
		api.GET("/holds/:id", h.getHold)
		api.POST("/holds/:id/confirm", h.confirm)
		api.POST("/holds/:id/release", h.release)
	}

	return r
}

func (h *EngineHandler) checkAvailability(c *gin.Context) {
	listingID := c.Param("id")

	var body models.AvailabilityRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(err).SetType(gin.ErrorTypeBind)
		return
	}

	req, err := body.ToDomain()
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.engine.CheckAvailability(c.Request.Context(), listingID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	Response.Success(c, result)
}

func (h *EngineHandler) reserve(c *gin.Context) {
	listingID := c.Param("id")

	var body models.ReserveHoldRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(err).SetType(gin.ErrorTypeBind)
		return
	}

	req, err := body.ToDomain()
	if err != nil {
		respondError(c, err)
		return
	}
	req.IdempotencyKey = body.IdempotencyKey
	if key := c.GetHeader("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}

	hold, err := h.engine.Reserve(c.Request.Context(), listingID, req, body.HoldDuration())
	if err != nil {
		log.Debug().Err(err).Str("listing_id", listingID).Msg("Reserve rejected")
		respondError(c, err)
		return
	}

	c.Header("Location", "/api/v1/holds/"+hold.ID.String())
	Response.Created(c, hold)
}

func (h *EngineHandler) getHold(c *gin.Context) {
	holdID, ok := parseHoldID(c)
	if !ok {
		return
	}

	hold, err := h.engine.GetHold(c.Request.Context(), holdID)
	if err != nil {
		respondError(c, err)
		return
	}
	Response.Success(c, hold)
}

func (h *EngineHandler) confirm(c *gin.Context) {
	holdID, ok := parseHoldID(c)
	if !ok {
		return
	}

	hold, err := h.engine.Confirm(c.Request.Context(), holdID)
	if err != nil {
		respondError(c, err)
		return
	}
	Response.Success(c, hold)
}

func (h *EngineHandler) release(c *gin.Context) {
	holdID, ok := parseHoldID(c)
	if !ok {
		return
	}

	hold, err := h.engine.Release(c.Request.Context(), holdID)
	if err != nil {
		respondError(c, err)
		return
	}
	Response.Success(c, hold)
}

func parseHoldID(c *gin.Context) (uuid.UUID, bool) {
	holdID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		Response.ValidationError(c, "id", "Invalid hold ID format")
		return uuid.Nil, false
	}
	return holdID, true
}

func healthCheck(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.HealthResponse{
			Status:  "healthy",
			Service: service,
		})
	}
}

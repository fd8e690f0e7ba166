package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"availability-engine/internal/interfaces"
	"availability-engine/internal/models"
	"availability-engine/internal/notify"
)

// ReaderHandler handles HTTP requests for read views and live updates
type ReaderHandler struct {
	reader    interfaces.AvailabilityReader
	hub       *notify.Hub
	heartbeat time.Duration
}

// NewReaderHandler creates a read API handler. A nil hub disables the
// events stream.
func NewReaderHandler(reader interfaces.AvailabilityReader, hub *notify.Hub) *ReaderHandler {
	return &ReaderHandler{
		reader:    reader,
		hub:       hub,
		heartbeat: 15 * time.Second,
	}
}

// SetupReaderRoutes sets up the HTTP routes for the reader binary
func (h *ReaderHandler) SetupReaderRoutes() *gin.Engine {
	r := newRouter("GET, OPTIONS")

	r.GET("/health", healthCheck("availability-reader"))

	h.RegisterRoutes(r.Group("/api/v1"))

	return r
}

// RegisterRoutes mounts the read views on an existing API group
func (h *ReaderHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/listings/:id/slots", h.getSlots)
	api.GET("/listings/:id/booked-dates", h.getBookedDates)
	api.GET("/listings/:id/stock", h.getStock)
	api.GET("/listings/:id/events", h.streamEvents)
}

func (h *ReaderHandler) getSlots(c *gin.Context) {
	date, err := models.ParseDate(c.Query("date"))
	if err != nil {
		Response.ValidationError(c, "date", "date must be YYYY-MM-DD")
		return
	}

	day, err := h.reader.GetServiceAvailability(c.Request.Context(), c.Param("id"), date, c.Query("staff_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	Response.Success(c, day)
}

func (h *ReaderHandler) getBookedDates(c *gin.Context) {
	window, err := models.NewDateRange(c.Query("from"), c.Query("to"))
	if err != nil {
		respondError(c, err)
		return
	}

	booked, err := h.reader.GetRentalBookedDates(c.Request.Context(), c.Param("id"), window)
	if err != nil {
		respondError(c, err)
		return
	}
	Response.Success(c, booked)
}

func (h *ReaderHandler) getStock(c *gin.Context) {
	stock, err := h.reader.GetStock(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	Response.Success(c, stock)
}

// streamEvents pushes the listing's change events as server-sent events
func (h *ReaderHandler) streamEvents(c *gin.Context) {
	if h.hub == nil {
		Response.problem(c, models.NewProblemDetails(http.StatusServiceUnavailable, "Service Unavailable", "Live updates are disabled"))
		return
	}

	listingID := c.Param("id")
	sub := h.hub.Subscribe(listingID)
	defer sub.Close()

	log.Debug().Str("listing_id", listingID).Msg("Events stream opened")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	// Send headers now so clients see the stream open before the first event.
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case event, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent("availability", event)
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		}
	})

	log.Debug().Str("listing_id", listingID).Msg("Events stream closed")
}

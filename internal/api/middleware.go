package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"availability-engine/internal/models"
)

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

// ErrorHandlerMiddleware renders errors attached with c.Error once the
// handler returns without writing a response.
func ErrorHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last()
		if err.Type == gin.ErrorTypeBind {
			handleValidationError(c, err.Err)
			return
		}
		respondError(c, err.Err)
	}
}

// CORSMiddleware handles CORS headers for the given methods
func CORSMiddleware(methods string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", methods)
		c.Header("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, Idempotency-Key, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// newRouter builds a gin engine with the shared middleware stack
func newRouter(corsMethods string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(ErrorHandlerMiddleware())
	r.Use(CORSMiddleware(corsMethods))
	return r
}

// ResponseHelpers provides methods for REST-native responses
type ResponseHelpers struct{}

// Success sends the resource directly (no wrapper)
func (h *ResponseHelpers) Success(c *gin.Context, resource interface{}) {
	c.JSON(http.StatusOK, resource)
}

// Created sends a 201 created response with the created resource
func (h *ResponseHelpers) Created(c *gin.Context, resource interface{}) {
	c.JSON(http.StatusCreated, resource)
}

func (h *ResponseHelpers) ValidationError(c *gin.Context, field, message string) {
	problem := models.NewValidationProblem(field, message, models.ErrorCodeInvalidField)
	h.problem(c, problem)
}

func (h *ResponseHelpers) problem(c *gin.Context, problem *models.ProblemDetails) {
	problem.Instance = c.Request.URL.Path
	if requestID := getRequestID(c); requestID != "" {
		c.Header("X-Request-ID", requestID)
	}
	c.Header("Content-Type", "application/problem+json")
	c.JSON(problem.Status, problem)
}

var Response = &ResponseHelpers{}

// respondError maps engine errors onto problem details
func respondError(c *gin.Context, err error) {
	var (
		ve   *models.ValidationError
		ue   *models.UnavailableError
		verr validator.ValidationErrors
	)

	switch {
	case errors.As(err, &verr):
		handleValidationError(c, err)
	case errors.As(err, &ve):
		Response.problem(c, models.NewValidationProblem(ve.Field, ve.Message, models.ErrorCode(ve.Code)))
	case errors.Is(err, models.ErrInvalidRequest):
		Response.problem(c, models.NewProblemDetails(http.StatusBadRequest, "Bad Request", err.Error()))
	case errors.As(err, &ue):
		Response.problem(c, models.NewUnavailableProblem(ue))
	case errors.Is(err, models.ErrListingNotFound):
		Response.problem(c, models.NewNotFoundProblem("Listing", models.ErrorCodeListingNotFound))
	case errors.Is(err, models.ErrHoldNotFound):
		Response.problem(c, models.NewNotFoundProblem("Hold", models.ErrorCodeHoldNotFound))
	case errors.Is(err, models.ErrHoldExpired):
		problem := models.NewProblemDetails(http.StatusGone, "Hold Expired", "The hold has expired and can no longer be confirmed")
		problem.Code = string(models.ErrorCodeHoldExpired)
		Response.problem(c, problem)
	default:
		log.Error().
			Err(err).
			Str("request_id", getRequestID(c)).
			Str("path", c.Request.URL.Path).
			Msg("Internal server error")
		Response.problem(c, models.NewInternalErrorProblem())
	}
}

func getRequestID(c *gin.Context) string {
	if requestID, exists := c.Get("request_id"); exists {
		return requestID.(string)
	}
	return ""
}

func handleValidationError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		violations := make([]models.ValidationError, 0, len(validationErrors))
		for _, validationError := range validationErrors {
			violations = append(violations, models.ValidationError{
				Field:   strings.ToLower(validationError.Field()),
				Message: getValidationMessage(validationError),
				Code:    validationError.Tag(),
			})
		}
		Response.problem(c, models.NewMultiValidationProblem(violations))
		return
	}

	Response.problem(c, models.NewProblemDetails(http.StatusBadRequest, "Bad Request", "Invalid request format"))
}

func getValidationMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return "Value is too small"
	case "max":
		return "Value is too large"
	case "datetime":
		return "Expected format " + err.Param()
	default:
		return "Invalid value"
	}
}

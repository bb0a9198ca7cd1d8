// Package errors converts failures into the JSON error responses of the HTTP
// API.
package errors

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vodforge/vodforge/internal/logger"
	tcerrors "github.com/vodforge/vodforge/internal/modules/transcodingmodule/errors"
)

// retryAfterSeconds is advertised when the dispatch queue turns work away.
const retryAfterSeconds = "5"

// APIError represents a structured error with HTTP context
type APIError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Cause      error                  `json:"-"`
	HTTPStatus int                    `json:"-"`
}

func (e *APIError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

// ToGinResponse sends the error as a standardized JSON response
func (e *APIError) ToGinResponse(c *gin.Context) {
	statusCode := e.HTTPStatus
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}

	response := gin.H{
		"error": e.Message,
		"code":  e.Code,
	}
	if len(e.Context) > 0 {
		response["details"] = e.Context
	}
	if statusCode == http.StatusServiceUnavailable {
		c.Header("Retry-After", retryAfterSeconds)
	}

	fields := []interface{}{
		"status", statusCode,
		"code", e.Code,
		"message", e.Message,
		"path", c.Request.URL.Path,
		"method", c.Request.Method,
	}
	if e.Cause != nil {
		fields = append(fields, "cause", e.Cause.Error())
	}
	if statusCode >= http.StatusInternalServerError {
		logger.Error("HTTP error response", fields...)
	} else {
		logger.Debug("HTTP error response", fields...)
	}

	c.AbortWithStatusJSON(statusCode, response)
}

// Common error constructors
func NewValidationError(message string, field string) *APIError {
	return &APIError{
		Code:       "VALIDATION_ERROR",
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Context:    map[string]interface{}{"field": field},
	}
}

func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Code:       "NOT_FOUND",
		Message:    resource + " not found",
		HTTPStatus: http.StatusNotFound,
		Context:    map[string]interface{}{"resource": resource, "id": id},
	}
}

func NewUnauthorizedError(message string) *APIError {
	return &APIError{
		Code:       "UNAUTHORIZED",
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

func NewConflictError(message string, cause error) *APIError {
	return &APIError{
		Code:       "CONFLICT",
		Message:    message,
		HTTPStatus: http.StatusConflict,
		Cause:      cause,
	}
}

func NewUnavailableError(message string, cause error) *APIError {
	return &APIError{
		Code:       "UNAVAILABLE",
		Message:    message,
		HTTPStatus: http.StatusServiceUnavailable,
		Cause:      cause,
	}
}

func NewInternalError(message string, cause error) *APIError {
	return &APIError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// FromTranscodingError classifies a module error into its HTTP form. The
// message shown to callers comes from SafeMessage so internal paths and
// causes stay in the logs.
func FromTranscodingError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, tcerrors.ErrJobNotFound):
		e := NewNotFoundError("job", tcerrors.GetJobID(err))
		e.Cause = err
		return e
	case errors.Is(err, tcerrors.ErrInvalidInput):
		return &APIError{
			Code:       "VALIDATION_ERROR",
			Message:    tcerrors.SafeMessage(err),
			HTTPStatus: http.StatusBadRequest,
			Context:    tcerrors.GetDetails(err),
			Cause:      err,
		}
	case errors.Is(err, tcerrors.ErrLedgerConflict), errors.Is(err, tcerrors.ErrInvalidTransition):
		e := NewConflictError("job is not in a state that allows this operation", err)
		if status, ok := tcerrors.GetDetails(err)["status"]; ok {
			e.Context = map[string]interface{}{"status": status}
		}
		return e
	case errors.Is(err, tcerrors.ErrQueueFull):
		return NewUnavailableError("transcoding queue is full, retry later", err)
	case errors.Is(err, tcerrors.ErrQueueStopped):
		return NewUnavailableError("transcoding is shutting down", err)
	}

	return NewInternalError(tcerrors.SafeMessage(err), err)
}

// HTTP helpers to eliminate duplicate error handling

// Respond classifies err and sends it
func Respond(c *gin.Context, err error) {
	FromTranscodingError(err).ToGinResponse(c)
}

// HandleValidationError sends a validation error response
func HandleValidationError(c *gin.Context, message string, field string) {
	NewValidationError(message, field).ToGinResponse(c)
}

// HandleNotFound sends a not found error response
func HandleNotFound(c *gin.Context, resource string, id string) {
	NewNotFoundError(resource, id).ToGinResponse(c)
}

// HandleInternalError sends an internal server error response
func HandleInternalError(c *gin.Context, message string, err error) {
	NewInternalError(message, err).ToGinResponse(c)
}

package middleware

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/vodforge/vodforge/internal/logger"
)

// RequestIDHeader carries the request id in and out
const RequestIDHeader = "X-Request-ID"

// maxLoggedBody bounds how much of a request body is logged
const maxLoggedBody = 4096

// RequestID assigns every request an id, reusing the caller's when present.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// quietPaths are polled often enough that logging them is noise
var quietPaths = map[string]bool{
	"/api/health": true,
}

// RequestLogger writes one debug line when a request arrives and one line
// when it completes. The completion line is logged at error level for 5xx,
// warn for 4xx and info otherwise. JSON bodies are logged up to
// maxLoggedBody bytes and handed on to the handler intact.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if quietPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()
		logger.Debug("HTTP Request", append(requestFields(c),
			"query", c.Request.URL.RawQuery,
			"body", peekBody(c),
			"ip", c.ClientIP(),
		)...)

		c.Next()

		fields := append(requestFields(c),
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
			"size", c.Writer.Size(),
		)
		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.Error("HTTP Response", fields...)
		case status >= 400:
			logger.Warn("HTTP Response", fields...)
		default:
			logger.Info("HTTP Response", fields...)
		}
	}
}

// ErrorLogger logs every error a handler attached with c.Error.
func ErrorLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		for _, ginErr := range c.Errors {
			logger.Error("Request error", append(requestFields(c),
				"error", ginErr.Error(),
				"type", ginErr.Type,
			)...)
		}
	}
}

func requestFields(c *gin.Context) []interface{} {
	return []interface{}{
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"request_id", c.GetString("request_id"),
	}
}

// peekBody returns the head of a JSON body and rewinds the stream. Uploads
// and anything else are not read.
func peekBody(c *gin.Context) string {
	if c.Request.Body == nil || !strings.HasPrefix(c.GetHeader("Content-Type"), "application/json") {
		return ""
	}
	head, _ := io.ReadAll(io.LimitReader(c.Request.Body, maxLoggedBody+1))
	c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(head), c.Request.Body))
	if len(head) > maxLoggedBody {
		head = head[:maxLoggedBody]
	}
	return string(head)
}

package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	apierrors "github.com/vodforge/vodforge/internal/errors"
	"github.com/vodforge/vodforge/internal/logger"
)

// Recovery turns a handler panic into a 500 JSON response. A panic with
// http.ErrAbortHandler is passed on so net/http can drop the connection.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}

			err := asError(recovered)
			logger.Error("panic recovered", append(requestFields(c),
				"error", err,
				"stack", string(debug.Stack()),
			)...)
			apierrors.NewInternalError("internal server error", err).ToGinResponse(c)
		}()

		c.Next()
	}
}

func asError(recovered interface{}) error {
	switch v := recovered.(type) {
	case error:
		return v
	case string:
		return errors.New(v)
	default:
		return fmt.Errorf("panic: %v", v)
	}
}

// CORS allows browser clients from any origin
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, "+RequestIDHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

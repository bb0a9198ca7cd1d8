package server

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	apierrors "github.com/vodforge/vodforge/internal/errors"
)

// setupRoutes adds the server-level routes: the endpoint index and the
// JSON 404/405 fallbacks.
func setupRoutes(r *gin.Engine) {
	r.GET("/api", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"endpoints": listRoutes(r)})
	})

	r.HandleMethodNotAllowed = true
	r.NoRoute(func(c *gin.Context) {
		apierrors.NewNotFoundError("route", c.Request.URL.Path).ToGinResponse(c)
	})
	r.NoMethod(func(c *gin.Context) {
		e := apierrors.NewValidationError("method not allowed", "method")
		e.HTTPStatus = http.StatusMethodNotAllowed
		e.ToGinResponse(c)
	})
}

type routeInfo struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// listRoutes returns every mounted route, ordered by path then method
func listRoutes(r *gin.Engine) []routeInfo {
	routes := r.Routes()
	infos := make([]routeInfo, 0, len(routes))
	for _, route := range routes {
		infos = append(infos, routeInfo{Method: route.Method, Path: route.Path})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Path != infos[j].Path {
			return infos[i].Path < infos[j].Path
		}
		return infos[i].Method < infos[j].Method
	})
	return infos
}

package server

import (
	"github.com/OFFIS-RIT/stancemap/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/stancemap/backend/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Job routes
	apiRoutes.POST("/jobs/:step", routes.RunJobHandler)
	apiRoutes.GET("/jobs/:step", routes.GetJobHandler)

	// Read routes
	apiRoutes.GET("/positions", routes.GetPositionsHandler)
	apiRoutes.GET("/controversies", routes.GetControversiesHandler)
	apiRoutes.GET("/viewpoints", routes.GetViewpointsHandler)
	apiRoutes.GET("/viewpoints/:id/graph", routes.GetViewpointGraphHandler)
}

package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/stancemap/backend/internal/server/middleware"

	"github.com/labstack/echo/v4"
)

// GetControversiesHandler lists the controversy clusters.
func GetControversiesHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	clusters, err := app.Store.ListControversyClusters(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
	return c.JSON(http.StatusOK, clusters)
}

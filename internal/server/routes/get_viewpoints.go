package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/stancemap/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

func GetViewpointsHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	viewpoints, err := app.Store.ListViewpoints(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
	return c.JSON(http.StatusOK, viewpoints)
}

// GetViewpointGraphHandler returns the exported graph of a viewpoint. With
// ?link=true it returns a presigned download link of the uploaded artifact
// instead.
func GetViewpointGraphHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	id := c.Param("id")
	ctx := c.Request().Context()

	if c.QueryParam("link") == "true" {
		if app.Links == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"message": "Graph uploads are disabled"})
		}
		link, err := app.Links.DownloadLink(ctx, id)
		if err != nil {
			logger.Error("[Server] Failed to sign graph link", "viewpoint_id", id, "err", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
		}
		return c.JSON(http.StatusOK, map[string]string{"url": link})
	}

	graph, err := app.Store.GetViewpointGraph(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
	if graph == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"message": "Graph not found"})
	}
	return c.JSON(http.StatusOK, graph)
}

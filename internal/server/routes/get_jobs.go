package routes

import (
	"net/http"
	"strconv"

	"github.com/OFFIS-RIT/stancemap/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/stancemap/backend/internal/timing"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"

	"github.com/labstack/echo/v4"
)

// GetJobHandler returns the last run of a step. With ?amount=N it also
// predicts how long a run over N items would take.
func GetJobHandler(c echo.Context) error {
	type getJobResponse struct {
		Message     string            `json:"message,omitempty"`
		Step        string            `json:"step"`
		LastRun     *common.RunResult `json:"last_run"`
		PredictedMs *int64            `json:"predicted_ms,omitempty"`
	}

	app := c.(*middleware.AppContext).App
	step := c.Param("step")
	if !app.Runner.Has(step) {
		return c.JSON(http.StatusNotFound, getJobResponse{
			Message: "Unknown step",
			Step:    step,
		})
	}

	ctx := c.Request().Context()
	last, err := timing.LastRun(ctx, app.Store, step)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, getJobResponse{
			Message: "Internal server error",
			Step:    step,
		})
	}
	out := getJobResponse{Step: step, LastRun: last}

	if raw := c.QueryParam("amount"); raw != "" {
		amount, err := strconv.Atoi(raw)
		if err != nil || amount < 0 {
			return c.JSON(http.StatusBadRequest, getJobResponse{
				Message: "Invalid amount",
				Step:    step,
			})
		}
		predicted, err := timing.PredictDuration(ctx, app.Store, step, amount)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, getJobResponse{
				Message: "Internal server error",
				Step:    step,
			})
		}
		out.PredictedMs = &predicted
	}

	return c.JSON(http.StatusOK, out)
}

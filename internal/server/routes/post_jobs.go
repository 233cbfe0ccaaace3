package routes

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/stancemap/backend/internal/queue"
	"github.com/OFFIS-RIT/stancemap/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RunJobHandler runs one pipeline step, or enqueues it for the worker when
// async is set.
func RunJobHandler(c echo.Context) error {
	type runJobBody struct {
		Limit  int  `json:"limit" validate:"min=0"`
		DryRun bool `json:"dry_run"`
		Async  bool `json:"async"`
		Chain  bool `json:"chain"`
	}

	type runJobResponse struct {
		Message string            `json:"message"`
		Step    string            `json:"step,omitempty"`
		Result  *common.RunResult `json:"result,omitempty"`
	}

	app := c.(*middleware.AppContext).App
	step := c.Param("step")
	if !app.Runner.Has(step) {
		return c.JSON(http.StatusNotFound, runJobResponse{
			Message: "Unknown step",
			Step:    step,
		})
	}

	data := new(runJobBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, runJobResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, runJobResponse{
			Message: "Invalid request body",
		})
	}

	if data.Async || data.Chain {
		if app.Queue == nil {
			return c.JSON(http.StatusServiceUnavailable, runJobResponse{
				Message: "Queue not available",
				Step:    step,
			})
		}
		msg := queue.StepMsg{Step: step, Limit: data.Limit, DryRun: data.DryRun, Chain: data.Chain}
		if err := queue.PublishStep(app.Queue, msg); err != nil {
			logger.Error("[Server] Failed to enqueue step", "step", step, "err", err)
			return c.JSON(http.StatusInternalServerError, runJobResponse{
				Message: "Internal server error",
			})
		}
		return c.JSON(http.StatusAccepted, runJobResponse{
			Message: "Step queued",
			Step:    step,
		})
	}

	ctx := c.Request().Context()
	res, err := app.Runner.Run(ctx, step, common.BatchOptions{Limit: data.Limit, DryRun: data.DryRun})
	switch {
	case errors.Is(err, leaselock.ErrBusy):
		return c.JSON(http.StatusConflict, runJobResponse{
			Message: "Step already running",
			Step:    step,
		})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, runJobResponse{
			Message: "Step failed",
			Step:    step,
			Result:  res,
		})
	}

	return c.JSON(http.StatusOK, runJobResponse{
		Message: "Step finished",
		Step:    step,
		Result:  res,
	})
}

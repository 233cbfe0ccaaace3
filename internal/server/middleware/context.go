package middleware

import (
	"context"

	"github.com/OFFIS-RIT/stancemap/backend/internal/queue"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/common"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/store"

	"github.com/labstack/echo/v4"
)

// Runner runs pipeline steps. *pipeline.Runner implements it.
type Runner interface {
	Run(ctx context.Context, step string, opts common.BatchOptions) (*common.RunResult, error)
	Has(step string) bool
}

// LinkSigner presigns download links for exported graphs.
type LinkSigner interface {
	DownloadLink(ctx context.Context, viewpointID string) (string, error)
}

type App struct {
	Store  store.Storage
	Runner Runner
	// Queue is nil when async jobs are disabled.
	Queue queue.Channel
	// Links is nil when graphs are not uploaded.
	Links  LinkSigner
	APIKey string
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}

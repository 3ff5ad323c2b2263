package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"timesheet/internal/handler/api"
	"timesheet/internal/middleware"
)

// Handlers bundles the API handlers mounted by Setup.
type Handlers struct {
	Integrations *api.IntegrationHandler
	Overtime     *api.OvertimeHandler
}

// Setup configures all routes for the Echo server.
func Setup(
	e *echo.Echo,
	handlers Handlers,
	logger *zap.Logger,
	apiKey string,
	deduper middleware.RequestDeduper,
) {
	// Global middleware
	e.Use(echomw.Recover())
	e.Use(middleware.CORS())

	// API group with auth + logging middleware
	apiGroup := e.Group("/api")
	apiGroup.Use(middleware.APILogger(logger))
	apiGroup.Use(middleware.APIAuth(apiKey))
	apiGroup.Use(middleware.Idempotency(deduper))

	apiGroup.POST("/integrations", handlers.Integrations.Create)
	apiGroup.GET("/integrations", handlers.Integrations.List)
	apiGroup.GET("/integrations/:id", handlers.Integrations.Get)
	apiGroup.PUT("/integrations/:id/config", handlers.Integrations.UpdateConfig)
	apiGroup.DELETE("/integrations/:id", handlers.Integrations.Delete)
	apiGroup.GET("/integrations/:id/runs", handlers.Integrations.Runs)
	apiGroup.POST("/schedule/reconcile", handlers.Integrations.Reconcile)

	apiGroup.GET("/users/:userId/overtime", handlers.Overtime.Monthly)
	apiGroup.GET("/users/:userId/overtime/range", handlers.Overtime.Range)

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}

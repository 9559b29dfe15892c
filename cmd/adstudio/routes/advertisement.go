package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/adstudio/cmd/adstudio/container"
	"github.com/lyzr/adstudio/cmd/adstudio/handlers"
)

// RegisterAdvertisementRoutes registers the advertisement lifecycle routes
func RegisterAdvertisementRoutes(e *echo.Echo, c *container.Container) {
	handler := handlers.NewAdvertisementHandler(c.Components, c.LifecycleService)

	api := e.Group("/api/v1")

	api.POST("/ads", handler.Generate)
	api.GET("/ads", handler.List)
	api.GET("/ads/:id", handler.Get)
	api.GET("/ads/:id/asset", handler.Asset)
	api.POST("/ads/:id/commit", handler.Commit)
	api.POST("/ads/:id/reject", handler.Reject)
}

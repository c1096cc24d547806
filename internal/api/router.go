package api

import (
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/quarteridge/galleryd/internal/api/controllers"
	"github.com/quarteridge/galleryd/internal/app"
)

func RegisterRoutes(e *echo.Echo, app *app.Context) {

	// Middleware: Request Logger
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			app.Logger.Info("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	galleryCtrl := &controllers.GalleryController{App: app}
	snapCtrl := &controllers.SnapshotController{App: app}

	// Run state and sessions
	e.GET("/api/status", galleryCtrl.Status)
	e.GET("/api/sessions", galleryCtrl.ListSessions)
	e.GET("/api/sessions/:index", galleryCtrl.GetSession)
	e.DELETE("/api/sessions/:index", galleryCtrl.RemoveSession)

	// Run control
	e.POST("/api/download", galleryCtrl.StartDownload)
	e.POST("/api/pause", galleryCtrl.Pause)
	e.POST("/api/resume", galleryCtrl.Resume)
	e.POST("/api/stop", galleryCtrl.Stop)
	e.POST("/api/skip/:index", galleryCtrl.Skip)
	e.POST("/api/reset", galleryCtrl.Reset)

	// Per-URL page windows
	e.PUT("/api/sessions/:index/window", galleryCtrl.SetWindow)
	e.DELETE("/api/sessions/:index/window", galleryCtrl.ClearWindow)

	// Snapshots
	e.GET("/api/snapshot", snapCtrl.Export)
	e.POST("/api/snapshot", snapCtrl.Import)
	e.POST("/api/snapshot/save", snapCtrl.Save)
	e.POST("/api/snapshot/restore", snapCtrl.Restore)
}

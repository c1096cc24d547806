package controllers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/quarteridge/galleryd/internal/app"
	"github.com/quarteridge/galleryd/internal/state"
	"github.com/quarteridge/galleryd/internal/store"
)

type SnapshotController struct {
	App *app.Context
}

// Export returns the live session set as a snapshot document.
func (ctrl *SnapshotController) Export(c *echo.Context) error {
	return c.JSON(http.StatusOK, ctrl.App.State.Export())
}

// Import replaces the live session set with the posted snapshot.
func (ctrl *SnapshotController) Import(c *echo.Context) error {
	if ctrl.App.State.IsRunning() {
		return c.String(http.StatusConflict, "stop the run before importing")
	}
	var snap state.Snapshot
	if err := c.Bind(&snap); err != nil {
		return c.String(http.StatusBadRequest, "bad snapshot body")
	}
	ctrl.App.State.Import(snap)
	return c.JSON(http.StatusAccepted, map[string]int{"sessions": len(snap.Sessions)})
}

// Save persists the live session set to the database.
func (ctrl *SnapshotController) Save(c *echo.Context) error {
	snap := ctrl.App.State.Export()
	runID, err := ctrl.App.Snapshots.Save(c.Request().Context(), snap)
	if err != nil {
		ctrl.App.Logger.Error("saving snapshot: %v", err)
		return c.NoContent(http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"run_id":   runID,
		"sessions": len(snap.Sessions),
	})
}

// Restore replaces the live session set with the newest persisted
// snapshot.
func (ctrl *SnapshotController) Restore(c *echo.Context) error {
	if ctrl.App.State.IsRunning() {
		return c.String(http.StatusConflict, "stop the run before restoring")
	}
	snap, err := ctrl.App.Snapshots.Latest(c.Request().Context())
	if errors.Is(err, store.ErrNoSnapshot) {
		return c.String(http.StatusNotFound, "no snapshot stored")
	}
	if err != nil {
		ctrl.App.Logger.Error("loading snapshot: %v", err)
		return c.NoContent(http.StatusInternalServerError)
	}
	ctrl.App.State.Import(snap)
	return c.JSON(http.StatusOK, map[string]int{"sessions": len(snap.Sessions)})
}

package controllers

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/quarteridge/galleryd/internal/app"
	"github.com/quarteridge/galleryd/internal/domain"
	"github.com/quarteridge/galleryd/internal/scheduler"
)

type GalleryController struct {
	App *app.Context
}

func (ctrl *GalleryController) Status(c *echo.Context) error {
	st := ctrl.App.State
	runCurrent, runTotal := st.RunProgress()
	return c.JSON(http.StatusOK, StatusResponse{
		State:        string(st.AppState()),
		Running:      st.IsRunning(),
		Paused:       st.IsPaused(),
		CurrentIndex: st.CurrentIndex(),
		TotalURLs:    st.TotalURLs(),
		RunCurrent:   runCurrent,
		RunTotal:     runTotal,
		Completed:    st.CompletedCount(),
		Errors:       st.ErrorCount(),
		TotalPausedS: st.TotalPausedTime().Seconds(),
	})
}

func (ctrl *GalleryController) ListSessions(c *echo.Context) error {
	now := time.Now()
	sessions := ctrl.App.State.Sessions()

	views := make([]SessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, sessionView(sess, now))
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].Index < views[j].Index
	})
	return c.JSON(http.StatusOK, views)
}

func (ctrl *GalleryController) GetSession(c *echo.Context) error {
	index, err := pathIndex(c)
	if err != nil {
		return c.String(http.StatusBadRequest, "bad index")
	}
	sess, ok := ctrl.App.State.Session(index)
	if !ok {
		return c.NoContent(http.StatusNotFound)
	}
	return c.JSON(http.StatusOK, sessionView(sess, time.Now()))
}

func (ctrl *GalleryController) RemoveSession(c *echo.Context) error {
	index, err := pathIndex(c)
	if err != nil {
		return c.String(http.StatusBadRequest, "bad index")
	}
	ctrl.App.State.RemoveSession(index)
	return c.NoContent(http.StatusAccepted)
}

func (ctrl *GalleryController) StartDownload(c *echo.Context) error {
	var req DownloadRequest
	if err := c.Bind(&req); err != nil {
		return c.String(http.StatusBadRequest, "bad request body")
	}
	if len(req.Items) == 0 {
		return c.String(http.StatusBadRequest, "no items")
	}
	if ctrl.App.State.IsRunning() {
		return c.String(http.StatusConflict, "a run is already active")
	}

	items := make([]scheduler.QueueItem, 0, len(req.Items))
	for i, item := range req.Items {
		if item.URL == "" {
			return c.String(http.StatusBadRequest, "item without url")
		}
		qi := scheduler.QueueItem{Index: i, URL: item.URL}
		if item.Start > 0 || item.End > 0 {
			qi.Window = domain.Window{Enabled: true, Start: item.Start, End: item.End}
		}
		items = append(items, qi)
	}

	ctrl.App.Scheduler.Send(scheduler.StartDownload{Items: items, OutDir: req.OutDir})
	return c.JSON(http.StatusAccepted, map[string]int{"queued": len(items)})
}

func (ctrl *GalleryController) Pause(c *echo.Context) error {
	ctrl.App.Scheduler.Send(scheduler.PauseDownload{})
	return c.NoContent(http.StatusAccepted)
}

func (ctrl *GalleryController) Resume(c *echo.Context) error {
	ctrl.App.Scheduler.Send(scheduler.ResumeDownload{})
	return c.NoContent(http.StatusAccepted)
}

func (ctrl *GalleryController) Stop(c *echo.Context) error {
	ctrl.App.Scheduler.Send(scheduler.StopDownload{})
	return c.NoContent(http.StatusAccepted)
}

func (ctrl *GalleryController) Skip(c *echo.Context) error {
	index, err := pathIndex(c)
	if err != nil {
		return c.String(http.StatusBadRequest, "bad index")
	}
	ctrl.App.Scheduler.Send(scheduler.SkipURL{Index: index})
	return c.NoContent(http.StatusAccepted)
}

func (ctrl *GalleryController) Reset(c *echo.Context) error {
	if ctrl.App.State.IsRunning() {
		return c.String(http.StatusConflict, "stop the run before resetting")
	}
	ctrl.App.State.ResetAll()
	return c.NoContent(http.StatusAccepted)
}

func (ctrl *GalleryController) SetWindow(c *echo.Context) error {
	index, err := pathIndex(c)
	if err != nil {
		return c.String(http.StatusBadRequest, "bad index")
	}
	var req WindowRequest
	if err := c.Bind(&req); err != nil {
		return c.String(http.StatusBadRequest, "bad request body")
	}
	if req.Start < 1 {
		return c.String(http.StatusBadRequest, "start must be at least 1")
	}
	if req.End != 0 && req.End < req.Start {
		return c.String(http.StatusBadRequest, "end before start")
	}
	if _, ok := ctrl.App.State.Session(index); !ok {
		return c.NoContent(http.StatusNotFound)
	}
	ctrl.App.State.SetWindow(index, domain.Window{Enabled: true, Start: req.Start, End: req.End})
	return c.NoContent(http.StatusAccepted)
}

func (ctrl *GalleryController) ClearWindow(c *echo.Context) error {
	index, err := pathIndex(c)
	if err != nil {
		return c.String(http.StatusBadRequest, "bad index")
	}
	if _, ok := ctrl.App.State.Session(index); !ok {
		return c.NoContent(http.StatusNotFound)
	}
	ctrl.App.State.ClearWindow(index)
	return c.NoContent(http.StatusAccepted)
}

func pathIndex(c *echo.Context) (int, error) {
	return strconv.Atoi(c.Param("index"))
}
